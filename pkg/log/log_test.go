package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NoOutputsIsNop(t *testing.T) {
	l, err := New(Config{Level: "debug"})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(-1))
}

func TestNew_RejectsBadLevelAndFormat(t *testing.T) {
	_, err := New(Config{Level: "loud", Stdout: true})
	assert.Error(t, err)

	_, err = New(Config{Format: "xml", Stdout: true})
	assert.Error(t, err)
}

func TestNew_WritesToFile(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{
		Level:  "info",
		Format: "json",
		File:   FileConfig{RootPath: dir, Filename: "chat.log"},
	})
	require.NoError(t, err)

	l.Info("server started")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(filepath.Join(dir, "chat.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"server started"`)
}
