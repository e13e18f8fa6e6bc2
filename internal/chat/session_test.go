package chat

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// pipePeer is the client end of a net.Pipe whose server end runs HandleSession.
type pipePeer struct {
	conn net.Conn
	sc   *bufio.Scanner
	done chan struct{}
}

func startPipeSession(t *testing.T, r *Registry, id uint64, cfg SessionConfig) *pipePeer {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	p := &pipePeer{conn: clientConn, sc: bufio.NewScanner(clientConn), done: make(chan struct{})}
	go func() {
		defer close(p.done)
		HandleSession(NewClient(id, serverConn, 64), r, cfg, zaptest.NewLogger(t))
	}()
	t.Cleanup(func() {
		_ = clientConn.Close()
		<-p.done
	})
	return p
}

func (p *pipePeer) write(t *testing.T, s string) {
	t.Helper()
	require.NoError(t, p.conn.SetWriteDeadline(time.Now().Add(time.Second)))
	_, err := io.WriteString(p.conn, s)
	require.NoError(t, err)
}

func (p *pipePeer) read(t *testing.T) string {
	t.Helper()
	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.True(t, p.sc.Scan(), "read failed: %v", p.sc.Err())
	return p.sc.Text()
}

// readUntil skips lines until want arrives.
func (p *pipePeer) readUntil(t *testing.T, want string) {
	t.Helper()
	for {
		if p.read(t) == want {
			return
		}
	}
}

func (p *pipePeer) expectClosed(t *testing.T) {
	t.Helper()
	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(time.Second)))
	assert.False(t, p.sc.Scan(), "expected connection close, got %q", p.sc.Text())
	select {
	case <-p.done:
	case <-time.After(time.Second):
		t.Fatal("session did not finish")
	}
}

func TestSession_RegisterAndBroadcast(t *testing.T) {
	r := startRegistry(t, 8)
	cfg := DefaultSessionConfig()

	alice := startPipeSession(t, r, 1, cfg)
	alice.write(t, "#new client:alice\n")
	assert.Equal(t, "Client alice has joined the chat", alice.read(t))

	bob := startPipeSession(t, r, 2, cfg)
	bob.write(t, "#new client:bob\r\n")
	assert.Equal(t, "Client bob has joined the chat", bob.read(t))
	assert.Equal(t, "Client bob has joined the chat", alice.read(t))

	alice.write(t, "hello there\n")
	assert.Equal(t, "[alice] hello there", alice.read(t))
	assert.Equal(t, "[alice] hello there", bob.read(t))
}

func TestSession_SplitWritesFormOneLine(t *testing.T) {
	r := startRegistry(t, 8)

	alice := startPipeSession(t, r, 1, DefaultSessionConfig())
	alice.write(t, "#new cli")
	alice.write(t, "ent:alice\nhel")
	alice.readUntil(t, "Client alice has joined the chat")
	alice.write(t, "lo\n\n")

	assert.Equal(t, "[alice] hello", alice.read(t))
}

func TestSession_NameConflictClosesConnection(t *testing.T) {
	r := startRegistry(t, 8)
	cfg := DefaultSessionConfig()

	first := startPipeSession(t, r, 1, cfg)
	first.write(t, "#new client:alice\n")
	first.readUntil(t, "Client alice has joined the chat")

	dup := startPipeSession(t, r, 2, cfg)
	dup.write(t, "#new client:alice\n")
	assert.Equal(t, rejectNameConflict, dup.read(t))
	dup.expectClosed(t)

	// The first alice is unaffected.
	first.write(t, "still me\n")
	assert.Equal(t, "[alice] still me", first.read(t))
}

func TestSession_CapacityRejection(t *testing.T) {
	r := startRegistry(t, 1)
	cfg := DefaultSessionConfig()

	a := startPipeSession(t, r, 1, cfg)
	a.write(t, "#new client:a\n")
	a.readUntil(t, "Client a has joined the chat")

	b := startPipeSession(t, r, 2, cfg)
	b.write(t, "#new client:b\n")
	assert.Equal(t, rejectCapacity, b.read(t))
	b.expectClosed(t)
}

func TestSession_MalformedFirstLine(t *testing.T) {
	r := startRegistry(t, 8)

	p := startPipeSession(t, r, 1, DefaultSessionConfig())
	p.write(t, "hello everyone\n")
	assert.Equal(t, rejectProtocol, p.read(t))
	p.expectClosed(t)
}

func TestSession_DisconnectAnnouncesAndFreesName(t *testing.T) {
	r := startRegistry(t, 8)
	cfg := DefaultSessionConfig()

	alice := startPipeSession(t, r, 1, cfg)
	alice.write(t, "#new client:alice\n")
	alice.readUntil(t, "Client alice has joined the chat")

	bob := startPipeSession(t, r, 2, cfg)
	bob.write(t, "#new client:bob\n")
	alice.readUntil(t, "Client bob has joined the chat")

	alice.write(t, "@bob hi bob\n")
	bob.readUntil(t, "[alice][Private] hi bob")
	alice.readUntil(t, "[alice][Private] hi bob")

	require.NoError(t, bob.conn.Close())
	alice.readUntil(t, "Client bob has left the chat")

	alice.write(t, "@bob hi again\n")
	assert.Equal(t, "User bob not found", alice.read(t))

	again := startPipeSession(t, r, 3, cfg)
	again.write(t, "#new client:bob\n")
	assert.Equal(t, "Client bob has joined the chat", again.read(t))
}

func TestSession_LineTooLongEndsSession(t *testing.T) {
	r := startRegistry(t, 8)
	cfg := DefaultSessionConfig()
	cfg.MaxLineLength = 24

	alice := startPipeSession(t, r, 1, cfg)
	alice.write(t, "#new client:alice\n")
	alice.readUntil(t, "Client alice has joined the chat")

	watcher := startPipeSession(t, r, 2, cfg)
	watcher.write(t, "#new client:w\n")
	watcher.readUntil(t, "Client w has joined the chat")

	// The server stops reading partway through, so the write may fail.
	_ = alice.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, _ = io.WriteString(alice.conn, strings.Repeat("x", 40)+"\n")
	watcher.readUntil(t, "Client alice has left the chat")
}

func TestSession_IdleTimeout(t *testing.T) {
	r := startRegistry(t, 8)
	cfg := DefaultSessionConfig()
	cfg.IdleTimeout = 50 * time.Millisecond

	p := startPipeSession(t, r, 1, cfg)
	p.write(t, "#new client:sleepy\n")
	assert.Equal(t, "Client sleepy has joined the chat", p.read(t))
	p.expectClosed(t)
}

func TestParseRegistration(t *testing.T) {
	cases := []struct {
		line    string
		maxLen  int
		want    string
		wantErr bool
	}{
		{line: "#new client:alice", maxLen: 31, want: "alice"},
		{line: "#new client:  bob  ", maxLen: 31, want: "bob"},
		{line: "#new client:" + strings.Repeat("n", 40), maxLen: 31, want: strings.Repeat("n", 31)},
		{line: "#new client:ab世界", maxLen: 4, want: "ab"},
		{line: "#new client:" + strings.Repeat("é", 20), maxLen: 31, want: strings.Repeat("é", 15)},
		{line: "#new client:a\xffb", maxLen: 31, wantErr: true},
		{line: "#new client:a\xff" + strings.Repeat("b", 40), maxLen: 31, wantErr: true},
		{line: "#new client:", maxLen: 31, wantErr: true},
		{line: "#new client", maxLen: 31, wantErr: true},
		{line: "hello", maxLen: 31, wantErr: true},
	}
	for _, c := range cases {
		got, err := ParseRegistration(c.line, c.maxLen)
		if c.wantErr {
			assert.True(t, errors.Is(err, ErrProtocol), "%q: got %v", c.line, err)
			continue
		}
		require.NoError(t, err, c.line)
		assert.Equal(t, c.want, got, c.line)
	}
}
