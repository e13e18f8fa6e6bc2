// Package log builds the zap loggers used by the chat binaries.
package log

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig controls rotated file output. An empty Filename disables it.
type FileConfig struct {
	RootPath   string `mapstructure:"root_path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxDays    int    `mapstructure:"max_days"`
}

type Config struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Stdout bool       `mapstructure:"stdout"`
	File   FileConfig `mapstructure:"file"`
}

const defaultLogMaxSize = 300 // MB

// New creates a logger writing to every output enabled in cfg.
// With no output enabled the returned logger discards everything.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, errors.Wrapf(err, "log: invalid level %q", cfg.Level)
		}
	}

	var outputs []zapcore.WriteSyncer
	if cfg.Stdout {
		outputs = append(outputs, zapcore.Lock(os.Stdout))
	}
	if cfg.File.Filename != "" {
		w, err := fileWriter(cfg.File)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, zapcore.AddSync(w))
	}
	if len(outputs) == 0 {
		return zap.NewNop(), nil
	}

	encoder, err := newEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(encoder, zap.CombineWriteSyncers(outputs...), zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func newEncoder(format string) (zapcore.Encoder, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	switch strings.ToLower(format) {
	case "", "console", "text":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(encCfg), nil
	case "json":
		return zapcore.NewJSONEncoder(encCfg), nil
	default:
		return nil, errors.Newf("log: unsupported format %q", format)
	}
}

func fileWriter(cfg FileConfig) (*lumberjack.Logger, error) {
	if cfg.RootPath != "" {
		if err := os.MkdirAll(cfg.RootPath, 0o755); err != nil {
			return nil, errors.Wrapf(err, "log: can't create log dir %q", cfg.RootPath)
		}
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = defaultLogMaxSize
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(cfg.RootPath, cfg.Filename),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxDays,
		LocalTime:  true,
	}, nil
}
