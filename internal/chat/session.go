package chat

import (
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// RegistrationTag prefixes the mandatory first line: "#new client:<name>".
const RegistrationTag = "#new client:"

// SessionConfig bounds what a single connection may send and how long it
// may stay silent.
type SessionConfig struct {
	MaxNameLength int
	MaxLineLength int
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration // 0 disables
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxNameLength: 31,
		MaxLineLength: 1023,
		WriteTimeout:  10 * time.Second,
	}
}

// HandleSession runs one connection from handshake to teardown.
func HandleSession(c *Client, reg *Registry, cfg SessionConfig, logger *zap.Logger) {
	logger = logger.With(zap.Uint64("session", c.ID))
	writerDone := StartOutboundWriter(c.Conn, c.Out, cfg.WriteTimeout, logger)

	// Once c is registered only the registry may close c.Out.
	ownsQueue := true
	defer func() {
		if ownsQueue {
			c.closeOut()
		}
		<-writerDone
		_ = c.Conn.Close()
	}()

	reader := newLineReader(c.Conn, cfg.MaxLineLength)

	name, err := handshake(c, reader, reg, cfg)
	if err != nil {
		RejectedRegistrations.WithLabelValues(rejectionReason(err)).Inc()
		if line := rejectionLine(err); line != "" {
			c.send(line)
		}
		logger.Info("registration rejected", zap.Error(err))
		return
	}
	ownsQueue = false
	logger = logger.With(zap.String("name", name))

	err = readLoop(c, reader, reg, cfg)
	if errors.Is(err, io.EOF) {
		logger.Debug("client closed connection")
	} else {
		logger.Debug("session read ended", zap.Error(err))
	}

	ownsQueue = leave(c, reg, logger)
}

// leave unregisters c and reports whether the session must close c.Out
// itself. The registry closes the queue of every client it removes, on
// Unregister and on shutdown alike, so that is only the case when c was
// not a member.
func leave(c *Client, reg *Registry, logger *zap.Logger) bool {
	err := reg.Unregister(c)
	switch {
	case err == nil, errors.Is(err, ErrRegistryStopped):
		return false
	case errors.Is(err, ErrNotFound):
		return true
	default:
		logger.Warn("unregister failed", zap.Error(err))
		return false
	}
}

func handshake(c *Client, reader *lineReader, reg *Registry, cfg SessionConfig) (string, error) {
	extendReadDeadline(c, cfg.IdleTimeout)
	line, err := reader.ReadLine()
	if err != nil {
		return "", err
	}
	name, err := ParseRegistration(line, cfg.MaxNameLength)
	if err != nil {
		return "", err
	}
	if err := reg.Register(c, name); err != nil {
		return "", err
	}
	return name, nil
}

// readLoop hands every non-empty line to the registry until the stream ends.
func readLoop(c *Client, reader *lineReader, reg *Registry, cfg SessionConfig) error {
	for {
		extendReadDeadline(c, cfg.IdleTimeout)
		line, err := reader.ReadLine()
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		if !reg.Publish(c, line) {
			return ErrRegistryStopped
		}
	}
}

// ParseRegistration extracts the display name from a registration line.
// The name must be valid UTF-8. Surrounding whitespace is trimmed and the
// name is cut to at most maxLen bytes on a rune boundary.
func ParseRegistration(line string, maxLen int) (string, error) {
	if !strings.HasPrefix(line, RegistrationTag) {
		return "", errors.Wrap(ErrProtocol, "missing registration tag")
	}
	name := strings.TrimSpace(strings.TrimPrefix(line, RegistrationTag))
	if !utf8.ValidString(name) {
		return "", errors.Wrap(ErrProtocol, "name is not valid UTF-8")
	}
	if maxLen > 0 && len(name) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = strings.TrimSpace(name[:cut])
	}
	if name == "" {
		return "", errors.Wrap(ErrProtocol, "empty name")
	}
	return name, nil
}

func extendReadDeadline(c *Client, idle time.Duration) {
	if idle > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(idle))
	}
}
