package chat

import (
	"bufio"
	"net"
	"time"

	"go.uber.org/zap"
)

// StartOutboundWriter drains out onto conn, one line per message, until out
// is closed. A failed write closes conn so the session's read side notices.
// The returned channel is closed when the writer goroutine exits.
func StartOutboundWriter(conn net.Conn, out <-chan string, timeout time.Duration, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		w := bufio.NewWriter(conn)
		for msg := range out {
			if err := writeLine(conn, w, msg, timeout); err != nil {
				logger.Debug("write failed", zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}()
	return done
}

func writeLine(conn net.Conn, w *bufio.Writer, msg string, timeout time.Duration) error {
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	if _, err := w.WriteString(msg); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
