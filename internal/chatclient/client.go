// Package chatclient is the terminal side of the chat protocol: it registers
// a name, forwards typed lines to the server and prints what comes back.
package chatclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const (
	registrationTag = "#new client:"
	quitCommand     = "quit"

	disconnectedLine = "Disconnected from server"
)

const banner = `Connected to chat server
Commands:
- Type 'quit' to exit
- Type '@username message' to send private message
- Type your message and press enter to send to everyone

`

type Client struct {
	conn   net.Conn
	logger *zap.Logger
}

// New wraps an established connection. The client owns conn and closes it
// when Run returns.
func New(conn net.Conn, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{conn: conn, logger: logger}
}

// Run registers name and relays lines until the user types quit, in reaches
// EOF, the server hangs up or ctx is cancelled.
//
// If in implements io.Closer, Run closes it when it stops for any reason
// other than input ending, which releases the goroutine reading it.
// Otherwise that goroutine stays blocked until in returns.
func (c *Client) Run(ctx context.Context, name string, in io.Reader, out io.Writer) error {
	defer func() { _ = c.conn.Close() }()

	if _, err := fmt.Fprintf(c.conn, "%s%s\n", registrationTag, name); err != nil {
		return errors.Wrap(err, "chatclient: register")
	}
	if _, err := io.WriteString(out, banner); err != nil {
		return errors.Wrap(err, "chatclient: write banner")
	}

	received := make(chan error, 1)
	go func() { received <- c.receive(out) }()
	sent := make(chan error, 1)
	go func() { sent <- c.forward(in) }()

	var err error
	serverDone, inputDone := false, false
	select {
	case err = <-received:
		serverDone = true
	case err = <-sent:
		inputDone = true
		c.logger.Debug("input finished", zap.Error(err))
	case <-ctx.Done():
		err = ctx.Err()
	}

	// Closing the connection unblocks receive.
	_ = c.conn.Close()
	if !serverDone {
		if rerr := <-received; err == nil {
			err = rerr
		}
	}
	if !inputDone {
		if closer, ok := in.(io.Closer); ok {
			_ = closer.Close()
		}
	}
	return err
}

// receive prints server lines until the connection ends.
func (c *Client) receive(out io.Writer) error {
	sc := bufio.NewScanner(c.conn)
	for sc.Scan() {
		if _, err := fmt.Fprintln(out, sc.Text()); err != nil {
			return errors.Wrap(err, "chatclient: write output")
		}
	}
	err := sc.Err()
	switch {
	case err == nil:
		_, _ = fmt.Fprintln(out, disconnectedLine)
		return nil
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return nil
	default:
		return errors.Wrap(err, "chatclient: read")
	}
}

// forward sends every non-empty input line. quit is handled locally.
func (c *Client) forward(in io.Reader) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := sc.Text()
		switch line {
		case quitCommand:
			return nil
		case "":
			continue
		}
		if _, err := fmt.Fprintf(c.conn, "%s\n", line); err != nil {
			return errors.Wrap(err, "chatclient: send")
		}
	}
	return errors.Wrap(sc.Err(), "chatclient: read input")
}
