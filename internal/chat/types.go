package chat

import (
	"net"
	"sync"
)

// Client is one accepted connection. Its display name lives in the Roster,
// not here: the Roster is the only place a name is bound to a connection.
type Client struct {
	ID   uint64
	Conn net.Conn
	Out  chan string // outbound lines drained by the writer goroutine

	closeOnce sync.Once
}

func NewClient(id uint64, conn net.Conn, queue int) *Client {
	return &Client{
		ID:   id,
		Conn: conn,
		Out:  make(chan string, queue),
	}
}

// send enqueues a line without blocking and reports whether it was queued.
func (c *Client) send(line string) bool {
	select {
	case c.Out <- line:
		return true
	default:
		return false
	}
}

// closeOut stops the writer once it has flushed what is already queued.
func (c *Client) closeOut() {
	c.closeOnce.Do(func() {
		close(c.Out)
	})
}

type EventType int

const (
	EventRegister EventType = iota
	EventUnregister
	EventMessage
)

func (t EventType) String() string {
	switch t {
	case EventRegister:
		return "register"
	case EventUnregister:
		return "unregister"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

type Event struct {
	Type      EventType
	Client    *Client
	Name      string
	Text      string
	ReplyChan chan error // register and unregister ack
}
