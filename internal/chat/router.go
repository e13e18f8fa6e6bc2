package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind classifies a routed line, mostly for metrics.
type Kind string

const (
	KindBroadcast Kind = "broadcast"
	KindPrivate   Kind = "private"
	KindNotFound  Kind = "not_found"
	KindDropped   Kind = "dropped"
	KindJoin      Kind = "join"
	KindLeave     Kind = "leave"
)

// Delivery is one formatted line addressed to one connection.
type Delivery struct {
	To   *Client
	Line string
}

// Dispatch is the outcome of routing a single inbound line.
type Dispatch struct {
	Kind       Kind
	Deliveries []Delivery
}

const privatePrefix = '@'

// Route decides where line goes. It only reads the roster.
//
// "@name body" goes to name and is echoed to the sender. A private line
// without whitespace after the recipient has no body and is dropped.
// Anything else is broadcast to every occupied entry, sender included.
func Route(r *Roster, sender *Client, line string) Dispatch {
	from, _ := r.NameOf(sender)

	if len(line) == 0 || line[0] != privatePrefix {
		return broadcast(r, KindBroadcast, formatBroadcast(from, line))
	}

	recipient, body, ok := splitPrivate(line[1:])
	if !ok {
		return Dispatch{Kind: KindDropped}
	}
	to, err := r.FindByName(recipient)
	if err != nil {
		return Dispatch{
			Kind:       KindNotFound,
			Deliveries: []Delivery{{To: sender, Line: formatNotFound(recipient)}},
		}
	}
	msg := formatPrivate(from, body)
	return Dispatch{
		Kind: KindPrivate,
		Deliveries: []Delivery{
			{To: to, Line: msg},
			{To: sender, Line: msg},
		},
	}
}

// JoinNotice announces name to every occupied entry, the new one included.
func JoinNotice(r *Roster, name string) Dispatch {
	return broadcast(r, KindJoin, "Client "+name+" has joined the chat")
}

// LeaveNotice announces a departure; call it after the entry is removed.
func LeaveNotice(r *Roster, name string) Dispatch {
	return broadcast(r, KindLeave, "Client "+name+" has left the chat")
}

func broadcast(r *Roster, kind Kind, line string) Dispatch {
	members := r.AllOccupied()
	out := make([]Delivery, 0, len(members))
	for _, m := range members {
		out = append(out, Delivery{To: m.Client, Line: line})
	}
	return Dispatch{Kind: kind, Deliveries: out}
}

// splitPrivate splits "name body" at the first whitespace rune. The body
// keeps everything after that rune untouched.
func splitPrivate(s string) (recipient, body string, ok bool) {
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return "", "", false
	}
	_, size := utf8.DecodeRuneInString(s[i:])
	return s[:i], s[i+size:], true
}

func formatBroadcast(from, body string) string {
	return "[" + from + "] " + body
}

func formatPrivate(from, body string) string {
	return "[" + from + "][Private] " + body
}

func formatNotFound(name string) string {
	return "User " + name + " not found"
}
