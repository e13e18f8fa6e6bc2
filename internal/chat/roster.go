package chat

import (
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

// Member is a snapshot of one occupied roster slot.
type Member struct {
	Client *Client
	Name   string
}

type slot struct {
	client   *Client
	name     string
	occupied bool
}

// Roster is a fixed-capacity table of named clients. It is not safe for
// concurrent use; the Registry goroutine is its only owner.
//
// Every operation is a linear scan over the slots. Capacity is small, and a
// scan keeps "first match wins" trivially true.
type Roster struct {
	slots []slot
	count int
}

func NewRoster(capacity int) *Roster {
	if capacity <= 0 {
		capacity = 256
	}
	return &Roster{slots: make([]slot, capacity)}
}

// Register binds name to c in the first free slot.
func (r *Roster) Register(c *Client, name string) error {
	free := -1
	for i := range r.slots {
		s := &r.slots[i]
		if !s.occupied {
			if free < 0 {
				free = i
			}
			continue
		}
		if s.name == name {
			return errors.Wrapf(ErrNameConflict, "name %q", name)
		}
		if s.client == c {
			return errors.Wrapf(ErrAlreadyRegistered, "client %d as %q", c.ID, s.name)
		}
	}
	if free < 0 {
		return errors.Wrapf(ErrCapacityExceeded, "capacity %d", len(r.slots))
	}
	r.slots[free] = slot{client: c, name: name, occupied: true}
	r.count++
	return nil
}

func (r *Roster) FindByName(name string) (*Client, error) {
	for _, s := range r.slots {
		if s.occupied && s.name == name {
			return s.client, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "name %q", name)
}

// NameOf returns the display name bound to c.
func (r *Roster) NameOf(c *Client) (string, error) {
	for _, s := range r.slots {
		if s.occupied && s.client == c {
			return s.name, nil
		}
	}
	return "", ErrNotFound
}

// Remove frees the slot held by c and returns the name it carried.
func (r *Roster) Remove(c *Client) (string, error) {
	for i := range r.slots {
		s := &r.slots[i]
		if s.occupied && s.client == c {
			name := s.name
			*s = slot{}
			r.count--
			return name, nil
		}
	}
	return "", ErrNotFound
}

// AllOccupied returns the occupied entries in slot order. The result must
// only be used for the dispatch in progress.
func (r *Roster) AllOccupied() []Member {
	return lo.FilterMap(r.slots, func(s slot, _ int) (Member, bool) {
		return Member{Client: s.client, Name: s.name}, s.occupied
	})
}

func (r *Roster) Names() []string {
	return lo.Map(r.AllOccupied(), func(m Member, _ int) string {
		return m.Name
	})
}

func (r *Roster) Count() int    { return r.count }
func (r *Roster) Capacity() int { return len(r.slots) }
