package chat

import "github.com/cockroachdb/errors"

var (
	// ErrNameConflict is returned when an occupied roster entry already holds the name.
	ErrNameConflict = errors.New("name_conflict")
	// ErrCapacityExceeded is returned when every roster slot is occupied.
	ErrCapacityExceeded = errors.New("capacity_exceeded")
	// ErrNotFound is returned by roster lookups and removals that match nothing.
	ErrNotFound = errors.New("not_found")
	// ErrAlreadyRegistered is returned when a connection registers twice.
	ErrAlreadyRegistered = errors.New("already_registered")
	// ErrProtocol marks a first line that is not a well-formed registration.
	ErrProtocol = errors.New("protocol_error")
	// ErrRegistryStopped is returned to sessions once the registry loop has exited.
	ErrRegistryStopped = errors.New("registry_stopped")
	// ErrLineTooLong ends a session whose inbound line exceeds the configured limit.
	ErrLineTooLong = errors.New("line_too_long")
)

// Lines sent to a client right before the server closes its connection.
const (
	rejectNameConflict = "Name already exists. Please choose another name."
	rejectCapacity     = "Server is full. Please try again later."
	rejectProtocol     = "Invalid registration. Expected '#new client:<name>'."
)

func rejectionLine(err error) string {
	switch {
	case errors.Is(err, ErrNameConflict):
		return rejectNameConflict
	case errors.Is(err, ErrCapacityExceeded):
		return rejectCapacity
	case errors.Is(err, ErrProtocol):
		return rejectProtocol
	default:
		return ""
	}
}

// rejectionReason is the metrics label for a failed registration.
func rejectionReason(err error) string {
	for _, e := range []error{ErrNameConflict, ErrCapacityExceeded, ErrProtocol, ErrAlreadyRegistered, ErrRegistryStopped} {
		if errors.Is(err, e) {
			return e.Error()
		}
	}
	return "transport"
}
