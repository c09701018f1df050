package outbox

import "fmt"

// EventStatus is an outbox event lifecycle state.
//
//	PENDING, FAILED -> PROCESSING
//	PROCESSING      -> PROCESSING | PUBLISHED | FAILED | INVALID
//	PUBLISHED, INVALID are terminal
//
// PROCESSING marks an event claimed by one relay.
type EventStatus string

const (
	StatusPending    EventStatus = "PENDING"
	StatusProcessing EventStatus = "PROCESSING"
	StatusPublished  EventStatus = "PUBLISHED"
	StatusFailed     EventStatus = "FAILED"
	StatusInvalid    EventStatus = "INVALID"
)

// ParseEventStatus validates and converts a raw string status.
func ParseEventStatus(raw string) (EventStatus, error) {
	status := EventStatus(raw)

	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrOutboxStatusInvalid, raw)
	}

	return status, nil
}

// IsValid reports whether the status is part of the outbox lifecycle.
func (status EventStatus) IsValid() bool {
	switch status {
	case StatusPending, StatusProcessing, StatusPublished, StatusFailed, StatusInvalid:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a transition from status to next is allowed.
func (status EventStatus) CanTransitionTo(next EventStatus) bool {
	switch status {
	case StatusPending, StatusFailed:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusProcessing || next == StatusPublished || next == StatusFailed || next == StatusInvalid
	default:
		return false
	}
}

// ValidateTransition validates a raw status transition.
func ValidateTransition(fromRaw, toRaw string) error {
	from, err := ParseEventStatus(fromRaw)
	if err != nil {
		return fmt.Errorf("from status: %w", err)
	}

	to, err := ParseEventStatus(toRaw)
	if err != nil {
		return fmt.Errorf("to status: %w", err)
	}

	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrOutboxTransitionInvalid, from, to)
	}

	return nil
}

func (status EventStatus) String() string {
	return string(status)
}
