package payment

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a Payment. The numeric values are the
// persisted encoding.
//
//	ACTIVE -> INVALIDATED | WITHDRAWN | REJECTED | FINALIZED
//	every other status is terminal
type Status uint8

const (
	StatusActive Status = iota
	StatusInvalidated
	StatusWithdrawn
	StatusRejected
	StatusFinalized
)

var statusNames = [...]string{
	StatusActive:      "ACTIVE",
	StatusInvalidated: "INVALIDATED",
	StatusWithdrawn:   "WITHDRAWN",
	StatusRejected:    "REJECTED",
	StatusFinalized:   "FINALIZED",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}

	return fmt.Sprintf("Status(%d)", uint8(s))
}

// ParseStatus converts a status name, case-insensitively.
func ParseStatus(raw string) (Status, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))

	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}

	return 0, NewDomainError(ErrorInvalidInput, "status", fmt.Sprintf("unknown status %q", raw))
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	return int(s) < len(statusNames)
}

// IsTerminal reports whether no transition may leave s.
func (s Status) IsTerminal() bool {
	return s.IsValid() && s != StatusActive
}

// CanTransitionTo reports whether s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusActive && next.IsTerminal()
}

// MarshalText encodes the status name.
func (s Status) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("marshal status %d: %w", uint8(s), ErrInvalidInput)
	}

	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}

	*s = parsed

	return nil
}
