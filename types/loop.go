package types

import (
	"fmt"
	"strings"
)

// LoopType is the interaction shape of a request.
type LoopType string

const (
	LoopTypeApproval     LoopType = "approval"
	LoopTypeInformation  LoopType = "information"
	LoopTypeConversation LoopType = "conversation"
)

// Valid reports whether t is one of the known loop types.
func (t LoopType) Valid() bool {
	switch t {
	case LoopTypeApproval, LoopTypeInformation, LoopTypeConversation:
		return true
	default:
		return false
	}
}

// ParseLoopType parses a loop type case-insensitively.
func ParseLoopType(s string) (LoopType, error) {
	t := LoopType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown loop type: %q", s)
	}
	return t, nil
}

// Status is the request state machine.
//
//	pending → approved | rejected          (approval)
//	pending → completed                    (information / conversation)
//	pending → inprogress → completed       (conversation)
//	pending → expired | error | cancelled
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "inprogress"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusCompleted  Status = "completed"
	StatusExpired    Status = "expired"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal returns true for every status except pending and inprogress.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPending, StatusInProgress:
		return false
	default:
		return true
	}
}

// IsActive is the complement of IsTerminal.
func (s Status) IsActive() bool {
	return !s.IsTerminal()
}

// ParseStatus maps a wire status onto Status. Unknown values fall back to pending,
// matching what remote channels report before a human has acted.
func ParseStatus(s string) Status {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusInProgress, StatusApproved, StatusRejected,
		StatusCompleted, StatusExpired, StatusError, StatusCancelled:
		return st
	case "in_progress":
		return StatusInProgress
	case "canceled":
		return StatusCancelled
	default:
		return StatusPending
	}
}
