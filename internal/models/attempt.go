package models

import "time"

// RegistrationState tracks where one account's flow currently stands.
type RegistrationState int

const (
	StateIdle RegistrationState = iota
	StateCodeRequested
	StateAwaitingCode
	StateCodeReceived
	StateLoggingIn
	StateCompleted
)

func (s RegistrationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCodeRequested:
		return "code_requested"
	case StateAwaitingCode:
		return "awaiting_code"
	case StateCodeReceived:
		return "code_received"
	case StateLoggingIn:
		return "logging_in"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}

// RegistrationAttempt is the per-account outcome record. It is created at
// the start of an account's flow and immutable once finalized.
type RegistrationAttempt struct {
	Email       string    `json:"email"`
	TraceID     string    `json:"trace_id"`
	Success     bool      `json:"success"`
	Token       string    `json:"token,omitempty"`
	Error       string    `json:"error,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
	CompletedAt time.Time `json:"completed_at"`
}
