package models

import (
	"time"
)

// ValidationState is the authority-side status of a ticket.
type ValidationState string

const (
	StatusPending             ValidationState = "pending"
	StatusScannedNotValidated ValidationState = "scanned_not_validated"
	StatusValidated           ValidationState = "validated"
)

func (s ValidationState) Valid() bool {
	switch s {
	case StatusPending, StatusScannedNotValidated, StatusValidated:
		return true
	}
	return false
}

// Rank orders states along the only allowed direction of travel.
func (s ValidationState) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusScannedNotValidated:
		return 1
	case StatusValidated:
		return 2
	}
	return -1
}

type StatusReport struct {
	TicketID  string            `json:"ticket_id"`
	Status    ValidationState   `json:"status"`
	UpdatedAt time.Time         `json:"updated_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
