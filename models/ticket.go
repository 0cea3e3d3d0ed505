package models

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrMissingTicketID = errors.New("ticket: ticket id is required")
	ErrMissingEventID  = errors.New("ticket: event id is required")
	ErrInvalidQuantity = errors.New("ticket: quantity must not be negative")
)

// TicketDescriptor is the immutable description of an issued ticket that
// travels, protected, inside the matrix code.
type TicketDescriptor struct {
	TicketID  string `json:"ticket_id" cbor:"1,keyasint" yaml:"ticket_id"`
	EventID   string `json:"event_id" cbor:"2,keyasint" yaml:"event_id"`
	EventName string `json:"event_name" cbor:"3,keyasint" yaml:"event_name"`
	Date      string `json:"date" cbor:"4,keyasint" yaml:"date"`
	Seat      string `json:"seat,omitempty" cbor:"5,keyasint,omitempty" yaml:"seat,omitempty"`
	HolderID  string `json:"holder_id,omitempty" cbor:"6,keyasint,omitempty" yaml:"holder_id,omitempty"`
	Quantity  int    `json:"quantity,omitempty" cbor:"7,keyasint,omitempty" yaml:"quantity,omitempty"`
}

func (d TicketDescriptor) Validate() error {
	if strings.TrimSpace(d.TicketID) == "" {
		return ErrMissingTicketID
	}
	if strings.TrimSpace(d.EventID) == "" {
		return ErrMissingEventID
	}
	if d.Quantity < 0 {
		return ErrInvalidQuantity
	}
	return nil
}

// TicketPass binds a descriptor to its base secret. The secret never
// leaves the issuing context.
type TicketPass struct {
	Descriptor TicketDescriptor `json:"descriptor"`
	BaseSecret string           `json:"-"`
	LookupHint string           `json:"-"`
	CreatedAt  time.Time        `json:"created_at"`
}
