package status

import "errors"

var (
	ErrPassNotFound      = errors.New("pass: pass not found")
	ErrPassExists        = errors.New("pass: pass already exists")
	ErrInvalidTransition = errors.New("status: transition not allowed")
	ErrReplayed          = errors.New("gate: envelope already presented")
	ErrMissingTicketHint = errors.New("gate: envelope carries no lookup hint")
)
