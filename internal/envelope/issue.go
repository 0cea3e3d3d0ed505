package envelope

import (
	"fmt"
	"time"

	"ticket-pass/internal/protect"
	"ticket-pass/internal/rotating"
	"ticket-pass/internal/signer"
	"ticket-pass/models"
)

// Issued is one rendering of a pass: the envelope for the matrix code and
// the token the linear barcode is built from. Both expire with the window.
type Issued struct {
	Envelope  string
	Token     string
	Window    int64
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Issuer struct {
	Generator *rotating.Generator
	Signer    signer.Signer
	Protector *protect.Protector
}

func NewIssuer(generator *rotating.Generator, s signer.Signer, protector *protect.Protector) *Issuer {
	if protector == nil {
		protector = &protect.Protector{}
	}
	return &Issuer{Generator: generator, Signer: s, Protector: protector}
}

// Issue runs token derivation, payload protection, signing and packing
// for the generator's current window. The envelope carries no lookup hint.
func (i *Issuer) Issue(descriptor models.TicketDescriptor, baseSecret string) (Issued, error) {
	return i.IssueWithHint(descriptor, baseSecret, "")
}

// IssueWithHint is Issue with the pass's lookup hint packed as "i".
func (i *Issuer) IssueWithHint(descriptor models.TicketDescriptor, baseSecret, hint string) (Issued, error) {
	if err := descriptor.Validate(); err != nil {
		return Issued{}, err
	}

	now := i.Generator.Clock.Now()
	window := rotating.WindowIndex(now, i.Generator.Width)
	token, err := rotating.ForWindow(baseSecret, window)
	if err != nil {
		return Issued{}, err
	}

	payload, err := i.Protector.Protect(descriptor, token)
	if err != nil {
		return Issued{}, err
	}

	issuedAt := now.UnixMilli()
	signature, err := i.Signer.Sign(payload, issuedAt)
	if err != nil {
		return Issued{}, fmt.Errorf("envelope: signing: %w", err)
	}

	packed, err := PackEnvelope(Envelope{
		Version:   Version,
		Payload:   payload,
		Signature: signature,
		IssuedAt:  issuedAt,
		Window:    window,
		Hint:      hint,
	})
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		Envelope:  packed,
		Token:     token,
		Window:    window,
		IssuedAt:  now,
		ExpiresAt: i.Generator.ExpiresAt(window),
	}, nil
}
