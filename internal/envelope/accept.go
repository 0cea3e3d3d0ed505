package envelope

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ticket-pass/internal/clock"
	"ticket-pass/internal/protect"
	"ticket-pass/internal/rotating"
	"ticket-pass/internal/signer"
	"ticket-pass/models"
)

// DefaultTolerance is how many windows either side of the verifier's
// current window an envelope may be from.
const DefaultTolerance = 1

var ErrNoVerifier = errors.New("envelope: verifier is required")

// Acceptor runs the offline acceptance checks. It holds no per-ticket
// state and is safe for concurrent use.
type Acceptor struct {
	Width     time.Duration
	Tolerance int64
	Verifier  signer.Verifier
	Protector *protect.Protector
	Clock     clock.Clock
}

func NewAcceptor(width time.Duration, tolerance int64, verifier signer.Verifier, protector *protect.Protector, c clock.Clock) (*Acceptor, error) {
	if verifier == nil {
		return nil, ErrNoVerifier
	}
	if width < time.Second {
		return nil, rotating.ErrInvalidWidth
	}
	if tolerance < 0 {
		return nil, fmt.Errorf("envelope: negative tolerance %d", tolerance)
	}
	if c == nil {
		c = clock.Real()
	}
	if protector == nil {
		protector = &protect.Protector{}
	}
	return &Acceptor{
		Width:     width,
		Tolerance: tolerance,
		Verifier:  verifier,
		Protector: protector,
		Clock:     c,
	}, nil
}

// AcceptString parses s and then accepts it.
func (a *Acceptor) AcceptString(s, baseSecret string) (Envelope, models.TicketDescriptor, error) {
	env, err := Parse(s)
	if err != nil {
		return Envelope{}, models.TicketDescriptor{}, err
	}
	descriptor, err := a.Accept(env, baseSecret)
	return env, descriptor, err
}

// Accept checks, in order: version, window tolerance, signature, and
// payload recovery under the token re-derived for the envelope's window.
// Each failure maps to its own error.
func (a *Acceptor) Accept(env Envelope, baseSecret string) (models.TicketDescriptor, error) {
	var none models.TicketDescriptor

	if strings.TrimSpace(baseSecret) == "" {
		return none, rotating.ErrEmptySecret
	}

	if env.Version != Version {
		return none, fmt.Errorf("%w: %q", ErrUnsupportedVersion, env.Version)
	}
	if err := env.check(); err != nil {
		return none, err
	}

	current := rotating.WindowIndex(a.Clock.Now(), a.Width)
	distance := env.Window - current
	if distance < 0 {
		distance = -distance
	}
	if distance > a.Tolerance {
		return none, fmt.Errorf("%w: window %d, current %d, tolerance %d", ErrWindowExpired, env.Window, current, a.Tolerance)
	}

	if err := a.Verifier.Verify(env.Payload, env.IssuedAt, env.Signature); err != nil {
		return none, fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}

	token, err := rotating.ForWindow(baseSecret, env.Window)
	if err != nil {
		return none, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	descriptor, err := a.Protector.Unprotect(env.Payload, token)
	if err != nil {
		return none, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	return descriptor, nil
}
