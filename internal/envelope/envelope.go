// Package envelope packs the protected payload, its signature and the
// timing fields into the versioned text structure carried by the matrix
// code, and runs the acceptance checks on the way back in.
//
// # Wire format
//
// Compact JSON with single-letter keys:
//
//	{"v":"2.0","d":"<payload>","s":"<signature>","t":<issued-at ms>,"w":<window>}
//
// An optional "i" key carries an opaque lookup hint so a gate can find
// the base secret. The hint is random per pass and is never the ticket
// id, so reading it off a code does not let anyone render the pass. It
// is not covered by the signature; a forged hint fails payload recovery
// instead.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"ticket-pass/internal/rotating"
)

// Version is the only envelope version this package reads or writes.
const Version = "2.0"

var (
	ErrMalformedEnvelope  = errors.New("envelope: malformed envelope")
	ErrUnsupportedVersion = errors.New("envelope: unsupported version")
	ErrWindowExpired      = errors.New("envelope: window outside tolerance")
	ErrSignatureMismatch  = errors.New("envelope: signature mismatch")
	ErrDecodeFailure      = errors.New("envelope: payload decode failure")
)

type Envelope struct {
	Version   string `json:"v"`
	Payload   string `json:"d"`
	Signature string `json:"s"`
	IssuedAt  int64  `json:"t"`
	Window    int64  `json:"w"`
	Hint      string `json:"i,omitempty"`
}

// wireEnvelope uses pointers so Parse can tell a missing field from a
// zero value.
type wireEnvelope struct {
	Version   *string `json:"v"`
	Payload   *string `json:"d"`
	Signature *string `json:"s"`
	IssuedAt  *int64  `json:"t"`
	Window    *int64  `json:"w"`
	Hint      string  `json:"i,omitempty"`
}

// Pack serializes the five required fields.
func Pack(payload, signature string, issuedAt, window int64) (string, error) {
	return PackEnvelope(Envelope{
		Version:   Version,
		Payload:   payload,
		Signature: signature,
		IssuedAt:  issuedAt,
		Window:    window,
	})
}

func PackEnvelope(env Envelope) (string, error) {
	if env.Version == "" {
		env.Version = Version
	}
	if err := env.check(); err != nil {
		return "", err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("envelope: encoding: %w", err)
	}
	return string(data), nil
}

// Parse decodes an envelope string. Structural problems return
// ErrMalformedEnvelope; a well-formed envelope of another version returns
// ErrUnsupportedVersion.
func Parse(s string) (Envelope, error) {
	decoder := json.NewDecoder(bytes.NewReader([]byte(s)))
	decoder.DisallowUnknownFields()

	var wire wireEnvelope
	if err := decoder.Decode(&wire); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if decoder.More() {
		return Envelope{}, fmt.Errorf("%w: trailing data", ErrMalformedEnvelope)
	}

	switch {
	case wire.Version == nil:
		return Envelope{}, fmt.Errorf("%w: missing field v", ErrMalformedEnvelope)
	case wire.Payload == nil:
		return Envelope{}, fmt.Errorf("%w: missing field d", ErrMalformedEnvelope)
	case wire.Signature == nil:
		return Envelope{}, fmt.Errorf("%w: missing field s", ErrMalformedEnvelope)
	case wire.IssuedAt == nil:
		return Envelope{}, fmt.Errorf("%w: missing field t", ErrMalformedEnvelope)
	case wire.Window == nil:
		return Envelope{}, fmt.Errorf("%w: missing field w", ErrMalformedEnvelope)
	}

	env := Envelope{
		Version:   *wire.Version,
		Payload:   *wire.Payload,
		Signature: *wire.Signature,
		IssuedAt:  *wire.IssuedAt,
		Window:    *wire.Window,
		Hint:      wire.Hint,
	}
	if err := env.check(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (e Envelope) check() error {
	switch {
	case e.Version == "":
		return fmt.Errorf("%w: empty version", ErrMalformedEnvelope)
	case e.Payload == "":
		return fmt.Errorf("%w: empty payload", ErrMalformedEnvelope)
	case e.Signature == "":
		return fmt.Errorf("%w: empty signature", ErrMalformedEnvelope)
	case e.IssuedAt < 0:
		return fmt.Errorf("%w: negative issued-at", ErrMalformedEnvelope)
	case e.Window < 0:
		return fmt.Errorf("%w: negative window index", ErrMalformedEnvelope)
	case e.Version != Version:
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, e.Version)
	}
	return nil
}

// Reason is a stable label for a rejection, used in metrics and
// user-facing messages.
type Reason string

const (
	ReasonAccepted           Reason = "accepted"
	ReasonMalformed          Reason = "malformed"
	ReasonUnsupportedVersion Reason = "unsupported_version"
	ReasonExpired            Reason = "expired"
	ReasonBadSignature       Reason = "bad_signature"
	ReasonDecodeFailure      Reason = "decode_failure"
	ReasonInvalidSecret      Reason = "invalid_secret"
	ReasonUnknown            Reason = "unknown"
)

func ReasonOf(err error) Reason {
	switch {
	case err == nil:
		return ReasonAccepted
	case errors.Is(err, ErrMalformedEnvelope):
		return ReasonMalformed
	case errors.Is(err, ErrUnsupportedVersion):
		return ReasonUnsupportedVersion
	case errors.Is(err, ErrWindowExpired):
		return ReasonExpired
	case errors.Is(err, ErrSignatureMismatch):
		return ReasonBadSignature
	case errors.Is(err, ErrDecodeFailure):
		return ReasonDecodeFailure
	case errors.Is(err, rotating.ErrEmptySecret):
		return ReasonInvalidSecret
	}
	return ReasonUnknown
}
