// Package signer produces and checks the tamper-evidence tag carried in
// a pass envelope. The tag covers the protected payload and the
// issued-at timestamp.
//
// Two schemes are provided. MACSigner is a shared-secret MAC: issuer and
// verifier hold the same secret, so either can mint. Ed25519Signer gives
// non-repudiation: gates hold only the public key.
package signer

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strconv"

	"github.com/zeebo/blake3"
)

const macContext = "ticket-pass envelope signature v2"

var (
	ErrEmptySigningSecret = errors.New("signer: signing secret is empty")
	ErrSignatureMismatch  = errors.New("signer: signature does not match")
)

var encoding = base64.RawURLEncoding.Strict()

type Signer interface {
	Sign(payload string, issuedAt int64) (string, error)
}

type Verifier interface {
	Verify(payload string, issuedAt int64, signature string) error
}

// message lays out the signed bytes. The zero separator keeps payload
// and timestamp from running into each other.
func message(payload string, issuedAt int64) []byte {
	msg := make([]byte, 0, len(payload)+1+20)
	msg = append(msg, payload...)
	msg = append(msg, 0)
	return strconv.AppendInt(msg, issuedAt, 10)
}

// MACSigner signs and verifies with a BLAKE3 keyed hash. The 32-byte key
// is derived from the configured secret, so secrets of any length work.
type MACSigner struct {
	key [32]byte
}

func NewMACSigner(secret string) (*MACSigner, error) {
	if secret == "" {
		return nil, ErrEmptySigningSecret
	}
	s := &MACSigner{}
	blake3.DeriveKey(macContext, []byte(secret), s.key[:])
	return s, nil
}

func (s *MACSigner) tag(payload string, issuedAt int64) []byte {
	hasher, err := blake3.NewKeyed(s.key[:])
	if err != nil {
		// The key is a fixed 32-byte array; NewKeyed only fails on length.
		panic("signer: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(message(payload, issuedAt))
	return hasher.Sum(nil)
}

func (s *MACSigner) Sign(payload string, issuedAt int64) (string, error) {
	return encoding.EncodeToString(s.tag(payload, issuedAt)), nil
}

func (s *MACSigner) Verify(payload string, issuedAt int64, signature string) error {
	got, err := encoding.DecodeString(signature)
	if err != nil {
		return ErrSignatureMismatch
	}
	if subtle.ConstantTimeCompare(got, s.tag(payload, issuedAt)) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}
