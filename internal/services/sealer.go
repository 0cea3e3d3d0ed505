package services

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// SecretSealer protects base secrets at rest in the pass registry.
type SecretSealer interface {
	Seal(secret string) (string, error)
	Open(sealed string) (string, error)
}

// AgeSealer encrypts to its own X25519 recipient in ASCII armor.
type AgeSealer struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

func NewAgeSealer(identity string) (*AgeSealer, error) {
	id, err := age.ParseX25519Identity(strings.TrimSpace(identity))
	if err != nil {
		return nil, fmt.Errorf("sealer: parsing identity: %w", err)
	}
	return &AgeSealer{identity: id, recipient: id.Recipient()}, nil
}

// GenerateAgeIdentity returns a new identity string for SECRET_SEAL_IDENTITY.
func GenerateAgeIdentity() (string, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (s *AgeSealer) Seal(secret string) (string, error) {
	var buf bytes.Buffer
	aw := armor.NewWriter(&buf)
	w, err := age.Encrypt(aw, s.recipient)
	if err != nil {
		return "", fmt.Errorf("sealer: %w", err)
	}
	if _, err := io.WriteString(w, secret); err != nil {
		return "", fmt.Errorf("sealer: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("sealer: %w", err)
	}
	if err := aw.Close(); err != nil {
		return "", fmt.Errorf("sealer: %w", err)
	}
	return buf.String(), nil
}

func (s *AgeSealer) Open(sealed string) (string, error) {
	r, err := age.Decrypt(armor.NewReader(strings.NewReader(sealed)), s.identity)
	if err != nil {
		return "", fmt.Errorf("sealer: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("sealer: %w", err)
	}
	return string(plain), nil
}

const plainPrefix = "plain:"

// PlainSealer stores secrets unencrypted. Development only.
type PlainSealer struct{}

func (PlainSealer) Seal(secret string) (string, error) {
	return plainPrefix + secret, nil
}

func (PlainSealer) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, plainPrefix) {
		return "", errors.New("sealer: value is not plain-sealed")
	}
	return strings.TrimPrefix(sealed, plainPrefix), nil
}
