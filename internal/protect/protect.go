// Package protect wraps a ticket descriptor so that only holders of the
// current windowed token can read it, and any modification is detected.
//
// The descriptor is encoded with CBOR core deterministic encoding and
// sealed with XChaCha20-Poly1305 under a key expanded from the token by
// HKDF-SHA256. The wire form is unpadded base64url of
// nonce || ciphertext || tag.
package protect

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"ticket-pass/models"
)

const keyInfo = "ticket-pass/payload/v2"

var (
	ErrEmptyToken    = errors.New("protect: token is empty")
	ErrDecodeFailure = errors.New("protect: payload could not be recovered")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protect: building CBOR encode mode: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic("protect: building CBOR decode mode: " + err.Error())
	}
}

var encoding = base64.RawURLEncoding.Strict()

// Protector carries the injected key-derivation secret. The zero value
// derives keys with no salt.
type Protector struct {
	KDFSecret []byte

	// Rand is the nonce source; nil means crypto/rand.
	Rand io.Reader
}

func New(kdfSecret string) *Protector {
	return &Protector{KDFSecret: []byte(kdfSecret)}
}

// Canonical returns the deterministic byte encoding of a descriptor.
func Canonical(descriptor models.TicketDescriptor) ([]byte, error) {
	return encMode.Marshal(descriptor)
}

func (p *Protector) Protect(descriptor models.TicketDescriptor, token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	plaintext, err := Canonical(descriptor)
	if err != nil {
		return "", fmt.Errorf("protect: encoding descriptor: %w", err)
	}

	aead, err := p.aead(token)
	if err != nil {
		return "", err
	}

	source := p.Rand
	if source == nil {
		source = rand.Reader
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(source, nonce); err != nil {
		return "", fmt.Errorf("protect: reading nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return encoding.EncodeToString(sealed), nil
}

func (p *Protector) Unprotect(payload, token string) (models.TicketDescriptor, error) {
	var descriptor models.TicketDescriptor
	if token == "" {
		return descriptor, ErrEmptyToken
	}

	sealed, err := encoding.DecodeString(payload)
	if err != nil {
		return descriptor, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}

	aead, err := p.aead(token)
	if err != nil {
		return descriptor, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return descriptor, fmt.Errorf("%w: payload too short", ErrDecodeFailure)
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return descriptor, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}

	if err := decMode.Unmarshal(plaintext, &descriptor); err != nil {
		return models.TicketDescriptor{}, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	return descriptor, nil
}

func (p *Protector) aead(token string) (cipher.AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	reader := hkdf.New(sha256.New, []byte(token), p.KDFSecret, []byte(keyInfo))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("protect: deriving key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("protect: building cipher: %w", err)
	}
	return aead, nil
}
