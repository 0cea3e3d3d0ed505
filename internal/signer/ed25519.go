package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
)

const (
	privateKeyFile = "envelope-signing-key"
	publicKeyFile  = "envelope-signing-key.pub"
)

type Ed25519Signer struct {
	private ed25519.PrivateKey
}

func NewEd25519Signer(private ed25519.PrivateKey) (*Ed25519Signer, error) {
	if len(private) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signer: private key has %d bytes, want %d", len(private), ed25519.PrivateKeySize)
	}
	return &Ed25519Signer{private: private}, nil
}

func (s *Ed25519Signer) Sign(payload string, issuedAt int64) (string, error) {
	return encoding.EncodeToString(ed25519.Sign(s.private, message(payload, issuedAt))), nil
}

// Verifier returns the public half, for handing to gates.
func (s *Ed25519Signer) Verifier() *Ed25519Verifier {
	return &Ed25519Verifier{public: s.private.Public().(ed25519.PublicKey)}
}

type Ed25519Verifier struct {
	public ed25519.PublicKey
}

func NewEd25519Verifier(public ed25519.PublicKey) (*Ed25519Verifier, error) {
	if len(public) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("signer: public key has %d bytes, want %d", len(public), ed25519.PublicKeySize)
	}
	return &Ed25519Verifier{public: public}, nil
}

func (v *Ed25519Verifier) Verify(payload string, issuedAt int64, signature string) error {
	sig, err := encoding.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrSignatureMismatch
	}
	if !ed25519.Verify(v.public, message(payload, issuedAt), sig) {
		return ErrSignatureMismatch
	}
	return nil
}

func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating Ed25519 keypair: %w", err)
	}
	return public, private, nil
}

// SaveKeypair writes the private key with 0600 and the public key with
// 0644 permissions.
func SaveKeypair(dir string, public ed25519.PublicKey, private ed25519.PrivateKey) error {
	if err := os.WriteFile(filepath.Join(dir, privateKeyFile), private, 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, publicKeyFile), public, 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

func LoadPrivateKey(dir string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(filepath.Join(dir, privateKeyFile))
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key has %d bytes, want %d", len(data), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(data), nil
}

// LoadPublicKey reads only the public key, which is all a gate needs.
func LoadPublicKey(dir string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(filepath.Join(dir, publicKeyFile))
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	if len(data) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has %d bytes, want %d", len(data), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(data), nil
}
