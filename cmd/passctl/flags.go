package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"ticket-pass/internal/protect"
	"ticket-pass/internal/rotating"
	"ticket-pass/internal/signer"
)

// cryptoFlags are shared by issue and verify.
type cryptoFlags struct {
	secret        string
	signingSecret string
	keyDir        string
	kdfSecret     string
	width         time.Duration
}

func (f *cryptoFlags) add(fs *pflag.FlagSet) {
	fs.StringVar(&f.secret, "secret", "", "ticket base secret")
	fs.StringVar(&f.signingSecret, "signing-secret", os.Getenv("SIGNING_SECRET"), "shared MAC signing secret")
	fs.StringVar(&f.keyDir, "key-dir", os.Getenv("SIGNING_KEY_DIR"), "ed25519 key directory (overrides --signing-secret)")
	fs.StringVar(&f.kdfSecret, "kdf-secret", os.Getenv("KEY_DERIVATION_SECRET"), "payload key-derivation secret")
	fs.DurationVar(&f.width, "width", rotating.DefaultWidth, "window width")
}

func (f *cryptoFlags) protector() (*protect.Protector, error) {
	if f.kdfSecret == "" {
		return nil, fmt.Errorf("--kdf-secret or KEY_DERIVATION_SECRET is required")
	}
	return protect.New(f.kdfSecret), nil
}

func (f *cryptoFlags) signer() (signer.Signer, error) {
	if f.keyDir != "" {
		private, err := signer.LoadPrivateKey(f.keyDir)
		if err != nil {
			return nil, err
		}
		return signer.NewEd25519Signer(private)
	}
	return signer.NewMACSigner(f.signingSecret)
}

func (f *cryptoFlags) verifier() (signer.Verifier, error) {
	if f.keyDir != "" {
		public, err := signer.LoadPublicKey(f.keyDir)
		if err != nil {
			return nil, err
		}
		return signer.NewEd25519Verifier(public)
	}
	return signer.NewMACSigner(f.signingSecret)
}

func parse(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if rest := fs.Args(); len(rest) > 0 && rest[0] != "-" {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return nil
}
