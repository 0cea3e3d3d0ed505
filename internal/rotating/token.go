// Package rotating derives the short-lived verification token shown by a
// ticket. A token is valid for one fixed-width time window and can be
// recomputed by anyone who holds the ticket's base secret.
package rotating

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"ticket-pass/internal/clock"
)

const (
	// DefaultWidth is the window width shared by issuer and verifier.
	DefaultWidth = 15 * time.Second

	// TokenLength is the display length of a token in hex characters.
	TokenLength = 32
)

var (
	ErrEmptySecret    = errors.New("rotating: base secret is empty")
	ErrNegativeWindow = errors.New("rotating: window index is negative")
	ErrInvalidWidth   = errors.New("rotating: window width must be at least one second")
)

// WindowIndex returns floor(at / width) in whole seconds.
func WindowIndex(at time.Time, width time.Duration) int64 {
	seconds := int64(width / time.Second)
	if seconds <= 0 {
		seconds = int64(DefaultWidth / time.Second)
	}
	unix := at.Unix()
	index := unix / seconds
	if unix%seconds != 0 && unix < 0 {
		index--
	}
	return index
}

// WindowStart returns the first instant of window w.
func WindowStart(w int64, width time.Duration) time.Time {
	return time.Unix(w*int64(width/time.Second), 0)
}

// DeriveToken computes the token for the default-width window containing at.
// A zero at means now.
func DeriveToken(baseSecret string, at time.Time) (string, error) {
	if at.IsZero() {
		at = time.Now()
	}
	return ForWindow(baseSecret, WindowIndex(at, DefaultWidth))
}

// ForWindow computes the token for an explicit window index.
func ForWindow(baseSecret string, window int64) (string, error) {
	if strings.TrimSpace(baseSecret) == "" {
		return "", ErrEmptySecret
	}
	if window < 0 {
		return "", ErrNegativeWindow
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(window))

	mac := hmac.New(sha256.New, []byte(baseSecret))
	mac.Write(msg[:])
	sum := hex.EncodeToString(mac.Sum(nil))
	return sum[:TokenLength], nil
}

// Generator binds a window width and a clock so callers do not have to
// thread either through every derivation.
type Generator struct {
	Width time.Duration
	Clock clock.Clock
}

func NewGenerator(width time.Duration, c clock.Clock) (*Generator, error) {
	if width < time.Second {
		return nil, ErrInvalidWidth
	}
	if c == nil {
		c = clock.Real()
	}
	return &Generator{Width: width, Clock: c}, nil
}

// CurrentWindow returns the window index for the clock's current time.
func (g *Generator) CurrentWindow() int64 {
	return WindowIndex(g.Clock.Now(), g.Width)
}

func (g *Generator) Token(baseSecret string) (string, int64, error) {
	window := g.CurrentWindow()
	token, err := ForWindow(baseSecret, window)
	return token, window, err
}

func (g *Generator) TokenAt(baseSecret string, at time.Time) (string, error) {
	return ForWindow(baseSecret, WindowIndex(at, g.Width))
}

func (g *Generator) TokenForWindow(baseSecret string, window int64) (string, error) {
	return ForWindow(baseSecret, window)
}

// ExpiresAt returns the first instant after window w.
func (g *Generator) ExpiresAt(w int64) time.Time {
	return WindowStart(w+1, g.Width)
}
