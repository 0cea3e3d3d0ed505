package barcode

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"ticket-pass/internal/rotating"
)

var ErrSymbolMismatch = errors.New("barcode: code does not match any tolerated window")

// Verify checks a scanned code against the tokens of every window within
// tolerance of at. It returns the matching window index.
func (e *Encoder) Verify(code, baseSecret string, at time.Time, width time.Duration, tolerance int64) (int64, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return 0, ErrEmptyCode
	}
	if _, err := codeValues(code); err != nil {
		return 0, err
	}
	if !strings.HasPrefix(code, e.Prefix) {
		return 0, ErrSymbolMismatch
	}

	current := rotating.WindowIndex(at, width)
	for w := current - tolerance; w <= current+tolerance; w++ {
		if w < 0 {
			continue
		}
		token, err := rotating.ForWindow(baseSecret, w)
		if err != nil {
			return 0, err
		}
		expected := e.SymbolString(token)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return w, nil
		}
	}
	return 0, ErrSymbolMismatch
}

// VerifySymbol is Verify with the default prefix.
func VerifySymbol(code, baseSecret string, at time.Time, width time.Duration, tolerance int64) (int64, error) {
	return (&Encoder{Prefix: DefaultPrefix}).Verify(code, baseSecret, at, width, tolerance)
}
