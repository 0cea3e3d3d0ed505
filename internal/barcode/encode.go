// Package barcode renders a rotating token as a Code 93 linear barcode.
//
// The printable form is a short uppercase string: a three character
// product tag followed by the leading characters of the token. The symbol
// carries the two mandatory Code 93 check characters, so a scanner can
// reject a misread before the gate ever compares tokens.
package barcode

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultPrefix = "TKT"
	PrefixLength  = 3
	MaxLength     = 20
)

var (
	ErrUnsupportedSymbol = errors.New("barcode: unsupported symbol")
	ErrEmptyCode         = errors.New("barcode: code is empty")
	ErrInvalidPrefix     = errors.New("barcode: prefix must be 3 characters A-Z or 0-9")
)

// Module is a run of same-colored modules.
type Module struct {
	Width int  `json:"width"`
	IsBar bool `json:"is_bar"`
}

type Encoder struct {
	Prefix string
}

func NewEncoder(prefix string) (*Encoder, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if len(prefix) != PrefixLength || alnum(prefix) != prefix || strings.ToUpper(prefix) != prefix {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	return &Encoder{Prefix: prefix}, nil
}

// ToSymbolString uses the default prefix.
func ToSymbolString(token string) string {
	return (&Encoder{Prefix: DefaultPrefix}).SymbolString(token)
}

// SymbolString strips everything but ASCII letters and digits from token,
// upper-cases the rest, prepends the prefix and truncates to MaxLength.
func (e *Encoder) SymbolString(token string) string {
	code := e.Prefix + strings.ToUpper(alnum(token))
	if len(code) > MaxLength {
		code = code[:MaxLength]
	}
	return code
}

func alnum(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// CheckValues returns the C and K check values for code. Both are indexes
// into the full 47 entry table.
func CheckValues(code string) (c, k int, err error) {
	vals, err := codeValues(code)
	if err != nil {
		return 0, 0, err
	}
	c = weightedSum(vals, 20)
	k = weightedSum(append(vals, c), 15)
	return c, k, nil
}

// shiftRunes stand in for the four shift characters, values 43 to 46,
// which have no printable form.
const shiftRunes = "abcd"

// CheckCharacters is CheckValues as characters. Shift values come back as
// 'a' through 'd'.
func CheckCharacters(code string) (c, k rune, err error) {
	cv, kv, err := CheckValues(code)
	if err != nil {
		return 0, 0, err
	}
	return valueRune(cv), valueRune(kv), nil
}

func valueRune(v int) rune {
	if v < len(alphabet) {
		return rune(alphabet[v])
	}
	return rune(shiftRunes[v-len(alphabet)])
}

// weightedSum weights values from the right, cycling 1..maxWeight.
func weightedSum(vals []int, maxWeight int) int {
	sum := 0
	for i := range vals {
		weight := (len(vals)-1-i)%maxWeight + 1
		sum += vals[i] * weight
	}
	return sum % checkModulus
}

func codeValues(code string) ([]int, error) {
	if code == "" {
		return nil, ErrEmptyCode
	}
	vals := make([]int, 0, len(code))
	for i, r := range code {
		v, ok := values[r]
		if !ok {
			return nil, fmt.Errorf("%w: %q at position %d", ErrUnsupportedSymbol, r, i)
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// EncodeSymbols returns the run-length module sequence for code: start,
// data, C, K, stop and the termination bar. Runs alternate starting and
// ending with a bar.
func EncodeSymbols(code string) ([]Module, error) {
	vals, err := codeValues(code)
	if err != nil {
		return nil, err
	}
	c, k, err := CheckValues(code)
	if err != nil {
		return nil, err
	}

	chars := make([]uint16, 0, len(vals)+4)
	chars = append(chars, startStop)
	for _, v := range vals {
		chars = append(chars, patterns[v])
	}
	chars = append(chars, patterns[c], patterns[k], startStop)

	modules := make([]Module, 0, len(chars)*6+1)
	push := func(bar bool) {
		if n := len(modules); n > 0 && modules[n-1].IsBar == bar {
			modules[n-1].Width++
			return
		}
		modules = append(modules, Module{Width: 1, IsBar: bar})
	}
	for _, p := range chars {
		for bit := modulesPerChar - 1; bit >= 0; bit-- {
			push(p&(1<<bit) != 0)
		}
	}
	push(true)
	return modules, nil
}

// TotalWidth is the symbol width in modules.
func TotalWidth(modules []Module) int {
	total := 0
	for _, m := range modules {
		total += m.Width
	}
	return total
}

// Bars counts the bar runs in a module sequence.
func Bars(modules []Module) int {
	n := 0
	for _, m := range modules {
		if m.IsBar {
			n++
		}
	}
	return n
}
