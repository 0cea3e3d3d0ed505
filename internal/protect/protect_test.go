package protect

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-pass/models"
)

const token = "3f2a9c81d0e4b6a75c19e08f2b7d4a60"

func sampleDescriptors() []models.TicketDescriptor {
	return []models.TicketDescriptor{
		{TicketID: "t-1", EventID: "e-1", EventName: "Spring Concert", Date: "2026-05-01"},
		{TicketID: "t-2", EventID: "e-1", EventName: "Spring Concert", Date: "2026-05-01", Seat: "B12"},
		{TicketID: "t-3", EventID: "e-9", EventName: "Ünïcødé Fest ✓", Date: "2026-12-31T20:00:00Z", Seat: "GA", HolderID: "u-77", Quantity: 4},
		{TicketID: "t-4", EventID: "e-2", EventName: "", Date: "", HolderID: "holder"},
	}
}

func TestProtect_RoundTrip(t *testing.T) {
	p := New("kdf-secret")
	for _, d := range sampleDescriptors() {
		payload, err := p.Protect(d, token)
		require.NoError(t, err)

		got, err := p.Unprotect(payload, token)
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
}

func TestProtect_FreshNoncePerCall(t *testing.T) {
	p := New("kdf-secret")
	d := sampleDescriptors()[0]

	a, err := p.Protect(d, token)
	require.NoError(t, err)
	b, err := p.Protect(d, token)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestProtect_DeterministicWithFixedNonceSource(t *testing.T) {
	d := sampleDescriptors()[1]
	a := &Protector{KDFSecret: []byte("k"), Rand: bytes.NewReader(make([]byte, 24))}
	b := &Protector{KDFSecret: []byte("k"), Rand: bytes.NewReader(make([]byte, 24))}

	pa, err := a.Protect(d, token)
	require.NoError(t, err)
	pb, err := b.Protect(d, token)
	require.NoError(t, err)
	assert.Equal(t, pa, pb)
}

func TestUnprotect_WrongToken(t *testing.T) {
	p := New("kdf-secret")
	payload, err := p.Protect(sampleDescriptors()[0], token)
	require.NoError(t, err)

	_, err = p.Unprotect(payload, "00000000000000000000000000000000")
	assert.ErrorIs(t, err, ErrDecodeFailure)
}

func TestUnprotect_WrongKDFSecret(t *testing.T) {
	payload, err := New("one").Protect(sampleDescriptors()[0], token)
	require.NoError(t, err)

	_, err = New("two").Unprotect(payload, token)
	assert.ErrorIs(t, err, ErrDecodeFailure)
}

func TestUnprotect_TamperedCiphertext(t *testing.T) {
	p := New("kdf-secret")
	payload, err := p.Protect(sampleDescriptors()[2], token)
	require.NoError(t, err)

	raw, err := encoding.DecodeString(payload)
	require.NoError(t, err)
	for i := range raw {
		tampered := append([]byte(nil), raw...)
		tampered[i] ^= 0x01
		_, err := p.Unprotect(encoding.EncodeToString(tampered), token)
		assert.ErrorIs(t, err, ErrDecodeFailure, "byte %d", i)
	}
}

func TestUnprotect_MalformedInput(t *testing.T) {
	p := New("")
	for _, payload := range []string{"", "!!!", "AAAA", "not base64 at all"} {
		_, err := p.Unprotect(payload, token)
		assert.ErrorIs(t, err, ErrDecodeFailure, "payload %q", payload)
	}
}

func TestProtect_EmptyToken(t *testing.T) {
	p := New("")
	_, err := p.Protect(sampleDescriptors()[0], "")
	assert.ErrorIs(t, err, ErrEmptyToken)
	_, err = p.Unprotect("AAAA", "")
	assert.ErrorIs(t, err, ErrEmptyToken)
}

func TestCanonical_IsDeterministic(t *testing.T) {
	d := sampleDescriptors()[2]
	a, err := Canonical(d)
	require.NoError(t, err)
	b, err := Canonical(d)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Absent optional fields are omitted rather than encoded as zero values.
	short, err := Canonical(sampleDescriptors()[0])
	require.NoError(t, err)
	withSeat, err := Canonical(sampleDescriptors()[1])
	require.NoError(t, err)
	assert.Less(t, len(short), len(withSeat))
}
