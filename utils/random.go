package utils

import (
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
)

// BaseSecretBytes is the entropy of a ticket base secret.
const BaseSecretBytes = 32

// GenerateBaseSecret returns a fresh random base secret for a ticket.
func GenerateBaseSecret() (string, error) {
	b := make([]byte, BaseSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateLookupHint returns the opaque value a rendered envelope carries
// in place of the ticket id.
func GenerateLookupHint() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GenerateTicketID returns an id of the form tkt_<uuid without dashes>.
func GenerateTicketID() string {
	return "tkt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
