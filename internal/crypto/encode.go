package crypto

import (
	"crypto/rand"
	"encoding/base64"
)

// secretBytes is the entropy of a generated application secret.
const secretBytes = 24

// GenerateSecret returns a random URL-safe application secret.
func GenerateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	defer Wipe(b)
	return base64.RawURLEncoding.EncodeToString(b), nil
}
