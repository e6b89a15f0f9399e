package identity

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"peerlink/internal/crypto"
	"peerlink/internal/domain"
	domaintypes "peerlink/internal/domain/types"
)

const (
	// minSecretLength defines the minimum number of characters required for a secret.
	minSecretLength = 16
	// minSecretClasses is how many of upper, lower, digit and symbol must appear.
	minSecretClasses = 3

	suffixLen   = 8
	maxNameLen  = domaintypes.MaxIdentityLen - suffixLen - 1
	defaultName = "node"
)

var (
	// ErrWeakSecret is returned when the application secret fails the strength policy.
	ErrWeakSecret = fmt.Errorf(
		"secret is too weak (must be at least %d characters and mix at least %d of upper, "+
			"lower, number and symbol)",
		minSecretLength, minSecretClasses,
	)
)

// Service holds the local identity and the master key.
type Service struct {
	self   domain.PeerIdentity
	master [crypto.KeyBytes]byte
	fp     domain.Fingerprint
}

// New generates a fresh identity from name (the hostname when empty) and
// derives the master key from secret.
func New(name, secret string) (*Service, error) {
	if err := CheckSecret(secret); err != nil {
		return nil, err
	}
	if name == "" {
		name, _ = os.Hostname()
	}
	master := crypto.DeriveMasterKey(secret)
	return &Service{
		self:   GenerateIdentity(name),
		master: master,
		fp:     crypto.Fingerprint(master[:]),
	}, nil
}

// Self returns this node's identity.
func (s *Service) Self() domain.PeerIdentity { return s.self }

// MasterKey returns the stretched application secret.
func (s *Service) MasterKey() [crypto.KeyBytes]byte { return s.master }

// Fingerprint returns a short fingerprint of the master key. Two nodes can
// compare fingerprints to confirm they share a secret.
func (s *Service) Fingerprint() domain.Fingerprint { return s.fp }

// GenerateIdentity returns <sanitized name>-<8 hex chars>. The suffix comes
// from a random UUID, so two processes on one host never collide.
func GenerateIdentity(name string) domain.PeerIdentity {
	name = sanitize(name)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:suffixLen]
	return domain.PeerIdentity(name + "-" + suffix)
}

// Fingerprint returns the master key fingerprint for secret without building
// a Service.
func Fingerprint(secret string) domain.Fingerprint {
	master := crypto.DeriveMasterKey(secret)
	defer crypto.Wipe(master[:])
	return crypto.Fingerprint(master[:])
}

// GenerateSecret returns a random secret that satisfies the strength policy.
func GenerateSecret() (string, error) {
	for {
		s, err := crypto.GenerateSecret()
		if err != nil {
			return "", err
		}
		if CheckSecret(s) == nil {
			return s, nil
		}
	}
}

// CheckSecret enforces the strength policy.
func CheckSecret(secret string) error {
	if len(secret) < minSecretLength {
		return ErrWeakSecret
	}
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range secret {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	classes := 0
	for _, ok := range []bool{hasUpper, hasLower, hasDigit, hasSymbol} {
		if ok {
			classes++
		}
	}
	if classes < minSecretClasses {
		return ErrWeakSecret
	}
	return nil
}

func sanitize(name string) string {
	name = strings.ToLower(name)
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > maxNameLen {
		out = strings.TrimRight(out[:maxNameLen], "-")
	}
	if out == "" {
		return defaultName
	}
	return out
}
