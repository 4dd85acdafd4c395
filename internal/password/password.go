// Package password hashes and verifies user passwords with bcrypt.
package password

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// MaxLength is the longest password bcrypt will accept, in bytes.
const MaxLength = 72

var (
	ErrEmpty   = errors.New("password cannot be empty")
	ErrTooLong = errors.New("password exceeds 72 bytes")
)

// Hasher produces and checks bcrypt hashes at a fixed cost.
type Hasher struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewHasher returns a Hasher using cost, or bcrypt.DefaultCost when cost is
// outside bcrypt's accepted range.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) Cost() int { return h.cost }

// Hash returns a salted bcrypt hash of plain.
func (h *Hasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", ErrEmpty
	}
	if len(plain) > MaxLength {
		return "", ErrTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether plain matches hash. A malformed hash never matches.
func (h *Hasher) Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// Equalize spends one bcrypt comparison against a throwaway hash of the
// same cost. Login calls it when the username is unknown so that path takes
// as long as a wrong password.
func (h *Hasher) Equalize(plain string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("ncats-equalize"), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plain))
}
