// Package lease defines the exclusive-claim primitive shared by job assignment and
// verification assignment: a holder id, an unguessable claim token and an expiry.
package lease

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConflict is returned when the entity is held by another live lease or is not
	// in a claimable state.
	ErrConflict = errors.New("lease conflict")
	// ErrTokenMismatch is returned when the presented token is not the one currently
	// held, typically because the lease expired and was reassigned.
	ErrTokenMismatch = errors.New("lease token mismatch")
	// ErrNoneAvailable is returned by ClaimNext when nothing is claimable.
	ErrNoneAvailable = errors.New("nothing available to claim")
)

// Lease is an issued claim over a single entity.
type Lease struct {
	EntityID  string
	Holder    string
	Token     string
	ExpiresAt time.Time
}

// Live reports whether the lease is still valid at now.
func (l Lease) Live(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

const tokenBytes = 32

// NewToken returns a fresh hex encoded 256-bit claim token.
func NewToken() (string, error) {
	var buf [tokenBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate lease token: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
