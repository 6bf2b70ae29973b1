// Package pow implements proof-of-work admission control. Challenges are
// cheap to verify and expensive to solve, rate-limiting effort rather than
// identity: no account system is needed to keep scripted spam out of the
// write path.
package pow

import (
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long an issued challenge stays redeemable.
const DefaultTTL = 5 * time.Minute

// Algorithm names the digest used to check solutions.
const Algorithm = "sha256"

var (
	// ErrUnknownChallenge means the id was never issued, already redeemed,
	// or swept after expiry.
	ErrUnknownChallenge = errors.New("unknown or already redeemed challenge")

	// ErrChallengeExpired means the challenge existed but its deadline passed.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrInvalidProof means the nonce does not satisfy the difficulty target.
	ErrInvalidProof = errors.New("nonce does not solve challenge")
)

// Challenge is a single-use computational puzzle. The caller must find a
// nonce such that sha256(Prefix + nonce) starts with Difficulty zero hex
// digits.
type Challenge struct {
	ID         string    `json:"id"`
	Prefix     string    `json:"prefix"`
	Difficulty int       `json:"difficulty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Store issues and redeems challenges. Redemption removes the entry before
// the caller proceeds, so a challenge can never be reused even under
// concurrent retries.
type Store struct {
	mu         sync.Mutex
	challenges map[string]Challenge
	difficulty int
	ttl        time.Duration
}

// New creates a Store requiring difficulty leading zero hex digits.
func New(difficulty int, ttl time.Duration) *Store {
	return &Store{
		challenges: make(map[string]Challenge),
		difficulty: difficulty,
		ttl:        ttl,
	}
}

// Issue creates and registers a fresh challenge.
func (s *Store) Issue() Challenge {
	b := make([]byte, 16)
	if _, err := crand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	ch := Challenge{
		ID:         uuid.New().String(),
		Prefix:     hex.EncodeToString(b),
		Difficulty: s.difficulty,
		ExpiresAt:  time.Now().Add(s.ttl),
	}

	s.mu.Lock()
	s.challenges[ch.ID] = ch
	s.mu.Unlock()
	return ch
}

// Redeem verifies nonce against the challenge and consumes it. The entry is
// removed under the lock before any result is returned, so a second Redeem
// of the same id always fails with ErrUnknownChallenge.
func (s *Store) Redeem(id, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[id]
	if !ok {
		return ErrUnknownChallenge
	}

	if time.Now().After(ch.ExpiresAt) {
		delete(s.challenges, id)
		return ErrChallengeExpired
	}

	if !Solves(ch.Prefix, nonce, ch.Difficulty) {
		return ErrInvalidProof
	}

	delete(s.challenges, id)
	return nil
}

// Solves reports whether sha256(prefix + nonce) has at least difficulty
// leading zero hex digits.
func Solves(prefix, nonce string, difficulty int) bool {
	sum := sha256.Sum256([]byte(prefix + nonce))
	return strings.HasPrefix(hex.EncodeToString(sum[:]), strings.Repeat("0", difficulty))
}

// Sweep removes expired challenges and returns how many were reclaimed.
// Expiry is always re-checked at redeem time, so the sweep exists purely to
// bound memory.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	n := 0
	for id, ch := range s.challenges {
		if now.After(ch.ExpiresAt) {
			delete(s.challenges, id)
			n++
		}
	}
	return n
}

// Len returns the number of outstanding challenges.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}
