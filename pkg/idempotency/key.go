package idempotency

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// KeySize is the width of a key in bytes (128 bits)
const KeySize = 16

// Key correlates one swap attempt's backend order with its on-chain deposit
type Key [KeySize]byte

// String returns the key as 32 lowercase hex characters
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// UUID returns the hyphenated form the backend expects
func (k Key) UUID() string {
	return uuid.UUID(k).String()
}

// Bytes32 returns the key right-padded with zeros to the gateway's bytes32 field
func (k Key) Bytes32() [32]byte {
	var out [32]byte
	copy(out[:], k[:])
	return out
}

// IsZero reports whether the key was never set
func (k Key) IsZero() bool {
	return k == Key{}
}

// MarshalText encodes the key as hex
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText accepts either the hex or the UUID form
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKey parses a key from 32 hex characters, with or without hyphens
func ParseKey(s string) (Key, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(strings.TrimPrefix(s, "0x")), "-", "")
	if len(clean) != KeySize*2 {
		return Key{}, fmt.Errorf("invalid idempotency key %q: expected %d hex characters", s, KeySize*2)
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return Key{}, fmt.Errorf("invalid idempotency key %q: %w", s, err)
	}

	var k Key
	copy(k[:], raw)
	return k, nil
}

// Generator produces a fresh key for every swap attempt
type Generator interface {
	Generate() Key
}

// RandomGenerator generates random (version 4) UUID keys.
// It is stateless and safe for concurrent use.
type RandomGenerator struct{}

// Generate returns a new random key. It panics only if the system
// entropy source fails.
func (RandomGenerator) Generate() Key {
	return Key(uuid.New())
}

// FixedGenerator returns predetermined keys in order, for tests
type FixedGenerator struct {
	mu   sync.Mutex
	keys []Key
	idx  int
}

// NewFixedGenerator creates a generator that hands out keys in order
func NewFixedGenerator(keys ...Key) *FixedGenerator {
	return &FixedGenerator{keys: keys}
}

// Generate returns the next key, panicking once all keys are used
func (g *FixedGenerator) Generate() Key {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.keys) {
		panic(fmt.Sprintf("FixedGenerator: all %d keys consumed", len(g.keys)))
	}
	k := g.keys[g.idx]
	g.idx++
	return k
}
