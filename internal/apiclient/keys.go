package apiclient

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KeyStrength selects how generated idempotency keys are produced.
type KeyStrength string

const (
	// StrengthUUID produces random (v4) UUIDs, falling back to the timestamp
	// form if the random source fails.
	StrengthUUID KeyStrength = "uuid"
	// StrengthTimestamp produces "<unix-millis>-<base36 random>" keys. They are
	// collision-resistant enough for manual testing, not cryptographically.
	StrengthTimestamp KeyStrength = "timestamp"
)

// KeyGenerator produces a fresh idempotency key per logical operation.
type KeyGenerator interface {
	NewKey() string
}

// KeyGeneratorFunc adapts a function to KeyGenerator.
type KeyGeneratorFunc func() string

// NewKey calls f.
func (f KeyGeneratorFunc) NewKey() string { return f() }

// test seams
var (
	newRandomUUID = uuid.NewRandom
	nowFn         = time.Now
)

// ParseKeyStrength maps a config value to a KeyStrength. Empty selects uuid.
func ParseKeyStrength(s string) (KeyStrength, error) {
	switch KeyStrength(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrengthUUID:
		return StrengthUUID, nil
	case StrengthTimestamp:
		return StrengthTimestamp, nil
	default:
		return "", fmt.Errorf("unknown idempotency key strength %q", s)
	}
}

// NewKeyGenerator returns the generator for the given strength.
func NewKeyGenerator(s KeyStrength) KeyGenerator {
	if s == StrengthTimestamp {
		return KeyGeneratorFunc(timestampKey)
	}
	return KeyGeneratorFunc(uuidKey)
}

func uuidKey() string {
	id, err := newRandomUUID()
	if err != nil {
		return timestampKey()
	}
	return id.String()
}

func timestampKey() string {
	return strconv.FormatInt(nowFn().UnixMilli(), 10) + "-" + strconv.FormatUint(rand.Uint64(), 36)
}
