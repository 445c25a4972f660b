package serialization

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/cellar/internal/inventory"
)

// DefaultPrefix starts every serial number unless configured otherwise.
const DefaultPrefix = "CRU"

// DefaultMaxAttempts bounds serial regeneration after a collision.
const DefaultMaxAttempts = 5

// SerialGenerator produces serials shaped PREFIX-YYYYMMDD-XXXXXXXXXX, the
// suffix being 40 random bits in upper-case hex.
type SerialGenerator struct {
	prefix      string
	maxAttempts int
	now         func() time.Time
	suffix      func() string
}

// NewSerialGenerator builds a generator. Empty or non-positive arguments fall
// back to the defaults.
func NewSerialGenerator(prefix string, maxAttempts int) *SerialGenerator {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &SerialGenerator{
		prefix:      prefix,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		suffix:      randomSuffix,
	}
}

// Next returns a candidate serial. Uniqueness is checked by Allocate.
func (g *SerialGenerator) Next() string {
	return fmt.Sprintf("%s-%s-%s", g.prefix, g.now().Format("20060102"), g.suffix())
}

// SerialChecker reports whether a serial is already in use.
type SerialChecker interface {
	SerialExists(ctx context.Context, serial string) (bool, error)
}

// Allocate returns a serial unused both in storage and in taken, and adds it
// to taken. Running out of attempts is fatal: it returns ErrSerialSpace and
// never a possibly duplicate serial.
func (g *SerialGenerator) Allocate(ctx context.Context, check SerialChecker, taken map[string]struct{}) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		candidate := g.Next()
		if _, dup := taken[candidate]; dup {
			continue
		}
		exists, err := check.SerialExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if exists {
			continue
		}
		taken[candidate] = struct{}{}
		return candidate, nil
	}
	return "", fmt.Errorf("%d attempts with prefix %s: %w", g.maxAttempts, g.prefix, inventory.ErrSerialSpace)
}

// randomSuffix takes the first five bytes of a version 4 UUID, all of which
// are random.
func randomSuffix() string {
	id := uuid.New()
	return strings.ToUpper(hex.EncodeToString(id[:5]))
}
