package schema

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// EntryID identifies a FoodEntry. Positive values are server-assigned,
// negative values are local placeholders. See the package documentation.
type EntryID int64

// IsPlaceholder reports whether id was generated locally for a pending entry.
func (id EntryID) IsPlaceholder() bool {
	return id < 0
}

// IsConfirmed reports whether id is a server-assigned identifier.
func (id EntryID) IsConfirmed() bool {
	return id > 0
}

// String returns the decimal form. Placeholders are prefixed with "local"
// so they are never mistaken for a server identifier in logs or the CLI.
func (id EntryID) String() string {
	if id.IsPlaceholder() {
		return "local" + strconv.FormatInt(int64(id), 10)
	}
	return strconv.FormatInt(int64(id), 10)
}

// ParseEntryID parses the String form of an EntryID. The "local" prefix
// is only accepted in front of a negative number, so a mistyped
// placeholder never resolves to a server identifier.
func ParseEntryID(s string) (EntryID, error) {
	rest, local := strings.CutPrefix(s, "local")
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, err
	}
	if local && n >= 0 {
		return 0, fmt.Errorf("%w: placeholder id %q must be negative", ErrInvalid, s)
	}
	return EntryID(n), nil
}

// placeholderSeqBits is the width of the per-millisecond counter packed
// below the timestamp.
const placeholderSeqBits = 12

// PlaceholderGenerator produces placeholder identifiers derived from the
// wall clock. Each identifier is strictly more negative than the previous
// one, even if the clock stalls or steps backwards. Safe for concurrent use.
type PlaceholderGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewPlaceholderGenerator creates a generator. A nil now uses time.Now.
func NewPlaceholderGenerator(now func() time.Time) *PlaceholderGenerator {
	if now == nil {
		now = time.Now
	}
	return &PlaceholderGenerator{now: now}
}

// Next returns a fresh placeholder identifier.
func (g *PlaceholderGenerator) Next() EntryID {
	g.mu.Lock()
	defer g.mu.Unlock()

	candidate := g.now().UnixMilli() << placeholderSeqBits
	if candidate <= g.last {
		candidate = g.last + 1
	}
	g.last = candidate
	return EntryID(-candidate)
}

// Observe records an existing placeholder so Next never reissues it, for
// example after a restart with a clock that has moved backwards.
func (g *PlaceholderGenerator) Observe(id EntryID) {
	if !id.IsPlaceholder() {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if magnitude := -int64(id); magnitude > g.last {
		g.last = magnitude
	}
}
