// Package ids generates the opaque identifiers stored in the catalog.
package ids

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Generator produces stable, never-reused identifiers for catalog records.
// The prefix names the record kind (e.g. "action_package", "action") so
// identifiers stay recognizable in logs and ad-hoc queries.
type Generator interface {
	NewID(prefix string) string
}

// UUIDv7Generator generates time-sortable UUIDv7 identifiers.
//
// UUIDv7 embeds a timestamp in the most significant bits, making identifiers
// sortable by creation time, which is helpful when inspecting the catalog.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID returns "<prefix>-<uuidv7>".
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) NewID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.Must(uuid.NewV7()).String())
}

// FixedGenerator returns predetermined identifiers for testing.
//
// This enables deterministic reconciliation tests: a known sequence of
// identifiers can be asserted against exactly.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns identifiers in order.
//
// Example:
//
//	gen := ids.NewFixedGenerator("action-1", "action-2")
//	gen.NewID("action") // "action-1"
//	gen.NewID("action") // "action-2"
//	gen.NewID("action") // panic: all identifiers exhausted
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// NewID returns the next predetermined identifier, ignoring the prefix.
func (g *FixedGenerator) NewID(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic(fmt.Sprintf("FixedGenerator: all %d identifiers exhausted", len(g.ids)))
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
