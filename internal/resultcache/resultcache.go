package resultcache

import (
	"sync"
	"time"

	"github.com/flanksource/commons/logger"
	"github.com/google/uuid"

	"github.com/genealabs/phpmd-lsp/models"
)

// Outcome classifies the result of a cache lookup
type Outcome = string

const (
	// OutcomeUnchanged means the caller already holds the current result set.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeHit means the cached diagnostics are valid for the current content.
	OutcomeHit Outcome = "hit"
	// OutcomeMiss means no valid entry exists and a fresh analysis is required.
	OutcomeMiss Outcome = "miss"
)

// CachedResult is the most recent diagnostic set computed for a document,
// tagged with the content checksum it was computed against. It is valid
// only while that checksum matches the document's current content.
type CachedResult struct {
	Diagnostics []models.Diagnostic
	ResultID    string
	Checksum    string
	CreatedAt   time.Time
}

// Lookup is the answer to a cache query.
type Lookup struct {
	Outcome     Outcome
	Diagnostics []models.Diagnostic
	ResultID    string
}

// Cache maps document ids to their most recent diagnostics. Staleness is
// never served: a checksum mismatch evicts the entry and reports a miss.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*CachedResult
}

// NewCache creates an empty result cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*CachedResult, 100),
	}
}

// Lookup checks whether a valid result exists for id at currentChecksum.
// When previousResultID is non-empty and matches the cached result id,
// the outcome is Unchanged and the caller can skip re-fetching the
// diagnostics entirely.
func (c *Cache) Lookup(id, currentChecksum, previousResultID string) Lookup {
	c.mu.RLock()
	entry, ok := c.entries[id]
	c.mu.RUnlock()

	if !ok {
		return Lookup{Outcome: OutcomeMiss}
	}

	if entry.Checksum != currentChecksum {
		// Stale entry: evict as part of the lookup. Re-check under the
		// write lock since a concurrent Store may have replaced it.
		c.mu.Lock()
		if cur, ok := c.entries[id]; ok && cur.Checksum != currentChecksum {
			delete(c.entries, id)
		}
		c.mu.Unlock()
		return Lookup{Outcome: OutcomeMiss}
	}

	if previousResultID != "" && previousResultID == entry.ResultID {
		return Lookup{Outcome: OutcomeUnchanged, ResultID: entry.ResultID}
	}

	return Lookup{
		Outcome:     OutcomeHit,
		Diagnostics: entry.Diagnostics,
		ResultID:    entry.ResultID,
	}
}

// Store records diagnostics for id as computed against checksum and
// returns the fresh result identifier.
func (c *Cache) Store(id string, diagnostics []models.Diagnostic, checksum string) string {
	resultID := uuid.NewString()

	c.mu.Lock()
	c.entries[id] = &CachedResult{
		Diagnostics: diagnostics,
		ResultID:    resultID,
		Checksum:    checksum,
		CreatedAt:   time.Now(),
	}
	c.mu.Unlock()

	logger.Debugf("cached %d diagnostics for %s (result %s)", len(diagnostics), id, resultID)
	return resultID
}

// Invalidate drops the entry for id.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// InvalidateAll drops every entry, e.g. after a settings or workspace change.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]*CachedResult, 100)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
