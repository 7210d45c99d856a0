package types

import (
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// BATCH RESULT
// =============================================================================

// Outcome is the result of one item: a record or a typed error, never both.
type Outcome struct {
	Record *CanonicalRecord
	Err    error
}

// OK reports whether the item produced a record.
func (o Outcome) OK() bool { return o.Err == nil && o.Record != nil }

// Failure is one failed item as listed in reports.
type Failure struct {
	Key  string
	Kind ErrorKind
	Err  error
}

// BatchResult maps item keys to outcomes. It is populated by a single
// collector goroutine and is read-only once Seal has been called.
type BatchResult struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time

	entries map[string]Outcome
	sealed  bool
}

// NewBatchResult creates an empty result for the batch with the given ID.
func NewBatchResult(id string) *BatchResult {
	return &BatchResult{
		ID:        id,
		StartedAt: time.Now(),
		entries:   make(map[string]Outcome),
	}
}

// Add records the outcome for key and returns the key it was stored under.
// Existing entries are never overwritten: a repeated key is stored as
// "key~2", "key~3" and so on.
func (b *BatchResult) Add(key string, o Outcome) string {
	if b.sealed {
		panic("types: Add on sealed BatchResult")
	}
	stored := key
	for n := 2; ; n++ {
		if _, exists := b.entries[stored]; !exists {
			break
		}
		stored = fmt.Sprintf("%s~%d", key, n)
	}
	b.entries[stored] = o
	return stored
}

// Seal marks the result complete and stamps the finish time.
func (b *BatchResult) Seal() {
	b.sealed = true
	b.FinishedAt = time.Now()
}

// Get returns the outcome stored under key.
func (b *BatchResult) Get(key string) (Outcome, bool) {
	o, ok := b.entries[key]
	return o, ok
}

// Len returns the number of entries.
func (b *BatchResult) Len() int { return len(b.entries) }

// Keys returns all keys in lexical order.
func (b *BatchResult) Keys() []string {
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Records returns the successful records ordered by key.
func (b *BatchResult) Records() []CanonicalRecord {
	var out []CanonicalRecord
	for _, k := range b.Keys() {
		if o := b.entries[k]; o.OK() {
			out = append(out, *o.Record)
		}
	}
	return out
}

// Failures returns the failed items ordered by key.
func (b *BatchResult) Failures() []Failure {
	var out []Failure
	for _, k := range b.Keys() {
		if o := b.entries[k]; !o.OK() {
			out = append(out, Failure{Key: k, Kind: KindOf(o.Err), Err: o.Err})
		}
	}
	return out
}

// Successes returns the number of items that produced a record.
func (b *BatchResult) Successes() int {
	n := 0
	for _, o := range b.entries {
		if o.OK() {
			n++
		}
	}
	return n
}

// Duration is the wall time of the batch. It is zero until sealed.
func (b *BatchResult) Duration() time.Duration {
	if b.FinishedAt.IsZero() {
		return 0
	}
	return b.FinishedAt.Sub(b.StartedAt)
}
