// Package audit keeps an append-only, hash-chained journal of committed
// registry events.
//
// Each entry's hash covers its sequence number, the canonical (RFC 8785) JSON
// of the event and the previous entry's hash, so any edit or reordering of
// past entries is detected by Verify.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
)

// Genesis is the PrevHash of the first entry.
const Genesis = "genesis"

// ErrChainBroken is returned by Verify when an entry does not match its
// recorded hash or predecessor.
var ErrChainBroken = errors.New("audit chain broken")

// Entry is one immutable journal record.
type Entry struct {
	Sequence    uint64          `json:"sequence"`
	Event       contracts.Event `json:"event"`
	PrevHash    string          `json:"prev_hash"`
	ContentHash string          `json:"content_hash"`
	RecordedAt  time.Time       `json:"recorded_at"`
}

// Journal is an in-memory hash chain of events. It implements
// contracts.EventSink so registries can publish into it directly.
type Journal struct {
	mu       sync.RWMutex
	entries  []Entry
	headHash string
	clock    func() time.Time
	logger   *slog.Logger
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{
		headHash: Genesis,
		clock:    time.Now,
		logger:   slog.Default().With("component", "audit"),
	}
}

// WithClock overrides clock for testing.
func (j *Journal) WithClock(clock func() time.Time) *Journal {
	j.clock = clock
	return j
}

func hashEntry(seq uint64, ev contracts.Event, prev string) (string, error) {
	raw, err := json.Marshal(struct {
		Seq   uint64          `json:"seq"`
		Event contracts.Event `json:"event"`
		Prev  string          `json:"prev"`
	}{seq, ev, prev})
	if err != nil {
		return "", fmt.Errorf("marshal entry %d: %w", seq, err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize entry %d: %w", seq, err)
	}
	h := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}

// Append records ev and returns the new entry.
func (j *Journal) Append(ev contracts.Event) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	seq := uint64(len(j.entries)) + 1
	hash, err := hashEntry(seq, ev, j.headHash)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{
		Sequence:    seq,
		Event:       ev,
		PrevHash:    j.headHash,
		ContentHash: hash,
		RecordedAt:  j.clock().UTC(),
	}
	j.entries = append(j.entries, e)
	j.headHash = hash
	return e, nil
}

// Publish implements contracts.EventSink. Journal failures are logged and
// never propagate to the operation that emitted the event.
func (j *Journal) Publish(ctx context.Context, ev contracts.Event) {
	if _, err := j.Append(ev); err != nil {
		j.logger.ErrorContext(ctx, "audit append failed", "type", ev.Type, "error", err)
	}
}

// Entries returns up to limit entries starting after sequence `after`.
// A limit of zero returns everything that follows.
func (j *Journal) Entries(after uint64, limit int) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if after >= uint64(len(j.entries)) {
		return []Entry{}
	}
	rest := j.entries[after:]
	if limit > 0 && limit < len(rest) {
		rest = rest[:limit]
	}
	out := make([]Entry, len(rest))
	copy(out, rest)
	return out
}

// Head returns the hash of the latest entry, or Genesis.
func (j *Journal) Head() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.headHash
}

// Length returns the number of entries.
func (j *Journal) Length() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// Verify recomputes the whole chain.
func (j *Journal) Verify() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return VerifyEntries(j.entries)
}

// VerifyEntries checks an exported chain independently of any Journal.
func VerifyEntries(entries []Entry) error {
	prev := Genesis
	for i, e := range entries {
		if e.Sequence != uint64(i)+1 {
			return fmt.Errorf("%w: entry %d has sequence %d", ErrChainBroken, i+1, e.Sequence)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("%w: entry %d expected prev %s, got %s", ErrChainBroken, e.Sequence, prev, e.PrevHash)
		}
		computed, err := hashEntry(e.Sequence, e.Event, e.PrevHash)
		if err != nil {
			return err
		}
		if computed != e.ContentHash {
			return fmt.Errorf("%w: hash mismatch at entry %d", ErrChainBroken, e.Sequence)
		}
		prev = e.ContentHash
	}
	return nil
}
