package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
)

// MemoryStore keeps both record stores in process memory. Writes are staged
// on the transaction and applied under a short exclusive lock on commit, so
// readers never observe a partially applied Update.
type MemoryStore struct {
	writeMu sync.Mutex

	mu          sync.RWMutex
	proposals   []contracts.Proposal
	byRecipient map[contracts.Identity][]uint64
	pairs       []contracts.Connection
	byCustodian map[contracts.Identity][]uint64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byRecipient: make(map[contracts.Identity][]uint64),
		byCustodian: make(map[contracts.Identity][]uint64),
	}
}

func (s *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{s: s, readOnly: true})
}

func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	// Only the holder of writeMu mutates the base state, so the staged tx may
	// read it without taking mu.
	tx := &memTx{s: s, statusChanges: make(map[uint64]contracts.ProposalStatus)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	tx.apply()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

type memTx struct {
	s        *MemoryStore
	readOnly bool

	newProposals  []contracts.Proposal
	statusChanges map[uint64]contracts.ProposalStatus
	newPairs      []contracts.Connection
}

func (tx *memTx) Proposals() ProposalTable     { return memProposals{tx} }
func (tx *memTx) Connections() ConnectionTable { return memConnections{tx} }

func (tx *memTx) apply() {
	s := tx.s
	for id, st := range tx.statusChanges {
		s.proposals[id].Status = st
	}
	for _, p := range tx.newProposals {
		s.proposals = append(s.proposals, p)
		s.byRecipient[p.Recipient] = append(s.byRecipient[p.Recipient], p.ID)
	}
	for _, c := range tx.newPairs {
		s.pairs = append(s.pairs, c)
		s.byCustodian[c.PartyA] = append(s.byCustodian[c.PartyA], c.ID)
		s.byCustodian[c.PartyB] = append(s.byCustodian[c.PartyB], c.ID+1)
	}
}

type memProposals struct{ tx *memTx }

func (t memProposals) Count(ctx context.Context) (uint64, error) {
	return uint64(len(t.tx.s.proposals) + len(t.tx.newProposals)), nil
}

func (t memProposals) Get(ctx context.Context, id uint64) (contracts.Proposal, error) {
	base := uint64(len(t.tx.s.proposals))
	switch {
	case id < base:
		p := t.tx.s.proposals[id]
		if st, ok := t.tx.statusChanges[id]; ok {
			p.Status = st
		}
		return p, nil
	case id-base < uint64(len(t.tx.newProposals)):
		return t.tx.newProposals[id-base], nil
	default:
		return contracts.Proposal{}, contracts.ErrNotFound
	}
}

func (t memProposals) Append(ctx context.Context, p contracts.Proposal) (uint64, error) {
	if t.tx.readOnly {
		return 0, ErrReadOnly
	}
	id, _ := t.Count(ctx)
	p.ID = id
	t.tx.newProposals = append(t.tx.newProposals, p)
	return id, nil
}

func (t memProposals) SetStatus(ctx context.Context, id uint64, status contracts.ProposalStatus) error {
	if t.tx.readOnly {
		return ErrReadOnly
	}
	base := uint64(len(t.tx.s.proposals))
	switch {
	case id < base:
		t.tx.statusChanges[id] = status
	case id-base < uint64(len(t.tx.newProposals)):
		t.tx.newProposals[id-base].Status = status
	default:
		return fmt.Errorf("set status of proposal %d: %w", id, contracts.ErrNotFound)
	}
	return nil
}

func (t memProposals) ByRecipient(ctx context.Context, recipient contracts.Identity) ([]uint64, error) {
	committed := t.tx.s.byRecipient[recipient]
	ids := make([]uint64, 0, len(committed))
	ids = append(ids, committed...)
	for _, p := range t.tx.newProposals {
		if p.Recipient == recipient {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

type memConnections struct{ tx *memTx }

func (t memConnections) Pairs(ctx context.Context) (uint64, error) {
	return uint64(len(t.tx.s.pairs) + len(t.tx.newPairs)), nil
}

func (t memConnections) AppendPair(ctx context.Context, c contracts.Connection) (uint64, error) {
	if t.tx.readOnly {
		return 0, ErrReadOnly
	}
	n, _ := t.Pairs(ctx)
	c.ID = n * 2
	t.tx.newPairs = append(t.tx.newPairs, c)
	return c.ID, nil
}

func (t memConnections) Get(ctx context.Context, tokenID uint64) (contracts.Connection, error) {
	idx := tokenID / 2
	base := uint64(len(t.tx.s.pairs))
	switch {
	case idx < base:
		return t.tx.s.pairs[idx], nil
	case idx-base < uint64(len(t.tx.newPairs)):
		return t.tx.newPairs[idx-base], nil
	default:
		return contracts.Connection{}, contracts.ErrNotFound
	}
}

func (t memConnections) ByCustodian(ctx context.Context, who contracts.Identity) ([]uint64, error) {
	committed := t.tx.s.byCustodian[who]
	ids := make([]uint64, 0, len(committed))
	ids = append(ids, committed...)
	for _, c := range t.tx.newPairs {
		if c.PartyA == who {
			ids = append(ids, c.ID)
		}
		if c.PartyB == who {
			ids = append(ids, c.ID+1)
		}
	}
	return ids, nil
}
