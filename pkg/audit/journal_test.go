package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
)

func event(typ contracts.EventType, id uint64) contracts.Event {
	return contracts.Event{
		Type:       typ,
		ProposalID: contracts.U64(id),
		Actor:      "0xa",
		PartyA:     "0xa",
		PartyB:     "0xb",
		At:         time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC),
	}
}

func TestJournalAppend(t *testing.T) {
	j := NewJournal()
	e, err := j.Append(event(contracts.EventProposalCreated, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.Sequence)
	assert.Equal(t, Genesis, e.PrevHash)
	assert.Equal(t, e.ContentHash, j.Head())
	assert.Equal(t, 1, j.Length())
}

func TestJournalChainIntegrity(t *testing.T) {
	j := NewJournal()
	j.Publish(context.Background(), event(contracts.EventProposalCreated, 0))
	j.Publish(context.Background(), event(contracts.EventProposalAccepted, 0))
	j.Publish(context.Background(), event(contracts.EventConnectionMinted, 0))

	require.NoError(t, j.Verify())

	entries := j.Entries(0, 0)
	require.Len(t, entries, 3)
	assert.Equal(t, entries[0].ContentHash, entries[1].PrevHash)
	assert.Equal(t, entries[1].ContentHash, entries[2].PrevHash)
}

func TestJournalDetectsTampering(t *testing.T) {
	j := NewJournal()
	for i := uint64(0); i < 3; i++ {
		_, err := j.Append(event(contracts.EventProposalCreated, i))
		require.NoError(t, err)
	}

	entries := j.Entries(0, 0)
	entries[1].Event.Actor = "0xevil"
	assert.ErrorIs(t, VerifyEntries(entries), ErrChainBroken)

	entries = j.Entries(0, 0)
	entries[0], entries[1] = entries[1], entries[0]
	assert.ErrorIs(t, VerifyEntries(entries), ErrChainBroken)

	// Exported copies must not alias the journal.
	require.NoError(t, j.Verify())
}

func TestJournalEntriesPaging(t *testing.T) {
	j := NewJournal()
	for i := uint64(0); i < 5; i++ {
		_, err := j.Append(event(contracts.EventProposalCreated, i))
		require.NoError(t, err)
	}

	page := j.Entries(1, 2)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(2), page[0].Sequence)
	assert.Equal(t, uint64(3), page[1].Sequence)

	assert.Empty(t, j.Entries(5, 10))
	assert.Len(t, j.Entries(3, 0), 2)
}

func TestHashEntryDeterministic(t *testing.T) {
	// The same event hashed twice yields the same digest.
	a, err := hashEntry(1, event(contracts.EventProposalRejected, 4), Genesis)
	require.NoError(t, err)
	b, err := hashEntry(1, event(contracts.EventProposalRejected, 4), Genesis)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := hashEntry(2, event(contracts.EventProposalRejected, 4), Genesis)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
