// Package store persists the proposal and connection record stores.
//
// Both registries share one Store so that a single transaction can span
// them: acceptance writes a proposal status change and a connection pair
// in the same Update, and either both land or neither does. Each registry
// only ever touches its own table through the Tx it is handed.
//
// Persisted layout:
//   - proposals, keyed by dense id from 0
//   - connections, keyed by the canonical (even) token id of each pair
//   - proposal_recipients: recipient -> proposal ids
//   - connection_custodians: custodian -> token ids
package store

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
)

// ErrReadOnly is returned when a write is attempted inside View.
var ErrReadOnly = errors.New("store: write in read-only transaction")

// Store runs registry operations as transactions.
type Store interface {
	// View runs fn against a consistent snapshot. Views may run concurrently.
	View(ctx context.Context, fn func(tx Tx) error) error
	// Update runs fn as one indivisible unit, serialized with every other
	// Update. If fn returns an error none of its writes become visible.
	Update(ctx context.Context, fn func(tx Tx) error) error
	// Close releases backend resources.
	Close() error
}

// Tx exposes the two record stores inside a transaction.
type Tx interface {
	Proposals() ProposalTable
	Connections() ConnectionTable
}

// ProposalTable is the proposal record store plus its recipient index.
type ProposalTable interface {
	// Count returns the number of proposals ever created.
	Count(ctx context.Context) (uint64, error)
	// Get returns the proposal with id, or contracts.ErrNotFound.
	Get(ctx context.Context, id uint64) (contracts.Proposal, error)
	// Append stores p under the next sequential id, indexes it by recipient
	// and returns the id. p.ID is ignored.
	Append(ctx context.Context, p contracts.Proposal) (uint64, error)
	// SetStatus overwrites the status of an existing proposal.
	SetStatus(ctx context.Context, id uint64, status contracts.ProposalStatus) error
	// ByRecipient returns proposal ids addressed to recipient, oldest first.
	ByRecipient(ctx context.Context, recipient contracts.Identity) ([]uint64, error)
}

// ConnectionTable is the connection record store plus its custodian index.
type ConnectionTable interface {
	// Pairs returns the number of minted pairs.
	Pairs(ctx context.Context) (uint64, error)
	// AppendPair reserves the next two token ids for c, indexes both
	// custodians and returns the first id. c.ID is ignored.
	AppendPair(ctx context.Context, c contracts.Connection) (uint64, error)
	// Get resolves either token id of a pair to the shared record, or
	// returns contracts.ErrNotFound.
	Get(ctx context.Context, tokenID uint64) (contracts.Connection, error)
	// ByCustodian returns token ids held by who, oldest first.
	ByCustodian(ctx context.Context, who contracts.Identity) ([]uint64, error)
}
