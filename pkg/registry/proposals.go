package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
	"github.com/Mindburn-Labs/soulbound/pkg/store"
)

// ProposalInput carries the caller-supplied fields of a new proposal.
type ProposalInput struct {
	Recipient      contracts.Identity
	Message        string
	SenderLabel    string
	ReceiverLabel  string
	ContentLocator string
}

// ProposalRegistry owns the proposal lifecycle: Pending -> Accepted or
// Pending -> Rejected, each at most once.
type ProposalRegistry struct {
	options
	owner contracts.Identity
	store store.Store

	mu     sync.RWMutex
	minter Minter
}

// NewProposalRegistry creates a registry administered by owner.
func NewProposalRegistry(st store.Store, owner contracts.Identity, opts ...Option) *ProposalRegistry {
	o := defaultOptions(DefaultProposalRegistryAddress, "proposal-registry")
	for _, opt := range opts {
		opt(&o)
	}
	return &ProposalRegistry{options: o, owner: owner, store: st}
}

// Address returns the identity this registry presents to the minter.
func (r *ProposalRegistry) Address() contracts.Identity { return r.address }

// Owner returns the administering identity.
func (r *ProposalRegistry) Owner() contracts.Identity { return r.owner }

// SetConnectionRegistry wires the minting capability. Only the owner may
// call it, and only once; the minter must write to the same store.
func (r *ProposalRegistry) SetConnectionRegistry(caller contracts.Identity, m Minter) error {
	if caller != r.owner {
		return fmt.Errorf("set connection registry: %w", contracts.ErrUnauthorized)
	}
	if m == nil {
		return fmt.Errorf("set connection registry: nil minter: %w", contracts.ErrInvalidTarget)
	}
	if m.Store() != r.store {
		return fmt.Errorf("set connection registry: minter uses a different store: %w", contracts.ErrInvalidTarget)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.minter != nil {
		return fmt.Errorf("set connection registry: already wired: %w", contracts.ErrInvalidState)
	}
	r.minter = m
	r.logger.Info("connection registry wired")
	return nil
}

// Wired reports whether acceptance can mint.
func (r *ProposalRegistry) Wired() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.minter != nil
}

func (r *ProposalRegistry) currentMinter() Minter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.minter
}

// CreateProposal stores a Pending proposal from caller and returns its id.
func (r *ProposalRegistry) CreateProposal(ctx context.Context, caller contracts.Identity, in ProposalInput) (id uint64, err error) {
	ctx, end := r.span(ctx, "ProposalRegistry.CreateProposal", callerAttr(caller))
	defer func() { end(err) }()

	if caller.IsZero() || in.Recipient.IsZero() {
		return 0, fmt.Errorf("create proposal: empty identity: %w", contracts.ErrInvalidTarget)
	}
	if in.Recipient == caller {
		return 0, fmt.Errorf("create proposal: cannot propose to yourself: %w", contracts.ErrInvalidTarget)
	}

	p := contracts.Proposal{
		Proposer:       caller,
		Recipient:      in.Recipient,
		Message:        in.Message,
		SenderLabel:    in.SenderLabel,
		ReceiverLabel:  in.ReceiverLabel,
		ContentLocator: in.ContentLocator,
		Status:         contracts.StatusPending,
		CreatedAt:      r.clock().UTC(),
	}
	err = r.store.Update(ctx, func(tx store.Tx) error {
		var appendErr error
		id, appendErr = tx.Proposals().Append(ctx, p)
		return appendErr
	})
	if err != nil {
		return 0, fmt.Errorf("create proposal: %w", err)
	}

	r.logger.InfoContext(ctx, "proposal created", "id", id, "proposer", caller, "recipient", in.Recipient)
	r.publish(ctx, contracts.Event{
		Type:       contracts.EventProposalCreated,
		ProposalID: contracts.U64(id),
		Actor:      caller,
		PartyA:     caller,
		PartyB:     in.Recipient,
		At:         p.CreatedAt,
	})
	return id, nil
}

// pendingFor loads proposal id and checks that caller may decide it.
func pendingFor(ctx context.Context, tx store.Tx, caller contracts.Identity, id uint64) (contracts.Proposal, error) {
	p, err := tx.Proposals().Get(ctx, id)
	if err != nil {
		return contracts.Proposal{}, fmt.Errorf("proposal %d: %w", id, err)
	}
	if caller != p.Recipient {
		return contracts.Proposal{}, fmt.Errorf("proposal %d: not the recipient: %w", id, contracts.ErrUnauthorized)
	}
	if p.Status != contracts.StatusPending {
		return contracts.Proposal{}, fmt.Errorf("proposal %d is %s: %w", id, p.Status, contracts.ErrInvalidState)
	}
	return p, nil
}

// AcceptProposal marks a Pending proposal Accepted and mints the pair for
// proposer and recipient. Both happen in one transaction: if minting fails
// the proposal stays Pending and no connection exists.
func (r *ProposalRegistry) AcceptProposal(ctx context.Context, caller contracts.Identity, id uint64, pairImageLocator, metadataLocator string) (connID uint64, err error) {
	ctx, end := r.span(ctx, "ProposalRegistry.AcceptProposal", callerAttr(caller), idAttr("soulbound.proposal_id", id))
	defer func() { end(err) }()

	var (
		p    contracts.Proposal
		conn contracts.Connection
	)
	err = r.store.Update(ctx, func(tx store.Tx) error {
		var txErr error
		if p, txErr = pendingFor(ctx, tx, caller, id); txErr != nil {
			return txErr
		}
		m := r.currentMinter()
		if m == nil {
			return fmt.Errorf("proposal %d: %w", id, contracts.ErrUnwired)
		}
		conn, txErr = m.MintWithin(ctx, tx, r.address, MintRequest{
			PartyA:           p.Proposer,
			PartyB:           p.Recipient,
			PairImageLocator: pairImageLocator,
			MetadataLocator:  metadataLocator,
		})
		if txErr != nil {
			return txErr
		}
		return tx.Proposals().SetStatus(ctx, id, contracts.StatusAccepted)
	})
	if err != nil {
		return 0, fmt.Errorf("accept proposal: %w", err)
	}

	r.logger.InfoContext(ctx, "proposal accepted", "id", id, "connection_id", conn.ID)
	r.publish(ctx,
		contracts.Event{
			Type:         contracts.EventProposalAccepted,
			ProposalID:   contracts.U64(id),
			ConnectionID: contracts.U64(conn.ID),
			Actor:        caller,
			PartyA:       p.Proposer,
			PartyB:       p.Recipient,
			At:           conn.CreatedAt,
		},
		mintedEvent(conn, r.address),
	)
	return conn.ID, nil
}

// RejectProposal marks a Pending proposal Rejected. Only the recipient may
// reject.
func (r *ProposalRegistry) RejectProposal(ctx context.Context, caller contracts.Identity, id uint64) (err error) {
	ctx, end := r.span(ctx, "ProposalRegistry.RejectProposal", callerAttr(caller), idAttr("soulbound.proposal_id", id))
	defer func() { end(err) }()

	var p contracts.Proposal
	err = r.store.Update(ctx, func(tx store.Tx) error {
		var txErr error
		if p, txErr = pendingFor(ctx, tx, caller, id); txErr != nil {
			return txErr
		}
		return tx.Proposals().SetStatus(ctx, id, contracts.StatusRejected)
	})
	if err != nil {
		return fmt.Errorf("reject proposal: %w", err)
	}

	r.logger.InfoContext(ctx, "proposal rejected", "id", id)
	r.publish(ctx, contracts.Event{
		Type:       contracts.EventProposalRejected,
		ProposalID: contracts.U64(id),
		Actor:      caller,
		PartyA:     p.Proposer,
		PartyB:     p.Recipient,
		At:         r.clock().UTC(),
	})
	return nil
}

// GetProposal returns the proposal with id.
func (r *ProposalRegistry) GetProposal(ctx context.Context, id uint64) (contracts.Proposal, error) {
	var p contracts.Proposal
	err := r.store.View(ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.Proposals().Get(ctx, id)
		return err
	})
	if err != nil {
		return contracts.Proposal{}, fmt.Errorf("get proposal %d: %w", id, err)
	}
	return p, nil
}

// RecipientProposals returns every proposal id addressed to recipient in
// creation order, whatever its status.
func (r *ProposalRegistry) RecipientProposals(ctx context.Context, recipient contracts.Identity) ([]uint64, error) {
	var ids []uint64
	err := r.store.View(ctx, func(tx store.Tx) error {
		var err error
		ids, err = tx.Proposals().ByRecipient(ctx, recipient)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("recipient proposals: %w", err)
	}
	return ids, nil
}

// TotalProposals returns the number of proposals ever created.
func (r *ProposalRegistry) TotalProposals(ctx context.Context) (uint64, error) {
	var n uint64
	err := r.store.View(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.Proposals().Count(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("total proposals: %w", err)
	}
	return n, nil
}
