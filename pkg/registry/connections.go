package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
	"github.com/Mindburn-Labs/soulbound/pkg/store"
)

// MintRequest names the two parties and the pair's locators.
type MintRequest struct {
	PartyA           contracts.Identity
	PartyB           contracts.Identity
	PairImageLocator string
	MetadataLocator  string
}

// Minter is the capability the proposal registry holds: mint a pair inside a
// transaction the caller already owns.
type Minter interface {
	// Store returns the store the minter writes to. The proposal registry
	// only accepts a Minter that shares its own store.
	Store() store.Store
	// MintWithin mints req inside tx on behalf of caller.
	MintWithin(ctx context.Context, tx store.Tx, caller contracts.Identity, req MintRequest) (contracts.Connection, error)
}

// ConnectionRegistry owns the permanent, non-transferable connection pairs.
type ConnectionRegistry struct {
	options
	owner contracts.Identity
	store store.Store

	mu               sync.RWMutex
	proposalRegistry contracts.Identity
}

// NewConnectionRegistry creates a registry administered by owner.
func NewConnectionRegistry(st store.Store, owner contracts.Identity, opts ...Option) *ConnectionRegistry {
	o := defaultOptions(DefaultConnectionRegistryAddress, "connection-registry")
	for _, opt := range opts {
		opt(&o)
	}
	return &ConnectionRegistry{options: o, owner: owner, store: st}
}

// Address returns the registry's own identity.
func (r *ConnectionRegistry) Address() contracts.Identity { return r.address }

// Owner returns the administering identity.
func (r *ConnectionRegistry) Owner() contracts.Identity { return r.owner }

// Store implements Minter.
func (r *ConnectionRegistry) Store() store.Store { return r.store }

// SetProposalRegistry records the one identity, besides the owner, that may
// mint. Only the owner may call it, and only once.
func (r *ConnectionRegistry) SetProposalRegistry(caller, addr contracts.Identity) error {
	if caller != r.owner {
		return fmt.Errorf("set proposal registry: %w", contracts.ErrUnauthorized)
	}
	if addr.IsZero() {
		return fmt.Errorf("set proposal registry: empty address: %w", contracts.ErrInvalidTarget)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.proposalRegistry.IsZero() {
		return fmt.Errorf("set proposal registry: already wired to %s: %w", r.proposalRegistry, contracts.ErrInvalidState)
	}
	r.proposalRegistry = addr
	r.logger.Info("proposal registry wired", "address", addr)
	return nil
}

// ProposalRegistry returns the wired proposal registry address, if any.
func (r *ConnectionRegistry) ProposalRegistry() contracts.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.proposalRegistry
}

func (r *ConnectionRegistry) mayMint(caller contracts.Identity) bool {
	if caller.IsZero() {
		return false
	}
	if caller == r.owner {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return caller == r.proposalRegistry
}

// MintConnection mints a pair in its own transaction. This is the direct
// path: callable by the wired proposal registry or the owner.
func (r *ConnectionRegistry) MintConnection(ctx context.Context, caller contracts.Identity, req MintRequest) (id uint64, err error) {
	ctx, end := r.span(ctx, "ConnectionRegistry.MintConnection", callerAttr(caller))
	defer func() { end(err) }()

	var conn contracts.Connection
	err = r.store.Update(ctx, func(tx store.Tx) error {
		var mintErr error
		conn, mintErr = r.MintWithin(ctx, tx, caller, req)
		return mintErr
	})
	if err != nil {
		return 0, err
	}

	r.logger.InfoContext(ctx, "connection minted", "id", conn.ID, "party_a", conn.PartyA, "party_b", conn.PartyB)
	r.publish(ctx, mintedEvent(conn, caller))
	return conn.ID, nil
}

// MintWithin implements Minter. It allocates two consecutive token ids for
// one connection record: the first custodied by PartyA, the second by PartyB.
func (r *ConnectionRegistry) MintWithin(ctx context.Context, tx store.Tx, caller contracts.Identity, req MintRequest) (contracts.Connection, error) {
	if !r.mayMint(caller) {
		return contracts.Connection{}, fmt.Errorf("mint connection: caller %s: %w", caller, contracts.ErrUnauthorized)
	}
	if req.PartyA.IsZero() || req.PartyB.IsZero() || req.PartyA == req.PartyB {
		return contracts.Connection{}, fmt.Errorf("mint connection: parties must be distinct: %w", contracts.ErrInvalidTarget)
	}

	conn := contracts.Connection{
		PartyA:           req.PartyA,
		PartyB:           req.PartyB,
		PairImageLocator: req.PairImageLocator,
		MetadataLocator:  req.MetadataLocator,
		CreatedAt:        r.clock().UTC(),
	}
	id, err := tx.Connections().AppendPair(ctx, conn)
	if err != nil {
		return contracts.Connection{}, fmt.Errorf("mint connection: %w", err)
	}
	conn.ID = id
	return conn, nil
}

// GetConnection resolves either token id of a pair to the shared record.
func (r *ConnectionRegistry) GetConnection(ctx context.Context, tokenID uint64) (contracts.Connection, error) {
	var conn contracts.Connection
	err := r.store.View(ctx, func(tx store.Tx) error {
		var err error
		conn, err = tx.Connections().Get(ctx, tokenID)
		return err
	})
	if err != nil {
		return contracts.Connection{}, fmt.Errorf("get connection %d: %w", tokenID, err)
	}
	return conn, nil
}

// CustodianOf returns the party bound to this specific token id.
func (r *ConnectionRegistry) CustodianOf(ctx context.Context, tokenID uint64) (contracts.Identity, error) {
	conn, err := r.GetConnection(ctx, tokenID)
	if err != nil {
		return "", err
	}
	who, ok := conn.CustodianOf(tokenID)
	if !ok {
		return "", fmt.Errorf("custodian of %d: %w", tokenID, contracts.ErrNotFound)
	}
	return who, nil
}

// UserConnections returns the token ids custodied by who, oldest first.
func (r *ConnectionRegistry) UserConnections(ctx context.Context, who contracts.Identity) ([]uint64, error) {
	var ids []uint64
	err := r.store.View(ctx, func(tx store.Tx) error {
		var err error
		ids, err = tx.Connections().ByCustodian(ctx, who)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("user connections: %w", err)
	}
	return ids, nil
}

// TotalConnections returns the number of logical pairs minted.
func (r *ConnectionRegistry) TotalConnections(ctx context.Context) (uint64, error) {
	var n uint64
	err := r.store.View(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.Connections().Pairs(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("total connections: %w", err)
	}
	return n, nil
}

// Transfer always fails: custody of a minted token is permanent. It is
// refused before any lookup, whoever the caller and whatever the target.
func (r *ConnectionRegistry) Transfer(ctx context.Context, caller, from, to contracts.Identity, tokenID uint64) error {
	r.logger.WarnContext(ctx, "transfer refused", "token_id", tokenID, "caller", caller, "from", from, "to", to)
	return fmt.Errorf("transfer token %d: %w", tokenID, contracts.ErrNonTransferable)
}

func mintedEvent(conn contracts.Connection, actor contracts.Identity) contracts.Event {
	return contracts.Event{
		Type:         contracts.EventConnectionMinted,
		ConnectionID: contracts.U64(conn.ID),
		Actor:        actor,
		PartyA:       conn.PartyA,
		PartyB:       conn.PartyB,
		At:           conn.CreatedAt,
	}
}
