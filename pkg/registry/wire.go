package registry

import (
	"fmt"

	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
	"github.com/Mindburn-Labs/soulbound/pkg/store"
)

// Registries bundles a linked pair of registries.
type Registries struct {
	Proposals   *ProposalRegistry
	Connections *ConnectionRegistry
}

// Deploy creates both registries over st and links them in both directions
// acting as owner. A WithAddress option names the proposal registry; the
// connection registry always keeps DefaultConnectionRegistryAddress.
func Deploy(st store.Store, owner contracts.Identity, opts ...Option) (*Registries, error) {
	connOpts := append(append([]Option{}, opts...), WithAddress(DefaultConnectionRegistryAddress))
	conns := NewConnectionRegistry(st, owner, connOpts...)
	props := NewProposalRegistry(st, owner, opts...)

	if err := props.SetConnectionRegistry(owner, conns); err != nil {
		return nil, fmt.Errorf("deploy: %w", err)
	}
	if err := conns.SetProposalRegistry(owner, props.Address()); err != nil {
		return nil, fmt.Errorf("deploy: %w", err)
	}
	return &Registries{Proposals: props, Connections: conns}, nil
}
