package contracts

import (
	"context"
	"time"
)

// EventType names a committed registry change.
type EventType string

const (
	EventProposalCreated  EventType = "PROPOSAL_CREATED"
	EventProposalAccepted EventType = "PROPOSAL_ACCEPTED"
	EventProposalRejected EventType = "PROPOSAL_REJECTED"
	EventConnectionMinted EventType = "CONNECTION_MINTED"
)

// Event describes one committed change. Events are published only after the
// transaction that produced them has committed.
type Event struct {
	Type         EventType `json:"type"`
	ProposalID   *uint64   `json:"proposal_id,omitempty"`
	ConnectionID *uint64   `json:"connection_id,omitempty"`
	Actor        Identity  `json:"actor"`
	PartyA       Identity  `json:"party_a,omitempty"`
	PartyB       Identity  `json:"party_b,omitempty"`
	At           time.Time `json:"at"`
}

// EventSink receives committed events. Publish must not block for long;
// sinks never influence the outcome of the operation that emitted them.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event)

func (f EventSinkFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

// MultiSink fans an event out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(ctx, ev)
		}
	}
}

// U64 returns a pointer to v, for optional event fields.
func U64(v uint64) *uint64 { return &v }
