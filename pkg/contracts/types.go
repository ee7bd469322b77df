// Package contracts holds the record types and error kinds shared by the
// proposal and connection registries and every surface built on them.
package contracts

import (
	"fmt"
	"strings"
	"time"
)

// Identity is an authenticated party address, supplied by the identity
// collaborator. The registries compare identities by exact value.
type Identity string

// String implements fmt.Stringer.
func (i Identity) String() string { return string(i) }

// IsZero reports whether the identity is empty.
func (i Identity) IsZero() bool { return i == "" }

// ProposalStatus is the lifecycle state of a proposal.
type ProposalStatus uint8

const (
	StatusPending ProposalStatus = iota
	StatusAccepted
	StatusRejected
	// StatusExpired is reserved. No transition produces it.
	StatusExpired
)

var statusNames = [...]string{"pending", "accepted", "rejected", "expired"}

func (s ProposalStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Valid reports whether s is one of the defined statuses.
func (s ProposalStatus) Valid() bool { return int(s) < len(statusNames) }

// MarshalText implements encoding.TextMarshaler.
func (s ProposalStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid proposal status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ProposalStatus) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus parses the lowercase status name.
func ParseStatus(name string) (ProposalStatus, error) {
	for i, n := range statusNames {
		if strings.EqualFold(n, name) {
			return ProposalStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown proposal status %q", name)
}

// Proposal is an invitation from Proposer to Recipient. Every field except
// Status is fixed at creation.
type Proposal struct {
	ID             uint64         `json:"id"`
	Proposer       Identity       `json:"proposer"`
	Recipient      Identity       `json:"recipient"`
	Message        string         `json:"message"`
	SenderLabel    string         `json:"sender_label"`
	ReceiverLabel  string         `json:"receiver_label"`
	ContentLocator string         `json:"content_locator"`
	Status         ProposalStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Connection is the permanent record behind a minted token pair. ID is the
// canonical (first) token id; the pair occupies ID and ID+1.
type Connection struct {
	ID               uint64    `json:"id"`
	PartyA           Identity  `json:"party_a"`
	PartyB           Identity  `json:"party_b"`
	PairImageLocator string    `json:"pair_image_locator"`
	MetadataLocator  string    `json:"metadata_locator"`
	CreatedAt        time.Time `json:"created_at"`
}

// TokenIDs returns both token ids of the pair, partyA's first.
func (c Connection) TokenIDs() [2]uint64 { return [2]uint64{c.ID, c.ID + 1} }

// CustodianOf returns the party bound to tokenID, or false if tokenID is
// not one of the pair's ids.
func (c Connection) CustodianOf(tokenID uint64) (Identity, bool) {
	switch tokenID {
	case c.ID:
		return c.PartyA, true
	case c.ID + 1:
		return c.PartyB, true
	default:
		return "", false
	}
}

// PairStart maps any token id to the canonical id of its pair.
func PairStart(tokenID uint64) uint64 { return tokenID &^ 1 }
