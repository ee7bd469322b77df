package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Mindburn-Labs/soulbound/pkg/api"
	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
	"github.com/Mindburn-Labs/soulbound/pkg/metadata"
	"github.com/Mindburn-Labs/soulbound/pkg/registry"
)

// MintConnectionRequest is the body of the privileged direct mint.
type MintConnectionRequest struct {
	PartyA           string `json:"party_a"`
	PartyB           string `json:"party_b"`
	PairImageLocator string `json:"pair_image_locator"`
	MetadataLocator  string `json:"metadata_locator"`
}

// TransferRequest is accepted for wire compatibility; transfers always fail.
type TransferRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ConnectionView is one token of a pair together with its custodian.
type ConnectionView struct {
	contracts.Connection
	TokenID   uint64             `json:"token_id"`
	Custodian contracts.Identity `json:"custodian"`
	// Metadata is the resolved pair document. Only the gallery fills it.
	Metadata *metadata.Document `json:"metadata,omitempty"`
}

func viewOf(conn contracts.Connection, tokenID uint64) ConnectionView {
	custodian, _ := conn.CustodianOf(tokenID)
	return ConnectionView{Connection: conn, TokenID: tokenID, Custodian: custodian}
}

func (s *Server) handleMintConnection(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req MintConnectionRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	a, ok := parseParty(w, r, "party_a", req.PartyA)
	if !ok {
		return
	}
	b, ok := parseParty(w, r, "party_b", req.PartyB)
	if !ok {
		return
	}

	id, err := s.conns.MintConnection(r.Context(), who, registry.MintRequest{
		PartyA:           a,
		PartyB:           b,
		PairImageLocator: req.PairImageLocator,
		MetadataLocator:  req.MetadataLocator,
	})
	if err != nil {
		api.WriteRegistryError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, map[string]any{
		"connection_id": id,
		"token_ids":     [2]uint64{id, id + 1},
	})
}

func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	conn, err := s.conns.GetConnection(r.Context(), id)
	if err != nil {
		api.WriteRegistryError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, viewOf(conn, id))
}

// handleTransfer never moves a token. A malformed body or id does not
// change the outcome.
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req TransferRequest
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req)
	id, _ := strconv.ParseUint(r.PathValue("id"), 10, 64)

	err := s.conns.Transfer(r.Context(), who, contracts.Identity(req.From), contracts.Identity(req.To), id)
	if err != nil {
		api.WriteRegistryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
