package server

import (
	"fmt"
	"net/http"

	"github.com/Mindburn-Labs/soulbound/pkg/api"
	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
	"github.com/Mindburn-Labs/soulbound/pkg/metadata"
	"github.com/Mindburn-Labs/soulbound/pkg/registry"
)

// CreateProposalRequest is the body of POST /api/v1/proposals.
type CreateProposalRequest struct {
	Recipient      string `json:"recipient"`
	Message        string `json:"message"`
	SenderLabel    string `json:"sender_label"`
	ReceiverLabel  string `json:"receiver_label"`
	ContentLocator string `json:"content_locator,omitempty"`
}

// CreateProposalResponse is returned with 201.
type CreateProposalResponse struct {
	ID             uint64 `json:"id"`
	ContentLocator string `json:"content_locator"`
}

// AcceptProposalRequest is the optional body of the accept route.
type AcceptProposalRequest struct {
	PairImageLocator string `json:"pair_image_locator,omitempty"`
	MetadataLocator  string `json:"metadata_locator,omitempty"`
}

// AcceptProposalResponse reports the minted pair.
type AcceptProposalResponse struct {
	ConnectionID    uint64    `json:"connection_id"`
	TokenIDs        [2]uint64 `json:"token_ids"`
	MetadataLocator string    `json:"metadata_locator"`
}

func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req CreateProposalRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	to, ok := parseParty(w, r, "recipient", req.Recipient)
	if !ok {
		return
	}

	locator := req.ContentLocator
	// A self-addressed proposal is rejected before anything is published.
	if locator == "" && s.composer != nil && to != "" && to != from {
		doc := metadata.ProposalDocument(metadata.ProposalParams{
			SenderLabel:   labelOr(req.SenderLabel, from),
			ReceiverLabel: labelOr(req.ReceiverLabel, to),
			Message:       req.Message,
			At:            s.clock(),
		})
		var err error
		if locator, err = s.composer.Publish(r.Context(), doc); err != nil {
			api.WriteRegistryError(w, r, fmt.Errorf("compose proposal metadata: %w", err))
			return
		}
	}

	id, err := s.props.CreateProposal(r.Context(), from, registry.ProposalInput{
		Recipient:      to,
		Message:        req.Message,
		SenderLabel:    req.SenderLabel,
		ReceiverLabel:  req.ReceiverLabel,
		ContentLocator: locator,
	})
	if err != nil {
		api.WriteRegistryError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/proposals/%d", id))
	api.WriteJSON(w, http.StatusCreated, CreateProposalResponse{ID: id, ContentLocator: locator})
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := s.props.GetProposal(r.Context(), id)
	if err != nil {
		api.WriteRegistryError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) handleAcceptProposal(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req AcceptProposalRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	if req.MetadataLocator == "" && s.composer != nil {
		locator, err := s.composeConnection(r, who, id, req.PairImageLocator)
		if err != nil {
			api.WriteRegistryError(w, r, err)
			return
		}
		req.MetadataLocator = locator
	}

	connID, err := s.props.AcceptProposal(r.Context(), who, id, req.PairImageLocator, req.MetadataLocator)
	if err != nil {
		api.WriteRegistryError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, AcceptProposalResponse{
		ConnectionID:    connID,
		TokenIDs:        [2]uint64{connID, connID + 1},
		MetadataLocator: req.MetadataLocator,
	})
}

// composeConnection publishes the pair document for proposal id. It
// publishes nothing when the acceptance is bound to fail, leaving the
// registry to report why.
func (s *Server) composeConnection(r *http.Request, who contracts.Identity, id uint64, image string) (string, error) {
	p, err := s.props.GetProposal(r.Context(), id)
	if err != nil {
		return "", err
	}
	if p.Recipient != who || p.Status != contracts.StatusPending || !s.props.Wired() {
		return "", nil
	}
	doc := metadata.ConnectionDocument(metadata.ConnectionParams{
		SenderLabel:   labelOr(p.SenderLabel, p.Proposer),
		ReceiverLabel: labelOr(p.ReceiverLabel, p.Recipient),
		ImageLocator:  image,
		At:            s.clock(),
	})
	locator, err := s.composer.Publish(r.Context(), doc)
	if err != nil {
		return "", fmt.Errorf("compose connection metadata: %w", err)
	}
	return locator, nil
}

func (s *Server) handleRejectProposal(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.props.RejectProposal(r.Context(), who, id); err != nil {
		api.WriteRegistryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// labelOr falls back to a shortened address when no display label is set.
func labelOr(label string, who contracts.Identity) string {
	if l := metadata.Label(label); l != "" {
		return l
	}
	s := string(who)
	if len(s) > 10 {
		return s[:6] + "…" + s[len(s)-4:]
	}
	return s
}
