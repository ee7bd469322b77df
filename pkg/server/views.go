package server

import (
	"net/http"

	"github.com/Mindburn-Labs/soulbound/pkg/api"
	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
	"github.com/Mindburn-Labs/soulbound/pkg/metadata"
)

// StatsResponse reports registry totals.
type StatsResponse struct {
	TotalProposals   uint64 `json:"total_proposals"`
	TotalConnections uint64 `json:"total_connections"`
}

// handleInbox lists full proposal records addressed to {addr}, optionally
// filtered by ?status=.
func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	who, ok := parseParty(w, r, "address", r.PathValue("addr"))
	if !ok {
		return
	}
	var filter *contracts.ProposalStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := contracts.ParseStatus(raw)
		if err != nil {
			api.WriteBadRequest(w, err.Error())
			return
		}
		filter = &st
	}

	ids, err := s.props.RecipientProposals(r.Context(), who)
	if err != nil {
		api.WriteRegistryError(w, r, err)
		return
	}
	out := make([]contracts.Proposal, 0, len(ids))
	for _, id := range ids {
		p, err := s.props.GetProposal(r.Context(), id)
		if err != nil {
			api.WriteRegistryError(w, r, err)
			return
		}
		if filter != nil && p.Status != *filter {
			continue
		}
		out = append(out, p)
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"proposals": out})
}

// resolveMetadata loads the pair document behind locator. Locators are
// opaque, so one the artifact store cannot resolve is left out.
func (s *Server) resolveMetadata(r *http.Request, locator string) *metadata.Document {
	if s.composer == nil || locator == "" {
		return nil
	}
	doc, err := s.composer.Load(r.Context(), locator)
	if err != nil {
		s.logger.DebugContext(r.Context(), "metadata not resolved", "locator", locator, "error", err)
		return nil
	}
	return &doc
}

// handleGallery lists every token custodied by {addr} with its resolved
// pair document.
func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	who, ok := parseParty(w, r, "address", r.PathValue("addr"))
	if !ok {
		return
	}
	ids, err := s.conns.UserConnections(r.Context(), who)
	if err != nil {
		api.WriteRegistryError(w, r, err)
		return
	}
	out := make([]ConnectionView, 0, len(ids))
	for _, id := range ids {
		conn, err := s.conns.GetConnection(r.Context(), id)
		if err != nil {
			api.WriteRegistryError(w, r, err)
			return
		}
		view := viewOf(conn, id)
		view.Metadata = s.resolveMetadata(r, conn.MetadataLocator)
		out = append(out, view)
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"connections": out})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	props, err := s.props.TotalProposals(r.Context())
	if err != nil {
		api.WriteRegistryError(w, r, err)
		return
	}
	conns, err := s.conns.TotalConnections(r.Context())
	if err != nil {
		api.WriteRegistryError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, StatsResponse{TotalProposals: props, TotalConnections: conns})
}
