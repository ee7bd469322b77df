package server

import (
	"net/http"
	"strconv"

	"github.com/Mindburn-Labs/soulbound/pkg/api"
	"github.com/Mindburn-Labs/soulbound/pkg/audit"
)

const maxAuditPage = 500

// AuditPage is one page of journal entries.
type AuditPage struct {
	Head    string        `json:"head"`
	Length  int           `json:"length"`
	Entries []audit.Entry `json:"entries"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var after uint64
	if raw := q.Get("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			api.WriteBadRequest(w, "after must be a sequence number")
			return
		}
		after = v
	}
	limit := 100
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			api.WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(v, maxAuditPage)
	}
	api.WriteJSON(w, http.StatusOK, AuditPage{
		Head:    s.journal.Head(),
		Length:  s.journal.Length(),
		Entries: s.journal.Entries(after, limit),
	})
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"valid":  true,
		"head":   s.journal.Head(),
		"length": s.journal.Length(),
	}
	if err := s.journal.Verify(); err != nil {
		resp["valid"] = false
		resp["error"] = err.Error()
	}
	api.WriteJSON(w, http.StatusOK, resp)
}
