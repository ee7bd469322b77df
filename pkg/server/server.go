// Package server exposes the registries over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Mindburn-Labs/soulbound/pkg/api"
	"github.com/Mindburn-Labs/soulbound/pkg/artifacts"
	"github.com/Mindburn-Labs/soulbound/pkg/audit"
	"github.com/Mindburn-Labs/soulbound/pkg/auth"
	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
	"github.com/Mindburn-Labs/soulbound/pkg/identity"
	"github.com/Mindburn-Labs/soulbound/pkg/metadata"
	"github.com/Mindburn-Labs/soulbound/pkg/observability"
	"github.com/Mindburn-Labs/soulbound/pkg/ratelimit"
	"github.com/Mindburn-Labs/soulbound/pkg/registry"
)

const (
	maxJSONBody     = 1 << 20
	maxArtifactBody = 10 << 20
)

// Deps are the collaborators the HTTP surface serves.
type Deps struct {
	Registries *registry.Registries
	Artifacts  artifacts.Store
	// Composer is optional; without it callers must supply locators.
	Composer *metadata.Composer
	// Journal is optional; without it the audit routes are not registered.
	Journal *audit.Journal
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Server holds the HTTP handlers.
type Server struct {
	props    *registry.ProposalRegistry
	conns    *registry.ConnectionRegistry
	blobs    artifacts.Store
	composer *metadata.Composer
	journal  *audit.Journal
	logger   *slog.Logger
	clock    func() time.Time
}

// New validates deps and builds a Server.
func New(d Deps) (*Server, error) {
	if d.Registries == nil || d.Registries.Proposals == nil || d.Registries.Connections == nil {
		return nil, errors.New("server: registries are required")
	}
	if d.Artifacts == nil {
		return nil, errors.New("server: artifact store is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return &Server{
		props:    d.Registries.Proposals,
		conns:    d.Registries.Connections,
		blobs:    d.Artifacts,
		composer: d.Composer,
		journal:  d.Journal,
		logger:   d.Logger.With("component", "http"),
		clock:    d.Clock,
	}, nil
}

// RegisterRoutes registers the API routes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	handle := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, observability.Route(h))
	}
	handle("GET /health", s.handleHealth)
	handle("GET /api/v1/health", s.handleHealth)

	handle("POST /api/v1/proposals", s.handleCreateProposal)
	handle("GET /api/v1/proposals/{id}", s.handleGetProposal)
	handle("POST /api/v1/proposals/{id}/accept", s.handleAcceptProposal)
	handle("POST /api/v1/proposals/{id}/reject", s.handleRejectProposal)

	handle("POST /api/v1/connections", s.handleMintConnection)
	handle("GET /api/v1/connections/{id}", s.handleGetConnection)
	handle("POST /api/v1/connections/{id}/transfer", s.handleTransfer)

	handle("GET /api/v1/identities/{addr}/proposals", s.handleInbox)
	handle("GET /api/v1/identities/{addr}/connections", s.handleGallery)
	handle("GET /api/v1/stats", s.handleStats)

	handle("POST /api/v1/artifacts", s.handlePutArtifact)
	handle("GET /api/v1/artifacts/{locator}", s.handleGetArtifact)

	if s.journal != nil {
		handle("GET /api/v1/audit", s.handleAudit)
		handle("GET /api/v1/audit/verify", s.handleAuditVerify)
	}
}

// HandlerOptions configures the middleware chain.
type HandlerOptions struct {
	Validator     auth.Validator
	Limiter       ratelimit.Limiter
	Policy        ratelimit.Policy
	CORSOrigins   []string
	Observability *observability.Provider
}

// Handler returns the routed API wrapped in the middleware chain:
// request id, CORS, telemetry, access log, authentication, then rate
// limiting.
func (s *Server) Handler(opts HandlerOptions) http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var h http.Handler = mux
	h = auth.RateLimitMiddleware(opts.Limiter, opts.Policy)(h)
	h = auth.NewMiddleware(opts.Validator)(h)
	h = auth.AccessLogMiddleware(s.logger)(h)
	if opts.Observability != nil {
		h = opts.Observability.Middleware(h)
	}
	h = auth.CORSMiddleware(opts.CORSOrigins)(h)
	return auth.RequestIDMiddleware(h)
}

// caller returns the authenticated principal or writes a 401.
func caller(w http.ResponseWriter, r *http.Request) (contracts.Identity, bool) {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return "", false
	}
	return p.Address, true
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v
// untouched when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		api.WriteBadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		api.WriteBadRequest(w, fmt.Sprintf("invalid id %q", raw))
		return 0, false
	}
	return id, true
}

// parseParty checksums an address from a body or path. Empty strings pass
// through so the registry can reject them with its own error kind.
func parseParty(w http.ResponseWriter, r *http.Request, field, raw string) (contracts.Identity, bool) {
	if raw == "" {
		return "", true
	}
	id, err := identity.ParseAddress(raw)
	if err != nil {
		api.WriteRegistryError(w, r, fmt.Errorf("%s: %w", field, err))
		return "", false
	}
	return id, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"wired":  s.props.Wired(),
	})
}
