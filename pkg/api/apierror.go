// Package api holds the HTTP error model (RFC 7807 Problem Details) and the
// JSON response helpers shared by the server and its middleware.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/soulbound/pkg/artifacts"
	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
	"github.com/Mindburn-Labs/soulbound/pkg/identity"
	"github.com/Mindburn-Labs/soulbound/pkg/metadata"
)

const problemTypeBase = "https://soulbound.dev/errors/"

// ProblemDetail implements RFC 7807. Code carries the stable registry error
// kind so clients can branch without parsing titles.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Code     string `json:"code,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	if p.Code != "" {
		return fmt.Sprintf("%s (%s): %s", p.Title, p.Code, p.Detail)
	}
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func write(w http.ResponseWriter, p *ProblemDetail) {
	if p.Type == "" {
		p.Type = fmt.Sprintf("%s%d", problemTypeBase, p.Status)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	write(w, &ProblemDetail{Title: title, Status: status, Detail: detail})
}

// WriteErrorR writes a problem enriched with the request path and the
// X-Request-ID already set on the response.
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, code, title, detail string) {
	p := &ProblemDetail{
		Title:    title,
		Status:   status,
		Code:     code,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get("X-Request-ID"),
	}
	if code != "" {
		p.Type = problemTypeBase + code
	}
	write(w, p)
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="soulbound"`)
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Insufficient permissions"
	}
	WriteError(w, http.StatusForbidden, "Forbidden", detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but never exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

var registryStatus = map[string]struct {
	status int
	title  string
}{
	contracts.CodeInvalidTarget:   {http.StatusBadRequest, "Invalid Target"},
	contracts.CodeNotFound:        {http.StatusNotFound, "Not Found"},
	contracts.CodeUnauthorized:    {http.StatusForbidden, "Unauthorized"},
	contracts.CodeInvalidState:    {http.StatusConflict, "Invalid State"},
	contracts.CodeNonTransferable: {http.StatusConflict, "Non-Transferable"},
	contracts.CodeUnwired:         {http.StatusServiceUnavailable, "Registry Not Wired"},
}

// StatusFor returns the HTTP status for a registry error kind.
func StatusFor(code string) int {
	if m, ok := registryStatus[code]; ok {
		return m.status
	}
	return http.StatusInternalServerError
}

// WriteRegistryError maps err to a problem response. Registry rejections
// and input errors keep their message; anything else is a sanitized 500.
func WriteRegistryError(w http.ResponseWriter, r *http.Request, err error) {
	code := contracts.Kind(err)
	if m, ok := registryStatus[code]; ok {
		WriteErrorR(w, r, m.status, code, m.title, err.Error())
		return
	}

	switch {
	case errors.Is(err, identity.ErrInvalidAddress), errors.Is(err, identity.ErrBadChecksum):
		WriteErrorR(w, r, http.StatusBadRequest, "invalid_address", "Invalid Address", err.Error())
	case errors.Is(err, artifacts.ErrInvalidLocator):
		WriteErrorR(w, r, http.StatusBadRequest, "invalid_locator", "Invalid Locator", err.Error())
	case errors.Is(err, artifacts.ErrNotFound):
		WriteErrorR(w, r, http.StatusNotFound, contracts.CodeNotFound, "Not Found", err.Error())
	case errors.Is(err, metadata.ErrInvalidDocument):
		WriteErrorR(w, r, http.StatusBadRequest, "invalid_metadata", "Invalid Metadata", err.Error())
	default:
		slog.ErrorContext(r.Context(), "internal server error", "error", err, "path", r.URL.Path)
		WriteErrorR(w, r, http.StatusInternalServerError, contracts.CodeInternal, "Internal Server Error",
			"An unexpected error occurred. Please try again later.")
	}
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
