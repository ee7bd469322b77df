package api_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/soulbound/pkg/api"
	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
	"github.com/Mindburn-Labs/soulbound/pkg/identity"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) api.ProblemDetail {
	t.Helper()
	var p api.ProblemDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	return p
}

func TestWriteError_ContentType(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteError(w, http.StatusBadRequest, "Bad Request", "field is missing")

	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	p := decode(t, w)
	assert.Equal(t, 400, p.Status)
	assert.Equal(t, "Bad Request", p.Title)
	assert.Equal(t, "field is missing", p.Detail)
}

func TestWriteInternal_SanitizesError(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteInternal(w, errors.New("pq: connection refused to host=10.0.0.1"))

	p := decode(t, w)
	assert.NotContains(t, p.Detail, "10.0.0.1")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWriteTooManyRequests_RetryAfterHeader(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteTooManyRequests(w, 30)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestWriteRegistryError_Mapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{contracts.ErrInvalidTarget, http.StatusBadRequest, contracts.CodeInvalidTarget},
		{contracts.ErrNotFound, http.StatusNotFound, contracts.CodeNotFound},
		{contracts.ErrUnauthorized, http.StatusForbidden, contracts.CodeUnauthorized},
		{contracts.ErrInvalidState, http.StatusConflict, contracts.CodeInvalidState},
		{contracts.ErrNonTransferable, http.StatusConflict, contracts.CodeNonTransferable},
		{contracts.ErrUnwired, http.StatusServiceUnavailable, contracts.CodeUnwired},
		{identity.ErrBadChecksum, http.StatusBadRequest, "invalid_address"},
		{errors.New("disk on fire"), http.StatusInternalServerError, contracts.CodeInternal},
	}
	for _, c := range cases {
		t.Run(c.code, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/v1/proposals/3/accept", nil)
			w := httptest.NewRecorder()
			w.Header().Set("X-Request-ID", "req-1")

			api.WriteRegistryError(w, r, fmt.Errorf("accept proposal: %w", c.err))

			assert.Equal(t, c.status, w.Code)
			p := decode(t, w)
			assert.Equal(t, c.code, p.Code)
			assert.Equal(t, "/api/v1/proposals/3/accept", p.Instance)
			assert.Equal(t, "req-1", p.TraceID)
			if c.code == contracts.CodeInternal {
				assert.NotContains(t, p.Detail, "disk on fire")
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, api.StatusFor(contracts.CodeNonTransferable))
	assert.Equal(t, http.StatusInternalServerError, api.StatusFor("bogus"))
}
