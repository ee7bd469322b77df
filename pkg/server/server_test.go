package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/soulbound/pkg/api"
	"github.com/Mindburn-Labs/soulbound/pkg/artifacts"
	"github.com/Mindburn-Labs/soulbound/pkg/audit"
	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
	"github.com/Mindburn-Labs/soulbound/pkg/identity"
	"github.com/Mindburn-Labs/soulbound/pkg/metadata"
	"github.com/Mindburn-Labs/soulbound/pkg/ratelimit"
	"github.com/Mindburn-Labs/soulbound/pkg/registry"
	"github.com/Mindburn-Labs/soulbound/pkg/server"
	"github.com/Mindburn-Labs/soulbound/pkg/store"
)

const (
	owner   = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	alice   = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
	bob     = "0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB"
	mallory = "0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb"
)

var fixedNow = time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)

type harness struct {
	srv     *httptest.Server
	tokens  *identity.TokenManager
	journal *audit.Journal
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := func() time.Time { return fixedNow }

	blobs, err := artifacts.NewFileStore(t.TempDir())
	require.NoError(t, err)
	composer, err := metadata.NewComposer(blobs)
	require.NoError(t, err)
	journal := audit.NewJournal().WithClock(clock)

	regs, err := registry.Deploy(store.NewMemoryStore(), contracts.Identity(owner),
		registry.WithClock(clock), registry.WithEvents(journal))
	require.NoError(t, err)

	s, err := server.New(server.Deps{
		Registries: regs,
		Artifacts:  blobs,
		Composer:   composer,
		Journal:    journal,
		Clock:      clock,
	})
	require.NoError(t, err)

	ks, err := identity.NewInMemoryKeySet()
	require.NoError(t, err)
	tm := identity.NewTokenManager(ks)

	srv := httptest.NewServer(s.Handler(server.HandlerOptions{
		Validator: tm,
		Policy:    ratelimit.Policy{RPM: 600, Burst: 100},
	}))
	t.Cleanup(srv.Close)
	return &harness{srv: srv, tokens: tm, journal: journal}
}

func (h *harness) token(t *testing.T, addr string) string {
	t.Helper()
	tok, err := h.tokens.Issue(context.Background(), addr, nil, time.Hour)
	require.NoError(t, err)
	return tok
}

// do sends body as JSON (or raw bytes) and returns status and response body.
func (h *harness) do(t *testing.T, method, path, as string, body any) (int, []byte) {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		rdr = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rdr)
	require.NoError(t, err)
	if as != "" {
		req.Header.Set("Authorization", "Bearer "+h.token(t, as))
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func problemCode(t *testing.T, body []byte) string {
	t.Helper()
	var p api.ProblemDetail
	require.NoError(t, json.Unmarshal(body, &p))
	return p.Code
}

func (h *harness) propose(t *testing.T, from, to string) server.CreateProposalResponse {
	t.Helper()
	status, body := h.do(t, http.MethodPost, "/api/v1/proposals", from, server.CreateProposalRequest{
		Recipient:     to,
		Message:       "Will you be my SoulBound?",
		SenderLabel:   "Alice",
		ReceiverLabel: "Bob",
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	var out server.CreateProposalResponse
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestAPI_ProposalLifecycle(t *testing.T) {
	h := newHarness(t)

	created := h.propose(t, alice, strings.ToLower(bob))
	assert.Equal(t, uint64(0), created.ID)
	assert.True(t, strings.HasPrefix(created.ContentLocator, "sha256:"))

	status, body := h.do(t, http.MethodGet, "/api/v1/proposals/0", "", nil)
	require.Equal(t, http.StatusOK, status)
	var p contracts.Proposal
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, contracts.Identity(alice), p.Proposer)
	assert.Equal(t, contracts.Identity(bob), p.Recipient)
	assert.Equal(t, contracts.StatusPending, p.Status)
	assert.Contains(t, string(body), `"status":"pending"`)

	status, body = h.do(t, http.MethodPost, "/api/v1/proposals/0/accept", bob, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var accepted server.AcceptProposalResponse
	require.NoError(t, json.Unmarshal(body, &accepted))
	assert.Equal(t, uint64(0), accepted.ConnectionID)
	assert.Equal(t, [2]uint64{0, 1}, accepted.TokenIDs)
	require.NotEmpty(t, accepted.MetadataLocator)

	status, body = h.do(t, http.MethodGet, "/api/v1/connections/1", "", nil)
	require.Equal(t, http.StatusOK, status)
	var view server.ConnectionView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, uint64(0), view.ID)
	assert.Equal(t, uint64(1), view.TokenID)
	assert.Equal(t, contracts.Identity(bob), view.Custodian)
	assert.Equal(t, accepted.MetadataLocator, view.MetadataLocator)

	status, body = h.do(t, http.MethodGet, "/api/v1/artifacts/"+accepted.MetadataLocator, "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "SoulBound: Alice & Bob")

	status, body = h.do(t, http.MethodGet, "/api/v1/identities/"+alice+"/connections", "", nil)
	require.Equal(t, http.StatusOK, status)
	var gallery struct {
		Connections []server.ConnectionView `json:"connections"`
	}
	require.NoError(t, json.Unmarshal(body, &gallery))
	require.Len(t, gallery.Connections, 1)
	assert.Equal(t, uint64(0), gallery.Connections[0].TokenID)
	assert.Equal(t, contracts.Identity(alice), gallery.Connections[0].Custodian)
	require.NotNil(t, gallery.Connections[0].Metadata)
	assert.Equal(t, "SoulBound: Alice & Bob", gallery.Connections[0].Metadata.Name)

	status, body = h.do(t, http.MethodGet, "/api/v1/stats", "", nil)
	require.Equal(t, http.StatusOK, status)
	var stats server.StatsResponse
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, server.StatsResponse{TotalProposals: 1, TotalConnections: 1}, stats)
}

func TestAPI_LongTextIsNeverRefused(t *testing.T) {
	h := newHarness(t)
	message := strings.Repeat("m", 5000)

	status, body := h.do(t, http.MethodPost, "/api/v1/proposals", alice, server.CreateProposalRequest{
		Recipient:     bob,
		Message:       message,
		SenderLabel:   strings.Repeat("a", 300),
		ReceiverLabel: strings.Repeat("b", 300),
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	var created server.CreateProposalResponse
	require.NoError(t, json.Unmarshal(body, &created))
	require.NotEmpty(t, created.ContentLocator)

	status, body = h.do(t, http.MethodGet, "/api/v1/proposals/0", "", nil)
	require.Equal(t, http.StatusOK, status)
	var p contracts.Proposal
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, message, p.Message, "stored text is kept verbatim")

	status, body = h.do(t, http.MethodPost, "/api/v1/proposals/0/accept", bob, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var accepted server.AcceptProposalResponse
	require.NoError(t, json.Unmarshal(body, &accepted))
	assert.NotEmpty(t, accepted.MetadataLocator)
}

func TestAPI_GalleryOmitsUnresolvedMetadata(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodPost, "/api/v1/connections", owner, server.MintConnectionRequest{
		PartyA:          alice,
		PartyB:          bob,
		MetadataLocator: "ipfs://QmExternal",
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	status, body = h.do(t, http.MethodGet, "/api/v1/identities/"+bob+"/connections", "", nil)
	require.Equal(t, http.StatusOK, status)
	var gallery struct {
		Connections []server.ConnectionView `json:"connections"`
	}
	require.NoError(t, json.Unmarshal(body, &gallery))
	require.Len(t, gallery.Connections, 1)
	assert.Nil(t, gallery.Connections[0].Metadata)
	assert.Equal(t, "ipfs://QmExternal", gallery.Connections[0].MetadataLocator)
}

func TestAPI_InboxStatusFilter(t *testing.T) {
	h := newHarness(t)
	h.propose(t, alice, bob)
	h.propose(t, mallory, bob)
	h.propose(t, bob, alice)

	status, _ := h.do(t, http.MethodPost, "/api/v1/proposals/1/reject", bob, nil)
	require.Equal(t, http.StatusNoContent, status)

	inbox := func(query string) []contracts.Proposal {
		status, body := h.do(t, http.MethodGet, "/api/v1/identities/"+bob+"/proposals"+query, "", nil)
		require.Equal(t, http.StatusOK, status, string(body))
		var out struct {
			Proposals []contracts.Proposal `json:"proposals"`
		}
		require.NoError(t, json.Unmarshal(body, &out))
		return out.Proposals
	}

	all := inbox("")
	require.Len(t, all, 2)
	assert.Equal(t, uint64(0), all[0].ID)
	assert.Equal(t, uint64(1), all[1].ID)

	pending := inbox("?status=pending")
	require.Len(t, pending, 1)
	assert.Equal(t, uint64(0), pending[0].ID)

	status, _ = h.do(t, http.MethodGet, "/api/v1/identities/"+bob+"/proposals?status=maybe", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPI_ErrorMapping(t *testing.T) {
	h := newHarness(t)
	h.propose(t, alice, bob)

	cases := []struct {
		name   string
		method string
		path   string
		as     string
		body   any
		status int
		code   string
	}{
		{"self proposal", http.MethodPost, "/api/v1/proposals", alice,
			server.CreateProposalRequest{Recipient: alice}, http.StatusBadRequest, contracts.CodeInvalidTarget},
		{"bad checksum", http.MethodPost, "/api/v1/proposals", alice,
			server.CreateProposalRequest{Recipient: "0xDBF03B407c01E7cD3CBea99509d93f8DDDC8C6FB"}, http.StatusBadRequest, "invalid_address"},
		{"unknown proposal", http.MethodGet, "/api/v1/proposals/99", "", nil, http.StatusNotFound, contracts.CodeNotFound},
		{"accept by stranger", http.MethodPost, "/api/v1/proposals/0/accept", mallory, nil, http.StatusForbidden, contracts.CodeUnauthorized},
		{"reject unknown", http.MethodPost, "/api/v1/proposals/7/reject", bob, nil, http.StatusNotFound, contracts.CodeNotFound},
		{"unknown connection", http.MethodGet, "/api/v1/connections/4", "", nil, http.StatusNotFound, contracts.CodeNotFound},
		{"transfer", http.MethodPost, "/api/v1/connections/0/transfer", alice,
			server.TransferRequest{From: alice, To: mallory}, http.StatusConflict, contracts.CodeNonTransferable},
		{"transfer of unknown token", http.MethodPost, "/api/v1/connections/12345/transfer", mallory, nil,
			http.StatusConflict, contracts.CodeNonTransferable},
		{"direct mint by stranger", http.MethodPost, "/api/v1/connections", alice,
			server.MintConnectionRequest{PartyA: alice, PartyB: bob}, http.StatusForbidden, contracts.CodeUnauthorized},
		{"direct mint same party", http.MethodPost, "/api/v1/connections", owner,
			server.MintConnectionRequest{PartyA: alice, PartyB: alice}, http.StatusBadRequest, contracts.CodeInvalidTarget},
		{"missing artifact", http.MethodGet, "/api/v1/artifacts/sha256:" + strings.Repeat("ab", 32), "", nil,
			http.StatusNotFound, contracts.CodeNotFound},
		{"malformed locator", http.MethodGet, "/api/v1/artifacts/ipfs:xyz", "", nil, http.StatusBadRequest, "invalid_locator"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			status, body := h.do(t, c.method, c.path, c.as, c.body)
			assert.Equal(t, c.status, status, string(body))
			assert.Equal(t, c.code, problemCode(t, body))
		})
	}
}

func TestAPI_AcceptTwiceConflicts(t *testing.T) {
	h := newHarness(t)
	h.propose(t, alice, bob)

	status, _ := h.do(t, http.MethodPost, "/api/v1/proposals/0/accept", bob, nil)
	require.Equal(t, http.StatusOK, status)

	status, body := h.do(t, http.MethodPost, "/api/v1/proposals/0/accept", bob, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, contracts.CodeInvalidState, problemCode(t, body))

	status, body = h.do(t, http.MethodPost, "/api/v1/proposals/0/reject", bob, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, contracts.CodeInvalidState, problemCode(t, body))
}

func TestAPI_MutationsRequireToken(t *testing.T) {
	h := newHarness(t)

	status, _ := h.do(t, http.MethodPost, "/api/v1/proposals", "", server.CreateProposalRequest{Recipient: bob})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = h.do(t, http.MethodPost, "/api/v1/artifacts", "", []byte("png"))
	assert.Equal(t, http.StatusUnauthorized, status)

	// Identity is checked before the registry refuses the transfer.
	status, _ = h.do(t, http.MethodPost, "/api/v1/connections/0/transfer", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, body := h.do(t, http.MethodPost, "/api/v1/connections/0/transfer", mallory, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "non_transferable", problemCode(t, body))

	status, _ = h.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_OwnerDirectMint(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodPost, "/api/v1/connections", owner, server.MintConnectionRequest{
		PartyA: alice, PartyB: bob, PairImageLocator: "sha256:img", MetadataLocator: "sha256:meta",
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	assert.JSONEq(t, `{"connection_id":0,"token_ids":[0,1]}`, string(body))

	status, body = h.do(t, http.MethodGet, "/api/v1/connections/0", "", nil)
	require.Equal(t, http.StatusOK, status)
	var view server.ConnectionView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, contracts.Identity(alice), view.Custodian)
}

func TestAPI_ArtifactRoundTrip(t *testing.T) {
	h := newHarness(t)
	img := []byte("\x89PNG\r\n\x1a\nfake pair image")

	status, body := h.do(t, http.MethodPost, "/api/v1/artifacts", alice, img)
	require.Equal(t, http.StatusCreated, status, string(body))
	var out map[string]string
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, artifacts.Locator(img), out["locator"])

	status, body = h.do(t, http.MethodGet, "/api/v1/artifacts/"+out["locator"], "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, img, body)

	status, _ = h.do(t, http.MethodPost, "/api/v1/artifacts", alice, []byte{})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPI_AuditTrail(t *testing.T) {
	h := newHarness(t)
	h.propose(t, alice, bob)
	status, _ := h.do(t, http.MethodPost, "/api/v1/proposals/0/accept", bob, nil)
	require.Equal(t, http.StatusOK, status)

	status, body := h.do(t, http.MethodGet, "/api/v1/audit", "", nil)
	require.Equal(t, http.StatusOK, status)
	var page server.AuditPage
	require.NoError(t, json.Unmarshal(body, &page))
	require.Equal(t, 3, page.Length)
	assert.Equal(t, contracts.EventProposalCreated, page.Entries[0].Event.Type)
	assert.Equal(t, contracts.EventProposalAccepted, page.Entries[1].Event.Type)
	assert.Equal(t, contracts.EventConnectionMinted, page.Entries[2].Event.Type)
	assert.Equal(t, h.journal.Head(), page.Head)

	status, body = h.do(t, http.MethodGet, "/api/v1/audit?after=2&limit=5", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Entries, 1)
	assert.Equal(t, uint64(3), page.Entries[0].Sequence)

	status, body = h.do(t, http.MethodGet, "/api/v1/audit/verify", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"valid":true,"head":"`+h.journal.Head()+`","length":3}`, string(body))
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := server.New(server.Deps{})
	assert.Error(t, err)
}
