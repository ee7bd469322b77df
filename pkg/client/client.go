// Package client is a typed Go client for the soulbound API.
// It depends only on net/http and the shared record types.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
	"github.com/Mindburn-Labs/soulbound/pkg/metadata"
)

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	Status int
	Code   string
	Title  string
	Detail string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("soulbound api %d: %s (%s)", e.Status, e.Detail, e.Code)
	}
	return fmt.Sprintf("soulbound api %d: %s", e.Status, e.Detail)
}

var codeErrors = map[string]error{
	contracts.CodeInvalidTarget:   contracts.ErrInvalidTarget,
	contracts.CodeNotFound:        contracts.ErrNotFound,
	contracts.CodeUnauthorized:    contracts.ErrUnauthorized,
	contracts.CodeInvalidState:    contracts.ErrInvalidState,
	contracts.CodeNonTransferable: contracts.ErrNonTransferable,
	contracts.CodeUnwired:         contracts.ErrUnwired,
}

// Is lets callers test API errors against the registry sentinels.
func (e *APIError) Is(target error) bool {
	sentinel, ok := codeErrors[e.Code]
	return ok && sentinel == target
}

// Client talks to one soulbound server.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithToken sets the bearer token used for mutations.
func WithToken(token string) Option {
	return func(c *Client) { c.Token = token }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// New creates a Client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) request(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	var p struct {
		Title  string `json:"title"`
		Code   string `json:"code"`
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return &APIError{Status: resp.StatusCode, Code: contracts.CodeInternal, Detail: "unknown error"}
	}
	return &APIError{Status: resp.StatusCode, Code: p.Code, Title: p.Title, Detail: p.Detail}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	resp, err := c.request(ctx, method, path, "application/json", reader)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ProposalRequest creates a proposal. An empty ContentLocator asks the
// server to compose and store the metadata document.
type ProposalRequest struct {
	Recipient      string `json:"recipient"`
	Message        string `json:"message"`
	SenderLabel    string `json:"sender_label"`
	ReceiverLabel  string `json:"receiver_label"`
	ContentLocator string `json:"content_locator,omitempty"`
}

// Created is the result of CreateProposal.
type Created struct {
	ID             uint64 `json:"id"`
	ContentLocator string `json:"content_locator"`
}

// Accepted is the result of AcceptProposal.
type Accepted struct {
	ConnectionID    uint64    `json:"connection_id"`
	TokenIDs        [2]uint64 `json:"token_ids"`
	MetadataLocator string    `json:"metadata_locator"`
}

// ConnectionView is one token of a pair with its custodian.
type ConnectionView struct {
	contracts.Connection
	TokenID   uint64             `json:"token_id"`
	Custodian contracts.Identity `json:"custodian"`
	Metadata  *metadata.Document `json:"metadata,omitempty"`
}

// Stats are the registry totals.
type Stats struct {
	TotalProposals   uint64 `json:"total_proposals"`
	TotalConnections uint64 `json:"total_connections"`
}

// CreateProposal calls POST /api/v1/proposals.
func (c *Client) CreateProposal(ctx context.Context, req ProposalRequest) (*Created, error) {
	var out Created
	if err := c.do(ctx, http.MethodPost, "/api/v1/proposals", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProposal calls GET /api/v1/proposals/{id}.
func (c *Client) GetProposal(ctx context.Context, id uint64) (*contracts.Proposal, error) {
	var out contracts.Proposal
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/proposals/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AcceptProposal calls POST /api/v1/proposals/{id}/accept. Empty locators
// are composed server side.
func (c *Client) AcceptProposal(ctx context.Context, id uint64, pairImageLocator, metadataLocator string) (*Accepted, error) {
	body := map[string]string{}
	if pairImageLocator != "" {
		body["pair_image_locator"] = pairImageLocator
	}
	if metadataLocator != "" {
		body["metadata_locator"] = metadataLocator
	}
	var out Accepted
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/proposals/%d/accept", id), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RejectProposal calls POST /api/v1/proposals/{id}/reject.
func (c *Client) RejectProposal(ctx context.Context, id uint64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/proposals/%d/reject", id), nil, nil)
}

// GetConnection calls GET /api/v1/connections/{id}.
func (c *Client) GetConnection(ctx context.Context, tokenID uint64) (*ConnectionView, error) {
	var out ConnectionView
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/connections/%d", tokenID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transfer calls POST /api/v1/connections/{id}/transfer. It always fails
// with an error matching contracts.ErrNonTransferable.
func (c *Client) Transfer(ctx context.Context, tokenID uint64, from, to string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/connections/%d/transfer", tokenID),
		map[string]string{"from": from, "to": to}, nil)
}

// Inbox calls GET /api/v1/identities/{addr}/proposals. An empty status
// returns every proposal.
func (c *Client) Inbox(ctx context.Context, addr, status string) ([]contracts.Proposal, error) {
	path := "/api/v1/identities/" + url.PathEscape(addr) + "/proposals"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out struct {
		Proposals []contracts.Proposal `json:"proposals"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Proposals, nil
}

// Connections calls GET /api/v1/identities/{addr}/connections.
func (c *Client) Connections(ctx context.Context, addr string) ([]ConnectionView, error) {
	var out struct {
		Connections []ConnectionView `json:"connections"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/identities/"+url.PathEscape(addr)+"/connections", nil, &out); err != nil {
		return nil, err
	}
	return out.Connections, nil
}

// Stats calls GET /api/v1/stats.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadArtifact calls POST /api/v1/artifacts and returns the locator.
func (c *Client) UploadArtifact(ctx context.Context, data []byte) (string, error) {
	resp, err := c.request(ctx, http.MethodPost, "/api/v1/artifacts", "application/octet-stream", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	var out struct {
		Locator string `json:"locator"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Locator, nil
}

// GetArtifact calls GET /api/v1/artifacts/{locator} and returns raw bytes.
func (c *Client) GetArtifact(ctx context.Context, locator string) ([]byte, error) {
	resp, err := c.request(ctx, http.MethodGet, "/api/v1/artifacts/"+url.PathEscape(locator), "", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(resp.Body)
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}
