// Package metadata composes the ERC-721 style documents that describe
// proposals and minted connections, and publishes them as artifacts.
//
// Documents are validated against an embedded JSON Schema and serialized in
// RFC 8785 canonical form, so the same logical document always yields the
// same artifact locator.
package metadata

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gowebpki/jcs"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/soulbound/pkg/artifacts"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "https://soulbound.schemas.local/metadata.schema.json"

// Length caps mirrored from schema.json. Composed documents are clipped to
// fit, so free-form labels and messages never fail validation.
const (
	maxName        = 256
	maxDescription = 4096
	maxLabel       = 100
)

// ErrInvalidDocument is returned when a document fails schema validation.
var ErrInvalidDocument = errors.New("invalid metadata document")

// Attribute is one ERC-721 trait.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// Document is an ERC-721 metadata document.
type Document struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       string      `json:"image"`
	Attributes  []Attribute `json:"attributes"`
}

// attr returns the value of the named trait, if present.
func (d Document) attr(trait string) (string, bool) {
	for _, a := range d.Attributes {
		if a.TraitType == trait {
			return a.Value, true
		}
	}
	return "", false
}

// Label normalizes a display name: NFC, trimmed.
func Label(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

// clip shortens s to at most n runes, marking the cut with an ellipsis.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

// ProposalParams describes a proposal document.
type ProposalParams struct {
	SenderLabel   string
	ReceiverLabel string
	Message       string
	At            time.Time
}

// ProposalDocument builds the document attached to a new proposal.
func ProposalDocument(p ProposalParams) Document {
	from, to := clip(Label(p.SenderLabel), maxLabel), clip(Label(p.ReceiverLabel), maxLabel)
	desc := norm.NFC.String(p.Message)
	if strings.TrimSpace(desc) == "" {
		desc = fmt.Sprintf("A SoulBound connection proposal from %s to %s", from, to)
	}
	return Document{
		Name:        clip(fmt.Sprintf("SoulBound Proposal: %s → %s", from, to), maxName),
		Description: clip(desc, maxDescription),
		Attributes: []Attribute{
			{TraitType: "Type", Value: "Proposal"},
			{TraitType: "From", Value: from},
			{TraitType: "To", Value: to},
			{TraitType: "Date", Value: p.At.UTC().Format(time.RFC3339)},
		},
	}
}

// ConnectionParams describes the document of a minted pair.
type ConnectionParams struct {
	SenderLabel   string
	ReceiverLabel string
	ImageLocator  string
	At            time.Time
}

// ConnectionDocument builds the document shared by both tokens of a pair.
func ConnectionDocument(p ConnectionParams) Document {
	a, b := clip(Label(p.SenderLabel), maxLabel), clip(Label(p.ReceiverLabel), maxLabel)
	return Document{
		Name: clip(fmt.Sprintf("SoulBound: %s & %s", a, b), maxName),
		Description: fmt.Sprintf("An immutable, non-transferable proof of connection between %s and %s. "+
			"Bound to their souls forever.", a, b),
		Image: p.ImageLocator,
		Attributes: []Attribute{
			{TraitType: "Type", Value: "SoulBound Connection"},
			{TraitType: "Person 1", Value: a},
			{TraitType: "Person 2", Value: b},
			{TraitType: "Forged", Value: p.At.UTC().Format(time.RFC3339)},
			{TraitType: "Transferable", Value: "No"},
		},
	}
}

// Composer validates, canonicalizes and publishes documents.
type Composer struct {
	store  artifacts.Store
	schema *jsonschema.Schema
}

// NewComposer compiles the document schema. st may be nil when only
// Encode/Decode are needed.
func NewComposer(st artifacts.Store) (*Composer, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("metadata schema load failed: %w", err)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("metadata schema compile failed: %w", err)
	}
	return &Composer{store: st, schema: schema}, nil
}

func (c *Composer) validate(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := c.schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return nil
}

// Encode validates doc and returns its canonical JSON.
func (c *Composer) Encode(doc Document) ([]byte, error) {
	if doc.Attributes == nil {
		doc.Attributes = []Attribute{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := c.validate(raw); err != nil {
		return nil, err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize metadata: %w", err)
	}
	return canonical, nil
}

// Decode parses and validates a stored document.
func (c *Composer) Decode(raw []byte) (Document, error) {
	if err := c.validate(raw); err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return doc, nil
}

// Publish stores doc and returns its locator.
func (c *Composer) Publish(ctx context.Context, doc Document) (string, error) {
	if c.store == nil {
		return "", errors.New("metadata: no artifact store configured")
	}
	raw, err := c.Encode(doc)
	if err != nil {
		return "", err
	}
	loc, err := c.store.Put(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("publish metadata: %w", err)
	}
	return loc, nil
}

// Load fetches and decodes the document behind locator.
func (c *Composer) Load(ctx context.Context, locator string) (Document, error) {
	if c.store == nil {
		return Document{}, errors.New("metadata: no artifact store configured")
	}
	raw, err := c.store.Get(ctx, locator)
	if err != nil {
		return Document{}, fmt.Errorf("load metadata: %w", err)
	}
	return c.Decode(raw)
}
