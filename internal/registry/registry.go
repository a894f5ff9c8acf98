// Package registry stores tool manifests keyed by URN.
//
// The Registry interface is what the loader, search, and activation services
// consume. Two implementations are provided:
//
//   - MemoryStore: process-local map, used by default and in tests
//   - SQLStore: database/sql over SQLite (modernc) or PostgreSQL (pgx)
//
// Both derive the indexed columns (tool id, capabilities, schema URI, issuer,
// signature) from the manifest body with Extract, and compute the digest as
// the SHA-256 of the canonical JSON encoding of the body.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no manifest is registered for a URN.
	ErrNotFound = errors.New("manifest not found")

	// ErrInvalidURN is returned when a URN is empty.
	ErrInvalidURN = errors.New("invalid urn")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("registry closed")
)

// Manifest is a registered tool manifest.
type Manifest struct {
	URN             string         `json:"urn"`
	ToolID          string         `json:"tool_id"`
	Name            string         `json:"name,omitempty"`
	Summary         string         `json:"summary,omitempty"`
	Version         string         `json:"version,omitempty"`
	Tags            []string       `json:"tags"`
	Capabilities    []string       `json:"capabilities"`
	SchemaURI       string         `json:"schema_uri,omitempty"`
	Digest          string         `json:"digest"`
	Issuer          string         `json:"issuer,omitempty"`
	Signature       string         `json:"signature,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Provenance      map[string]any `json:"provenance,omitempty"`
	ActivationHints any            `json:"activation_hints,omitempty"`
	Resources       any            `json:"resources,omitempty"`
	Body            map[string]any `json:"body"`
}

// Metadata is the per-URN enrichment returned by LookupMetadata.
type Metadata struct {
	URN          string   `json:"urn"`
	SchemaURI    string   `json:"schema_uri"`
	Capabilities []string `json:"capabilities"`
}

// Registry is the manifest store consumed by the services.
type Registry interface {
	// GetManifest returns the manifest for urn, or ErrNotFound.
	GetManifest(ctx context.Context, urn string) (*Manifest, error)

	// UpsertManifest registers body under urn, replacing any previous entry.
	UpsertManifest(ctx context.Context, urn string, body map[string]any) (*Manifest, error)

	// Capabilities returns the ordered capability list declared by urn.
	// An unknown urn yields ErrNotFound.
	Capabilities(ctx context.Context, urn string) ([]string, error)

	// LookupMetadata resolves many URNs in one call. URNs that are not
	// registered are absent from the result.
	LookupMetadata(ctx context.Context, urns []string) (map[string]Metadata, error)

	// Close releases resources.
	Close() error
}

// NewManifest builds the stored form of body registered under urn.
func NewManifest(urn string, body map[string]any, now time.Time) (*Manifest, error) {
	urn = strings.TrimSpace(urn)
	if urn == "" {
		return nil, ErrInvalidURN
	}
	if body == nil {
		body = map[string]any{}
	}
	digest, err := Digest(body)
	if err != nil {
		return nil, err
	}

	f := Extract(body)
	toolID := f.ToolID
	if toolID == "" {
		toolID = urn
	}
	return &Manifest{
		URN:             urn,
		ToolID:          toolID,
		Name:            f.Name,
		Summary:         f.Summary,
		Version:         f.Version,
		Tags:            f.Tags,
		Capabilities:    f.Capabilities,
		SchemaURI:       f.SchemaURI,
		Digest:          digest,
		Issuer:          f.Issuer,
		Signature:       f.Signature,
		UpdatedAt:       now.UTC(),
		Provenance:      f.Provenance,
		ActivationHints: f.ActivationHints,
		Resources:       f.Resources,
		Body:            body,
	}, nil
}

// Digest returns "sha256:<hex>" over the canonical JSON encoding of body.
// encoding/json writes map keys in sorted order, so equal bodies hash equal.
func Digest(body map[string]any) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode manifest body: %w", err)
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

func (m *Manifest) metadata() Metadata {
	return Metadata{
		URN:          m.URN,
		SchemaURI:    m.SchemaURI,
		Capabilities: append([]string{}, m.Capabilities...),
	}
}

func dedupe(urns []string) []string {
	seen := make(map[string]struct{}, len(urns))
	out := make([]string, 0, len(urns))
	for _, u := range urns {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
