package models

import (
	"time"
)

// ChunkMetadata describes the business entity a chunk was built from
type ChunkMetadata struct {
	EntityType EntityType        `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	EntityName string            `json:"entity_name"`
	CreatedAt  *time.Time        `json:"created_at,omitempty"`
	UpdatedAt  *time.Time        `json:"updated_at,omitempty"`
	ScopeID    string            `json:"scope_id,omitempty"` // Parent site id for site-scoped entities
	Status     string            `json:"status,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// DocumentChunk is one indexed unit of business-entity text plus its embedding
type DocumentChunk struct {
	ID          string        `json:"id"`      // "<entity_type>:<entity_id>"
	Content     string        `json:"content"` // Canonical text used for grounding
	Metadata    ChunkMetadata `json:"metadata"`
	Embedding   []float32     `json:"-"`
	ContentHash string        `json:"content_hash,omitempty"` // sha256 of Content
	Model       string        `json:"model,omitempty"`        // Embedding model that produced Embedding
	IndexedAt   time.Time     `json:"indexed_at"`
}

// Clone returns a deep copy so callers cannot mutate store-owned slices
func (c *DocumentChunk) Clone() *DocumentChunk {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Embedding != nil {
		clone.Embedding = make([]float32, len(c.Embedding))
		copy(clone.Embedding, c.Embedding)
	}
	if c.Metadata.Extra != nil {
		clone.Metadata.Extra = make(map[string]string, len(c.Metadata.Extra))
		for k, v := range c.Metadata.Extra {
			clone.Metadata.Extra[k] = v
		}
	}
	return &clone
}

// ChunkFilter restricts a similarity query before ranking
type ChunkFilter struct {
	EntityType EntityType `json:"entity_type,omitempty"`
	ScopeID    string     `json:"scope_id,omitempty"`
}

// Matches reports whether the chunk passes the filter
func (f *ChunkFilter) Matches(c *DocumentChunk) bool {
	if f == nil {
		return true
	}
	if f.EntityType != "" && c.Metadata.EntityType != f.EntityType {
		return false
	}
	if f.ScopeID != "" && c.Metadata.ScopeID != f.ScopeID && !(c.Metadata.EntityType == EntityTypeSite && c.Metadata.EntityID == f.ScopeID) {
		return false
	}
	return true
}

// ScoredChunk is a query result
type ScoredChunk struct {
	Chunk *DocumentChunk `json:"chunk"`
	Score float64        `json:"score"`
}
