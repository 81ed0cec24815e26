package models

import (
	"time"
)

// QueryContext optionally narrows retrieval for a question
type QueryContext struct {
	ScopeID    string     `json:"scope_id,omitempty"`
	EntityType EntityType `json:"entity_type,omitempty"`
	Limit      int        `json:"limit,omitempty"`
}

// RAGQuery is one user question
type RAGQuery struct {
	Question string        `json:"question"`
	UserID   string        `json:"user_id"`
	Context  *QueryContext `json:"context,omitempty"`
}

// RAGResponse is the grounded answer to a RAGQuery
type RAGResponse struct {
	Answer           string           `json:"answer"`
	Sources          []*DocumentChunk `json:"sources"`
	Scores           []float64        `json:"scores"`
	Confidence       float64          `json:"confidence"`
	Query            string           `json:"query"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
	Grounded         bool             `json:"grounded"`
}

// TypeReport counts the outcome of indexing one entity type
type TypeReport struct {
	EntityType EntityType `json:"entity_type"`
	Processed  int        `json:"processed"` // Chunks written by the type-level replace
	Skipped    int        `json:"skipped"`   // Entities without usable identity or text
	Failed     int        `json:"failed"`    // Entities whose embedding failed
	Reused     int        `json:"reused"`    // Unchanged entities whose stored embedding was kept
	Error      string     `json:"error,omitempty"`
}

// IndexReport summarises one indexing run
type IndexReport struct {
	RunID      string                     `json:"run_id"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
	DurationMs int64                      `json:"duration_ms"`
	Types      map[EntityType]*TypeReport `json:"types"`
}

// Totals sums the per-type counters
func (r *IndexReport) Totals() TypeReport {
	var total TypeReport
	if r == nil {
		return total
	}
	for _, t := range r.Types {
		total.Processed += t.Processed
		total.Skipped += t.Skipped
		total.Failed += t.Failed
		total.Reused += t.Reused
	}
	return total
}
