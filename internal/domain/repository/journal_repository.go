package repository

import (
	"context"
	"time"
)

// JournalRecord is one workflow transition
type JournalRecord struct {
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"session_id"`
	Key       string    `json:"key"`
	Op        string    `json:"op"`             // start, update, generate, revise, approve, complete, navigate, reset
	Step      string    `json:"step,omitempty"` // Generated step for generate/revise, else the current step after the operation
	FromStep  string    `json:"from_step,omitempty"`
	Version   int       `json:"version,omitempty"` // Artifact version stored by generate/revise
}

// JournalFilter narrows a journal read. Zero values match everything.
type JournalFilter struct {
	Key       string
	SessionID string
	// Limit keeps only the newest records
	Limit int
}

// JournalRepository is an append-only log of workflow transitions
type JournalRepository interface {
	// Append adds a new record to the journal
	Append(ctx context.Context, record JournalRecord) error

	// Load returns matching records, oldest first
	Load(ctx context.Context, filter JournalFilter) ([]JournalRecord, error)
}
