// Package models contains shared data models used across the Artify codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether s is completed or failed.
// Terminal records are never moved back to a non-terminal status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Record is the persisted state of one image-interpretation job, keyed by job ID.
// The gateway creates it as pending; exactly one worker moves it to a terminal status.
type Record struct {
	ID             uuid.UUID `db:"id"             json:"id"`
	OwnerID        string    `db:"owner_id"       json:"owner_id"`
	Filename       string    `db:"filename"       json:"filename"`
	ContentType    string    `db:"content_type"   json:"content_type"`
	Status         Status    `db:"status"         json:"status"`
	Objects        []string  `db:"objects"        json:"objects"`
	Interpretation *string   `db:"interpretation" json:"interpretation,omitempty"`
	Error          *string   `db:"error_message"  json:"error,omitempty"`

	// Filled by the postprocess stage after completion.
	PostSummary     *string    `db:"post_summary"     json:"post_summary,omitempty"`
	Keywords        []string   `db:"keywords"         json:"keywords,omitempty"`
	PostprocessedAt *time.Time `db:"postprocessed_at" json:"postprocessed_at,omitempty"`

	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}
