package store

import (
	"context"
	"errors"

	"github.com/artify-labs/artify/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidTransition is returned when a status update would break the record lifecycle,
// most importantly when it would move a terminal record anywhere else.
var ErrInvalidTransition = errors.New("invalid status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateRecord(ctx context.Context, rec *models.Record) error
	GetRecord(ctx context.Context, id uuid.UUID) (*models.Record, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]*models.Record, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, to models.Status, opts ...UpdateOption) error
	EnrichRecord(ctx context.Context, id uuid.UUID, e Enrichment) error
	DeleteRecord(ctx context.Context, id uuid.UUID) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, ownerID string) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

// RecordFilter selects a page of records. An empty OwnerID matches every owner.
type RecordFilter struct {
	OwnerID string
	Status  models.Status
	Page    int
	Limit   int
}

// Enrichment is the output of the postprocess stage.
type Enrichment struct {
	PostSummary string
	Keywords    []string
}

// allowedFrom maps a target status to the statuses it may be entered from.
var allowedFrom = map[models.Status][]models.Status{
	models.StatusQueued:     {models.StatusPending},
	models.StatusProcessing: {models.StatusPending, models.StatusQueued},
	models.StatusCompleted:  {models.StatusPending, models.StatusQueued, models.StatusProcessing},
	models.StatusFailed:     {models.StatusPending, models.StatusQueued, models.StatusProcessing},
}

// CanTransition reports whether a record in status from may move to status to.
func CanTransition(from, to models.Status) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

type updateParams struct {
	Objects        []string
	Interpretation *string
	ErrorMessage   *string
}

type UpdateOption func(*updateParams)

func WithObjects(objects []string) UpdateOption {
	return func(p *updateParams) {
		p.Objects = objects
	}
}

func WithInterpretation(text string) UpdateOption {
	return func(p *updateParams) {
		p.Interpretation = &text
	}
}

func WithErrorMessage(msg string) UpdateOption {
	return func(p *updateParams) {
		p.ErrorMessage = &msg
	}
}

// ApplyUpdate applies opts to rec as UpdateStatus would. In-memory stores use it
// so that they stay in step with the Postgres implementation.
func ApplyUpdate(rec *models.Record, to models.Status, opts ...UpdateOption) {
	params := &updateParams{}
	for _, opt := range opts {
		opt(params)
	}
	rec.Status = to
	if params.Objects != nil {
		rec.Objects = params.Objects
	}
	if params.Interpretation != nil {
		rec.Interpretation = params.Interpretation
	}
	if params.ErrorMessage != nil {
		rec.Error = params.ErrorMessage
	}
}
