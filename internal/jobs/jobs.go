// Package jobs is the request side of the pipeline: it accepts uploads,
// records them and hands them to the work queue, and answers status and
// history lookups.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/artify-labs/artify/internal/queue"
	"github.com/artify-labs/artify/internal/store"
	"github.com/artify-labs/artify/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	ErrEmptyPayload         = errors.New("empty payload")
	ErrPayloadTooLarge      = errors.New("payload too large")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrInvalidQuery         = errors.New("invalid query")
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// RecordStore is the part of the record store the service uses.
type RecordStore interface {
	CreateRecord(ctx context.Context, rec *models.Record) error
	GetRecord(ctx context.Context, id uuid.UUID) (*models.Record, error)
	ListRecords(ctx context.Context, filter store.RecordFilter) ([]*models.Record, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, to models.Status, opts ...store.UpdateOption) error
}

// RecordCache holds snapshots of terminal records.
type RecordCache interface {
	GetRecord(ctx context.Context, id uuid.UUID) (*models.Record, bool, error)
	SetRecord(ctx context.Context, rec *models.Record, ttl time.Duration) error
}

type Config struct {
	TaskQueue            string
	MaxUploadBytes       int64
	AcceptedContentTypes []string
	CacheTTL             time.Duration
	StoreTimeout         time.Duration // per store call; zero means none

	// PostprocessEnabled holds back caching completed records until they
	// have been enriched.
	PostprocessEnabled bool
}

// Service implements submission, status and history.
type Service struct {
	store    RecordStore
	cache    RecordCache // may be nil
	queue    queue.Publisher
	cfg      Config
	accepted map[string]bool
}

func NewService(s RecordStore, c RecordCache, p queue.Publisher, cfg Config) *Service {
	accepted := make(map[string]bool, len(cfg.AcceptedContentTypes))
	for _, ct := range cfg.AcceptedContentTypes {
		accepted[strings.ToLower(ct)] = true
	}
	return &Service{store: s, cache: c, queue: p, cfg: cfg, accepted: accepted}
}

// SubmitRequest is one uploaded image.
type SubmitRequest struct {
	OwnerID     string
	Filename    string
	ContentType string
	Data        []byte
}

// Submit validates the upload, creates a pending record, publishes the task
// and marks the record queued. The record exists before the message is
// published, so a worker never sees a job the store does not know.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.Record, error) {
	if len(req.Data) == 0 {
		return nil, ErrEmptyPayload
	}
	if s.cfg.MaxUploadBytes > 0 && int64(len(req.Data)) > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrPayloadTooLarge, len(req.Data), s.cfg.MaxUploadBytes)
	}
	contentType, err := s.resolveContentType(req.ContentType, req.Data)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &models.Record{
		ID:          uuid.New(),
		OwnerID:     req.OwnerID,
		Filename:    req.Filename,
		ContentType: contentType,
		Status:      models.StatusPending,
		Objects:     []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.createRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}

	body, err := queue.EncodeTask(rec, req.Data)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}

	// From here on the record exists; finish even if the client goes away.
	ctx = context.WithoutCancel(ctx)

	if err := s.queue.Publish(ctx, s.cfg.TaskQueue, body); err != nil {
		slog.Error("task publish failed", "job_id", rec.ID, "error", err)
		msg := "QueuePublishError: " + err.Error()
		if uerr := s.updateStatus(ctx, rec.ID, models.StatusFailed, store.WithErrorMessage(msg)); uerr != nil {
			slog.Error("failed to mark unpublished record failed", "job_id", rec.ID, "error", uerr)
		}
		if errors.Is(err, queue.ErrQueueUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", queue.ErrQueueUnavailable, err)
	}

	if err := s.updateStatus(ctx, rec.ID, models.StatusQueued); err != nil {
		// A worker may already have picked the job up.
		if !errors.Is(err, store.ErrInvalidTransition) {
			slog.Warn("failed to mark record queued", "job_id", rec.ID, "error", err)
		}
	}
	rec.Status = models.StatusQueued

	slog.Info("job submitted", "job_id", rec.ID, "owner_id", rec.OwnerID, "bytes", len(req.Data), "content_type", contentType)
	return rec, nil
}

// resolveContentType returns the media type to record for an upload. A
// missing or generic declared type is replaced by one sniffed from data.
func (s *Service) resolveContentType(declared string, data []byte) (string, error) {
	ct := ""
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			ct = strings.ToLower(mt)
		}
	}
	if ct == "" || ct == "application/octet-stream" {
		ct, _, _ = mime.ParseMediaType(http.DetectContentType(data))
	}
	if !s.accepted[ct] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMediaType, ct)
	}
	return ct, nil
}

// GetStatus returns the record for id. Final records are served from the
// cache when present; anything still in flight, including a completed record
// awaiting enrichment, is always read from the store.
func (s *Service) GetStatus(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	if s.cache != nil {
		rec, ok, err := s.cache.GetRecord(ctx, id)
		if err != nil {
			slog.Warn("record cache read failed", "job_id", id, "error", err)
		}
		if ok && s.cacheable(rec) {
			return rec, nil
		}
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	rec, err := s.store.GetRecord(storeCtx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.cacheable(rec) {
		if err := s.cache.SetRecord(ctx, rec, s.cfg.CacheTTL); err != nil {
			slog.Warn("record cache write failed", "job_id", id, "error", err)
		}
	}
	return rec, nil
}

// cacheable reports whether rec is final. A completed record is not final
// while enrichment is still due.
func (s *Service) cacheable(rec *models.Record) bool {
	if !rec.Status.IsTerminal() {
		return false
	}
	if s.cfg.PostprocessEnabled && rec.Status == models.StatusCompleted {
		return rec.PostprocessedAt != nil
	}
	return true
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func (s *Service) createRecord(ctx context.Context, rec *models.Record) error {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.store.CreateRecord(ctx, rec)
}

func (s *Service) updateStatus(ctx context.Context, id uuid.UUID, to models.Status, opts ...store.UpdateOption) error {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.store.UpdateStatus(ctx, id, to, opts...)
}

var validate = validator.New()

// HistoryQuery selects one page of an owner's records.
type HistoryQuery struct {
	OwnerID string        `validate:"required"`
	Status  models.Status `validate:"omitempty,oneof=pending queued processing completed failed"`
	Page    int           `validate:"min=0"`
	Limit   int           `validate:"min=0"`
}

// History is one page of records, newest first.
type History struct {
	Records []*models.Record
	Page    int
	Limit   int
	Total   int
	HasNext bool
}

// ListHistory returns the owner's records most recent first. Page defaults to
// 1 and Limit to 20, capped at 100.
func (s *Service) ListHistory(ctx context.Context, q HistoryQuery) (*History, error) {
	if err := validate.Struct(q); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = defaultPageLimit
	}
	if q.Limit > maxPageLimit {
		q.Limit = maxPageLimit
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	recs, total, err := s.store.ListRecords(storeCtx, store.RecordFilter{
		OwnerID: q.OwnerID,
		Status:  q.Status,
		Page:    q.Page,
		Limit:   q.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	if recs == nil {
		recs = []*models.Record{}
	}

	return &History{
		Records: recs,
		Page:    q.Page,
		Limit:   q.Limit,
		Total:   total,
		HasNext: q.Page*q.Limit < total,
	}, nil
}
