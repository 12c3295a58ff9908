package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/artify-labs/artify/internal/interpret"
	"github.com/artify-labs/artify/internal/queue"
	"github.com/artify-labs/artify/internal/store"
)

// Postprocessor enriches completed records with a one-sentence summary and
// keywords. It never changes a record's status.
type Postprocessor struct {
	store        Store
	cache        Invalidator // may be nil
	storeTimeout time.Duration
}

// NewPostprocessor creates a Postprocessor. storeTimeout bounds the enrichment
// write; zero means no deadline beyond the caller's.
func NewPostprocessor(s Store, c Invalidator, storeTimeout time.Duration) *Postprocessor {
	return &Postprocessor{store: s, cache: c, storeTimeout: storeTimeout}
}

func (p *Postprocessor) Handle(ctx context.Context, d queue.Delivery) queue.Disposition {
	msg, id, err := queue.DecodePostprocess(d.Body)
	if err != nil {
		slog.Error("dropping malformed postprocess message", "error", err)
		return queue.Ack
	}

	e := store.Enrichment{
		PostSummary: interpret.Summarize(msg.Interpretation),
		Keywords:    interpret.Keywords(msg.Objects),
	}
	storeCtx, cancel := withTimeout(ctx, p.storeTimeout)
	err = p.store.EnrichRecord(storeCtx, id, e)
	cancel()
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrInvalidTransition):
		slog.Warn("record not eligible for enrichment", "job_id", id, "error", err)
		return queue.Ack
	default:
		slog.Error("enrichment failed, requeueing", "job_id", id, "error", err)
		return queue.Requeue
	}

	if p.cache != nil {
		if err := p.cache.InvalidateRecord(ctx, id); err != nil {
			slog.Warn("record cache invalidation failed", "job_id", id, "error", err)
		}
	}
	slog.Info("record enriched", "job_id", id, "keywords", len(e.Keywords))
	return queue.Ack
}
