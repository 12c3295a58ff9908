// Package worker consumes tasks from the work queue and turns each uploaded
// image into a finished record: detect, generate, persist, acknowledge.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/artify-labs/artify/internal/ai"
	"github.com/artify-labs/artify/internal/interpret"
	"github.com/artify-labs/artify/internal/queue"
	"github.com/artify-labs/artify/internal/retry"
	"github.com/artify-labs/artify/internal/store"
	"github.com/artify-labs/artify/internal/vision"
	"github.com/artify-labs/artify/pkg/models"
	"github.com/google/uuid"
)

// Store is the part of the record store the workers use.
type Store interface {
	GetRecord(ctx context.Context, id uuid.UUID) (*models.Record, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, to models.Status, opts ...store.UpdateOption) error
	EnrichRecord(ctx context.Context, id uuid.UUID, e store.Enrichment) error
}

// Invalidator drops cached record snapshots.
type Invalidator interface {
	InvalidateRecord(ctx context.Context, id uuid.UUID) error
}

type Config struct {
	PostprocessQueue   string
	PostprocessEnabled bool

	Style    string // generation style when labels were detected
	Fallback string // interpretation used when generation gives nothing usable

	RetryAttempts   int
	RetryDelay      time.Duration
	DetectTimeout   time.Duration
	GenerateTimeout time.Duration
	StoreTimeout    time.Duration

	Rules interpret.Rules
}

// Processor handles one task message at a time.
type Processor struct {
	store     Store
	detector  vision.Detector
	generator ai.Generator
	cache     Invalidator     // may be nil
	publisher queue.Publisher // may be nil
	cfg       Config
}

func NewProcessor(s Store, d vision.Detector, g ai.Generator, c Invalidator, p queue.Publisher, cfg Config) *Processor {
	if cfg.Fallback == "" {
		cfg.Fallback = interpret.FallbackInterpretation
	}
	if cfg.Style == "" {
		cfg.Style = interpret.DefaultStyle
	}
	if cfg.Rules.MaxSentences == 0 && cfg.Rules.MinLength == 0 && cfg.Rules.StopMarkers == nil {
		cfg.Rules = interpret.DefaultRules()
	}
	return &Processor{store: s, detector: d, generator: g, cache: c, publisher: p, cfg: cfg}
}

// Handle processes one delivery and says whether to acknowledge it. A message
// is requeued only when its outcome could not be made durable.
func (p *Processor) Handle(ctx context.Context, d queue.Delivery) (disp queue.Disposition) {
	task, err := queue.DecodeTask(d.Body)
	if err != nil {
		if task.ID == uuid.Nil {
			slog.Error("dropping undecodable task", "error", err)
			return queue.Ack
		}
		slog.Error("malformed task", "job_id", task.ID, "error", err)
		return p.fail(ctx, task.ID, "MalformedMessage: "+err.Error())
	}

	log := slog.With("job_id", task.ID)
	log.Info("task received", "filename", task.Filename, "bytes", len(task.Image), "redelivered", d.Redelivered)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing task", "error", r)
			disp = p.fail(ctx, task.ID, fmt.Sprintf("panic: %v", r))
		}
	}()

	rec, err := p.getRecord(ctx, task.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Warn("no record for task, dropping")
		return queue.Ack
	case err != nil:
		log.Error("record lookup failed, requeueing", "error", err)
		return queue.Requeue
	case rec.Status.IsTerminal():
		log.Info("record already finished, skipping", "status", rec.Status)
		return queue.Ack
	}

	if err := p.updateStatus(ctx, task.ID, models.StatusProcessing); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		log.Warn("failed to mark record processing", "error", err)
	}

	objects, text := p.interpret(ctx, log, task)

	err = p.updateStatus(ctx, task.ID, models.StatusCompleted,
		store.WithObjects(objects), store.WithInterpretation(text))
	switch {
	case errors.Is(err, store.ErrInvalidTransition):
		log.Info("record finished by another worker")
		return queue.Ack
	case err != nil:
		log.Error("failed to persist result", "error", err)
		return p.fail(ctx, task.ID, "PersistError: "+err.Error())
	}

	log.Info("task completed", "objects", len(objects))
	p.afterComplete(ctx, log, task.ID, objects, text)
	return queue.Ack
}

// interpret runs detection and generation. Collaborator failures never fail
// the job: no detections means an empty label set and no usable text means
// the fallback interpretation.
func (p *Processor) interpret(ctx context.Context, log *slog.Logger, task queue.Task) ([]string, string) {
	labels := interpret.DedupeLabels(p.detect(ctx, log, task))

	prompt := interpret.BuildPrompt(labels)
	req := ai.Request{Labels: labels, Style: interpret.StyleFor(labels, p.cfg.Style), Prompt: prompt}

	res, err := retry.DoValue(ctx, p.policy(log, "generate"), func(ctx context.Context) (ai.Result, error) {
		ctx, cancel := withTimeout(ctx, p.cfg.GenerateTimeout)
		defer cancel()
		return p.generator.Generate(ctx, req)
	})
	if err != nil {
		log.Warn("generation failed, using fallback", "provider", p.generator.Name(), "error", err)
		return labels, p.cfg.Fallback
	}

	text, ok := interpret.Clean(res.Text, prompt, p.cfg.Rules)
	if !ok {
		log.Warn("generated text unusable after cleanup, using fallback", "provider", res.Provider, "raw_len", len(res.Text))
		return labels, p.cfg.Fallback
	}
	return labels, text
}

func (p *Processor) detect(ctx context.Context, log *slog.Logger, task queue.Task) []string {
	img := vision.Image{Filename: task.Filename, ContentType: task.ContentType, Data: task.Image}

	dets, err := retry.DoValue(ctx, p.policy(log, "detect"), func(ctx context.Context) ([]models.Detection, error) {
		ctx, cancel := withTimeout(ctx, p.cfg.DetectTimeout)
		defer cancel()
		return p.detector.Detect(ctx, img)
	})
	if err != nil {
		log.Warn("detection failed, continuing without labels", "error", err)
		return []string{}
	}
	return vision.Labels(dets)
}

func (p *Processor) policy(log *slog.Logger, op string) retry.Policy {
	return retry.Policy{
		Attempts: p.cfg.RetryAttempts,
		Delay:    p.cfg.RetryDelay,
		Retryable: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
		OnRetry: func(err error, attempt int, wait time.Duration) {
			log.Warn(op+" attempt failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		},
	}
}

// fail records a terminal failure. If the write cannot be made, the message
// goes back on the queue so the job is not lost.
func (p *Processor) fail(ctx context.Context, id uuid.UUID, msg string) queue.Disposition {
	err := p.updateStatus(ctx, id, models.StatusFailed, store.WithErrorMessage(msg))
	switch {
	case err == nil:
		p.invalidate(ctx, id)
		return queue.Ack
	case errors.Is(err, store.ErrInvalidTransition), errors.Is(err, store.ErrNotFound):
		return queue.Ack
	default:
		slog.Error("could not record failure, requeueing", "job_id", id, "error", err)
		return queue.Requeue
	}
}

func (p *Processor) getRecord(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	ctx, cancel := withTimeout(ctx, p.cfg.StoreTimeout)
	defer cancel()
	return p.store.GetRecord(ctx, id)
}

func (p *Processor) updateStatus(ctx context.Context, id uuid.UUID, to models.Status, opts ...store.UpdateOption) error {
	ctx, cancel := withTimeout(ctx, p.cfg.StoreTimeout)
	defer cancel()
	return p.store.UpdateStatus(ctx, id, to, opts...)
}

func (p *Processor) afterComplete(ctx context.Context, log *slog.Logger, id uuid.UUID, objects []string, text string) {
	p.invalidate(ctx, id)

	if !p.cfg.PostprocessEnabled || p.publisher == nil {
		return
	}
	body, err := queue.EncodePostprocess(id, objects, text)
	if err != nil {
		log.Warn("encode postprocess message", "error", err)
		return
	}
	if err := p.publisher.Publish(ctx, p.cfg.PostprocessQueue, body); err != nil {
		log.Warn("postprocess publish failed", "error", err)
	}
}

func (p *Processor) invalidate(ctx context.Context, id uuid.UUID) {
	if p.cache == nil {
		return
	}
	if err := p.cache.InvalidateRecord(ctx, id); err != nil {
		slog.Warn("record cache invalidation failed", "job_id", id, "error", err)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
