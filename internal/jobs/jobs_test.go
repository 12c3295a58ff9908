package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	cachemock "github.com/artify-labs/artify/internal/cache/mock"
	"github.com/artify-labs/artify/internal/jobs"
	"github.com/artify-labs/artify/internal/queue"
	queuemock "github.com/artify-labs/artify/internal/queue/mock"
	"github.com/artify-labs/artify/internal/store"
	storemock "github.com/artify-labs/artify/internal/store/mock"
	"github.com/artify-labs/artify/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const taskQueue = "task_queue"

var jpeg = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00fake-jpeg-body")

type fixture struct {
	svc    *jobs.Service
	store  *storemock.MemStore
	cache  *cachemock.MemCache
	broker *queuemock.Broker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: storemock.New(), cache: cachemock.New(), broker: queuemock.NewBroker()}
	f.svc = jobs.NewService(f.store, f.cache, f.broker, jobs.Config{
		TaskQueue:            taskQueue,
		MaxUploadBytes:       1024,
		AcceptedContentTypes: []string{"image/jpeg", "image/png"},
		CacheTTL:             time.Minute,
	})
	return f
}

// ========================================
// Submit
// ========================================

func TestSubmit_CreatesQueuedRecordAndPublishes(t *testing.T) {
	f := newFixture(t)

	rec, err := f.svc.Submit(context.Background(), jobs.SubmitRequest{
		OwnerID: "alice", Filename: "cat.jpg", ContentType: "image/jpeg", Data: jpeg,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, rec.Status)
	assert.NotEqual(t, uuid.Nil, rec.ID)

	stored := f.store.Record(rec.ID)
	require.NotNil(t, stored)
	assert.Equal(t, models.StatusQueued, stored.Status)
	assert.Equal(t, "alice", stored.OwnerID)
	assert.Equal(t, "cat.jpg", stored.Filename)
	assert.False(t, stored.CreatedAt.IsZero())

	msgs := f.broker.Pending(taskQueue)
	require.Len(t, msgs, 1)
	task, err := queue.DecodeTask(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, rec.ID, task.ID)
	assert.Equal(t, jpeg, task.Image)
	assert.Equal(t, "image/jpeg", task.ContentType)

	assert.Equal(t, []storemock.Update{{ID: rec.ID, To: models.StatusQueued}}, f.store.Updates())
}

func TestSubmit_RecordExistsBeforePublish(t *testing.T) {
	f := newFixture(t)
	var statusAtPublish models.Status
	pub := publisherFunc(func(_ context.Context, _ string, body []byte) error {
		task, err := queue.DecodeTask(body)
		require.NoError(t, err)
		statusAtPublish = f.store.Record(task.ID).Status
		return nil
	})
	svc := jobs.NewService(f.store, nil, pub, jobs.Config{
		TaskQueue: taskQueue, MaxUploadBytes: 1024, AcceptedContentTypes: []string{"image/jpeg"},
	})

	_, err := svc.Submit(context.Background(), jobs.SubmitRequest{Filename: "a.jpg", Data: jpeg})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, statusAtPublish)
}

func TestSubmit_EmptyPayload(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Submit(context.Background(), jobs.SubmitRequest{Filename: "x.jpg"})
	assert.ErrorIs(t, err, jobs.ErrEmptyPayload)
	assert.Zero(t, f.store.Len())
	assert.Empty(t, f.broker.Pending(taskQueue))
}

func TestSubmit_TooLarge_NoRecordNoMessage(t *testing.T) {
	f := newFixture(t)
	big := append(append([]byte{}, jpeg...), make([]byte, 2048)...)

	_, err := f.svc.Submit(context.Background(), jobs.SubmitRequest{Filename: "big.jpg", ContentType: "image/jpeg", Data: big})
	assert.ErrorIs(t, err, jobs.ErrPayloadTooLarge)
	assert.Zero(t, f.store.Len())
	assert.Empty(t, f.broker.Pending(taskQueue))
}

func TestSubmit_ContentType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	tests := []struct {
		name     string
		declared string
		data     []byte
		want     string
		wantErr  error
	}{
		{"declared accepted", "image/png", png, "image/png", nil},
		{"declared with params", "image/jpeg; q=1", jpeg, "image/jpeg", nil},
		{"missing is sniffed", "", jpeg, "image/jpeg", nil},
		{"octet-stream is sniffed", "application/octet-stream", png, "image/png", nil},
		{"declared rejected", "image/gif", jpeg, "", jobs.ErrUnsupportedMediaType},
		{"sniffed rejected", "", []byte("just some text"), "", jobs.ErrUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec, err := f.svc.Submit(context.Background(), jobs.SubmitRequest{
				Filename: "f", ContentType: tt.declared, Data: tt.data,
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, f.store.Len())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.ContentType)
		})
	}
}

func TestSubmit_PublishFailureCompensates(t *testing.T) {
	f := newFixture(t)
	f.broker.PublishErr = errors.New("broker gone")

	rec, err := f.svc.Submit(context.Background(), jobs.SubmitRequest{Filename: "cat.jpg", Data: jpeg})
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, queue.ErrQueueUnavailable)

	require.Equal(t, 1, f.store.Len())
	updates := f.store.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, models.StatusFailed, updates[0].To)

	stored := f.store.Record(updates[0].ID)
	require.NotNil(t, stored.Error)
	assert.Contains(t, *stored.Error, "QueuePublishError")
	assert.Contains(t, *stored.Error, "broker gone")
}

func TestSubmit_QueuedTransitionLosesRaceToWorker(t *testing.T) {
	f := newFixture(t)
	f.store.UpdateHook = func(id uuid.UUID, to models.Status) error {
		if to == models.StatusQueued {
			return store.ErrInvalidTransition
		}
		return nil
	}

	rec, err := f.svc.Submit(context.Background(), jobs.SubmitRequest{Filename: "cat.jpg", Data: jpeg})
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, rec.Status)
}

func TestSubmit_StoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.CreateErr = errors.New("db down")

	_, err := f.svc.Submit(context.Background(), jobs.SubmitRequest{Filename: "cat.jpg", Data: jpeg})
	assert.Error(t, err)
	assert.Empty(t, f.broker.Pending(taskQueue))
}

func TestSubmit_CancelledClientStillFinishes(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	pub := publisherFunc(func(ctx context.Context, q string, body []byte) error {
		cancel()
		return f.broker.Publish(ctx, q, body)
	})
	svc := jobs.NewService(f.store, nil, pub, jobs.Config{
		TaskQueue: taskQueue, MaxUploadBytes: 1024, AcceptedContentTypes: []string{"image/jpeg"},
	})

	rec, err := svc.Submit(ctx, jobs.SubmitRequest{Filename: "a.jpg", Data: jpeg})
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, f.store.Record(rec.ID).Status)
}

// stalledStore never answers the stalled calls until their context is done.
type stalledStore struct {
	*storemock.MemStore
	stallCreate bool
	stallGet    bool
}

func (s *stalledStore) CreateRecord(ctx context.Context, rec *models.Record) error {
	if s.stallCreate {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.MemStore.CreateRecord(ctx, rec)
}

func (s *stalledStore) GetRecord(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	if s.stallGet {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.MemStore.GetRecord(ctx, id)
}

func TestSubmit_StalledStoreTimesOut(t *testing.T) {
	f := newFixture(t)
	st := &stalledStore{MemStore: f.store, stallCreate: true}
	svc := jobs.NewService(st, nil, f.broker, jobs.Config{
		TaskQueue: taskQueue, MaxUploadBytes: 1024, AcceptedContentTypes: []string{"image/jpeg"},
		StoreTimeout: 50 * time.Millisecond,
	})

	start := time.Now()
	_, err := svc.Submit(context.Background(), jobs.SubmitRequest{Filename: "a.jpg", Data: jpeg})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Empty(t, f.broker.Pending(taskQueue))
}

func TestGetStatus_StalledStoreTimesOut(t *testing.T) {
	f := newFixture(t)
	st := &stalledStore{MemStore: f.store, stallGet: true}
	svc := jobs.NewService(st, nil, f.broker, jobs.Config{StoreTimeout: 50 * time.Millisecond})

	_, err := svc.GetStatus(context.Background(), uuid.New())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ========================================
// GetStatus
// ========================================

func TestGetStatus_PendingReadableImmediately(t *testing.T) {
	f := newFixture(t)
	rec := &models.Record{ID: uuid.New(), Status: models.StatusPending, Objects: []string{}}
	f.store.Put(rec)

	got, err := f.svc.GetStatus(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.False(t, f.cache.HasRecord(rec.ID), "in-flight records are not cached")
}

func TestGetStatus_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetStatus(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetStatus_CachesTerminalRecords(t *testing.T) {
	f := newFixture(t)
	text := "A cat symbolizes independence."
	rec := &models.Record{ID: uuid.New(), Status: models.StatusCompleted, Objects: []string{"cat"}, Interpretation: &text}
	f.store.Put(rec)

	_, err := f.svc.GetStatus(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.True(t, f.cache.HasRecord(rec.ID))

	// Served from the cache once the store is unavailable.
	f.store.GetErr = errors.New("db down")
	got, err := f.svc.GetStatus(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, []string{"cat"}, got.Objects)
}

func TestGetStatus_CompletedRecordCachedOnlyAfterEnrichment(t *testing.T) {
	f := newFixture(t)
	svc := jobs.NewService(f.store, f.cache, f.broker, jobs.Config{
		CacheTTL: time.Minute, PostprocessEnabled: true,
	})
	text := "An owl watches over hidden knowledge."
	rec := &models.Record{ID: uuid.New(), Status: models.StatusCompleted, Objects: []string{"owl"}, Interpretation: &text}
	f.store.Put(rec)

	_, err := svc.GetStatus(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.False(t, f.cache.HasRecord(rec.ID), "enrichment still due")

	summary := "An owl watches over hidden knowledge."
	now := time.Now().UTC()
	enriched := *rec
	enriched.PostSummary = &summary
	enriched.Keywords = []string{"owl"}
	enriched.PostprocessedAt = &now
	f.store.Put(&enriched)

	got, err := svc.GetStatus(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, &summary, got.PostSummary)
	assert.True(t, f.cache.HasRecord(rec.ID))
}

func TestGetStatus_FailedRecordCachedWithPostprocessEnabled(t *testing.T) {
	f := newFixture(t)
	svc := jobs.NewService(f.store, f.cache, f.broker, jobs.Config{
		CacheTTL: time.Minute, PostprocessEnabled: true,
	})
	rec := &models.Record{ID: uuid.New(), Status: models.StatusFailed, Objects: []string{}}
	f.store.Put(rec)

	_, err := svc.GetStatus(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.True(t, f.cache.HasRecord(rec.ID))
}

func TestGetStatus_IgnoresNonTerminalCacheEntry(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	require.NoError(t, f.cache.SetRecord(context.Background(), &models.Record{ID: id, Status: models.StatusQueued}, time.Minute))
	f.store.Put(&models.Record{ID: id, Status: models.StatusProcessing, Objects: []string{}})

	got, err := f.svc.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
}

func TestGetStatus_CacheErrorFallsBackToStore(t *testing.T) {
	f := newFixture(t)
	f.cache.Err = errors.New("redis down")
	rec := &models.Record{ID: uuid.New(), Status: models.StatusFailed, Objects: []string{}}
	f.store.Put(rec)

	got, err := f.svc.GetStatus(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

// ========================================
// ListHistory
// ========================================

func seedHistory(f *fixture, owner string, n int) []uuid.UUID {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := make([]uuid.UUID, n)
	for i := 0; i < n; i++ {
		ids[i] = uuid.New()
		f.store.Put(&models.Record{
			ID: ids[i], OwnerID: owner, Status: models.StatusCompleted,
			Objects: []string{}, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return ids
}

func TestListHistory_NewestFirstAndPaginated(t *testing.T) {
	f := newFixture(t)
	ids := seedHistory(f, "alice", 5)
	seedHistory(f, "bob", 3)

	h, err := f.svc.ListHistory(context.Background(), jobs.HistoryQuery{OwnerID: "alice", Page: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, h.Records, 2)
	assert.Equal(t, ids[4], h.Records[0].ID)
	assert.Equal(t, ids[3], h.Records[1].ID)
	assert.Equal(t, 5, h.Total)
	assert.True(t, h.HasNext)

	h, err = f.svc.ListHistory(context.Background(), jobs.HistoryQuery{OwnerID: "alice", Page: 3, Limit: 2})
	require.NoError(t, err)
	require.Len(t, h.Records, 1)
	assert.Equal(t, ids[0], h.Records[0].ID)
	assert.False(t, h.HasNext)
}

func TestListHistory_Defaults(t *testing.T) {
	f := newFixture(t)
	h, err := f.svc.ListHistory(context.Background(), jobs.HistoryQuery{OwnerID: "nobody"})
	require.NoError(t, err)
	assert.Equal(t, 1, h.Page)
	assert.Equal(t, 20, h.Limit)
	assert.NotNil(t, h.Records)
	assert.Empty(t, h.Records)

	h, err = f.svc.ListHistory(context.Background(), jobs.HistoryQuery{OwnerID: "nobody", Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 100, h.Limit)
}

func TestListHistory_InvalidQuery(t *testing.T) {
	f := newFixture(t)
	bad := []jobs.HistoryQuery{
		{OwnerID: ""},
		{OwnerID: "a", Page: -1},
		{OwnerID: "a", Limit: -5},
		{OwnerID: "a", Status: "exploded"},
	}
	for _, q := range bad {
		_, err := f.svc.ListHistory(context.Background(), q)
		assert.ErrorIs(t, err, jobs.ErrInvalidQuery, "query=%+v", q)
	}
}

func TestHistoryRecordsSerializeWithStatus(t *testing.T) {
	f := newFixture(t)
	seedHistory(f, "alice", 1)
	h, err := f.svc.ListHistory(context.Background(), jobs.HistoryQuery{OwnerID: "alice", Status: models.StatusCompleted})
	require.NoError(t, err)

	data, err := json.Marshal(h.Records[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"completed"`)
}

// --- helpers ---

type publisherFunc func(ctx context.Context, queue string, body []byte) error

func (f publisherFunc) Publish(ctx context.Context, queue string, body []byte) error {
	return f(ctx, queue, body)
}
