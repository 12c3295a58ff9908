// Package mock provides an in-memory store.Store for tests.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/artify-labs/artify/internal/store"
	"github.com/artify-labs/artify/pkg/models"
	"github.com/google/uuid"
)

// Update records one successful UpdateStatus call.
type Update struct {
	ID uuid.UUID
	To models.Status
}

// MemStore is a goroutine-safe in-memory Store that follows the same
// transition rules as the Postgres implementation. The *Err fields, when set,
// are returned by the matching method instead of touching state.
type MemStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.Record
	keys    []*models.APIKey
	updates []Update

	PingErr   error
	CreateErr error
	GetErr    error
	ListErr   error
	UpdateErr error
	EnrichErr error

	// UpdateHook runs before every UpdateStatus; a non-nil result is returned
	// as the call's error.
	UpdateHook func(id uuid.UUID, to models.Status) error
}

func New() *MemStore {
	return &MemStore{records: make(map[uuid.UUID]*models.Record)}
}

// Put stores rec as-is, bypassing transition checks.
func (m *MemStore) Put(rec *models.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = clone(rec)
}

// Record returns a copy of the stored record, or nil.
func (m *MemStore) Record(id uuid.UUID) *models.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		return clone(rec)
	}
	return nil
}

// Len returns the number of stored records.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Updates returns every successful status change in order.
func (m *MemStore) Updates() []Update {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Update(nil), m.updates...)
}

func (m *MemStore) Ping(_ context.Context) error { return m.PingErr }

func (m *MemStore) CreateRecord(_ context.Context, rec *models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if _, ok := m.records[rec.ID]; ok {
		return store.ErrDuplicateKey
	}
	m.records[rec.ID] = clone(rec)
	return nil
}

func (m *MemStore) GetRecord(_ context.Context, id uuid.UUID) (*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(rec), nil
}

func (m *MemStore) ListRecords(_ context.Context, f store.RecordFilter) ([]*models.Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, 0, m.ListErr
	}

	var out []*models.Record
	for _, rec := range m.records {
		if f.OwnerID != "" && rec.OwnerID != f.OwnerID {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		out = append(out, clone(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})

	total := len(out)
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= total {
		return []*models.Record{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return out[start:end], total, nil
}

func (m *MemStore) UpdateStatus(_ context.Context, id uuid.UUID, to models.Status, opts ...store.UpdateOption) error {
	if m.UpdateHook != nil {
		if err := m.UpdateHook(id, to); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	rec, ok := m.records[id]
	if !ok {
		return store.ErrNotFound
	}
	if !store.CanTransition(rec.Status, to) {
		return store.ErrInvalidTransition
	}

	store.ApplyUpdate(rec, to, opts...)
	now := time.Now().UTC()
	rec.UpdatedAt = now
	if to.IsTerminal() {
		rec.ProcessedAt = &now
	}
	m.updates = append(m.updates, Update{ID: id, To: to})
	return nil
}

func (m *MemStore) EnrichRecord(_ context.Context, id uuid.UUID, e store.Enrichment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EnrichErr != nil {
		return m.EnrichErr
	}
	rec, ok := m.records[id]
	if !ok {
		return store.ErrNotFound
	}
	if rec.Status != models.StatusCompleted {
		return store.ErrInvalidTransition
	}
	summary := e.PostSummary
	now := time.Now().UTC()
	rec.PostSummary = &summary
	rec.Keywords = append([]string{}, e.Keywords...)
	rec.PostprocessedAt = &now
	rec.UpdatedAt = now
	return nil
}

func (m *MemStore) DeleteRecord(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *MemStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.keys {
		if k.KeyPrefix == prefix && k.Active() {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *MemStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.ID == id {
			now := time.Now().UTC()
			k.LastUsedAt = &now
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *MemStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.Active() && k.OwnerID == key.OwnerID && k.Name == key.Name {
			return store.ErrDuplicateKey
		}
	}
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	m.keys = append(m.keys, key)
	return nil
}

func (m *MemStore) ListAPIKeys(_ context.Context, ownerID string) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.keys {
		if k.OwnerID == ownerID && k.Active() {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *MemStore) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.ID == id && k.Active() {
			now := time.Now().UTC()
			k.DeletedAt = &now
			return nil
		}
	}
	return store.ErrNotFound
}

func clone(rec *models.Record) *models.Record {
	c := *rec
	c.Objects = append([]string{}, rec.Objects...)
	if rec.Keywords != nil {
		c.Keywords = append([]string{}, rec.Keywords...)
	}
	return &c
}

var _ store.Store = (*MemStore)(nil)
