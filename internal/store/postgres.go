package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artify-labs/artify/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Records ---

const recordColumns = `id, owner_id, filename, content_type, status, objects, interpretation, error_message,
	post_summary, keywords, postprocessed_at, created_at, updated_at, processed_at`

func scanRecord(row pgx.Row) (*models.Record, error) {
	var r models.Record
	var status string
	if err := row.Scan(&r.ID, &r.OwnerID, &r.Filename, &r.ContentType, &status, &r.Objects,
		&r.Interpretation, &r.Error, &r.PostSummary, &r.Keywords, &r.PostprocessedAt,
		&r.CreatedAt, &r.UpdatedAt, &r.ProcessedAt); err != nil {
		return nil, err
	}
	r.Status = models.Status(status)
	if r.Objects == nil {
		r.Objects = []string{}
	}
	return &r, nil
}

func (s *PostgresStore) CreateRecord(ctx context.Context, rec *models.Record) error {
	objects := rec.Objects
	if objects == nil {
		objects = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO records (id, owner_id, filename, content_type, status, objects, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.OwnerID, rec.Filename, rec.ContentType, string(rec.Status), objects,
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) ([]*models.Record, int, error) {
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if filter.OwnerID != "" {
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", argIdx))
		args = append(args, filter.OwnerID)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(filter.Status))
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM records WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM records WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		recordColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := []*models.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// UpdateStatus moves a record to status to. The transition check is part of the
// UPDATE itself, so two workers racing on the same record cannot both win.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id uuid.UUID, to models.Status, opts ...UpdateOption) error {
	from, ok := allowedFrom[to]
	if !ok {
		return fmt.Errorf("%w: nothing may move to %q", ErrInvalidTransition, to)
	}

	params := &updateParams{}
	for _, opt := range opts {
		opt(params)
	}

	now := time.Now().UTC()
	query := `UPDATE records SET status = $2, updated_at = $3`
	args := []any{id, string(to), now}
	argIdx := 4

	if to.IsTerminal() {
		query += fmt.Sprintf(", processed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.Objects != nil {
		query += fmt.Sprintf(", objects = $%d", argIdx)
		args = append(args, params.Objects)
		argIdx++
	}
	if params.Interpretation != nil {
		query += fmt.Sprintf(", interpretation = $%d", argIdx)
		args = append(args, *params.Interpretation)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}

	query += fmt.Sprintf(" WHERE id = $1 AND status = ANY($%d)", argIdx)
	args = append(args, statusStrings(from))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update record status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	current, err := s.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
}

// EnrichRecord stores postprocess output. Only completed records can be enriched.
func (s *PostgresStore) EnrichRecord(ctx context.Context, id uuid.UUID, e Enrichment) error {
	keywords := e.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE records SET post_summary = $2, keywords = $3, postprocessed_at = $4, updated_at = $4
		 WHERE id = $1 AND status = $5`,
		id, e.PostSummary, keywords, time.Now().UTC(), string(models.StatusCompleted))
	if err != nil {
		return fmt.Errorf("enrich record: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	current, err := s.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: cannot enrich a %s record", ErrInvalidTransition, current)
}

func (s *PostgresStore) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) currentStatus(ctx context.Context, id uuid.UUID) (models.Status, error) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM records WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get record status: %w", err)
	}
	return models.Status(status), nil
}

func statusStrings(statuses []models.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// --- API Keys ---

const apiKeyColumns = `id, owner_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	scopes := key.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, owner_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.OwnerID, key.Name, key.KeyHash, key.KeyPrefix, scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, ownerID string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE owner_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.OwnerID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
