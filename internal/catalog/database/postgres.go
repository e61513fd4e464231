package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcpdex-dev/mcpdex/pkg/models"
)

// PostgreSQL is an implementation of the Store interface using PostgreSQL
type PostgreSQL struct {
	pool *pgxpool.Pool
}

// Documents live as JSONB with the filterable columns denormalized beside
// them, so reads stay one unmarshal and filters stay indexable.
const schema = `
CREATE TABLE IF NOT EXISTS merged_servers (
	canonical_id TEXT PRIMARY KEY,
	value        JSONB NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	conformance  TEXT NOT NULL DEFAULT 'unverified',
	stars        INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_merged_servers_display_name ON merged_servers (display_name);
CREATE INDEX IF NOT EXISTS idx_merged_servers_conformance ON merged_servers (conformance);
CREATE INDEX IF NOT EXISTS idx_merged_servers_stars ON merged_servers (stars DESC);

CREATE TABLE IF NOT EXISTS validation_requests (
	id                 TEXT PRIMARY KEY,
	canonical_id       TEXT NOT NULL,
	requester          TEXT NOT NULL,
	run_command        TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	secrets_ciphertext BYTEA,
	result             JSONB,
	error              TEXT NOT NULL DEFAULT '',
	retries            INTEGER NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_validation_requests_target ON validation_requests (canonical_id, requester);
CREATE INDEX IF NOT EXISTS idx_validation_requests_status ON validation_requests (status);

CREATE TABLE IF NOT EXISTS audit_entries (
	id         TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	actor      TEXT NOT NULL,
	action     TEXT NOT NULL,
	metadata   JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_request ON audit_entries (request_id, created_at);
`

// NewPostgreSQL creates a new instance of the PostgreSQL store
func NewPostgreSQL(ctx context.Context, connectionURI string) (*PostgreSQL, error) {
	config, err := pgxpool.ParseConfig(connectionURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}

	// Configure pool for stability-focused defaults
	config.MaxConns = 30
	config.MinConns = 5
	config.MaxConnIdleTime = 30 * time.Minute
	config.MaxConnLifetime = 2 * time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgreSQL{pool: pool}, nil
}

func (db *PostgreSQL) UpsertMergedServer(ctx context.Context, server *models.MergedServer) error {
	if server == nil || server.CanonicalID == "" {
		return fmt.Errorf("%w: missing canonical id", ErrInvalidInput)
	}

	record := *server

	// Preserve the fields a re-merge must not clobber: creation time and
	// any validation outcome already recorded on the row.
	existing, err := db.GetMergedServer(ctx, server.CanonicalID)
	switch {
	case err == nil:
		record.CreatedAt = existing.CreatedAt
		record.Conformance = existing.Conformance
		record.Capabilities = existing.Capabilities
		record.LastValidatedAt = existing.LastValidatedAt
		record.LastValidationError = existing.LastValidationError
	case errors.Is(err, ErrNotFound):
		if record.CreatedAt.IsZero() {
			record.CreatedAt = time.Now().UTC()
		}
	default:
		return err
	}
	if record.Conformance == "" {
		record.Conformance = models.ConformanceUnverified
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}

	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	_, err = db.pool.Exec(ctx, `
		INSERT INTO merged_servers (canonical_id, value, display_name, conformance, stars, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (canonical_id) DO UPDATE SET
			value = EXCLUDED.value,
			display_name = EXCLUDED.display_name,
			conformance = EXCLUDED.conformance,
			stars = EXCLUDED.stars,
			updated_at = EXCLUDED.updated_at`,
		record.CanonicalID, value, record.DisplayName, string(record.Conformance), record.Stars, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return nil
}

func (db *PostgreSQL) GetMergedServer(ctx context.Context, canonicalID string) (*models.MergedServer, error) {
	var value []byte
	err := db.pool.QueryRow(ctx,
		`SELECT value FROM merged_servers WHERE canonical_id = $1`, canonicalID).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	var server models.MergedServer
	if err := json.Unmarshal(value, &server); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return &server, nil
}

func (db *PostgreSQL) ListMergedServers(ctx context.Context, filter *ServerFilter, cursor string, limit int) ([]*models.MergedServer, string, error) {
	if limit <= 0 {
		limit = 30
	}

	query := `SELECT canonical_id, value FROM merged_servers`
	var conditions []string
	args := []any{}
	argIndex := 1

	addCondition := func(cond string, arg any) {
		conditions = append(conditions, fmt.Sprintf(cond, argIndex))
		args = append(args, arg)
		argIndex++
	}

	if filter != nil {
		if filter.SubstringName != nil {
			addCondition("display_name ILIKE $%d", "%"+*filter.SubstringName+"%")
		}
		if filter.Conformance != nil {
			addCondition("conformance = $%d", string(*filter.Conformance))
		}
		if filter.MinStars != nil {
			addCondition("stars >= $%d", *filter.MinStars)
		}
		if filter.UpdatedSince != nil {
			addCondition("updated_at > $%d", *filter.UpdatedSince)
		}
		if filter.Source != nil {
			addCondition(`value->'sources' @> $%d`, fmt.Sprintf(`[{"source":%q}]`, string(*filter.Source)))
		}
	}
	if cursor != "" {
		addCondition("canonical_id > $%d", cursor)
	}

	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += fmt.Sprintf(" ORDER BY canonical_id LIMIT $%d", argIndex)
	args = append(args, limit+1)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer rows.Close()

	var servers []*models.MergedServer
	for rows.Next() {
		var id string
		var value []byte
		if err := rows.Scan(&id, &value); err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrDatabase, err)
		}
		var server models.MergedServer
		if err := json.Unmarshal(value, &server); err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrDatabase, err)
		}
		servers = append(servers, &server)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	nextCursor := ""
	if len(servers) > limit {
		servers = servers[:limit]
		nextCursor = servers[len(servers)-1].CanonicalID
	}
	return servers, nextCursor, nil
}

func (db *PostgreSQL) DeleteMergedServer(ctx context.Context, canonicalID string) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM merged_servers WHERE canonical_id = $1`, canonicalID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *PostgreSQL) ApplyValidationOutcome(ctx context.Context, canonicalID string, result *models.ValidationResult) error {
	server, err := db.GetMergedServer(ctx, canonicalID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	server.LastValidatedAt = &now
	server.UpdatedAt = now
	if result.Success {
		server.Conformance = models.ConformanceVerified
		server.Capabilities = result.Capabilities
		server.LastValidationError = ""
	} else {
		server.Conformance = models.ConformanceFailed
		server.LastValidationError = result.Error
	}

	value, err := json.Marshal(server)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	_, err = db.pool.Exec(ctx, `
		UPDATE merged_servers
		SET value = $2, conformance = $3, updated_at = $4
		WHERE canonical_id = $1`,
		canonicalID, value, string(server.Conformance), now)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return nil
}

func (db *PostgreSQL) CreateValidationRequest(ctx context.Context, req *models.ValidationRequest) error {
	if req == nil || req.ID == "" || req.CanonicalID == "" {
		return fmt.Errorf("%w: missing request id or target", ErrInvalidInput)
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	req.UpdatedAt = req.CreatedAt

	var result []byte
	if req.Result != nil {
		var err error
		result, err = json.Marshal(req.Result)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	_, err := db.pool.Exec(ctx, `
		INSERT INTO validation_requests (id, canonical_id, requester, run_command, status, result, error, retries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		req.ID, req.CanonicalID, req.Requester, req.RunCommand, string(req.Status),
		result, req.Error, req.Retries, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return nil
}

func (db *PostgreSQL) GetValidationRequest(ctx context.Context, id string) (*models.ValidationRequest, error) {
	return db.scanRequest(db.pool.QueryRow(ctx, `
		SELECT id, canonical_id, requester, run_command, status, result, error, retries, created_at, updated_at
		FROM validation_requests WHERE id = $1`, id))
}

func (db *PostgreSQL) ListValidationRequests(ctx context.Context, filter *RequestFilter, cursor string, limit int) ([]*models.ValidationRequest, string, error) {
	if limit <= 0 {
		limit = 30
	}

	query := `SELECT id, canonical_id, requester, run_command, status, result, error, retries, created_at, updated_at FROM validation_requests`
	var conditions []string
	args := []any{}
	argIndex := 1

	addCondition := func(cond string, arg any) {
		conditions = append(conditions, fmt.Sprintf(cond, argIndex))
		args = append(args, arg)
		argIndex++
	}
	if filter != nil {
		if filter.CanonicalID != nil {
			addCondition("canonical_id = $%d", *filter.CanonicalID)
		}
		if filter.Status != nil {
			addCondition("status = $%d", string(*filter.Status))
		}
		if filter.Requester != nil {
			addCondition("requester = $%d", *filter.Requester)
		}
	}
	if cursor != "" {
		addCondition("id > $%d", cursor)
	}

	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d", argIndex)
	args = append(args, limit+1)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer rows.Close()

	var requests []*models.ValidationRequest
	for rows.Next() {
		req, err := db.scanRequest(rows)
		if err != nil {
			return nil, "", err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	nextCursor := ""
	if len(requests) > limit {
		requests = requests[:limit]
		nextCursor = requests[len(requests)-1].ID
	}
	return requests, nextCursor, nil
}

func (db *PostgreSQL) FindActiveRequest(ctx context.Context, canonicalID, requester string) (*models.ValidationRequest, error) {
	return db.scanRequest(db.pool.QueryRow(ctx, `
		SELECT id, canonical_id, requester, run_command, status, result, error, retries, created_at, updated_at
		FROM validation_requests
		WHERE canonical_id = $1 AND requester = $2 AND status IN ('pending', 'validating')
		ORDER BY created_at DESC
		LIMIT 1`, canonicalID, requester))
}

func (db *PostgreSQL) TransitionRequest(ctx context.Context, id string, from, to models.RequestStatus) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE validation_requests SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := db.GetValidationRequest(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (db *PostgreSQL) SetRequestResult(ctx context.Context, id string, result *models.ValidationResult, errMsg string) error {
	var value []byte
	if result != nil {
		var err error
		value, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	tag, err := db.pool.Exec(ctx, `
		UPDATE validation_requests SET result = $2, error = $3, updated_at = now()
		WHERE id = $1`, id, value, errMsg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *PostgreSQL) SetRequestSecrets(ctx context.Context, id string, ciphertext []byte) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE validation_requests SET secrets_ciphertext = $2, updated_at = now()
		WHERE id = $1`, id, ciphertext)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *PostgreSQL) TakeRequestSecrets(ctx context.Context, id string) ([]byte, error) {
	// Read and delete in one statement so the blob can only be taken once.
	// RETURNING sees the post-update row, so the old value is captured in a
	// CTE before the column is nulled.
	var ciphertext []byte
	err := db.pool.QueryRow(ctx, `
		WITH taken AS (
			SELECT id, secrets_ciphertext FROM validation_requests
			WHERE id = $1 AND secrets_ciphertext IS NOT NULL
			FOR UPDATE
		)
		UPDATE validation_requests vr
		SET secrets_ciphertext = NULL, updated_at = now()
		FROM taken WHERE vr.id = taken.id
		RETURNING taken.secrets_ciphertext`, id).Scan(&ciphertext)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return ciphertext, nil
}

func (db *PostgreSQL) PurgeRequestSecrets(ctx context.Context, id string) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE validation_requests SET secrets_ciphertext = NULL, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return nil
}

func (db *PostgreSQL) AppendAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	if entry == nil || entry.ID == "" || entry.RequestID == "" {
		return fmt.Errorf("%w: missing audit entry id or request id", ErrInvalidInput)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var metadata []byte
	if len(entry.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	_, err := db.pool.Exec(ctx, `
		INSERT INTO audit_entries (id, request_id, actor, action, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.RequestID, entry.Actor, entry.Action, metadata, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return nil
}

func (db *PostgreSQL) ListAuditEntries(ctx context.Context, requestID string) ([]*models.AuditEntry, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, request_id, actor, action, metadata, created_at
		FROM audit_entries WHERE request_id = $1 ORDER BY created_at`, requestID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var entry models.AuditEntry
		var metadata []byte
		if err := rows.Scan(&entry.ID, &entry.RequestID, &entry.Actor, &entry.Action, &metadata, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
			}
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return entries, nil
}

func (db *PostgreSQL) Close() error {
	db.pool.Close()
	return nil
}

func (db *PostgreSQL) scanRequest(row pgx.Row) (*models.ValidationRequest, error) {
	var req models.ValidationRequest
	var status string
	var result []byte
	err := row.Scan(&req.ID, &req.CanonicalID, &req.Requester, &req.RunCommand, &status,
		&result, &req.Error, &req.Retries, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	req.Status = models.RequestStatus(status)
	if len(result) > 0 {
		req.Result = &models.ValidationResult{}
		if err := json.Unmarshal(result, req.Result); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
		}
	}
	return &req, nil
}
