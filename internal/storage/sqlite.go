package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hooklens/hooklens/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS endpoints (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			visibility TEXT NOT NULL DEFAULT 'public',
			auth_token TEXT NOT NULL DEFAULT '',
			template TEXT NOT NULL DEFAULT '{}',
			owner_kind TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			endpoint_id TEXT NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
			method TEXT NOT NULL,
			headers TEXT NOT NULL DEFAULT '{}',
			query_params TEXT NOT NULL DEFAULT '{}',
			body TEXT NOT NULL DEFAULT '',
			source_ip TEXT NOT NULL DEFAULT 'unknown',
			received_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_endpoints_owner ON endpoints(owner_kind, owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_endpoints_anon_created ON endpoints(created_at) WHERE owner_kind = 'anon'`,
		`CREATE INDEX IF NOT EXISTS idx_requests_endpoint ON requests(endpoint_id, received_at)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Endpoints ---

func (s *SQLiteStorage) CreateEndpoint(ctx context.Context, ep *models.Endpoint) error {
	tmpl, err := json.Marshal(ep.Template)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO endpoints (id, name, visibility, auth_token, template, owner_kind, owner_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.Name, ep.Visibility, ep.AuthToken, string(tmpl),
		ep.Owner.Kind, ep.Owner.ID, ep.CreatedAt,
	)
	return err
}

func (s *SQLiteStorage) ResolveEndpoint(ctx context.Context, id string) (*models.Endpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, visibility, auth_token, template, owner_kind, owner_id, created_at
		 FROM endpoints WHERE id = ?`, id)
	return scanEndpoint(row)
}

func (s *SQLiteStorage) ListEndpoints(ctx context.Context, owner models.Owner) ([]models.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, visibility, auth_token, template, owner_kind, owner_id, created_at
		 FROM endpoints WHERE owner_kind = ? AND owner_id = ?
		 ORDER BY created_at DESC, id DESC`,
		owner.Kind, owner.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var eps []models.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		eps = append(eps, *ep)
	}
	return eps, rows.Err()
}

func (s *SQLiteStorage) UpdateEndpoint(ctx context.Context, id string, owner models.Owner, patch EndpointPatch) (*models.Endpoint, error) {
	ep, err := s.ResolveEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if ep.Owner != owner {
		return nil, ErrForbidden
	}

	if patch.Name != nil {
		ep.Name = *patch.Name
	}
	if patch.Visibility != nil {
		ep.Visibility = *patch.Visibility
		// A freshly privatized endpoint without a token gets one; an
		// existing token is never regenerated implicitly.
		if ep.Private() && ep.AuthToken == "" {
			ep.AuthToken = models.NewAuthToken()
		}
	}
	if patch.Template != nil {
		ep.Template = *patch.Template
	}

	tmpl, err := json.Marshal(ep.Template)
	if err != nil {
		return nil, fmt.Errorf("marshal template: %w", err)
	}

	// Ownership is re-checked in the statement itself so a concurrent
	// migration cannot be raced past.
	res, err := s.db.ExecContext(ctx,
		`UPDATE endpoints SET name = ?, visibility = ?, auth_token = ?, template = ?
		 WHERE id = ? AND owner_kind = ? AND owner_id = ?`,
		ep.Name, ep.Visibility, ep.AuthToken, string(tmpl),
		id, owner.Kind, owner.ID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrForbidden
	}
	return ep, nil
}

func (s *SQLiteStorage) DeleteEndpoint(ctx context.Context, id string, owner models.Owner) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM endpoints WHERE id = ? AND owner_kind = ? AND owner_id = ?`,
		id, owner.Kind, owner.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM endpoints WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrForbidden
}

func (s *SQLiteStorage) MigrateOwnership(ctx context.Context, subject, clientID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE endpoints SET owner_kind = ?, owner_id = ?
		 WHERE owner_kind = ? AND owner_id = ?`,
		models.OwnerUser, subject, models.OwnerAnon, clientID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStorage) DeleteExpiredAnonEndpoints(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM endpoints WHERE owner_kind = ? AND created_at < ?`,
		models.OwnerAnon, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Requests ---

func (s *SQLiteStorage) AppendRequest(ctx context.Context, rec *models.RequestRecord) error {
	headers, err := json.Marshal(rec.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	params, err := json.Marshal(rec.QueryParams)
	if err != nil {
		return fmt.Errorf("marshal query params: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO requests (id, endpoint_id, method, headers, query_params, body, source_ip, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.EndpointID, rec.Method, string(headers), string(params),
		rec.Body, rec.SourceIP, rec.ReceivedAt,
	)
	return err
}

func (s *SQLiteStorage) ListRequests(ctx context.Context, endpointID string, limit, offset int) ([]models.RequestRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, endpoint_id, method, headers, query_params, body, source_ip, received_at
		 FROM requests WHERE endpoint_id = ?
		 ORDER BY received_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		endpointID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []models.RequestRecord
	for rows.Next() {
		rec, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteStorage) GetRequest(ctx context.Context, endpointID, id string) (*models.RequestRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, endpoint_id, method, headers, query_params, body, source_ip, received_at
		 FROM requests WHERE endpoint_id = ? AND id = ?`, endpointID, id)
	return scanRequest(row)
}

func (s *SQLiteStorage) DeleteRequest(ctx context.Context, endpointID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM requests WHERE endpoint_id = ? AND id = ?`, endpointID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) CountRequests(ctx context.Context, endpointID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM requests WHERE endpoint_id = ?`, endpointID).Scan(&n)
	return n, err
}

// --- scanning ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEndpoint(row rowScanner) (*models.Endpoint, error) {
	var ep models.Endpoint
	var tmpl string
	err := row.Scan(&ep.ID, &ep.Name, &ep.Visibility, &ep.AuthToken, &tmpl,
		&ep.Owner.Kind, &ep.Owner.ID, &ep.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tmpl), &ep.Template); err != nil {
		return nil, fmt.Errorf("unmarshal template for %s: %w", ep.ID, err)
	}
	return &ep, nil
}

func scanRequest(row rowScanner) (*models.RequestRecord, error) {
	var rec models.RequestRecord
	var headers, params string
	err := row.Scan(&rec.ID, &rec.EndpointID, &rec.Method, &headers, &params,
		&rec.Body, &rec.SourceIP, &rec.ReceivedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(headers), &rec.Headers); err != nil {
		return nil, fmt.Errorf("unmarshal headers for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(params), &rec.QueryParams); err != nil {
		return nil, fmt.Errorf("unmarshal query params for %s: %w", rec.ID, err)
	}
	return &rec, nil
}
