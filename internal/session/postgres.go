package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/workbench/pkg/models"
	"github.com/lib/pq"
)

// PostgresConfig holds configuration for a PostgreSQL connection. Any
// wire-compatible server (CockroachDB included) works.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns default pool settings for the given DSN.
func DefaultPostgresConfig(dsn string) *PostgresConfig {
	return &PostgresConfig{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresStore implements Store on PostgreSQL. Sequence assignment relies
// on the (session_id, seq) primary key: concurrent appenders that collide
// retry with a fresh MAX(seq) instead of taking a process-local lock.
type PostgresStore struct {
	db *sql.DB

	stmtCreateSession *sql.Stmt
	stmtGetSession    *sql.Stmt
	stmtUpdateSession *sql.Stmt
	stmtLastSeq       *sql.Stmt
	stmtPutArtifact   *sql.Stmt
	stmtGetArtifact   *sql.Stmt
}

// NewPostgresStore connects, applies pending migrations, and prepares
// statements.
func NewPostgresStore(ctx context.Context, config *PostgresConfig) (*PostgresStore, error) {
	if config == nil || config.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	connectTimeout := config.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	migrator, err := NewMigrator(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if _, err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) prepareStatements() error {
	var err error

	s.stmtCreateSession, err = s.db.Prepare(`
		INSERT INTO sessions (id, title, provider, model, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	s.stmtGetSession, err = s.db.Prepare(`
		SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	s.stmtUpdateSession, err = s.db.Prepare(`
		UPDATE sessions SET title = $1, provider = $2, model = $3, metadata = $4, updated_at = $5
		WHERE id = $6
	`)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	s.stmtLastSeq, err = s.db.Prepare(`
		SELECT COALESCE(MAX(seq), 0) FROM events WHERE session_id = $1
	`)
	if err != nil {
		return fmt.Errorf("last seq: %w", err)
	}

	s.stmtPutArtifact, err = s.db.Prepare(`
		INSERT INTO artifacts (sha256, size_bytes, media_type, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (sha256) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("put artifact: %w", err)
	}

	s.stmtGetArtifact, err = s.db.Prepare(`
		SELECT sha256, size_bytes, media_type, created_at FROM artifacts WHERE sha256 = $1
	`)
	if err != nil {
		return fmt.Errorf("get artifact: %w", err)
	}

	return nil
}

// DB exposes the underlying database connection for related stores.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Close closes prepared statements and the database connection.
func (s *PostgresStore) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{
		s.stmtCreateSession,
		s.stmtGetSession,
		s.stmtUpdateSession,
		s.stmtLastSeq,
		s.stmtPutArtifact,
		s.stmtGetArtifact,
	} {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close store: %v", errs)
	}
	return nil
}

// Create inserts a new session.
func (s *PostgresStore) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session ID is required")
	}
	metadata, err := encodeMetadata(session.Metadata)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = session.CreatedAt
	}

	_, err = s.stmtCreateSession.ExecContext(ctx,
		session.ID, session.Title, session.Provider, session.Model,
		string(metadata), session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Session, error) {
	session, err := scanSession(s.stmtGetSession.QueryRowContext(ctx, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// Update rewrites a session's mutable fields.
func (s *PostgresStore) Update(ctx context.Context, session *models.Session) error {
	metadata, err := encodeMetadata(session.Metadata)
	if err != nil {
		return err
	}
	session.UpdatedAt = time.Now().UTC()

	res, err := s.stmtUpdateSession.ExecContext(ctx,
		session.Title, session.Provider, session.Model,
		string(metadata), session.UpdatedAt, session.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, session.ID)
	}
	return nil
}

// Delete removes a session and its events.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return tx.Commit()
}

// List retrieves sessions ordered by most recent activity.
func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY updated_at DESC`
	args := []any{}
	argPos := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, opts.Limit)
		argPos++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return collectSessions(rows)
}

// appendRetries bounds retries when concurrent appenders collide on the
// (session_id, seq) primary key.
const appendRetries = 3

// Append writes an event to the session log. On a sequence collision the
// transaction is retried with a fresh MAX(seq).
func (s *PostgresStore) Append(ctx context.Context, event *models.Event) error {
	if err := validateEvent(event); err != nil {
		return err
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var err error
	for attempt := 0; attempt < appendRetries; attempt++ {
		err = s.appendOnce(ctx, event)
		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) {
			return err
		}
	}
	return fmt.Errorf("append event: %w", err)
}

func (s *PostgresStore) appendOnce(ctx context.Context, event *models.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := appendInTx(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Events reads a session's event log in sequence order.
func (s *PostgresStore) Events(ctx context.Context, sessionID string, q EventQuery) ([]*models.Event, error) {
	query, args := eventsQuery(sessionID, q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return collectEvents(rows)
}

// LastSeq returns the highest sequence number in a session, 0 if empty.
func (s *PostgresStore) LastSeq(ctx context.Context, sessionID string) (int64, error) {
	var last int64
	if err := s.stmtLastSeq.QueryRowContext(ctx, sessionID).Scan(&last); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return last, nil
}

// PutArtifactMeta records artifact metadata, ignoring duplicates.
func (s *PostgresStore) PutArtifactMeta(ctx context.Context, meta *models.ArtifactMeta) error {
	if meta == nil || meta.SHA256 == "" {
		return fmt.Errorf("artifact hash is required")
	}
	createdAt := meta.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.stmtPutArtifact.ExecContext(ctx, meta.SHA256, meta.SizeBytes, meta.MediaType, createdAt)
	if err != nil {
		return fmt.Errorf("put artifact meta: %w", err)
	}
	return nil
}

// GetArtifactMeta retrieves artifact metadata by content hash.
func (s *PostgresStore) GetArtifactMeta(ctx context.Context, sha256 string) (*models.ArtifactMeta, error) {
	meta := &models.ArtifactMeta{}
	err := s.stmtGetArtifact.QueryRowContext(ctx, sha256).
		Scan(&meta.SHA256, &meta.SizeBytes, &meta.MediaType, &meta.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, sha256)
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact meta: %w", err)
	}
	return meta, nil
}

// PruneBefore deletes sessions whose last activity predates cutoff.
func (s *PostgresStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE session_id IN (SELECT id FROM sessions WHERE updated_at < $1)`,
		cutoff); err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return pruned, nil
}
