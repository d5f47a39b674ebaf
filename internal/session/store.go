package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/workbench/pkg/models"
)

// Sentinel errors shared by all store backends.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrArtifactNotFound = errors.New("artifact metadata not found")
)

// ListOptions configures session listing.
type ListOptions struct {
	Limit  int
	Offset int
}

// EventQuery selects a slice of a session's event log.
type EventQuery struct {
	FromSeq int64 // inclusive lower bound; 0 reads from the beginning
	Limit   int   // 0 means no limit
}

// Store is the interface for session and event persistence.
type Store interface {
	// Session CRUD
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, opts ListOptions) ([]*models.Session, error)

	// Event log. Append assigns the next sequence number inside the
	// inserting transaction, so committed events are gap-free and
	// strictly ordered per session.
	Append(ctx context.Context, event *models.Event) error
	Events(ctx context.Context, sessionID string, q EventQuery) ([]*models.Event, error)
	LastSeq(ctx context.Context, sessionID string) (int64, error)

	// Artifact metadata index. Blob bytes live in the artifact store;
	// this table only records what exists.
	PutArtifactMeta(ctx context.Context, meta *models.ArtifactMeta) error
	GetArtifactMeta(ctx context.Context, sha256 string) (*models.ArtifactMeta, error)

	// PruneBefore removes sessions, and their events, whose last
	// activity is older than cutoff. Returns the number of sessions
	// removed. Artifact blobs are left for external garbage collection.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

func validateEvent(event *models.Event) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if event.SessionID == "" {
		return fmt.Errorf("event session ID is required")
	}
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}
	return nil
}

func encodeMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return data, nil
}

func decodeMetadata(data []byte) (map[string]any, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return metadata, nil
}

func encodeEvent(event *models.Event) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return payload, nil
}

func decodeEvent(payload []byte) (*models.Event, error) {
	event := &models.Event{}
	if err := json.Unmarshal(payload, event); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return event, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

const sessionColumns = "id, title, provider, model, metadata, created_at, updated_at"

func scanSession(row rowScanner) (*models.Session, error) {
	session := &models.Session{}
	var metadataJSON []byte
	err := row.Scan(
		&session.ID,
		&session.Title,
		&session.Provider,
		&session.Model,
		&metadataJSON,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	metadata, err := decodeMetadata(metadataJSON)
	if err != nil {
		return nil, err
	}
	session.Metadata = metadata
	return session, nil
}

func collectSessions(rows *sql.Rows) ([]*models.Session, error) {
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

const eventColumns = "session_id, seq, type, turn_id, payload, created_at"

func collectEvents(rows *sql.Rows) ([]*models.Event, error) {
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var (
			sessionID string
			seq       int64
			eventType string
			turnID    string
			payload   []byte
			createdAt time.Time
		)
		if err := rows.Scan(&sessionID, &seq, &eventType, &turnID, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event, err := decodeEvent(payload)
		if err != nil {
			return nil, err
		}
		// Indexed columns are authoritative over the stored payload.
		event.SessionID = sessionID
		event.Seq = seq
		event.Type = models.EventType(eventType)
		event.TurnID = turnID
		event.CreatedAt = createdAt
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// appendInTx assigns the next sequence number and inserts the event. Both
// stores run it inside a transaction; the session's updated_at bump doubles
// as the existence check.
func appendInTx(ctx context.Context, tx *sql.Tx, event *models.Event) error {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = $1 WHERE id = $2`,
		event.CreatedAt, event.SessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, event.SessionID)
	}

	var last int64
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE session_id = $1`,
		event.SessionID).Scan(&last)
	if err != nil {
		return fmt.Errorf("last seq: %w", err)
	}
	event.Seq = last + 1

	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (session_id, seq, type, turn_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.SessionID, event.Seq, string(event.Type), event.TurnID, string(payload), event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func eventsQuery(sessionID string, q EventQuery) (string, []any) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE session_id = $1`
	args := []any{sessionID}
	argPos := 2

	if q.FromSeq > 0 {
		query += fmt.Sprintf(" AND seq >= $%d", argPos)
		args = append(args, q.FromSeq)
		argPos++
	}

	query += " ORDER BY seq ASC"

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, q.Limit)
	}

	return query, args
}
