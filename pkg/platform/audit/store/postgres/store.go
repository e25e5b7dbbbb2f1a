package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	id "certdesk/pkg/domain"
	audit "certdesk/pkg/platform/audit"
	txcontext "certdesk/pkg/platform/tx"

	"github.com/google/uuid"
)

// Store persists audit entries in audit_logs. Each row carries its own
// expires_at so the retention sweep is a single indexed delete.
type Store struct {
	db        *sql.DB
	retention time.Duration
}

func New(db *sql.DB, retention time.Duration) *Store {
	if retention <= 0 {
		retention = audit.DefaultRetention
	}
	return &Store{db: db, retention: retention}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	var requestID *uuid.UUID
	if entry.RequestID != nil {
		rid := uuid.UUID(*entry.RequestID)
		requestID = &rid
	}

	query := `
		INSERT INTO audit_logs (
			id, request_id, actor_id, actor_role, action,
			message, correlation_id, created_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(entry.ID),
		requestID,
		uuid.UUID(entry.ActorID),
		entry.ActorRole,
		entry.Action,
		entry.Message,
		entry.RequestCorrelation,
		entry.Timestamp,
		entry.Timestamp.Add(s.retention),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListRecent returns the newest unexpired entries.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Entry, error) {
	query := `
		SELECT id, request_id, actor_id, actor_role, action,
			   message, correlation_id, created_at
		FROM audit_logs
		WHERE expires_at > now()
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]audit.Entry, 0)
	for rows.Next() {
		var (
			entry     audit.Entry
			entryID   uuid.UUID
			actorID   uuid.UUID
			requestID uuid.NullUUID
		)
		if err := rows.Scan(
			&entryID,
			&requestID,
			&actorID,
			&entry.ActorRole,
			&entry.Action,
			&entry.Message,
			&entry.RequestCorrelation,
			&entry.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.ID = id.AuditEntryID(entryID)
		entry.ActorID = id.UserID(actorID)
		if requestID.Valid {
			rid := id.RequestID(requestID.UUID)
			entry.RequestID = &rid
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

// DeleteExpired removes rows whose expires_at is at or before now.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
