package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"certdesk/internal/certrequest/models"
	"certdesk/internal/platform/postgres"
	id "certdesk/pkg/domain"
	"certdesk/pkg/platform/sentinel"
	txcontext "certdesk/pkg/platform/tx"
)

// PostgresStore persists certificate requests in PostgreSQL.
// This store is pure I/O; transition rules live on models.Request.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `id, applicant_id, applicant_email, service_id, requirements, status,
	is_locked, locked_by, assigned_to, certificate_url, rejection_note, created_at, updated_at`

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) conn(ctx context.Context) queryer {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// CreateIfNoActive inserts the request. The partial unique index on
// (applicant_id, service_id) for active statuses makes the check and the
// insert one atomic step; a violation surfaces as ErrAlreadyUsed.
func (s *PostgresStore) CreateIfNoActive(ctx context.Context, r *models.Request) error {
	reqs, err := json.Marshal(r.Requirements)
	if err != nil {
		return fmt.Errorf("marshal requirements: %w", err)
	}
	query := `
		INSERT INTO certificate_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.conn(ctx).ExecContext(ctx, query,
		uuid.UUID(r.ID),
		uuid.UUID(r.ApplicantID),
		r.ApplicantEmail,
		uuid.UUID(r.ServiceID),
		reqs,
		string(r.Status),
		r.IsLocked,
		nullableUser(r.LockedBy),
		nullableUser(r.AssignedTo),
		nullableString(r.CertificateURL),
		nullableString(r.RejectionNote),
		r.CreatedAt,
		r.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, "certificate_requests_active_key") {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert certificate request: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM certificate_requests WHERE id = $1`
	r, err := scanRequest(s.conn(ctx).QueryRowContext(ctx, query, uuid.UUID(requestID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find certificate request: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) FindAssigned(ctx context.Context, requestID id.RequestID, staff id.UserID) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM certificate_requests WHERE id = $1 AND assigned_to = $2`
	r, err := scanRequest(s.conn(ctx).QueryRowContext(ctx, query, uuid.UUID(requestID), uuid.UUID(staff)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find assigned request: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, statuses []models.Status) ([]*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM certificate_requests
		WHERE status = ANY($1) ORDER BY created_at`
	return s.list(ctx, "list requests by status", query, pq.Array(statusStrings(statuses)))
}

func (s *PostgresStore) ListByApplicant(ctx context.Context, applicant id.UserID, statuses []models.Status) ([]*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM certificate_requests
		WHERE applicant_id = $1 AND status = ANY($2) ORDER BY created_at`
	return s.list(ctx, "list requests by applicant", query, uuid.UUID(applicant), pq.Array(statusStrings(statuses)))
}

// Lock claims the request with a single conditional UPDATE. Two staff racing
// for the same row serialize on the row lock; the loser's WHERE no longer
// matches and it gets no row back. The follow-up read only classifies why.
func (s *PostgresStore) Lock(ctx context.Context, requestID id.RequestID, staff id.UserID, workable []models.Status, now time.Time) (*models.Request, error) {
	query := `
		UPDATE certificate_requests
		SET is_locked = TRUE, locked_by = $2, assigned_to = $2, updated_at = $3
		WHERE id = $1
		  AND is_locked = FALSE
		  AND status = ANY($4)
		RETURNING ` + requestColumns
	r, err := scanRequest(s.conn(ctx).QueryRowContext(ctx, query,
		uuid.UUID(requestID), uuid.UUID(staff), now, pq.Array(statusStrings(workable))))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lock certificate request: %w", err)
	}

	var (
		locked bool
		status string
	)
	err = s.conn(ctx).QueryRowContext(ctx,
		`SELECT is_locked, status FROM certificate_requests WHERE id = $1`, uuid.UUID(requestID),
	).Scan(&locked, &status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, sentinel.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("classify lock miss: %w", err)
	case locked:
		return nil, sentinel.ErrAlreadyUsed
	default:
		return nil, sentinel.ErrInvalidState
	}
}

// ExecuteLocked selects the row held by staff FOR UPDATE, validates, mutates
// and writes it back in one transaction.
func (s *PostgresStore) ExecuteLocked(ctx context.Context, requestID id.RequestID, staff id.UserID, validate func(*models.Request) error, mutate func(*models.Request)) (*models.Request, error) {
	var result *models.Request
	err := txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		query := `SELECT ` + requestColumns + ` FROM certificate_requests
			WHERE id = $1 AND is_locked = TRUE AND locked_by = $2
			FOR UPDATE`
		r, err := scanRequest(tx.QueryRowContext(ctx, query, uuid.UUID(requestID), uuid.UUID(staff)))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("select locked request: %w", err)
		}
		if err := validate(r); err != nil {
			return err
		}
		mutate(r)

		update := `
			UPDATE certificate_requests
			SET status = $2, is_locked = $3, locked_by = $4, assigned_to = $5,
			    certificate_url = $6, rejection_note = $7, updated_at = $8
			WHERE id = $1
		`
		if _, err := tx.ExecContext(ctx, update,
			uuid.UUID(r.ID),
			string(r.Status),
			r.IsLocked,
			nullableUser(r.LockedBy),
			nullableUser(r.AssignedTo),
			nullableString(r.CertificateURL),
			nullableString(r.RejectionNote),
			r.UpdatedAt,
		); err != nil {
			return fmt.Errorf("update locked request: %w", err)
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) list(ctx context.Context, op, query string, args ...any) ([]*models.Request, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]*models.Request, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.Request, error) {
	var (
		r              models.Request
		requestID      uuid.UUID
		applicantID    uuid.UUID
		serviceID      uuid.UUID
		reqs           []byte
		status         string
		lockedBy       uuid.NullUUID
		assignedTo     uuid.NullUUID
		certificateURL sql.NullString
		rejectionNote  sql.NullString
	)
	if err := row.Scan(
		&requestID,
		&applicantID,
		&r.ApplicantEmail,
		&serviceID,
		&reqs,
		&status,
		&r.IsLocked,
		&lockedBy,
		&assignedTo,
		&certificateURL,
		&rejectionNote,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(reqs, &r.Requirements); err != nil {
		return nil, fmt.Errorf("unmarshal requirements: %w", err)
	}
	r.ID = id.RequestID(requestID)
	r.ApplicantID = id.UserID(applicantID)
	r.ServiceID = id.ServiceID(serviceID)
	r.Status = models.Status(status)
	r.LockedBy = userFromNull(lockedBy)
	r.AssignedTo = userFromNull(assignedTo)
	r.CertificateURL = certificateURL.String
	r.RejectionNote = rejectionNote.String
	return &r, nil
}

func statusStrings(statuses []models.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullableUser(u *id.UserID) uuid.NullUUID {
	if u == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*u), Valid: true}
}

func userFromNull(n uuid.NullUUID) *id.UserID {
	if !n.Valid {
		return nil
	}
	u := id.UserID(n.UUID)
	return &u
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
