package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"certdesk/internal/catalog/models"
	"certdesk/internal/platform/postgres"
	id "certdesk/pkg/domain"
	"certdesk/pkg/platform/sentinel"
	txcontext "certdesk/pkg/platform/tx"
)

// PostgresStore persists services. Requirements are stored as a JSONB array
// so their declared order survives a round trip.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const serviceColumns = `id, name, eligibility, requirements, created_by, created_at, updated_at`

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

func (s *PostgresStore) Create(ctx context.Context, svc *models.Service) error {
	reqs, err := json.Marshal(svc.Requirements)
	if err != nil {
		return fmt.Errorf("marshal requirements: %w", err)
	}
	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO services (`+serviceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		uuid.UUID(svc.ID), svc.Name, svc.Eligibility, reqs,
		uuid.UUID(svc.CreatedBy), svc.CreatedAt, svc.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, "") {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert service: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, serviceID id.ServiceID) (*models.Service, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE id = $1`, uuid.UUID(serviceID))
	svc, err := scanService(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find service: %w", err)
	}
	return svc, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Service, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+serviceColumns+` FROM services ORDER BY name, created_at`)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Service, 0)
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		out = append(out, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate services: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, svc *models.Service) error {
	reqs, err := json.Marshal(svc.Requirements)
	if err != nil {
		return fmt.Errorf("marshal requirements: %w", err)
	}
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE services
		SET name = $2, eligibility = $3, requirements = $4, updated_at = $5
		WHERE id = $1
	`, uuid.UUID(svc.ID), svc.Name, svc.Eligibility, reqs, svc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update service: %w", err)
	}
	return expectOneRow(res)
}

// Delete removes the service. Requests reference services with ON DELETE
// RESTRICT, so a service that has ever been applied for reports
// ErrInvalidState.
func (s *PostgresStore) Delete(ctx context.Context, serviceID id.ServiceID) error {
	res, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM services WHERE id = $1`, uuid.UUID(serviceID))
	if err != nil {
		if postgres.IsForeignKeyViolation(err) {
			return sentinel.ErrInvalidState
		}
		return fmt.Errorf("delete service: %w", err)
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanService(row scanner) (*models.Service, error) {
	var (
		svc       models.Service
		serviceID uuid.UUID
		createdBy uuid.UUID
		reqs      []byte
	)
	if err := row.Scan(&serviceID, &svc.Name, &svc.Eligibility, &reqs, &createdBy, &svc.CreatedAt, &svc.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(reqs, &svc.Requirements); err != nil {
		return nil, fmt.Errorf("unmarshal requirements: %w", err)
	}
	svc.ID = id.ServiceID(serviceID)
	svc.CreatedBy = id.UserID(createdBy)
	return &svc, nil
}
