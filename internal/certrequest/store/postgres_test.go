package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certdesk/internal/certrequest/models"
	id "certdesk/pkg/domain"
	"certdesk/pkg/platform/sentinel"
)

var requestRowColumns = []string{
	"id", "applicant_id", "applicant_email", "service_id", "requirements", "status",
	"is_locked", "locked_by", "assigned_to", "certificate_url", "rejection_note", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db), mock
}

func TestPostgresLock_SingleConditionalUpdate(t *testing.T) {
	store, mock := newMockStore(t)
	requestID := id.NewRequestID()
	clerk := id.UserID(uuid.New())
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(requestRowColumns).AddRow(
		uuid.UUID(requestID).String(), uuid.NewString(), "citizen@example.com", uuid.NewString(),
		[]byte(`[{"label":"Aadhar","type":"text","value":"1234"}]`), "submitted",
		true, uuid.UUID(clerk).String(), uuid.UUID(clerk).String(), nil, nil, now, now,
	)
	mock.ExpectQuery(`UPDATE certificate_requests\s+SET is_locked = TRUE.*WHERE id = \$1\s+AND is_locked = FALSE\s+AND status = ANY\(\$4\)`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), now, sqlmock.AnyArg()).
		WillReturnRows(rows)

	r, err := store.Lock(context.Background(), requestID, clerk, []models.Status{models.StatusSubmitted}, now)
	require.NoError(t, err)
	assert.True(t, r.IsLocked)
	require.NotNil(t, r.LockedBy)
	assert.Equal(t, clerk, *r.LockedBy)
	require.Len(t, r.Requirements, 1)
	assert.Equal(t, "Aadhar", r.Requirements[0].Label)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLock_ClassifiesMiss(t *testing.T) {
	cases := []struct {
		name   string
		rows   *sqlmock.Rows
		expect error
	}{
		{"held by another actor", sqlmock.NewRows([]string{"is_locked", "status"}).AddRow(true, "submitted"), sentinel.ErrAlreadyUsed},
		{"outside the queue", sqlmock.NewRows([]string{"is_locked", "status"}).AddRow(false, "approved"), sentinel.ErrInvalidState},
		{"missing row", sqlmock.NewRows([]string{"is_locked", "status"}), sentinel.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			mock.ExpectQuery(`UPDATE certificate_requests`).WillReturnError(sql.ErrNoRows)
			mock.ExpectQuery(`SELECT is_locked, status FROM certificate_requests`).WillReturnRows(tc.rows)

			_, err := store.Lock(context.Background(), id.NewRequestID(), id.UserID(uuid.New()),
				[]models.Status{models.StatusSubmitted}, time.Now())
			require.ErrorIs(t, err, tc.expect)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresCreate_ActiveDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO certificate_requests`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "certificate_requests_active_key"})

	now := time.Now()
	err := store.CreateIfNoActive(context.Background(), &models.Request{
		ID:          id.NewRequestID(),
		ApplicantID: id.UserID(uuid.New()),
		ServiceID:   id.NewServiceID(),
		Status:      models.StatusSubmitted,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	require.ErrorIs(t, err, sentinel.ErrAlreadyUsed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresExecuteLocked_NotHolder(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM certificate_requests\s+WHERE id = \$1 AND is_locked = TRUE AND locked_by = \$2\s+FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(requestRowColumns))
	mock.ExpectRollback()

	_, err := store.ExecuteLocked(context.Background(), id.NewRequestID(), id.UserID(uuid.New()),
		func(*models.Request) error { return nil },
		func(*models.Request) {})
	require.ErrorIs(t, err, sentinel.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
