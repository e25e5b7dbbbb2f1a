//go:build integration

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"certdesk/internal/catalog/models"
	"certdesk/internal/catalog/store"
	id "certdesk/pkg/domain"
	"certdesk/pkg/platform/sentinel"
	"certdesk/pkg/testutil/containers"
)

type PostgresServiceStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresServiceStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresServiceStoreSuite))
}

func (s *PostgresServiceStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresServiceStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "certificate_requests", "services"))
}

func (s *PostgresServiceStoreSuite) TestCRUDRoundTrip() {
	ctx := context.Background()
	svc, err := models.NewService(id.NewServiceID(), "Aadhar", "Citizens", []models.RequirementDescriptor{
		{Label: "Full Name", Kind: models.KindText, Required: true},
		{Label: "Photo", Kind: models.KindFile},
	}, id.NewUserID(), time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(ctx, svc))

	found, err := s.store.FindByID(ctx, svc.ID)
	s.Require().NoError(err)
	s.Equal(svc.Requirements, found.Requirements)

	s.Require().NoError(found.ApplyUpdate("Aadhar Card", "Residents", found.Requirements, time.Now()))
	s.Require().NoError(s.store.Update(ctx, found))

	list, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal("Aadhar Card", list[0].Name)

	s.Require().NoError(s.store.Delete(ctx, svc.ID))
	s.True(errors.Is(s.store.Delete(ctx, svc.ID), sentinel.ErrNotFound))
}

func (s *PostgresServiceStoreSuite) TestDeleteReferencedService() {
	ctx := context.Background()
	svc, err := models.NewService(id.NewServiceID(), "PAN", "Adults", nil, id.NewUserID(), time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(ctx, svc))

	_, err = s.postgres.DB.ExecContext(ctx, `
		INSERT INTO certificate_requests (id, applicant_id, applicant_email, service_id, requirements, status, is_locked, created_at, updated_at)
		VALUES (gen_random_uuid(), gen_random_uuid(), 'a@example.com', $1, '[]', 'submitted', FALSE, now(), now())
	`, svc.ID.String())
	s.Require().NoError(err)

	s.True(errors.Is(s.store.Delete(ctx, svc.ID), sentinel.ErrInvalidState))
}
