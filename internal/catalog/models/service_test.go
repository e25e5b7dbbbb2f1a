package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "certdesk/pkg/domain"
	dErrors "certdesk/pkg/domain-errors"
)

func TestNewService(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	admin := id.UserID(uuid.New())

	t.Run("valid service keeps requirement order", func(t *testing.T) {
		svc, err := NewService(id.NewServiceID(), " Income Certificate ", "Residents of the district", []RequirementDescriptor{
			{Label: "Aadhar", Kind: KindText, Required: true},
			{Label: "Photo", Kind: KindFile, Required: true},
			{Label: "Remarks", Kind: KindText, Required: false},
		}, admin, now)
		require.NoError(t, err)
		assert.Equal(t, "Income Certificate", svc.Name)
		require.Len(t, svc.Requirements, 3)
		assert.Equal(t, "Aadhar", svc.Requirements[0].Label)
		assert.Equal(t, "Remarks", svc.Requirements[2].Label)

		d, ok := svc.Descriptor("Photo")
		require.True(t, ok)
		assert.Equal(t, KindFile, d.Kind)
		_, ok = svc.Descriptor("photo")
		assert.False(t, ok, "labels are case-sensitive")
	})

	cases := []struct {
		name        string
		svcName     string
		eligibility string
		reqs        []RequirementDescriptor
	}{
		{"empty name", "", "anyone", nil},
		{"empty eligibility", "Caste Certificate", "  ", nil},
		{"blank label", "Caste Certificate", "anyone", []RequirementDescriptor{{Label: " ", Kind: KindText}}},
		{"unknown kind", "Caste Certificate", "anyone", []RequirementDescriptor{{Label: "Aadhar", Kind: "video"}}},
		{"duplicate label", "Caste Certificate", "anyone", []RequirementDescriptor{
			{Label: "Aadhar", Kind: KindText},
			{Label: "Aadhar", Kind: KindFile},
		}},
	}
	for _, tc := range cases {
		t.Run("rejects "+tc.name, func(t *testing.T) {
			_, err := NewService(id.NewServiceID(), tc.svcName, tc.eligibility, tc.reqs, admin, now)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		})
	}
}

func TestParseRequirementKind(t *testing.T) {
	k, err := ParseRequirementKind("")
	require.NoError(t, err)
	assert.Equal(t, KindText, k)

	k, err = ParseRequirementKind("file")
	require.NoError(t, err)
	assert.Equal(t, KindFile, k)

	_, err = ParseRequirementKind("pdf")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}
