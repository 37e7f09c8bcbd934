package store_test

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/featuregate/internal/store"
)

// runRepositoryContract checks the behaviour every FlagRepository must share.
// Scenarios share one repository, so names are made unique per scenario.
func runRepositoryContract(t *testing.T, repo store.FlagRepository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	newFlag := func(name string) *store.Flag {
		return &store.Flag{
			ID:                uuid.NewString(),
			Name:              fmt.Sprintf("%s_%s", name, uuid.NewString()[:8]),
			Description:       "contract",
			Enabled:           true,
			RolloutPercentage: 40,
			TargetRoles:       []string{"admin"},
			TargetUsers:       []string{"u1", "u2"},
			Metadata:          map[string]string{"owner": "growth"},
			CreatedBy:         "admin-1",
			CreatedAt:         now,
			UpdatedAt:         now,
		}
	}

	t.Run("CreateFlag stores the record at version 1", func(t *testing.T) {
		// Arrange
		f := newFlag("CREATE")

		// Act
		require.NoError(t, repo.CreateFlag(ctx, f))

		// Assert
		assert.Equal(t, int64(1), f.Version)

		got, err := repo.GetFlag(ctx, f.ID)
		require.NoError(t, err)
		assert.Equal(t, f.Name, got.Name)
		assert.Equal(t, 40, got.RolloutPercentage)
		assert.Equal(t, []string{"admin"}, got.TargetRoles)
		assert.Equal(t, []string{"u1", "u2"}, got.TargetUsers)
		assert.Equal(t, "growth", got.Metadata["owner"])
		assert.Equal(t, "admin-1", got.CreatedBy)
		assert.True(t, got.CreatedAt.Equal(now))
		assert.Equal(t, int64(1), got.Version)

		byName, err := repo.GetFlagByName(ctx, f.Name)
		require.NoError(t, err)
		assert.Equal(t, f.ID, byName.ID)
	})

	t.Run("CreateFlag normalizes empty collections", func(t *testing.T) {
		f := newFlag("EMPTY")
		f.TargetRoles, f.TargetUsers, f.Metadata = nil, nil, nil
		require.NoError(t, repo.CreateFlag(ctx, f))

		got, err := repo.GetFlag(ctx, f.ID)
		require.NoError(t, err)
		assert.NotNil(t, got.TargetRoles)
		assert.Empty(t, got.TargetRoles)
		assert.NotNil(t, got.TargetUsers)
		assert.NotNil(t, got.Metadata)
	})

	t.Run("CreateFlag rejects duplicate names", func(t *testing.T) {
		first := newFlag("DUP")
		require.NoError(t, repo.CreateFlag(ctx, first))

		second := newFlag("DUP")
		second.Name = first.Name
		err := repo.CreateFlag(ctx, second)

		assert.ErrorIs(t, err, store.ErrDuplicateName)
	})

	t.Run("UpdateFlag is a compare-and-swap on version", func(t *testing.T) {
		f := newFlag("CAS")
		require.NoError(t, repo.CreateFlag(ctx, f))

		next := f.Clone()
		next.RolloutPercentage = 80
		next.UpdatedAt = now.Add(time.Second)
		require.NoError(t, repo.UpdateFlag(ctx, next, 1))
		assert.Equal(t, int64(2), next.Version)

		stale := f.Clone()
		stale.RolloutPercentage = 10
		err := repo.UpdateFlag(ctx, stale, 1)
		assert.ErrorIs(t, err, store.ErrVersionConflict)

		got, err := repo.GetFlag(ctx, f.ID)
		require.NoError(t, err)
		assert.Equal(t, 80, got.RolloutPercentage, "the stale write must not land")
		assert.Equal(t, int64(2), got.Version)
		assert.True(t, got.UpdatedAt.Equal(now.Add(time.Second)))
		assert.True(t, got.CreatedAt.Equal(now), "createdAt is immutable")
	})

	t.Run("UpdateFlag keeps names unique", func(t *testing.T) {
		taken := newFlag("TAKEN")
		require.NoError(t, repo.CreateFlag(ctx, taken))
		other := newFlag("OTHER")
		require.NoError(t, repo.CreateFlag(ctx, other))

		renamed := other.Clone()
		renamed.Name = taken.Name
		err := repo.UpdateFlag(ctx, renamed, 1)

		assert.ErrorIs(t, err, store.ErrDuplicateName)
	})

	t.Run("UpdateFlag reports unknown ids", func(t *testing.T) {
		ghost := newFlag("GHOST")
		err := repo.UpdateFlag(ctx, ghost, 1)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("DeleteFlag is permanent", func(t *testing.T) {
		f := newFlag("DELETE")
		require.NoError(t, repo.CreateFlag(ctx, f))

		require.NoError(t, repo.DeleteFlag(ctx, f.ID))

		_, err := repo.GetFlag(ctx, f.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = repo.GetFlagByName(ctx, f.Name)
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, repo.DeleteFlag(ctx, f.ID), store.ErrNotFound)
	})

	t.Run("Malformed ids are simply not found", func(t *testing.T) {
		_, err := repo.GetFlag(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, repo.DeleteFlag(ctx, "not-a-uuid"), store.ErrNotFound)
	})

	t.Run("ListAllFlags orders by createdAt then id", func(t *testing.T) {
		base := now.Add(time.Hour)
		a, b, c := newFlag("ORDER"), newFlag("ORDER"), newFlag("ORDER")
		a.CreatedAt, b.CreatedAt, c.CreatedAt = base.Add(time.Minute), base, base
		for _, f := range []*store.Flag{a, b, c} {
			require.NoError(t, repo.CreateFlag(ctx, f))
		}

		all, err := repo.ListAllFlags(ctx)
		require.NoError(t, err)

		var got []string
		for _, f := range all {
			if f.ID == a.ID || f.ID == b.ID || f.ID == c.ID {
				got = append(got, f.ID)
			}
		}
		tied := []string{b.ID, c.ID}
		slices.Sort(tied)
		assert.Equal(t, append(tied, a.ID), got)
	})
}
