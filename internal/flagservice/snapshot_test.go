package flagservice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/featuregate/internal/logger"
	"github.com/rafaeljc/featuregate/internal/store"
)

func record(id, name string, version int64) store.Flag {
	return store.Flag{ID: id, Name: name, Enabled: true, RolloutPercentage: 100, Version: version}
}

func TestSnapshot_Build(t *testing.T) {
	t.Parallel()

	corrupt := record("f3", "CORRUPT", 1)
	corrupt.RolloutPercentage = 400

	snap := buildSnapshot(7, []store.Flag{record("f2", "B", 1), record("f1", "A", 1), corrupt}, logger.Discard())

	assert.Equal(t, uint64(7), snap.version)
	assert.Equal(t, []string{"A", "B"}, snap.names, "corrupt records are skipped")
	assert.Len(t, snap.byID, 2)
}

func TestSnapshot_With(t *testing.T) {
	t.Parallel()
	base := buildSnapshot(1, []store.Flag{record("f1", "A", 2)}, logger.Discard())

	t.Run("ignores an older or equal version", func(t *testing.T) {
		next, changed, err := base.with(record("f1", "A_OLD", 1))
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Same(t, base, next)

		_, changed, err = base.with(record("f1", "A", 2))
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("applies a newer version copy-on-write", func(t *testing.T) {
		next, changed, err := base.with(record("f1", "A_RENAMED", 3))
		require.NoError(t, err)
		require.True(t, changed)

		assert.Equal(t, uint64(2), next.version)
		assert.Equal(t, []string{"A_RENAMED"}, next.names)
		assert.Equal(t, []string{"A"}, base.names, "the published snapshot is untouched")
		assert.Contains(t, base.byName, "A")
	})

	t.Run("rejects a record that cannot compile", func(t *testing.T) {
		bad := record("f9", "BAD", 1)
		bad.RolloutPercentage = -5
		_, _, err := base.with(bad)
		assert.Error(t, err)
	})
}

func TestSnapshot_NameHandover(t *testing.T) {
	t.Parallel()

	// f1 gave up the name "SHARED" elsewhere and f2 took it; f2's change arrived first.
	base := buildSnapshot(1, []store.Flag{record("f1", "SHARED", 1)}, logger.Discard())
	next, changed, err := base.with(record("f2", "SHARED", 1))
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, "f2", next.byName["SHARED"].ID)

	// Removing f1 afterwards must not take the name away from f2.
	final, changed := next.without("f1")
	require.True(t, changed)
	assert.Equal(t, "f2", final.byName["SHARED"].ID)
	assert.Equal(t, []string{"SHARED"}, final.names)

	_, changed = final.without("f1")
	assert.False(t, changed, "removing an unknown id is a no-op")
}
