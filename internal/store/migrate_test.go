package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The shipped migration set lives at the repository root.
const migrationsDir = "../../db/migrations"

func TestMigrateUpAppliesShippedSet(t *testing.T) {
	t.Parallel()

	ix := testIndex(t)
	require.NoError(t, ix.MigrateUp(migrationsDir))

	version, dirty, err := ix.MigrateVersion(migrationsDir)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// 000002 adds the replay seek index.
	var name string
	err = ix.QueryRow(
		`SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_samples_scene_time'`,
	).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "idx_samples_scene_time", name)

	// The baseline migration is a no-op on a bootstrapped database, so
	// the index still accepts writes afterwards.
	_, err = ix.InsertScene(1, "", t.TempDir(), 10, testSpecs())
	assert.NoError(t, err)
}

func TestMigrateUpIsIdempotent(t *testing.T) {
	t.Parallel()

	ix := testIndex(t)
	require.NoError(t, ix.MigrateUp(migrationsDir))
	require.NoError(t, ix.MigrateUp(migrationsDir))
}

func TestMigrateDownRollsBackOneStep(t *testing.T) {
	t.Parallel()

	ix := testIndex(t)
	require.NoError(t, ix.MigrateUp(migrationsDir))
	require.NoError(t, ix.MigrateDown(migrationsDir))

	version, dirty, err := ix.MigrateVersion(migrationsDir)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	var count int
	err = ix.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_samples_scene_time'`,
	).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMigrateVersionOnFreshIndex(t *testing.T) {
	t.Parallel()

	ix := testIndex(t)
	version, dirty, err := ix.MigrateVersion(migrationsDir)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)
}

func TestRunMigrateCommand(t *testing.T) {
	t.Parallel()

	ix := testIndex(t)
	require.NoError(t, ix.RunMigrateCommand(migrationsDir, "up"))

	version, _, err := ix.MigrateVersion(migrationsDir)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	assert.NoError(t, ix.RunMigrateCommand(migrationsDir, "version"))
	assert.NoError(t, ix.RunMigrateCommand(migrationsDir, "down"))
	assert.NoError(t, ix.RunMigrateCommand(migrationsDir, "force=2"))

	assert.Error(t, ix.RunMigrateCommand(migrationsDir, "sideways"))
	assert.Error(t, ix.RunMigrateCommand(migrationsDir, "force=two"))
}
