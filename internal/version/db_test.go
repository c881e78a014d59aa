package version

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate())
}

func TestPipelineEventLog(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.LogPipelineEvent("job-1", "acme", "started", "queued", ""))
	require.NoError(t, db.LogPipelineEvent("job-1", "acme", "phase_complete", "capturing", ""))
	require.NoError(t, db.LogPipelineEvent("job-2", "other", "started", "queued", ""))

	events, err := db.ListPipelineEvents("job-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	// Newest first.
	assert.Equal(t, "phase_complete", events[0].Event)
	assert.Equal(t, "started", events[1].Event)
	assert.Equal(t, "acme", events[0].WebsiteID)
	assert.NotEmpty(t, events[0].Timestamp)
}

func TestPipelineEventLimit(t *testing.T) {
	db := newTestDB(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, db.LogPipelineEvent("job-1", "acme", "tick", "", ""))
	}
	events, err := db.ListPipelineEvents("job-1", 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestReset(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.LogPipelineEvent("job-1", "acme", "started", "", ""))
	require.NoError(t, db.Reset())

	events, err := db.ListPipelineEvents("job-1", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}
