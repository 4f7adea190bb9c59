package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *CampaignStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "campaign.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordSnapshot(ProgressSnapshot{
			Timestamp:     base.Add(time.Duration(i) * time.Hour),
			TotalAnyCount: 100 - i*10,
			Intentional:   20,
			Unintentional: 80 - i*10,
			SuccessRate:   70 + float64(i)*5,
		}))
	}

	snaps, err := s.RecentSnapshots(10)
	require.NoError(t, err)
	require.Len(t, snaps, 3)

	// Oldest first for trend math.
	assert.Equal(t, 100, snaps[0].TotalAnyCount)
	assert.Equal(t, 80, snaps[2].TotalAnyCount)
	assert.InDelta(t, 70, snaps[0].SuccessRate, 0.01)
	assert.InDelta(t, 80, snaps[2].SuccessRate, 0.01)
	assert.True(t, snaps[0].Timestamp.Equal(base))
}

func TestSnapshotLimit(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordSnapshot(ProgressSnapshot{
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
			SuccessRate: float64(i),
		}))
	}

	snaps, err := s.RecentSnapshots(2)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	// The two newest, still returned oldest first.
	assert.InDelta(t, 3, snaps[0].SuccessRate, 0.01)
	assert.InDelta(t, 4, snaps[1].SuccessRate, 0.01)
}

func TestBatchRoundTrip(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().Truncate(time.Second)
	require.NoError(t, s.RecordBatch(BatchRecord{
		ID: "tx-1", Timestamp: base, Applied: 3,
	}))
	require.NoError(t, s.RecordBatch(BatchRecord{
		ID: "tx-2", Timestamp: base.Add(time.Minute), Applied: 0, Failed: 2, RollbackPerformed: true,
	}))

	recs, err := s.RecentBatches(10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	// Newest first.
	assert.Equal(t, "tx-2", recs[0].ID)
	assert.True(t, recs[0].RollbackPerformed)
	assert.Equal(t, 2, recs[0].Failed)
	assert.Equal(t, "tx-1", recs[1].ID)
	assert.False(t, recs[1].RollbackPerformed)
	assert.Equal(t, 3, recs[1].Applied)
}

func TestBatchRecordIdempotentByID(t *testing.T) {
	s := openTestStore(t)

	ts := time.Now()
	require.NoError(t, s.RecordBatch(BatchRecord{ID: "tx-1", Timestamp: ts, Applied: 1}))
	require.NoError(t, s.RecordBatch(BatchRecord{ID: "tx-1", Timestamp: ts, Applied: 4}))

	recs, err := s.RecentBatches(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 4, recs[0].Applied)
}

func TestEmptyStoreReads(t *testing.T) {
	s := openTestStore(t)

	snaps, err := s.RecentSnapshots(10)
	require.NoError(t, err)
	assert.Empty(t, snaps)

	recs, err := s.RecentBatches(10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
