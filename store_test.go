package nodescan

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelDBHistoryStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := OpenHistoryStore(filepath.Join(t.TempDir(), "history"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	const vote = "CertusDeBmqN8ZawdkxK5kFGMwBXdudvWHYwtNgNhvLu"
	_, err = store.LoadHistory(vote)
	require.ErrorIs(t, err, ErrNotFound)

	items := []StakeHistoryItem{
		{Epoch: 700, Stake: 1000, Date: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)},
		{Epoch: 701, Stake: 1100, Date: time.Date(2024, 12, 3, 12, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, store.SaveHistory(vote, items))

	got, err := store.LoadHistory(vote)
	require.NoError(t, err)
	assert.Equal(t, items, got)

	validators, err := store.Validators()
	require.NoError(t, err)
	assert.Equal(t, []string{vote}, validators)
}

func TestLevelDBHistoryStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history")
	const vote = "DumiCKHVqoCQKD8roLApzR5Fit8qGV5fVQsJV9sTZk4a"

	store, err := OpenHistoryStore(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveHistory(vote, []StakeHistoryItem{{Epoch: 1, Stake: 2, Date: estimateEpochDate(1)}}))
	require.NoError(t, store.Close())

	reopened, err := OpenHistoryStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.LoadHistory(vote)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].Epoch)
}
