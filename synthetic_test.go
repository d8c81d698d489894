package nodescan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSyntheticHistoryDeterministic(t *testing.T) {
	t.Parallel()

	first := GenerateSyntheticHistory(testVote, 250_000, 780)
	second := GenerateSyntheticHistory(testVote, 250_000, 780)
	assert.Equal(t, first, second)

	other := GenerateSyntheticHistory(unknownVote, 250_000, 780)
	assert.NotEqual(t, first, other)
}

func TestGenerateSyntheticHistoryShape(t *testing.T) {
	t.Parallel()

	items := GenerateSyntheticHistory(testVote, 100_000, 780)
	require.Len(t, items, syntheticEpochs)

	assert.Equal(t, uint64(751), items[0].Epoch)
	assert.Equal(t, uint64(780), items[len(items)-1].Epoch)
	for i := 1; i < len(items); i++ {
		assert.Equal(t, items[i-1].Epoch+1, items[i].Epoch)
		assert.True(t, items[i].Date.After(items[i-1].Date))
	}

	// newest point stays within the variation band around the current stake
	newest := items[len(items)-1].Stake
	assert.InDelta(t, 100_000, newest, 100_000*syntheticVariation+0.01)
	// oldest point carries the full age decay
	oldest := items[0].Stake
	assert.InDelta(t, 70_000, oldest, 70_000*syntheticVariation+0.01)
}

func TestGenerateSyntheticHistoryNearGenesis(t *testing.T) {
	t.Parallel()

	items := GenerateSyntheticHistory(testVote, 10, 4)
	require.Len(t, items, 5)
	assert.Equal(t, uint64(0), items[0].Epoch)
	assert.Equal(t, uint64(4), items[4].Epoch)
}

func TestSyntheticSeedFallsBackToRawBytes(t *testing.T) {
	t.Parallel()

	assert.NotZero(t, syntheticSeed(testVote))
	// "0" is not base58, so the raw bytes "xy0" are used
	assert.Equal(t, float64(0x787930), syntheticSeed("xy0"))
}
