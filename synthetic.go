package nodescan

import (
	"encoding/hex"
	"math"
	"strconv"

	"github.com/mr-tron/base58"
)

const (
	syntheticEpochs    = 30
	syntheticVariation = 0.05
	syntheticPhaseStep = 0.7
	syntheticMinAge    = 0.7
)

// GenerateSyntheticHistory derives an approximate stake history ending at
// currentEpoch. The output depends only on its arguments and is sorted
// ascending by epoch.
func GenerateSyntheticHistory(votePubkey string, currentStake float64, currentEpoch uint64) []StakeHistoryItem {
	points := syntheticEpochs
	if uint64(points) > currentEpoch+1 {
		points = int(currentEpoch + 1)
	}
	seed := syntheticSeed(votePubkey)

	items := make([]StakeHistoryItem, points)
	for i := 0; i < points; i++ {
		epoch := currentEpoch - uint64(i)
		ageFactor := 1 - (1-syntheticMinAge)*float64(i)/float64(syntheticEpochs-1)
		variation := 1 + syntheticVariation*math.Sin(seed+float64(i)*syntheticPhaseStep)
		stake := math.Round(currentStake*ageFactor*variation*100) / 100
		items[points-1-i] = StakeHistoryItem{
			Epoch: epoch,
			Stake: stake,
			Date:  estimateEpochDate(epoch),
		}
	}
	return items
}

// syntheticSeed reads the last six hex characters of the decoded pubkey.
func syntheticSeed(votePubkey string) float64 {
	raw, err := base58.Decode(votePubkey)
	if err != nil || len(raw) < 3 {
		raw = []byte(votePubkey)
	}
	if len(raw) == 0 {
		return 0
	}
	if len(raw) > 3 {
		raw = raw[len(raw)-3:]
	}
	seed, err := strconv.ParseUint(hex.EncodeToString(raw), 16, 32)
	if err != nil {
		return 0
	}
	return float64(seed)
}
