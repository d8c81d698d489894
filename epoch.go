package nodescan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// approxSlotDuration is the nominal slot time used for countdown estimates.
	approxSlotDuration = 400 * time.Millisecond
	// approxEpochDuration is the nominal wall-clock length of an epoch.
	approxEpochDuration = 60 * time.Hour
	// referenceEpoch started at referenceEpochStart; older epoch dates are
	// extrapolated from it using approxEpochDuration.
	referenceEpoch = 800
)

var referenceEpochStart = time.Date(2025, time.June, 9, 0, 0, 0, 0, time.UTC)

// EpochInfo describes the progress of the current epoch.
type EpochInfo struct {
	Epoch            uint64        `json:"epoch"`
	SlotIndex        uint64        `json:"slotIndex"`
	SlotsInEpoch     uint64        `json:"slotsInEpoch"`
	AbsoluteSlot     uint64        `json:"absoluteSlot"`
	BlockHeight      uint64        `json:"blockHeight"`
	TransactionCount uint64        `json:"transactionCount"`
	TimeRemaining    time.Duration `json:"-"`
	Source           string        `json:"source,omitempty"`
}

func newEpochInfo(epoch, slotIndex, slotsInEpoch, absoluteSlot uint64) EpochInfo {
	return EpochInfo{
		Epoch:         epoch,
		SlotIndex:     slotIndex,
		SlotsInEpoch:  slotsInEpoch,
		AbsoluteSlot:  absoluteSlot,
		TimeRemaining: estimateTimeRemaining(slotIndex, slotsInEpoch),
	}
}

// TimeRemainingSeconds is the countdown value in whole seconds.
func (e EpochInfo) TimeRemainingSeconds() int64 {
	return int64(e.TimeRemaining / time.Second)
}

// Progress returns the fraction of the epoch already elapsed, in [0, 1].
func (e EpochInfo) Progress() float64 {
	if e.SlotsInEpoch == 0 {
		return 0
	}
	if e.SlotIndex >= e.SlotsInEpoch {
		return 1
	}
	return float64(e.SlotIndex) / float64(e.SlotsInEpoch)
}

func estimateTimeRemaining(slotIndex, slotsInEpoch uint64) time.Duration {
	if slotIndex >= slotsInEpoch {
		return 0
	}
	return time.Duration(slotsInEpoch-slotIndex) * approxSlotDuration
}

// estimateEpochDate returns the approximate start date of an epoch.
func estimateEpochDate(epoch uint64) time.Time {
	delta := int64(epoch) - referenceEpoch
	return referenceEpochStart.Add(time.Duration(delta) * approxEpochDuration)
}

// estimateCurrentEpoch inverts estimateEpochDate.
func estimateCurrentEpoch(now time.Time) uint64 {
	elapsed := now.Sub(referenceEpochStart)
	epoch := int64(referenceEpoch) + int64(elapsed/approxEpochDuration)
	if epoch < 0 {
		return 0
	}
	return uint64(epoch)
}

// MarshalJSON reports TimeRemaining in seconds.
func (e EpochInfo) MarshalJSON() ([]byte, error) {
	type plain EpochInfo
	return json.Marshal(struct {
		plain
		TimeRemaining float64 `json:"timeRemaining"`
		Progress      float64 `json:"progress"`
	}{
		plain:         plain(e),
		TimeRemaining: e.TimeRemaining.Seconds(),
		Progress:      e.Progress(),
	})
}

// EpochInfo returns the current epoch from RPC, falling back to SolanaFM.
func (s *Service) EpochInfo(ctx context.Context) (EpochInfo, error) {
	const key = "current"
	return s.epochCache.GetOrLoad(ctx, key, func(ctx context.Context) (EpochInfo, bool, error) {
		sources := []Source[EpochInfo]{
			{Name: SourceRPC, Fetch: func(ctx context.Context) (EpochInfo, error) {
				info, err := s.rpc.GetEpochInfo(ctx)
				if err != nil {
					return EpochInfo{}, err
				}
				return *info, nil
			}},
		}
		if s.solanaFM != nil {
			sources = append(sources, Source[EpochInfo]{Name: SourceSolanaFM, Fetch: s.solanaFM.CurrentEpoch})
		}

		res, err := Resolve(ctx, s.log, s.metrics, "epoch", sources, func(info EpochInfo) bool {
			return info.SlotsInEpoch > 0
		})
		if err != nil {
			return EpochInfo{}, false, fmt.Errorf("epoch info: %w", err)
		}
		res.Value.Source = res.Source
		return res.Value, true, nil
	})
}
