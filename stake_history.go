package nodescan

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"
)

// StakeHistory is a validator's stake per epoch, sorted ascending by epoch.
// Estimated is set when the items were generated rather than fetched.
type StakeHistory struct {
	Items     []StakeHistoryItem `json:"items"`
	Estimated bool               `json:"estimated"`
	Source    string             `json:"source"`
}

// StakeHistory returns the stake history of a validator from Stakewiz,
// SolanaFM or the last persisted copy. When none is available a synthetic
// history is generated from the current stake and epoch.
func (s *Service) StakeHistory(ctx context.Context, votePubkey string) (StakeHistory, error) {
	if !ValidateVotePubkey(votePubkey) {
		return StakeHistory{}, ErrInvalidPubkey
	}

	history, err := s.historyCache.GetOrLoad(ctx, votePubkey, func(ctx context.Context) (StakeHistory, bool, error) {
		res, err := Resolve(ctx, s.log, s.metrics, "stake_history", s.historySources(votePubkey), nonEmpty[StakeHistoryItem])
		if err == nil {
			if res.Source != SourceStore {
				s.persistHistory(votePubkey, res.Value)
			}
			return StakeHistory{Items: res.Value, Source: res.Source}, true, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return StakeHistory{}, false, ctxErr
		}
		return s.syntheticHistory(ctx, votePubkey), false, nil
	})
	if err != nil {
		return StakeHistory{}, err
	}
	return history, nil
}

func (s *Service) historySources(votePubkey string) []Source[[]StakeHistoryItem] {
	var sources []Source[[]StakeHistoryItem]
	if s.stakewiz != nil {
		sources = append(sources, Source[[]StakeHistoryItem]{Name: SourceStakewiz, Fetch: func(ctx context.Context) ([]StakeHistoryItem, error) {
			items, err := s.stakewiz.StakeHistory(ctx, votePubkey)
			return normalizeHistory(items), err
		}})
	}
	if s.solanaFM != nil {
		sources = append(sources, Source[[]StakeHistoryItem]{Name: SourceSolanaFM, Fetch: func(ctx context.Context) ([]StakeHistoryItem, error) {
			items, err := s.solanaFM.StakeHistory(ctx, votePubkey)
			return normalizeHistory(items), err
		}})
	}
	if s.store != nil {
		sources = append(sources, Source[[]StakeHistoryItem]{Name: SourceStore, Fetch: func(ctx context.Context) ([]StakeHistoryItem, error) {
			items, err := s.store.LoadHistory(votePubkey)
			if errors.Is(err, ErrNotFound) {
				return nil, ErrNoData
			}
			return normalizeHistory(items), err
		}})
	}
	return sources
}

func (s *Service) syntheticHistory(ctx context.Context, votePubkey string) StakeHistory {
	currentEpoch := estimateCurrentEpoch(s.clock.Now())
	if epoch, err := s.EpochInfo(ctx); err == nil {
		currentEpoch = epoch.Epoch
	}
	stake := s.TotalStake(ctx, votePubkey)

	s.metrics.syntheticHistory()
	s.log.Info("serving synthetic stake history",
		zap.String("vote", votePubkey),
		zap.Uint64("epoch", currentEpoch),
		zap.Float64("stake", stake))

	return StakeHistory{
		Items:     GenerateSyntheticHistory(votePubkey, stake, currentEpoch),
		Estimated: true,
		Source:    SourceSynthetic,
	}
}

func (s *Service) persistHistory(votePubkey string, items []StakeHistoryItem) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveHistory(votePubkey, items); err != nil {
		s.log.Warn("persist stake history", zap.String("vote", votePubkey), zap.Error(err))
	}
}

// normalizeHistory sorts items by epoch and keeps the first item of each
// epoch.
func normalizeHistory(items []StakeHistoryItem) []StakeHistoryItem {
	if len(items) == 0 {
		return nil
	}
	sorted := make([]StakeHistoryItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Epoch < sorted[j].Epoch
	})

	out := sorted[:1]
	for _, item := range sorted[1:] {
		if item.Epoch == out[len(out)-1].Epoch {
			continue
		}
		out = append(out, item)
	}
	return out
}
