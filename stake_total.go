package nodescan

import (
	"context"

	"go.uber.org/zap"
)

// TotalStake returns the activated stake of a validator in SOL. Sources are
// tried in order: RPC vote accounts, Stakewiz validator, Stakewiz stake,
// Solscan, SolanaFM. It returns 0 when every source fails.
func (s *Service) TotalStake(ctx context.Context, votePubkey string) float64 {
	if !ValidateVotePubkey(votePubkey) {
		return 0
	}

	stake, err := s.totalStakeCache.GetOrLoad(ctx, votePubkey, func(ctx context.Context) (float64, bool, error) {
		res, err := Resolve(ctx, s.log, s.metrics, "total_stake", s.totalStakeSources(votePubkey), positive)
		if err != nil {
			return 0, false, err
		}
		return res.Value, true, nil
	})
	if err != nil {
		s.log.Warn("total stake unavailable", zap.String("vote", votePubkey), zap.Error(err))
		return 0
	}
	return stake
}

func (s *Service) totalStakeSources(votePubkey string) []Source[float64] {
	sources := []Source[float64]{
		{Name: SourceRPC, Fetch: func(ctx context.Context) (float64, error) {
			account, err := s.findVoteAccount(ctx, votePubkey)
			if err != nil {
				return 0, err
			}
			return lamportsToSOL(account.ActivatedStake), nil
		}},
	}
	if s.stakewiz != nil {
		sources = append(sources,
			Source[float64]{Name: SourceStakewiz, Fetch: func(ctx context.Context) (float64, error) {
				validator, err := s.stakewiz.Validator(ctx, votePubkey)
				if err != nil {
					return 0, err
				}
				return validator.ActivatedStake, nil
			}},
			Source[float64]{Name: SourceStakewizStake, Fetch: func(ctx context.Context) (float64, error) {
				stake, err := s.stakewiz.Stake(ctx, votePubkey)
				if err != nil {
					return 0, err
				}
				return stake.ActivatedStake, nil
			}},
		)
	}
	if s.solscan != nil {
		sources = append(sources, Source[float64]{Name: SourceSolscan, Fetch: func(ctx context.Context) (float64, error) {
			return s.solscan.TotalStake(ctx, votePubkey)
		}})
	}
	if s.solanaFM != nil {
		sources = append(sources, Source[float64]{Name: SourceSolanaFM, Fetch: func(ctx context.Context) (float64, error) {
			validator, err := s.solanaFM.Validator(ctx, votePubkey)
			if err != nil {
				return 0, err
			}
			return validator.ActivatedStake, nil
		}})
	}
	return sources
}
