package nodescan

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// maxActivationLookups caps getStakeActivation calls when the current epoch
// is unknown.
const maxActivationLookups = 25

// StakeChangeDetail describes one activating or deactivating delegation.
type StakeChangeDetail struct {
	StakeAccount    string  `json:"stakeAccount"`
	Amount          float64 `json:"amount"`
	RemainingEpochs uint64  `json:"remainingEpochs"`
	Owner           string  `json:"owner"`
	Epoch           uint64  `json:"epoch"`
}

// StakeChanges aggregates the pending stake movements of a validator in SOL.
type StakeChanges struct {
	Activating           float64             `json:"activating"`
	Deactivating         float64             `json:"deactivating"`
	ActivatingAccounts   []StakeChangeDetail `json:"activatingAccounts"`
	DeactivatingAccounts []StakeChangeDetail `json:"deactivatingAccounts"`
	Source               string              `json:"source"`
}

func (c StakeChanges) hasData() bool {
	return c.Activating != 0 || c.Deactivating != 0 ||
		len(c.ActivatingAccounts) > 0 || len(c.DeactivatingAccounts) > 0
}

// Net is the expected change of activated stake once all movements settle.
func (c StakeChanges) Net() float64 {
	return c.Activating - c.Deactivating
}

// StakeChanges returns activating and deactivating stake of a validator.
// RPC stake accounts are preferred since they carry per-account details;
// Stakewiz aggregates are used otherwise. When neither has data the result
// is empty and no error is returned.
func (s *Service) StakeChanges(ctx context.Context, votePubkey string) (StakeChanges, error) {
	if !ValidateVotePubkey(votePubkey) {
		return StakeChanges{}, ErrInvalidPubkey
	}

	changes, err := s.stakeChangesCache.GetOrLoad(ctx, votePubkey, func(ctx context.Context) (StakeChanges, bool, error) {
		sources := []Source[StakeChanges]{
			{Name: SourceRPC, Fetch: func(ctx context.Context) (StakeChanges, error) {
				return s.rpcStakeChanges(ctx, votePubkey)
			}},
		}
		if s.stakewiz != nil {
			sources = append(sources, Source[StakeChanges]{Name: SourceStakewiz, Fetch: func(ctx context.Context) (StakeChanges, error) {
				stake, err := s.stakewiz.Stake(ctx, votePubkey)
				if err != nil {
					return StakeChanges{}, err
				}
				return StakeChanges{
					Activating:   stake.ActivatingStake,
					Deactivating: stake.DeactivatingStake,
				}, nil
			}})
		}

		res, err := Resolve(ctx, s.log, s.metrics, "stake_changes", sources, StakeChanges.hasData)
		if err != nil {
			return StakeChanges{}, false, err
		}
		res.Value.Source = res.Source
		return res.Value, true, nil
	})
	if err != nil {
		s.log.Info("no stake changes found", zap.String("vote", votePubkey), zap.Error(err))
		return StakeChanges{Source: SourceNone}, nil
	}
	return changes, nil
}

func (s *Service) rpcStakeChanges(ctx context.Context, votePubkey string) (StakeChanges, error) {
	accounts, err := s.rpc.GetStakeAccounts(ctx, votePubkey)
	if err != nil {
		return StakeChanges{}, err
	}

	epoch, err := s.EpochInfo(ctx)
	if err != nil {
		s.log.Warn("epoch unknown, falling back to stake activation lookups", zap.Error(err))
		return s.activationStakeChanges(ctx, accounts)
	}
	return classifyStakeAccounts(accounts, epoch.Epoch), nil
}

// classifyStakeAccounts splits delegations that are still warming up or
// cooling down at currentEpoch.
func classifyStakeAccounts(accounts []StakeAccount, currentEpoch uint64) StakeChanges {
	var changes StakeChanges
	for _, account := range accounts {
		if account.ActivationEpoch == account.DeactivationEpoch {
			continue
		}
		amount := lamportsToSOL(account.DelegatedLamports)
		switch {
		case account.DeactivationEpoch == unsetEpoch && account.ActivationEpoch >= currentEpoch:
			changes.Activating += amount
			changes.ActivatingAccounts = append(changes.ActivatingAccounts, StakeChangeDetail{
				StakeAccount:    account.Address,
				Amount:          amount,
				RemainingEpochs: account.ActivationEpoch + 1 - currentEpoch,
				Owner:           account.Staker,
				Epoch:           account.ActivationEpoch,
			})
		case account.DeactivationEpoch != unsetEpoch && account.DeactivationEpoch >= currentEpoch:
			changes.Deactivating += amount
			changes.DeactivatingAccounts = append(changes.DeactivatingAccounts, StakeChangeDetail{
				StakeAccount:    account.Address,
				Amount:          amount,
				RemainingEpochs: account.DeactivationEpoch + 1 - currentEpoch,
				Owner:           account.Staker,
				Epoch:           account.DeactivationEpoch,
			})
		}
	}
	return changes
}

// activationStakeChanges asks the cluster for the activation state of each
// stake account, up to maxActivationLookups accounts.
func (s *Service) activationStakeChanges(ctx context.Context, accounts []StakeAccount) (StakeChanges, error) {
	var changes StakeChanges
	var failures int
	lookups := accounts
	if len(lookups) > maxActivationLookups {
		lookups = lookups[:maxActivationLookups]
	}
	for _, account := range lookups {
		activation, err := s.rpc.GetStakeActivation(ctx, account.Address, nil)
		if err != nil {
			failures++
			continue
		}
		detail := StakeChangeDetail{
			StakeAccount:    account.Address,
			Amount:          lamportsToSOL(account.DelegatedLamports),
			RemainingEpochs: 1,
			Owner:           account.Staker,
		}
		switch activation.State {
		case "activating":
			detail.Epoch = account.ActivationEpoch
			changes.Activating += detail.Amount
			changes.ActivatingAccounts = append(changes.ActivatingAccounts, detail)
		case "deactivating":
			detail.Epoch = account.DeactivationEpoch
			changes.Deactivating += detail.Amount
			changes.DeactivatingAccounts = append(changes.DeactivatingAccounts, detail)
		}
	}
	if failures > 0 && failures == len(lookups) {
		return StakeChanges{}, fmt.Errorf("stake activation: %d lookups failed", failures)
	}
	return changes, nil
}
