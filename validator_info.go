package nodescan

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ValidatorInfo is the merged view of a validator across upstream sources.
type ValidatorInfo struct {
	VotePubkey         string   `json:"votePubkey"`
	IdentityPubkey     string   `json:"identityPubkey,omitempty"`
	Commission         int      `json:"commission"`
	ActivatedStake     float64  `json:"activatedStake"`
	PendingStakeChange float64  `json:"pendingStakeChange"`
	IsDeactivating     bool     `json:"isDeactivating"`
	EpochCredits       uint64   `json:"epochCredits"`
	LastVote           uint64   `json:"lastVote"`
	RootSlot           uint64   `json:"rootSlot"`
	Delinquent         bool     `json:"delinquent"`
	Name               string   `json:"name"`
	Icon               string   `json:"icon,omitempty"`
	Website            string   `json:"website,omitempty"`
	Description        string   `json:"description,omitempty"`
	Version            string   `json:"version,omitempty"`
	Uptime             *float64 `json:"uptime,omitempty"`
	Placeholder        bool     `json:"placeholder,omitempty"`
	Sources            []string `json:"sources,omitempty"`
}

// placeholderInfo is returned for validators no source knows about.
func placeholderInfo(votePubkey string) ValidatorInfo {
	return ValidatorInfo{
		VotePubkey:  votePubkey,
		Name:        placeholderName(votePubkey),
		Placeholder: true,
	}
}

// validatorParts collects the raw answer of every source for one merge.
type validatorParts struct {
	vote     *VoteAccount
	stakewiz *StakewizValidator
	stake    *StakewizStake
	solscan  *SolscanProfile
	solanaFM *SolanaFMValidator
}

// ValidatorInfo merges RPC, Stakewiz, Solscan and SolanaFM data. Chain fields
// prefer RPC; metadata prefers Stakewiz. A validator unknown to every source
// yields a placeholder record rather than an error.
func (s *Service) ValidatorInfo(ctx context.Context, votePubkey string) (ValidatorInfo, error) {
	if !ValidateVotePubkey(votePubkey) {
		return ValidatorInfo{}, ErrInvalidPubkey
	}

	return s.infoCache.GetOrLoad(ctx, votePubkey, func(ctx context.Context) (ValidatorInfo, bool, error) {
		parts := s.fetchValidatorParts(ctx, votePubkey)
		info, ok := mergeValidatorInfo(votePubkey, parts)
		if !ok {
			if err := ctx.Err(); err != nil {
				return ValidatorInfo{}, false, fmt.Errorf("validator info: %w", err)
			}
			s.log.Info("validator unknown to all sources", zap.String("vote", votePubkey))
			return placeholderInfo(votePubkey), false, nil
		}
		return info, true, nil
	})
}

func (s *Service) fetchValidatorParts(ctx context.Context, votePubkey string) validatorParts {
	var parts validatorParts
	var g errgroup.Group

	g.Go(func() error {
		s.metrics.sourceAttempt("validator_info", SourceRPC)
		account, err := s.findVoteAccount(ctx, votePubkey)
		if err != nil {
			s.partFailed(SourceRPC, votePubkey, err)
			return nil
		}
		parts.vote = &account
		return nil
	})
	if s.stakewiz != nil {
		g.Go(func() error {
			s.metrics.sourceAttempt("validator_info", SourceStakewiz)
			validator, err := s.stakewizValidator(ctx, votePubkey)
			if err != nil {
				s.partFailed(SourceStakewiz, votePubkey, err)
				return nil
			}
			parts.stakewiz = validator
			return nil
		})
		g.Go(func() error {
			s.metrics.sourceAttempt("validator_info", SourceStakewizStake)
			stake, err := s.stakewiz.Stake(ctx, votePubkey)
			if err != nil {
				s.partFailed(SourceStakewizStake, votePubkey, err)
				return nil
			}
			parts.stake = stake
			return nil
		})
	}
	if s.solscan != nil {
		g.Go(func() error {
			s.metrics.sourceAttempt("validator_info", SourceSolscan)
			profile, err := s.solscan.Profile(ctx, votePubkey)
			if err != nil {
				s.partFailed(SourceSolscan, votePubkey, err)
				return nil
			}
			parts.solscan = profile
			return nil
		})
	}
	if s.solanaFM != nil {
		g.Go(func() error {
			s.metrics.sourceAttempt("validator_info", SourceSolanaFM)
			validator, err := s.solanaFM.Validator(ctx, votePubkey)
			if err != nil {
				s.partFailed(SourceSolanaFM, votePubkey, err)
				return nil
			}
			parts.solanaFM = validator
			return nil
		})
	}
	_ = g.Wait()
	return parts
}

// stakewizValidator reads the validator endpoint and falls back to scanning
// the full validator list.
func (s *Service) stakewizValidator(ctx context.Context, votePubkey string) (*StakewizValidator, error) {
	validator, err := s.stakewiz.Validator(ctx, votePubkey)
	if err == nil && validator != nil && validator.VoteIdentity != "" {
		return validator, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	all, listErr := s.stakewiz.Validators(ctx)
	if listErr != nil {
		return nil, errors.Join(err, listErr)
	}
	for i := range all {
		if all[i].VoteIdentity == votePubkey {
			return &all[i], nil
		}
	}
	return nil, ErrNotFound
}

func (s *Service) partFailed(source, votePubkey string, err error) {
	s.metrics.sourceFailure("validator_info", source, failureReason(err))
	s.log.Debug("validator source failed",
		zap.String("source", source),
		zap.String("vote", votePubkey),
		zap.Error(err))
}

// mergeValidatorInfo applies first-non-empty-wins per field. It reports false
// when no source contributed anything.
func mergeValidatorInfo(votePubkey string, p validatorParts) (ValidatorInfo, bool) {
	info := ValidatorInfo{VotePubkey: votePubkey}

	if p.vote != nil {
		info.Sources = append(info.Sources, SourceRPC)
		info.IdentityPubkey = p.vote.NodePubkey
		info.Commission = p.vote.Commission
		info.ActivatedStake = lamportsToSOL(p.vote.ActivatedStake)
		info.EpochCredits = p.vote.CurrentEpochCredits()
		info.LastVote = p.vote.LastVote
		info.RootSlot = p.vote.RootSlot
		info.Delinquent = p.vote.Delinquent
	}
	if sw := p.stakewiz; sw != nil {
		info.Sources = append(info.Sources, SourceStakewiz)
		if p.vote == nil {
			info.IdentityPubkey = sw.Identity
			info.Commission = int(sw.Commission)
			info.ActivatedStake = sw.ActivatedStake
			info.EpochCredits = sw.EpochCredits
			info.LastVote = sw.LastVote
			info.RootSlot = sw.RootSlot
			info.Delinquent = sw.Delinquent
		}
		info.Name = firstNonEmpty(info.Name, sw.Name)
		info.Icon = firstNonEmpty(info.Icon, sw.Image)
		info.Website = firstNonEmpty(info.Website, sw.Website)
		info.Description = firstNonEmpty(info.Description, sw.Description)
		info.Version = firstNonEmpty(info.Version, sw.Version)
		if sw.Uptime > 0 {
			uptime := sw.Uptime
			info.Uptime = &uptime
		}
	}
	if sc := p.solscan; sc != nil {
		info.Sources = append(info.Sources, SourceSolscan)
		info.Name = firstNonEmpty(info.Name, sc.Name)
		info.Icon = firstNonEmpty(info.Icon, sc.Logo)
		info.Website = firstNonEmpty(info.Website, sc.Website)
	}
	if fm := p.solanaFM; fm != nil {
		info.Sources = append(info.Sources, SourceSolanaFM)
		info.IdentityPubkey = firstNonEmpty(info.IdentityPubkey, fm.NodePubkey)
		if info.ActivatedStake == 0 {
			info.ActivatedStake = fm.ActivatedStake
		}
		if p.vote == nil && p.stakewiz == nil {
			info.Commission = fm.Commission
		}
		info.Name = firstNonEmpty(info.Name, fm.Name)
	}
	if st := p.stake; st != nil {
		info.Sources = append(info.Sources, SourceStakewizStake)
		info.PendingStakeChange = st.ActivatingStake - st.DeactivatingStake
		info.IsDeactivating = st.DeactivatingStake > st.ActivatingStake
		if info.ActivatedStake == 0 {
			info.ActivatedStake = st.ActivatedStake
		}
	}

	if len(info.Sources) == 0 {
		return ValidatorInfo{}, false
	}
	info.Name = firstNonEmpty(info.Name, placeholderName(votePubkey))
	return info, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
