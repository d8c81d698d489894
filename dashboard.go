package nodescan

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Dashboard is everything shown on a validator page. Parts that failed to
// load keep their zero value and have an entry in Errors.
type Dashboard struct {
	VotePubkey   string            `json:"votePubkey"`
	Info         ValidatorInfo     `json:"info"`
	Epoch        *EpochInfo        `json:"epoch,omitempty"`
	TotalStake   float64           `json:"totalStake"`
	StakeChanges StakeChanges      `json:"stakeChanges"`
	History      StakeHistory      `json:"history"`
	Errors       map[string]string `json:"errors,omitempty"`
	GeneratedAt  time.Time         `json:"generatedAt"`
}

// Dashboard loads every part of a validator page concurrently. A failing part
// never prevents the others from loading.
func (s *Service) Dashboard(ctx context.Context, votePubkey string) (Dashboard, error) {
	if !ValidateVotePubkey(votePubkey) {
		return Dashboard{}, ErrInvalidPubkey
	}

	dash := Dashboard{VotePubkey: votePubkey}
	var mu sync.Mutex
	record := func(part string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if dash.Errors == nil {
			dash.Errors = make(map[string]string)
		}
		dash.Errors[part] = err.Error()
	}

	var g errgroup.Group
	g.Go(func() error {
		info, err := s.ValidatorInfo(ctx, votePubkey)
		if err != nil {
			record("info", err)
			return nil
		}
		dash.Info = info
		return nil
	})
	g.Go(func() error {
		epoch, err := s.EpochInfo(ctx)
		if err != nil {
			record("epoch", err)
			return nil
		}
		dash.Epoch = &epoch
		return nil
	})
	g.Go(func() error {
		dash.TotalStake = s.TotalStake(ctx, votePubkey)
		return nil
	})
	g.Go(func() error {
		changes, err := s.StakeChanges(ctx, votePubkey)
		if err != nil {
			record("stakeChanges", err)
			return nil
		}
		dash.StakeChanges = changes
		return nil
	})
	g.Go(func() error {
		history, err := s.StakeHistory(ctx, votePubkey)
		if err != nil {
			record("history", err)
			return nil
		}
		dash.History = history
		return nil
	})
	_ = g.Wait()

	if dash.TotalStake == 0 && dash.Info.ActivatedStake > 0 {
		dash.TotalStake = dash.Info.ActivatedStake
	}
	dash.GeneratedAt = s.clock.Now().UTC()
	return dash, nil
}
