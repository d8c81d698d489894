package nodescan

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// StakewizAPI is the subset of the Stakewiz REST API used by the fetchers.
type StakewizAPI interface {
	Validator(ctx context.Context, votePubkey string) (*StakewizValidator, error)
	Validators(ctx context.Context) ([]StakewizValidator, error)
	Stake(ctx context.Context, votePubkey string) (*StakewizStake, error)
	StakeHistory(ctx context.Context, votePubkey string) ([]StakeHistoryItem, error)
}

// StakewizValidator is a validator record as published by Stakewiz. Stake
// figures are in SOL.
type StakewizValidator struct {
	Identity       string  `json:"identity"`
	VoteIdentity   string  `json:"vote_identity"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	Website        string  `json:"website"`
	Image          string  `json:"image"`
	Keybase        string  `json:"keybase"`
	Version        string  `json:"version"`
	ActivatedStake float64 `json:"activated_stake"`
	Commission     float64 `json:"commission"`
	Uptime         float64 `json:"uptime"`
	SkipRate       float64 `json:"skip_rate"`
	Credits        uint64  `json:"credits"`
	EpochCredits   uint64  `json:"epoch_credits"`
	LastVote       uint64  `json:"last_vote"`
	RootSlot       uint64  `json:"root_slot"`
	Delinquent     bool    `json:"delinquent"`
	Epoch          uint64  `json:"epoch"`
}

// StakewizStake aggregates the stake movements of a validator, in SOL.
type StakewizStake struct {
	ActivatedStake    float64 `json:"activated_stake"`
	ActivatingStake   float64 `json:"activating_stake"`
	DeactivatingStake float64 `json:"deactivating_stake"`
	Epoch             uint64  `json:"epoch"`
}

// StakewizClient talks to api.stakewiz.com.
type StakewizClient struct {
	rest *restClient
}

// NewStakewizClient builds a client for the Stakewiz API rooted at baseURL.
func NewStakewizClient(baseURL string, cfg SourcesConfig, transport http.RoundTripper, log *zap.Logger) *StakewizClient {
	return &StakewizClient{rest: newRESTClient(SourceStakewiz, baseURL, cfg, transport, log)}
}

func (c *StakewizClient) Validator(ctx context.Context, votePubkey string) (*StakewizValidator, error) {
	var out StakewizValidator
	if err := c.rest.getJSON(ctx, "/validator/"+url.PathEscape(votePubkey), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *StakewizClient) Validators(ctx context.Context) ([]StakewizValidator, error) {
	var out []StakewizValidator
	if err := c.rest.getJSON(ctx, "/validators", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StakewizClient) Stake(ctx context.Context, votePubkey string) (*StakewizStake, error) {
	var out StakewizStake
	if err := c.rest.getJSON(ctx, "/validator/"+url.PathEscape(votePubkey)+"/stake", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *StakewizClient) StakeHistory(ctx context.Context, votePubkey string) ([]StakeHistoryItem, error) {
	var raw []struct {
		Epoch uint64  `json:"epoch"`
		Stake float64 `json:"stake"`
		Date  string  `json:"date"`
	}
	if err := c.rest.getJSON(ctx, "/validator/"+url.PathEscape(votePubkey)+"/stake_history", &raw); err != nil {
		return nil, err
	}
	items := make([]StakeHistoryItem, 0, len(raw))
	for _, entry := range raw {
		items = append(items, StakeHistoryItem{
			Epoch: entry.Epoch,
			Stake: entry.Stake,
			Date:  parseSourceDate(entry.Date, entry.Epoch),
		})
	}
	return items, nil
}
