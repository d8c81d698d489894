package nodescan

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// SolanaFMAPI is the subset of the SolanaFM REST API used by the fetchers.
type SolanaFMAPI interface {
	Validator(ctx context.Context, votePubkey string) (*SolanaFMValidator, error)
	StakeHistory(ctx context.Context, votePubkey string) ([]StakeHistoryItem, error)
	CurrentEpoch(ctx context.Context) (EpochInfo, error)
}

// SolanaFMValidator is a validator record from SolanaFM. Stake is in SOL.
type SolanaFMValidator struct {
	VotePubkey     string
	NodePubkey     string
	Name           string
	ActivatedStake float64
	Commission     int
}

// SolanaFMClient talks to api.solana.fm.
type SolanaFMClient struct {
	rest *restClient
}

// NewSolanaFMClient builds a SolanaFM client rooted at baseURL.
func NewSolanaFMClient(baseURL string, cfg SourcesConfig, transport http.RoundTripper, log *zap.Logger) *SolanaFMClient {
	return &SolanaFMClient{rest: newRESTClient(SourceSolanaFM, baseURL, cfg, transport, log)}
}

type solanaFMEnvelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

func (c *SolanaFMClient) Validator(ctx context.Context, votePubkey string) (*SolanaFMValidator, error) {
	var resp solanaFMEnvelope[*struct {
		VotePubkey     string     `json:"votePubkey"`
		NodePubkey     string     `json:"nodePubkey"`
		Name           string     `json:"name"`
		ActivatedStake flexUint64 `json:"activatedStake"`
		Commission     int        `json:"commission"`
	}]
	if err := c.rest.getJSON(ctx, "/v0/validators/"+url.PathEscape(votePubkey), &resp); err != nil {
		return nil, err
	}
	if resp.Result == nil {
		return nil, ErrNoData
	}
	return &SolanaFMValidator{
		VotePubkey:     resp.Result.VotePubkey,
		NodePubkey:     resp.Result.NodePubkey,
		Name:           resp.Result.Name,
		ActivatedStake: lamportsToSOL(uint64(resp.Result.ActivatedStake)),
		Commission:     resp.Result.Commission,
	}, nil
}

func (c *SolanaFMClient) StakeHistory(ctx context.Context, votePubkey string) ([]StakeHistoryItem, error) {
	var resp solanaFMEnvelope[[]struct {
		Epoch          uint64     `json:"epoch"`
		ActivatedStake flexUint64 `json:"activatedStake"`
		Timestamp      string     `json:"timestamp"`
	}]
	if err := c.rest.getJSON(ctx, "/v0/validators/"+url.PathEscape(votePubkey)+"/history", &resp); err != nil {
		return nil, err
	}
	items := make([]StakeHistoryItem, 0, len(resp.Result))
	for _, entry := range resp.Result {
		items = append(items, StakeHistoryItem{
			Epoch: entry.Epoch,
			Stake: lamportsToSOL(uint64(entry.ActivatedStake)),
			Date:  parseSourceDate(entry.Timestamp, entry.Epoch),
		})
	}
	return items, nil
}

// CurrentEpoch returns the most recent epoch listed by SolanaFM.
func (c *SolanaFMClient) CurrentEpoch(ctx context.Context) (EpochInfo, error) {
	var resp solanaFMEnvelope[[]struct {
		Epoch        uint64 `json:"epoch"`
		SlotIndex    uint64 `json:"slotIndex"`
		SlotsInEpoch uint64 `json:"slotsInEpoch"`
		AbsoluteSlot uint64 `json:"absoluteSlot"`
	}]
	if err := c.rest.getJSON(ctx, "/v0/epochs", &resp); err != nil {
		return EpochInfo{}, err
	}
	if len(resp.Result) == 0 {
		return EpochInfo{}, ErrNoData
	}
	latest := resp.Result[0]
	for _, entry := range resp.Result[1:] {
		if entry.Epoch > latest.Epoch {
			latest = entry
		}
	}
	return newEpochInfo(latest.Epoch, latest.SlotIndex, latest.SlotsInEpoch, latest.AbsoluteSlot), nil
}
