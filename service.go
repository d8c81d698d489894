package nodescan

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// ServiceOptions wires the upstream clients and caches of a Service. Only RPC
// is required; a nil REST source or store is skipped in every fallback chain.
type ServiceOptions struct {
	RPC      SolanaClient
	Stakewiz StakewizAPI
	Solscan  SolscanAPI
	SolanaFM SolanaFMAPI
	Store    HistoryStore
	Cache    CacheConfig
	Clock    clock.Clock
	Logger   *zap.Logger
	Metrics  *Metrics
}

// Service resolves validator metrics from several upstream sources and
// caches the results briefly.
type Service struct {
	rpc      SolanaClient
	stakewiz StakewizAPI
	solscan  SolscanAPI
	solanaFM SolanaFMAPI
	store    HistoryStore

	log     *zap.Logger
	metrics *Metrics
	clock   clock.Clock

	totalStakeCache   *ttlCache[float64]
	stakeChangesCache *ttlCache[StakeChanges]
	historyCache      *ttlCache[StakeHistory]
	infoCache         *ttlCache[ValidatorInfo]
	epochCache        *ttlCache[EpochInfo]
	janitorInterval   time.Duration
}

// NewService builds a Service. Zero cache settings fall back to defaults.
func NewService(opts ServiceOptions) *Service {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	cfg := withCacheDefaults(opts.Cache)

	return &Service{
		rpc:      opts.RPC,
		stakewiz: opts.Stakewiz,
		solscan:  opts.Solscan,
		solanaFM: opts.SolanaFM,
		store:    opts.Store,
		log:      componentLogger(opts.Logger, "resolver"),
		metrics:  opts.Metrics,
		clock:    clk,

		totalStakeCache:   newTTLCache[float64]("total_stake", cfg.MaxEntries, cfg.TotalStakeTTL, clk, opts.Metrics),
		stakeChangesCache: newTTLCache[StakeChanges]("stake_changes", cfg.MaxEntries, cfg.StakeChangesTTL, clk, opts.Metrics),
		historyCache:      newTTLCache[StakeHistory]("stake_history", cfg.MaxEntries, cfg.StakeHistoryTTL, clk, opts.Metrics),
		infoCache:         newTTLCache[ValidatorInfo]("validator_info", cfg.MaxEntries, cfg.ValidatorInfoTTL, clk, opts.Metrics),
		epochCache:        newTTLCache[EpochInfo]("epoch", cfg.MaxEntries, cfg.EpochTTL, clk, opts.Metrics),
		janitorInterval:   cfg.JanitorInterval,
	}
}

func withCacheDefaults(cfg CacheConfig) CacheConfig {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultCacheMaxEntries
	}
	if cfg.TotalStakeTTL <= 0 {
		cfg.TotalStakeTTL = defaultTotalStakeTTL
	}
	if cfg.StakeChangesTTL <= 0 {
		cfg.StakeChangesTTL = defaultStakeChangesTTL
	}
	if cfg.StakeHistoryTTL <= 0 {
		cfg.StakeHistoryTTL = defaultStakeHistoryTTL
	}
	if cfg.ValidatorInfoTTL <= 0 {
		cfg.ValidatorInfoTTL = defaultValidatorInfoTTL
	}
	if cfg.EpochTTL <= 0 {
		cfg.EpochTTL = defaultEpochTTL
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = defaultJanitorInterval
	}
	return cfg
}

// RunJanitor purges expired cache entries until ctx is done.
func (s *Service) RunJanitor(ctx context.Context) {
	runJanitor(ctx, s.clock, s.janitorInterval,
		s.totalStakeCache,
		s.stakeChangesCache,
		s.historyCache,
		s.infoCache,
		s.epochCache,
	)
}

// Invalidate drops every cached metric of a validator so the next read goes
// upstream.
func (s *Service) Invalidate(votePubkey string) {
	s.totalStakeCache.Remove(votePubkey)
	s.stakeChangesCache.Remove(votePubkey)
	s.historyCache.Remove(votePubkey)
	s.infoCache.Remove(votePubkey)
}

// findVoteAccount returns the RPC vote account of votePubkey.
func (s *Service) findVoteAccount(ctx context.Context, votePubkey string) (VoteAccount, error) {
	accounts, err := s.rpc.GetVoteAccounts(ctx, votePubkey)
	if err != nil {
		return VoteAccount{}, err
	}
	for _, account := range accounts {
		if account.VotePubkey == votePubkey {
			return account, nil
		}
	}
	return VoteAccount{}, ErrNotFound
}
