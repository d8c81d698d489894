package nodescan

import (
	"context"
	"fmt"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// App bundles the components built from a Config.
type App struct {
	Config    *Config
	Logger    *zap.Logger
	Metrics   *Metrics
	Service   *Service
	Confirmer *Confirmer
	Wallets   *WalletRegistry
	Countdown *Countdown
	Clock     clock.Clock

	store *LevelDBHistoryStore
}

// NewApp builds the logger, metrics, upstream clients, store and service
// described by cfg.
func NewApp(cfg *Config) (*App, error) {
	logger, err := NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, logger, clock.New())
}

func newApp(cfg *Config, logger *zap.Logger, clk clock.Clock) (*App, error) {
	metrics := NewMetrics()
	transport := newUpstreamTransport(metrics, defaultHostLimits)

	rpc := &RPCSolanaClient{
		Endpoints:  cfg.RPC.Endpoints,
		HTTPClient: &http.Client{Transport: transport},
		Timeout:    cfg.RPC.Timeout,
		Logger:     componentLogger(logger, "solana-rpc"),
	}

	opts := ServiceOptions{
		RPC:     rpc,
		Cache:   cfg.Cache,
		Clock:   clk,
		Logger:  logger,
		Metrics: metrics,
	}
	if cfg.Sources.StakewizURL != "" {
		opts.Stakewiz = NewStakewizClient(cfg.Sources.StakewizURL, cfg.Sources, transport, logger)
	}
	if cfg.Sources.SolscanURL != "" {
		opts.Solscan = NewSolscanClient(cfg.Sources.SolscanURL, cfg.Sources, transport, logger)
	}
	if cfg.Sources.SolanaFMURL != "" {
		opts.SolanaFM = NewSolanaFMClient(cfg.Sources.SolanaFMURL, cfg.Sources, transport, logger)
	}

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		Wallets: DefaultWalletRegistry(cfg.Wallet),
		Clock:   clk,
		Confirmer: &Confirmer{
			RPC:          rpc,
			WebsocketURL: cfg.RPC.websocketURL(),
			PollInterval: cfg.RPC.PollInterval,
			Timeout:      cfg.RPC.ConfirmTimeout,
			Logger:       componentLogger(logger, "confirm"),
		},
		Countdown: NewCountdown(0),
	}

	if cfg.Store.Path != "" {
		store, err := OpenHistoryStore(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		app.store = store
		opts.Store = store
	}

	app.Service = NewService(opts)
	logger.Debug("app initialised",
		zap.Strings("rpc_endpoints", cfg.RPC.Endpoints),
		zap.Bool("store", app.store != nil))
	return app, nil
}

// NewPoller returns a poller refreshing the app's service and countdown.
// Without configured watch pubkeys it watches every validator with a stored
// history.
func (a *App) NewPoller() *Poller {
	cfg := a.Config.Poll
	if len(cfg.Watch) == 0 {
		cfg.Watch = a.storedValidators()
	}
	return NewPoller(a.Service, a.Countdown, cfg, a.Logger)
}

func (a *App) storedValidators() []string {
	if a.store == nil {
		return nil
	}
	stored, err := a.store.Validators()
	if err != nil {
		a.Logger.Warn("list stored validators", zap.Error(err))
		return nil
	}
	watch := stored[:0]
	for _, vote := range stored {
		if ValidateVotePubkey(vote) {
			watch = append(watch, vote)
		}
	}
	return watch
}

// Handler returns the HTTP handler serving the app.
func (a *App) Handler() http.Handler {
	return NewServer(ServerOptions{
		Service:           a.Service,
		Metrics:           a.Metrics,
		Countdown:         a.Countdown,
		Logger:            a.Logger,
		RequestsPerSecond: a.Config.Server.RequestsPerSecond,
	})
}

// RunBackground starts the cache janitor and the countdown ticker until ctx
// is done.
func (a *App) RunBackground(ctx context.Context) {
	go a.Service.RunJanitor(ctx)
	go a.Countdown.Run(ctx, a.Clock)
}

// Close releases the store and flushes the logger.
func (a *App) Close() error {
	var errs *multierror.Error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	// stdout cannot be synced on some platforms; ignore that error
	_ = a.Logger.Sync()
	return errs.ErrorOrNil()
}
