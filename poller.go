package nodescan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultEpochPollInterval     = 30 * time.Second
	defaultValidatorPollInterval = 3 * time.Minute
)

// Poller refreshes epoch and validator data in the background.
type Poller struct {
	service        *Service
	countdown      *Countdown
	watch          []string
	epochEvery     time.Duration
	validatorEvery time.Duration
	log            *zap.Logger

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	lastEpoch  *EpochInfo
	dashboards map[string]Dashboard
}

// NewPoller builds a poller for the watched validators. The countdown, when
// given, is reset on every epoch refresh.
func NewPoller(service *Service, countdown *Countdown, cfg PollConfig, log *zap.Logger) *Poller {
	logger := componentLogger(log, "poller")
	p := &Poller{
		service:        service,
		countdown:      countdown,
		watch:          append([]string(nil), cfg.Watch...),
		epochEvery:     cfg.EpochInterval,
		validatorEvery: cfg.ValidatorInterval,
		log:            logger,
		dashboards:     make(map[string]Dashboard),
	}
	if p.epochEvery <= 0 {
		p.epochEvery = defaultEpochPollInterval
	}
	if p.validatorEvery <= 0 {
		p.validatorEvery = defaultValidatorPollInterval
	}

	cl := cronLogger{log: logger}
	p.cron = cron.New(cron.WithLogger(cl), cron.WithChain(
		cron.Recover(cl),
		cron.SkipIfStillRunning(cl),
	))
	return p
}

// Start runs one refresh of everything and schedules the periodic jobs.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	if _, err := p.cron.AddFunc(fmt.Sprintf("@every %s", p.epochEvery), func() { p.RefreshEpoch(p.ctx) }); err != nil {
		return fmt.Errorf("schedule epoch refresh: %w", err)
	}
	if len(p.watch) > 0 {
		if _, err := p.cron.AddFunc(fmt.Sprintf("@every %s", p.validatorEvery), func() { p.RefreshValidators(p.ctx) }); err != nil {
			return fmt.Errorf("schedule validator refresh: %w", err)
		}
	}

	p.RefreshEpoch(p.ctx)
	p.RefreshValidators(p.ctx)
	p.cron.Start()
	p.log.Info("poller started",
		zap.Duration("epoch_every", p.epochEvery),
		zap.Duration("validator_every", p.validatorEvery),
		zap.Int("watched", len(p.watch)))
	return nil
}

// Stop cancels in-flight refreshes and waits for running jobs to return.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.cron.Stop().Done()
}

// RefreshEpoch loads the current epoch and resets the countdown.
func (p *Poller) RefreshEpoch(ctx context.Context) {
	info, err := p.service.EpochInfo(ctx)
	if err != nil {
		p.log.Warn("epoch refresh failed", zap.Error(err))
		return
	}
	p.mu.Lock()
	p.lastEpoch = &info
	p.mu.Unlock()
	if p.countdown != nil {
		p.countdown.Reset(info.TimeRemainingSeconds())
	}
	p.log.Debug("epoch refreshed",
		zap.Uint64("epoch", info.Epoch),
		zap.String("source", info.Source),
		zap.Duration("remaining", info.TimeRemaining))
}

// RefreshValidators drops cached data of every watched validator and loads
// its dashboard again.
func (p *Poller) RefreshValidators(ctx context.Context) {
	for _, vote := range p.watch {
		if ctx.Err() != nil {
			return
		}
		p.service.Invalidate(vote)
		dash, err := p.service.Dashboard(ctx, vote)
		if err != nil {
			p.log.Warn("validator refresh failed", zap.String("vote", vote), zap.Error(err))
			continue
		}
		p.mu.Lock()
		p.dashboards[vote] = dash
		p.mu.Unlock()
		p.log.Debug("validator refreshed",
			zap.String("vote", vote),
			zap.Float64("stake", dash.TotalStake),
			zap.Int("errors", len(dash.Errors)))
	}
}

// LastEpoch returns the epoch of the latest successful refresh.
func (p *Poller) LastEpoch() (EpochInfo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastEpoch == nil {
		return EpochInfo{}, false
	}
	return *p.lastEpoch, true
}

// LastDashboard returns the latest refreshed dashboard of a watched validator.
func (p *Poller) LastDashboard(vote string) (Dashboard, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	dash, ok := p.dashboards[vote]
	return dash, ok
}

// cronLogger adapts zap to the cron logger interface.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
