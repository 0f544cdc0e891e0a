package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"chain-screening/internal/alerting"
	"chain-screening/internal/config"
	"chain-screening/internal/risk"
	"chain-screening/internal/scheduler"
	"chain-screening/internal/storage"
)

const maxConcurrentScreens = 4

// Screener is satisfied by *screening.Aggregator.
type Screener interface {
	ScreenAddress(ctx context.Context, address, chain string, sc *risk.Context) risk.Result
}

type lastAlert struct {
	decision risk.Decision
	at       time.Time
}

// Monitor re-screens a watchlist on a schedule and alerts on REVIEW or BLOCK.
type Monitor struct {
	scheduler *scheduler.Scheduler
	screener  Screener
	notifier  alerting.Notifier
	locker    storage.AdvisoryLocker
	logger    zerolog.Logger

	watchlist []string
	chain     string
	lockKey   int64
	cooldown  time.Duration
	now       func() time.Time

	mu        sync.Mutex
	decisions map[string]risk.Decision
	alerts    map[string]lastAlert
}

// Deps bundles the optional collaborators of a Monitor.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Screener  Screener
	Notifier  alerting.Notifier
	Locker    storage.AdvisoryLocker
}

// New constructs the watchlist monitor.
func New(cfg config.MonitorConfig, deps Deps, logger zerolog.Logger) *Monitor {
	watch := make([]string, 0, len(cfg.Watchlist))
	seen := make(map[string]struct{}, len(cfg.Watchlist))
	for _, a := range cfg.Watchlist {
		a = strings.TrimSpace(a)
		key := strings.ToLower(a)
		if a == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		watch = append(watch, a)
	}

	return &Monitor{
		scheduler: deps.Scheduler,
		screener:  deps.Screener,
		notifier:  deps.Notifier,
		locker:    deps.Locker,
		logger:    logger.With().Str("component", "monitor").Logger(),
		watchlist: watch,
		chain:     cfg.Chain,
		lockKey:   cfg.AdvisoryLockKey,
		cooldown:  cfg.Cooldown,
		now:       func() time.Time { return time.Now().UTC() },
		decisions: make(map[string]risk.Decision),
		alerts:    make(map[string]lastAlert),
	}
}

// Run begins the scheduled monitoring loop.
func (m *Monitor) Run(ctx context.Context) error {
	if m.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if m.screener == nil {
		return fmt.Errorf("screener not configured")
	}
	return m.scheduler.Run(ctx, m.ProcessRound)
}

// ProcessRound 执行一轮观察名单复筛。
func (m *Monitor) ProcessRound(ctx context.Context, round time.Time) error {
	unlock, proceed, err := m.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		m.logger.Debug().Time("round", round).Msg("skip round because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	results := make([]risk.Result, len(m.watchlist))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentScreens)
	for i, address := range m.watchlist {
		g.Go(func() error {
			results[i] = m.screener.ScreenAddress(gctx, address, m.chain, nil)
			return nil
		})
	}
	_ = g.Wait()

	flagged := 0
	for _, res := range results {
		if m.handleResult(ctx, round, res) {
			flagged++
		}
	}
	m.logger.Info().Time("round", round).Int("screened", len(results)).Int("alerted", flagged).Msg("watchlist round done")
	return nil
}

// handleResult records the decision and alerts when warranted. It reports whether an alert went out.
func (m *Monitor) handleResult(ctx context.Context, round time.Time, res risk.Result) bool {
	key := strings.ToLower(res.Address)

	m.mu.Lock()
	prev, hadPrev := m.decisions[key]
	m.decisions[key] = res.Decision
	send := m.shouldAlert(key, res.Decision)
	if send {
		m.alerts[key] = lastAlert{decision: res.Decision, at: m.now()}
	}
	m.mu.Unlock()

	if !send || m.notifier == nil {
		return false
	}

	var previous *risk.Decision
	if hadPrev {
		previous = &prev
	}
	if err := m.notifier.Notify(ctx, alerting.NewNotification(round, res, previous)); err != nil {
		m.logger.Error().Err(err).Str("address", res.Address).Msg("failed to dispatch alert")
		return false
	}
	return true
}

// shouldAlert must be called with mu held.
func (m *Monitor) shouldAlert(key string, decision risk.Decision) bool {
	if decision == risk.DecisionApprove {
		delete(m.alerts, key)
		return false
	}
	last, ok := m.alerts[key]
	if !ok || last.decision != decision {
		return true
	}
	return m.now().Sub(last.at) >= m.cooldown
}

func (m *Monitor) acquireLock(ctx context.Context) (func(), bool, error) {
	if m.lockKey == 0 || m.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := m.locker.TryAdvisoryLock(ctx, m.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
