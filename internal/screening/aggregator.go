package screening

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"chain-screening/internal/provider"
	"chain-screening/internal/risk"
)

const (
	DefaultBlockThreshold     = 80
	DefaultReviewThreshold    = 40
	DefaultProviderTimeout    = 5 * time.Second
	DefaultMinProviderSuccess = 1

	overrideProvider = "blocklist"
)

// Config holds the decision parameters.
type Config struct {
	BlockThreshold     int
	ReviewThreshold    int
	ProviderTimeout    time.Duration
	MinProviderSuccess int
	AllowlistPriority  bool
	// Weights overrides the default weight of 1.0 per provider name.
	Weights map[string]float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		BlockThreshold:     DefaultBlockThreshold,
		ReviewThreshold:    DefaultReviewThreshold,
		ProviderTimeout:    DefaultProviderTimeout,
		MinProviderSuccess: DefaultMinProviderSuccess,
	}
}

// Decide maps a score onto a decision. Too few successful providers always means REVIEW.
func (c Config) Decide(score, succeeded int) risk.Decision {
	switch {
	case succeeded < c.MinProviderSuccess:
		return risk.DecisionReview
	case score >= c.BlockThreshold:
		return risk.DecisionBlock
	case score >= c.ReviewThreshold:
		return risk.DecisionReview
	default:
		return risk.DecisionApprove
	}
}

// weight matches provider names case-insensitively; config loaders lower-case map keys.
func (c Config) weight(name string) float64 {
	if w, ok := c.Weights[name]; ok {
		return w
	}
	for key, w := range c.Weights {
		if strings.EqualFold(key, name) {
			return w
		}
	}
	return 1
}

// OverrideChecker is satisfied by *overrides.Manager.
type OverrideChecker interface {
	IsBlocklisted(address, chain string) bool
	IsAllowlisted(address, chain string) bool
}

// Recorder receives screening observations; *metrics.Metrics implements it.
type Recorder interface {
	ObserveProvider(provider, outcome string, latency time.Duration)
	ObserveDecision(decision string)
	ObserveShortCircuit(list string)
}

// Option customises an Aggregator.
type Option func(*Aggregator)

// WithOverrides attaches the override lists.
func WithOverrides(o OverrideChecker) Option {
	return func(a *Aggregator) { a.overrides = o }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(a *Aggregator) { a.recorder = r }
}

// Aggregator fans a screening request out to every provider and reduces the answers.
type Aggregator struct {
	cfg       Config
	registry  *provider.Registry
	overrides OverrideChecker
	recorder  Recorder
	logger    zerolog.Logger
}

// New builds an aggregator. Zero thresholds and timeout fall back to the defaults.
func New(registry *provider.Registry, cfg Config, logger zerolog.Logger, opts ...Option) *Aggregator {
	if cfg.BlockThreshold == 0 {
		cfg.BlockThreshold = DefaultBlockThreshold
	}
	if cfg.ReviewThreshold == 0 {
		cfg.ReviewThreshold = DefaultReviewThreshold
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if registry == nil {
		registry, _ = provider.NewRegistry()
	}
	a := &Aggregator{
		cfg:      cfg,
		registry: registry,
		logger:   logger.With().Str("component", "aggregator").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AddProvider registers p; names must be unique.
func (a *Aggregator) AddProvider(p provider.Provider) error { return a.registry.Add(p) }

// RemoveProvider unregisters the named provider.
func (a *Aggregator) RemoveProvider(name string) bool { return a.registry.Remove(name) }

// Providers lists registered provider names in invocation order.
func (a *Aggregator) Providers() []string { return a.registry.Names() }

// ScreenAddress never fails: provider problems show up as failed provider results
// and a lower ProvidersSucceeded count.
func (a *Aggregator) ScreenAddress(ctx context.Context, address, chain string, sc *risk.Context) risk.Result {
	if res, ok := a.checkOverrides(address, chain); ok {
		a.finish(res)
		return res
	}

	providers := a.registry.Snapshot()
	req := provider.Request{Address: address, Chain: chain, Context: sc}
	results := a.fanOut(ctx, providers, req)

	res := a.reduce(results)
	res.ID = uuid.NewString()
	res.Address = address
	res.Chain = chain
	res.ScreenedAt = time.Now().UTC()
	if a.overrides != nil {
		res.Allowlisted = a.overrides.IsAllowlisted(address, chain)
	}
	a.finish(res)
	return res
}

// ScreenTransaction screens both parties concurrently; the combined decision is the worse one.
func (a *Aggregator) ScreenTransaction(ctx context.Context, from, to string, amount decimal.Decimal, chain string) risk.TransactionResult {
	var sender, recipient risk.Result
	var g errgroup.Group
	g.Go(func() error {
		sender = a.ScreenAddress(ctx, from, chain, &risk.Context{Direction: risk.DirectionOutbound})
		return nil
	})
	g.Go(func() error {
		recipient = a.ScreenAddress(ctx, to, chain, &risk.Context{Direction: risk.DirectionInbound})
		return nil
	})
	_ = g.Wait()

	combined := risk.Worse(sender.Decision, recipient.Decision)
	a.logger.Info().
		Str("from", from).
		Str("to", to).
		Str("amount", amount.String()).
		Str("chain", chain).
		Str("decision", combined.String()).
		Msg("transaction screened")

	return risk.TransactionResult{
		ID:               uuid.NewString(),
		Amount:           amount,
		Chain:            chain,
		Sender:           sender,
		Recipient:        recipient,
		CombinedDecision: combined,
	}
}

// HealthCheck polls every provider's self-report concurrently.
func (a *Aggregator) HealthCheck() map[string]bool {
	providers := a.registry.Snapshot()
	out := make(map[string]bool, len(providers))
	var mu sync.Mutex
	var g errgroup.Group
	for _, p := range providers {
		g.Go(func() error {
			healthy := p.IsHealthy()
			mu.Lock()
			out[p.Name()] = healthy
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (a *Aggregator) checkOverrides(address, chain string) (risk.Result, bool) {
	if a.overrides == nil {
		return risk.Result{}, false
	}

	allowlisted := a.overrides.IsAllowlisted(address, chain)
	if allowlisted && a.cfg.AllowlistPriority {
		a.observeShortCircuit("allowlist")
		return a.shortCircuit(address, chain, risk.Result{
			Decision:        risk.DecisionApprove,
			HighestSeverity: risk.SeverityNone,
			Allowlisted:     true,
		}), true
	}

	if a.overrides.IsBlocklisted(address, chain) {
		a.observeShortCircuit("blocklist")
		signal := risk.Signal{
			Provider:    overrideProvider,
			Category:    risk.CategoryCustomBlocklist,
			Severity:    risk.SeverityBlocklist,
			RiskScore:   100,
			Actions:     []risk.Action{risk.ActionDeny},
			Description: "address is on the operator blocklist",
			Direction:   risk.DirectionBoth,
		}
		return a.shortCircuit(address, chain, risk.Result{
			Decision:           risk.DecisionBlock,
			AggregateRiskScore: 100,
			HighestSeverity:    risk.SeverityBlocklist,
			Categories:         []risk.Category{risk.CategoryCustomBlocklist},
			Actions:            []risk.Action{risk.ActionDeny},
			AllSignals:         []risk.Signal{signal},
			Blocklisted:        true,
			Allowlisted:        allowlisted,
		}), true
	}
	return risk.Result{}, false
}

func (a *Aggregator) shortCircuit(address, chain string, res risk.Result) risk.Result {
	res.ID = uuid.NewString()
	res.Address = address
	res.Chain = chain
	res.ScreenedAt = time.Now().UTC()
	if res.Categories == nil {
		res.Categories = []risk.Category{}
	}
	if res.Actions == nil {
		res.Actions = []risk.Action{}
	}
	if res.AllSignals == nil {
		res.AllSignals = []risk.Signal{}
	}
	res.ProviderResults = []risk.ProviderResult{}
	return res
}

// fanOut keeps results in registration order regardless of completion order.
func (a *Aggregator) fanOut(ctx context.Context, providers []provider.Provider, req provider.Request) []risk.ProviderResult {
	results := make([]risk.ProviderResult, len(providers))
	var g errgroup.Group
	for i, p := range providers {
		g.Go(func() error {
			results[i] = a.callProvider(ctx, p, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

type callOutcome struct {
	result risk.ProviderResult
	err    error
}

// callProvider bounds one provider by the configured timeout. A call that overruns
// is abandoned; its eventual answer lands in a buffered channel nobody reads.
func (a *Aggregator) callProvider(parent context.Context, p provider.Provider, req provider.Request) risk.ProviderResult {
	name := p.Name()
	ctx, cancel := context.WithTimeout(parent, a.cfg.ProviderTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan callOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callOutcome{err: fmt.Errorf("provider %s panicked: %v", name, r)}
			}
		}()
		res, err := p.ScreenAddress(ctx, req)
		done <- callOutcome{result: res, err: err}
	}()

	var out callOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = callOutcome{err: ctx.Err()}
	}
	latency := time.Since(start)

	if out.err == nil && out.result.Error != "" {
		out.err = errors.New(out.result.Error)
	}
	if out.err != nil {
		outcome := "error"
		switch {
		case parent.Err() != nil && isContextErr(out.err):
			outcome = "canceled"
			if errors.Is(parent.Err(), context.DeadlineExceeded) {
				outcome = "timeout"
			}
			out.err = fmt.Errorf("provider %s interrupted by caller: %w", name, parent.Err())
		case errors.Is(out.err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
			outcome = "timeout"
			out.err = fmt.Errorf("provider %s timed out after %s", name, a.cfg.ProviderTimeout)
		}
		a.logger.Warn().Err(out.err).Str("provider", name).Str("address", req.Address).Msg("provider screening failed")
		a.observeProvider(name, outcome, latency)
		return risk.Failed(name, out.err, latency)
	}

	res := out.result
	res.Provider = name
	res.Success = true
	res.LatencyMs = latency.Milliseconds()
	if res.ScreenedAt.IsZero() {
		res.ScreenedAt = time.Now().UTC()
	}
	signals := make([]risk.Signal, len(res.Signals))
	for i, s := range res.Signals {
		if s.Provider == "" {
			s.Provider = name
		}
		signals[i] = s
	}
	res.Signals = signals
	res.Matched = res.Matched || len(signals) > 0

	a.logger.Debug().Str("provider", name).Bool("matched", res.Matched).Int("signals", len(signals)).Dur("latency", latency).Msg("provider screening done")
	a.observeProvider(name, "success", latency)
	return res
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// reduce applies the weighted mean of each successful provider's maximum signal score.
func (a *Aggregator) reduce(results []risk.ProviderResult) risk.Result {
	res := risk.Result{
		HighestSeverity:    risk.SeverityNone,
		Categories:         []risk.Category{},
		Actions:            []risk.Action{},
		AllSignals:         []risk.Signal{},
		ProviderResults:    results,
		ProvidersConsulted: len(results),
	}

	var weighted, totalWeight float64
	for _, pr := range results {
		if !pr.Success {
			continue
		}
		res.ProvidersSucceeded++

		effective := 0
		for _, s := range pr.Signals {
			effective = max(effective, clampScore(s.RiskScore))
			res.HighestSeverity = risk.MaxSeverity(res.HighestSeverity, s.Severity)
			res.Categories = risk.UnionCategories(res.Categories, s.Category)
			res.Actions = risk.UnionActions(res.Actions, s.Actions...)
			res.AllSignals = append(res.AllSignals, s)
		}

		w := a.cfg.weight(pr.Provider)
		weighted += float64(effective) * w
		totalWeight += w
	}

	if totalWeight > 0 {
		res.AggregateRiskScore = clampScore(int(math.Floor(weighted/totalWeight + 0.5)))
	}
	res.Decision = a.cfg.Decide(res.AggregateRiskScore, res.ProvidersSucceeded)
	if res.ProvidersSucceeded > 0 && totalWeight == 0 {
		// every answering provider carries weight 0, so the score says nothing
		res.Decision = risk.DecisionReview
	}
	return res
}

func (a *Aggregator) finish(res risk.Result) {
	a.logger.Info().
		Str("address", res.Address).
		Str("chain", res.Chain).
		Str("decision", res.Decision.String()).
		Int("score", res.AggregateRiskScore).
		Int("consulted", res.ProvidersConsulted).
		Int("succeeded", res.ProvidersSucceeded).
		Bool("blocklisted", res.Blocklisted).
		Bool("allowlisted", res.Allowlisted).
		Msg("address screened")
	if a.recorder != nil {
		a.recorder.ObserveDecision(res.Decision.String())
	}
}

func (a *Aggregator) observeProvider(name, outcome string, latency time.Duration) {
	if a.recorder != nil {
		a.recorder.ObserveProvider(name, outcome, latency)
	}
}

func (a *Aggregator) observeShortCircuit(list string) {
	if a.recorder != nil {
		a.recorder.ObserveShortCircuit(list)
	}
}

func clampScore(s int) int {
	return min(max(s, 0), 100)
}
