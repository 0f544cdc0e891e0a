package screening

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"chain-screening/internal/overrides"
	"chain-screening/internal/provider"
	"chain-screening/internal/risk"
)

type stubProvider struct {
	name     string
	scores   map[string]int
	score    int
	signals  []risk.Signal
	err      error
	delay    time.Duration
	panicMsg string
	healthy  bool
	calls    atomic.Int32

	mu       sync.Mutex
	lastReqs []provider.Request
}

func (s *stubProvider) Name() string                         { return s.name }
func (s *stubProvider) SupportedCategories() []risk.Category { return []risk.Category{risk.CategorySanctions} }
func (s *stubProvider) SupportedChains() []string            { return nil }
func (s *stubProvider) IsHealthy() bool                      { return s.healthy }

func (s *stubProvider) ScreenAddress(ctx context.Context, req provider.Request) (risk.ProviderResult, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.lastReqs = append(s.lastReqs, req)
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return risk.ProviderResult{}, ctx.Err()
		}
	}
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.err != nil {
		return risk.ProviderResult{}, s.err
	}

	signals := s.signals
	score := s.score
	if v, ok := s.scores[req.Address]; ok {
		score = v
	}
	if signals == nil && score > 0 {
		signals = []risk.Signal{{
			Category:  risk.CategorySanctions,
			Severity:  risk.SeverityHigh,
			RiskScore: score,
			Actions:   []risk.Action{risk.ActionReview},
		}}
	}
	return risk.ProviderResult{Matched: len(signals) > 0, Signals: signals}, nil
}

func scored(name string, score int) *stubProvider {
	return &stubProvider{name: name, score: score, healthy: true}
}

func newAggregator(t *testing.T, cfg Config, providers ...provider.Provider) *Aggregator {
	t.Helper()
	reg, err := provider.NewRegistry(providers...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return New(reg, cfg, zerolog.Nop())
}

func newOverrides(t *testing.T) *overrides.Manager {
	t.Helper()
	m, err := overrides.NewManager(overrides.TierEnterprise)
	if err != nil {
		t.Fatalf("overrides: %v", err)
	}
	return m
}

func TestSingleProviderBlock(t *testing.T) {
	agg := newAggregator(t, DefaultConfig(), scored("a", 90))
	res := agg.ScreenAddress(context.Background(), "0xabc", "ethereum", nil)

	if res.Decision != risk.DecisionBlock || res.AggregateRiskScore != 90 {
		t.Fatalf("expected BLOCK/90, got %s/%d", res.Decision, res.AggregateRiskScore)
	}
	if res.ProvidersConsulted != 1 || res.ProvidersSucceeded != 1 {
		t.Fatalf("unexpected counts %d/%d", res.ProvidersConsulted, res.ProvidersSucceeded)
	}
	if res.ID == "" {
		t.Fatal("result should carry an id")
	}
	if res.ProviderResults[0].Signals[0].Provider != "a" {
		t.Fatal("signals should be stamped with the provider name")
	}
}

func TestEqualWeightMean(t *testing.T) {
	agg := newAggregator(t, DefaultConfig(), scored("a", 85), scored("b", 95))
	res := agg.ScreenAddress(context.Background(), "0xabc", "ethereum", nil)
	if res.AggregateRiskScore != 90 || res.Decision != risk.DecisionBlock {
		t.Fatalf("expected 90/BLOCK, got %d/%s", res.AggregateRiskScore, res.Decision)
	}
}

func TestWeightedMeanRoundsHalfUp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights = map[string]float64{"a": 0.5, "b": 1.0}
	agg := newAggregator(t, cfg, scored("a", 60), scored("b", 100))

	res := agg.ScreenAddress(context.Background(), "0xabc", "ethereum", nil)
	if res.AggregateRiskScore != 87 {
		t.Fatalf("加权平均应为 87, got %d", res.AggregateRiskScore)
	}
	if res.Decision != risk.DecisionBlock {
		t.Fatalf("expected BLOCK, got %s", res.Decision)
	}
}

func TestEffectiveScoreIsMaxSignal(t *testing.T) {
	multi := &stubProvider{name: "multi", healthy: true, signals: []risk.Signal{
		{Category: risk.CategoryGambling, Severity: risk.SeverityLow, RiskScore: 20, Actions: []risk.Action{risk.ActionMonitor}},
		{Category: risk.CategorySanctions, Severity: risk.SeveritySevere, RiskScore: 70, Actions: []risk.Action{risk.ActionReview, risk.ActionMonitor}},
	}}
	agg := newAggregator(t, DefaultConfig(), multi, scored("clean", 0))

	res := agg.ScreenAddress(context.Background(), "0xabc", "ethereum", nil)
	if res.AggregateRiskScore != 35 {
		t.Fatalf("expected (70+0)/2=35, got %d", res.AggregateRiskScore)
	}
	if res.Decision != risk.DecisionApprove {
		t.Fatalf("expected APPROVE, got %s", res.Decision)
	}
	if res.HighestSeverity != risk.SeveritySevere {
		t.Fatalf("expected SEVERE, got %s", res.HighestSeverity)
	}
	if len(res.Categories) != 2 || len(res.Actions) != 2 || len(res.AllSignals) != 2 {
		t.Fatalf("unions should dedupe: %v %v %d", res.Categories, res.Actions, len(res.AllSignals))
	}
}

func TestScoresAreClamped(t *testing.T) {
	agg := newAggregator(t, DefaultConfig(), scored("loud", 250))
	res := agg.ScreenAddress(context.Background(), "0xabc", "ethereum", nil)
	if res.AggregateRiskScore != 100 {
		t.Fatalf("score should clamp to 100, got %d", res.AggregateRiskScore)
	}
}

func TestProviderTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProviderTimeout = 50 * time.Millisecond
	slow := &stubProvider{name: "slow", score: 100, delay: 2 * time.Second}
	agg := newAggregator(t, cfg, slow, scored("fast", 0))

	start := time.Now()
	res := agg.ScreenAddress(context.Background(), "0xabc", "ethereum", nil)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("screening should not wait for the slow provider, took %s", elapsed)
	}

	pr := res.ProviderResults[0]
	if pr.Provider != "slow" || pr.Success || !strings.Contains(pr.Error, "timed out") {
		t.Fatalf("expected timed-out result for slow, got %+v", pr)
	}
	if len(pr.Signals) != 0 {
		t.Fatal("a failed provider must contribute no signals")
	}
	if res.ProvidersSucceeded != 1 || res.Decision != risk.DecisionApprove {
		t.Fatalf("expected APPROVE with one success, got %s (%d)", res.Decision, res.ProvidersSucceeded)
	}
}

func TestTimeoutWhenProviderIgnoresContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProviderTimeout = 30 * time.Millisecond
	stuck := &blockingProvider{release: make(chan struct{})}
	defer close(stuck.release)
	agg := newAggregator(t, cfg, stuck)

	res := agg.ScreenAddress(context.Background(), "0xabc", "ethereum", nil)
	if res.ProviderResults[0].Success || !strings.Contains(res.ProviderResults[0].Error, "timed out") {
		t.Fatalf("expected timeout, got %+v", res.ProviderResults[0])
	}
	if res.Decision != risk.DecisionReview {
		t.Fatalf("no successes should mean REVIEW, got %s", res.Decision)
	}
}

type blockingProvider struct{ release chan struct{} }

func (b *blockingProvider) Name() string                         { return "stuck" }
func (b *blockingProvider) SupportedCategories() []risk.Category { return nil }
func (b *blockingProvider) SupportedChains() []string            { return nil }
func (b *blockingProvider) IsHealthy() bool                      { return false }
func (b *blockingProvider) ScreenAddress(context.Context, provider.Request) (risk.ProviderResult, error) {
	<-b.release
	return risk.ProviderResult{}, nil
}

func TestMinProviderSuccessForcesReview(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinProviderSuccess = 2
	failing := &stubProvider{name: "down", err: errors.New("connection refused")}
	agg := newAggregator(t, cfg, scored("ok", 0), failing)

	res := agg.ScreenAddress(context.Background(), "0xabc", "ethereum", nil)
	if res.Decision != risk.DecisionReview {
		t.Fatalf("expected REVIEW below min success, got %s", res.Decision)
	}
	if res.ProviderResults[1].Error != "connection refused" {
		t.Fatalf("provider error should be recorded, got %q", res.ProviderResults[1].Error)
	}
}

func TestNoProviders(t *testing.T) {
	agg := newAggregator(t, DefaultConfig())
	res := agg.ScreenAddress(context.Background(), "0xabc", "ethereum", nil)
	if res.Decision != risk.DecisionReview || res.AggregateRiskScore != 0 {
		t.Fatalf("no providers with min success 1 should be REVIEW/0, got %s/%d", res.Decision, res.AggregateRiskScore)
	}

	cfg := DefaultConfig()
	cfg.MinProviderSuccess = 0
	agg = newAggregator(t, cfg)
	if res := agg.ScreenAddress(context.Background(), "0xabc", "ethereum", nil); res.Decision != risk.DecisionApprove {
		t.Fatalf("min success 0 should APPROVE, got %s", res.Decision)
	}
}

func TestPanickingProviderIsContained(t *testing.T) {
	boom := &stubProvider{name: "boom", panicMsg: "nil map"}
	agg := newAggregator(t, DefaultConfig(), boom, scored("ok", 10))

	res := agg.ScreenAddress(context.Background(), "0xabc", "ethereum", nil)
	if res.ProviderResults[0].Success || !strings.Contains(res.ProviderResults[0].Error, "panicked") {
		t.Fatalf("panic should become a failed result, got %+v", res.ProviderResults[0])
	}
	if res.ProvidersSucceeded != 1 {
		t.Fatalf("other providers must still count, got %d", res.ProvidersSucceeded)
	}
}

func TestResultsFollowRegistrationOrder(t *testing.T) {
	first := &stubProvider{name: "first", score: 10, delay: 40 * time.Millisecond}
	agg := newAggregator(t, DefaultConfig(), first, scored("second", 20), scored("third", 30))

	res := agg.ScreenAddress(context.Background(), "0xabc", "ethereum", nil)
	for i, want := range []string{"first", "second", "third"} {
		if res.ProviderResults[i].Provider != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, res.ProviderResults[i].Provider)
		}
	}
}

func TestBlocklistShortCircuit(t *testing.T) {
	lists := newOverrides(t)
	_ = lists.AddToBlocklist(overrides.Entry{Address: "0xBAD"})
	p := scored("a", 0)
	reg, _ := provider.NewRegistry(p)
	agg := New(reg, DefaultConfig(), zerolog.Nop(), WithOverrides(lists))

	res := agg.ScreenAddress(context.Background(), "0xbad", "ethereum", nil)
	if res.Decision != risk.DecisionBlock || res.AggregateRiskScore != 100 {
		t.Fatalf("blocklist should BLOCK/100, got %s/%d", res.Decision, res.AggregateRiskScore)
	}
	if res.ProvidersConsulted != 0 || p.calls.Load() != 0 {
		t.Fatal("blocklisted address must not reach providers")
	}
	if !res.Blocklisted || res.HighestSeverity != risk.SeverityBlocklist {
		t.Fatalf("unexpected flags %+v", res)
	}
	if len(res.Categories) != 1 || res.Categories[0] != risk.CategoryCustomBlocklist {
		t.Fatalf("expected CUSTOM_BLOCKLIST, got %v", res.Categories)
	}
	if len(res.AllSignals) != 1 || res.AllSignals[0].Severity != risk.SeverityBlocklist {
		t.Fatalf("expected one blocklist signal, got %+v", res.AllSignals)
	}
}

func TestBothListsRespectPriority(t *testing.T) {
	lists := newOverrides(t)
	_ = lists.AddToBlocklist(overrides.Entry{Address: "0xboth"})
	_ = lists.AddToAllowlist(overrides.Entry{Address: "0xboth"})
	p := scored("a", 95)
	reg, _ := provider.NewRegistry(p)

	agg := New(reg, DefaultConfig(), zerolog.Nop(), WithOverrides(lists))
	res := agg.ScreenAddress(context.Background(), "0xboth", "", nil)
	if res.Decision != risk.DecisionBlock || !res.Blocklisted || !res.Allowlisted {
		t.Fatalf("blocklist should win without priority, got %+v", res)
	}

	cfg := DefaultConfig()
	cfg.AllowlistPriority = true
	agg = New(reg, cfg, zerolog.Nop(), WithOverrides(lists))
	res = agg.ScreenAddress(context.Background(), "0xboth", "", nil)
	if res.Decision != risk.DecisionApprove || res.AggregateRiskScore != 0 || res.Blocklisted {
		t.Fatalf("allowlist priority should APPROVE/0, got %s/%d", res.Decision, res.AggregateRiskScore)
	}
	if res.HighestSeverity != risk.SeverityNone || res.ProvidersConsulted != 0 {
		t.Fatalf("allowlist short circuit should skip providers, got %+v", res)
	}
	if p.calls.Load() != 0 {
		t.Fatal("providers must not be called on a short circuit")
	}
}

func TestAllowlistWithoutPriorityStillScreens(t *testing.T) {
	lists := newOverrides(t)
	_ = lists.AddToAllowlist(overrides.Entry{Address: "0xfriend"})
	reg, _ := provider.NewRegistry(scored("a", 90))
	agg := New(reg, DefaultConfig(), zerolog.Nop(), WithOverrides(lists))

	res := agg.ScreenAddress(context.Background(), "0xfriend", "ethereum", nil)
	if res.ProvidersConsulted != 1 || res.Decision != risk.DecisionBlock {
		t.Fatalf("providers should still decide, got %+v", res)
	}
	if !res.Allowlisted {
		t.Fatal("allowlist membership should be reported")
	}
}

func TestDecideBoundaries(t *testing.T) {
	cfg := DefaultConfig()
	cases := []struct {
		score int
		want  risk.Decision
	}{
		{100, risk.DecisionBlock},
		{80, risk.DecisionBlock},
		{79, risk.DecisionReview},
		{40, risk.DecisionReview},
		{39, risk.DecisionApprove},
		{0, risk.DecisionApprove},
	}
	for _, tc := range cases {
		if got := cfg.Decide(tc.score, 1); got != tc.want {
			t.Fatalf("score %d: expected %s, got %s", tc.score, tc.want, got)
		}
	}
	if got := cfg.Decide(100, 0); got != risk.DecisionReview {
		t.Fatalf("insufficient successes should override score, got %s", got)
	}
}

func TestScreenTransactionCombinesDecisions(t *testing.T) {
	p := &stubProvider{name: "a", healthy: true, scores: map[string]int{
		"approve": 0,
		"review":  50,
		"block":   90,
	}}
	agg := newAggregator(t, DefaultConfig(), p)

	want := map[string]risk.Decision{
		"approve": risk.DecisionApprove,
		"review":  risk.DecisionReview,
		"block":   risk.DecisionBlock,
	}
	for from, fd := range want {
		for to, td := range want {
			res := agg.ScreenTransaction(context.Background(), from, to, decimal.NewFromInt(5), "ethereum")
			if res.Sender.Decision != fd || res.Recipient.Decision != td {
				t.Fatalf("%s->%s: per-side decisions wrong: %s/%s", from, to, res.Sender.Decision, res.Recipient.Decision)
			}
			if res.CombinedDecision != risk.Worse(fd, td) {
				t.Fatalf("%s->%s: expected %s, got %s", from, to, risk.Worse(fd, td), res.CombinedDecision)
			}
			if !res.Amount.Equal(decimal.NewFromInt(5)) || res.ID == "" {
				t.Fatalf("transaction metadata missing: %+v", res)
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, req := range p.lastReqs {
		if req.Context == nil {
			t.Fatal("transaction screening should pass a direction context")
		}
		if req.Address == "approve" && req.Context.Direction != risk.DirectionOutbound && req.Context.Direction != risk.DirectionInbound {
			t.Fatalf("unexpected direction %q", req.Context.Direction)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	down := &stubProvider{name: "down"}
	agg := newAggregator(t, DefaultConfig(), scored("up", 0), down)

	health := agg.HealthCheck()
	if len(health) != 2 || !health["up"] || health["down"] {
		t.Fatalf("unexpected health map %v", health)
	}
}

func TestAddRemoveProviders(t *testing.T) {
	agg := newAggregator(t, DefaultConfig(), scored("a", 0))
	if err := agg.AddProvider(scored("a", 0)); !errors.Is(err, provider.ErrDuplicateProvider) {
		t.Fatalf("duplicate should fail, got %v", err)
	}
	if err := agg.AddProvider(scored("b", 0)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if names := agg.Providers(); len(names) != 2 || names[1] != "b" {
		t.Fatalf("unexpected providers %v", names)
	}
	if !agg.RemoveProvider("a") || agg.RemoveProvider("a") {
		t.Fatal("remove should report existence once")
	}
}

type fakeRecorder struct {
	mu        sync.Mutex
	outcomes  []string
	decisions []string
	shorts    []string
}

func (f *fakeRecorder) ObserveProvider(name, outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, name+":"+outcome)
}

func (f *fakeRecorder) ObserveDecision(decision string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, decision)
}

func (f *fakeRecorder) ObserveShortCircuit(list string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shorts = append(f.shorts, list)
}

func TestRecorderObservations(t *testing.T) {
	rec := &fakeRecorder{}
	lists := newOverrides(t)
	_ = lists.AddToBlocklist(overrides.Entry{Address: "0xbad"})
	reg, _ := provider.NewRegistry(scored("a", 90), &stubProvider{name: "b", err: errors.New("x")})
	agg := New(reg, DefaultConfig(), zerolog.Nop(), WithOverrides(lists), WithRecorder(rec))

	agg.ScreenAddress(context.Background(), "0xgood", "ethereum", nil)
	agg.ScreenAddress(context.Background(), "0xbad", "ethereum", nil)

	if len(rec.outcomes) != 2 {
		t.Fatalf("expected two provider observations, got %v", rec.outcomes)
	}
	if len(rec.decisions) != 2 || rec.decisions[0] != "BLOCK" || rec.decisions[1] != "BLOCK" {
		t.Fatalf("unexpected decisions %v", rec.decisions)
	}
	if len(rec.shorts) != 1 || rec.shorts[0] != "blocklist" {
		t.Fatalf("unexpected short circuits %v", rec.shorts)
	}
}

func TestWeightsMatchProviderNamesIgnoringCase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights = map[string]float64{"ofac_ref": 0.5}
	agg := newAggregator(t, cfg, scored("OFAC_Ref", 60), scored("b", 100))

	res := agg.ScreenAddress(context.Background(), "0xabc", "ethereum", nil)
	if res.AggregateRiskScore != 87 {
		t.Fatalf("mixed-case name should pick up weight 0.5, got %d", res.AggregateRiskScore)
	}
}

func TestZeroTotalWeightForcesReview(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights = map[string]float64{"a": 0, "b": 0}
	agg := newAggregator(t, cfg, scored("a", 100), scored("b", 0))

	res := agg.ScreenAddress(context.Background(), "0xabc", "ethereum", nil)
	if res.Decision != risk.DecisionReview {
		t.Fatalf("全部权重为 0 时应进入人工复核, got %s", res.Decision)
	}
	if res.HighestSeverity != risk.SeverityHigh || res.ProvidersSucceeded != 2 {
		t.Fatalf("signals should still be reported, got %s (%d)", res.HighestSeverity, res.ProvidersSucceeded)
	}
}

func TestCallerDeadlineIsReportedAsSuch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProviderTimeout = 5 * time.Second
	slow := &stubProvider{name: "slow", score: 100, delay: 2 * time.Second}
	agg := newAggregator(t, cfg, slow)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	res := agg.ScreenAddress(ctx, "0xabc", "ethereum", nil)

	pr := res.ProviderResults[0]
	if pr.Success || !strings.Contains(pr.Error, "interrupted by caller") || strings.Contains(pr.Error, "timed out after") {
		t.Fatalf("caller deadline should be reported, got %q", pr.Error)
	}
	if res.Decision != risk.DecisionReview {
		t.Fatalf("expected REVIEW, got %s", res.Decision)
	}
}

func TestCallerCancellationIsReportedAsSuch(t *testing.T) {
	agg := newAggregator(t, DefaultConfig(), &stubProvider{name: "slow", delay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := agg.ScreenAddress(ctx, "0xabc", "ethereum", nil)
	if pr := res.ProviderResults[0]; !strings.Contains(pr.Error, "context canceled") {
		t.Fatalf("cancellation should surface, got %q", pr.Error)
	}
}

func TestAddNilProvider(t *testing.T) {
	agg := newAggregator(t, DefaultConfig())
	if err := agg.AddProvider(nil); !errors.Is(err, provider.ErrNilProvider) {
		t.Fatalf("expected ErrNilProvider, got %v", err)
	}
}
