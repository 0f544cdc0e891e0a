// Package patterns detects transaction sequences associated with laundering techniques.
package patterns

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"chain-screening/internal/risk"
)

// Pattern names one detected technique.
type Pattern string

const (
	PatternMixing        Pattern = "MIXING"
	PatternChainHopping  Pattern = "CHAIN_HOPPING"
	PatternStructuring   Pattern = "STRUCTURING"
	PatternRapidMovement Pattern = "RAPID_MOVEMENT"
	PatternPeelingChain  Pattern = "PEELING_CHAIN"
)

const (
	// ChainHopWindow bounds how close cross-chain transitions must be.
	ChainHopWindow = 10 * time.Minute
	// RapidGap is the largest gap between two transfers still counted as rapid.
	RapidGap = 60 * time.Second

	minChainHops   = 2
	minStructured  = 3
	minRapidPairs  = 3
	minPeelStreaks = 3
)

var (
	// DefaultReportingThreshold mirrors the USD currency transaction reporting limit.
	DefaultReportingThreshold = decimal.NewFromInt(10_000)

	structuringFloor = decimal.NewFromFloat(0.8)
	maxPeelFraction  = decimal.NewFromFloat(0.3)
)

// Options tune the analyzer.
type Options struct {
	Mixers             map[string]struct{}
	ReportingThreshold decimal.Decimal
}

// Finding is one detected pattern with the evidence count that triggered it.
type Finding struct {
	Pattern Pattern
	Count   int
	Detail  string
}

// Analyzer evaluates transaction histories. It holds no mutable state.
type Analyzer struct {
	mixers    map[string]struct{}
	threshold decimal.Decimal
}

// NewAnalyzer builds an analyzer; a zero reporting threshold selects the default.
func NewAnalyzer(opts Options) *Analyzer {
	threshold := opts.ReportingThreshold
	if threshold.Sign() <= 0 {
		threshold = DefaultReportingThreshold
	}
	mixers := make(map[string]struct{}, len(opts.Mixers))
	for addr := range opts.Mixers {
		mixers[strings.ToLower(addr)] = struct{}{}
	}
	return &Analyzer{mixers: mixers, threshold: threshold}
}

// Analyze runs every detector and returns the patterns that fired, in a fixed order.
func (a *Analyzer) Analyze(txs []risk.Transaction) []Finding {
	if len(txs) == 0 {
		return nil
	}
	sorted := chronological(txs)

	var findings []Finding
	if n := a.mixingCount(sorted); n > 0 {
		findings = append(findings, Finding{Pattern: PatternMixing, Count: n, Detail: "transactions touching known mixing services"})
	}
	if n := chainHops(sorted); n >= minChainHops {
		findings = append(findings, Finding{Pattern: PatternChainHopping, Count: n, Detail: "cross-chain transitions within 10 minutes"})
	}
	if n := a.structuredCount(sorted); n >= minStructured {
		findings = append(findings, Finding{Pattern: PatternStructuring, Count: n, Detail: "amounts just below the reporting threshold"})
	}
	if n := rapidPairs(sorted); n >= minRapidPairs {
		findings = append(findings, Finding{Pattern: PatternRapidMovement, Count: n, Detail: "transfers less than 60 seconds apart"})
	}
	if n := peelStreak(sorted); n >= minPeelStreaks {
		findings = append(findings, Finding{Pattern: PatternPeelingChain, Count: n, Detail: "successive small peels off a shrinking balance"})
	}
	return findings
}

func (a *Analyzer) mixingCount(txs []risk.Transaction) int {
	count := 0
	for _, tx := range txs {
		_, from := a.mixers[strings.ToLower(tx.From)]
		_, to := a.mixers[strings.ToLower(tx.To)]
		if from || to {
			count++
		}
	}
	return count
}

// chainHops returns the largest number of chain transitions that fit inside ChainHopWindow.
func chainHops(txs []risk.Transaction) int {
	var transitions []time.Time
	for i := 1; i < len(txs); i++ {
		if !strings.EqualFold(txs[i].Chain, txs[i-1].Chain) {
			transitions = append(transitions, txs[i].Timestamp)
		}
	}

	best, start := 0, 0
	for end := range transitions {
		for transitions[end].Sub(transitions[start]) > ChainHopWindow {
			start++
		}
		best = max(best, end-start+1)
	}
	return best
}

// structuredCount counts amounts in [80%, 100%) of the reporting threshold.
func (a *Analyzer) structuredCount(txs []risk.Transaction) int {
	floor := a.threshold.Mul(structuringFloor)
	count := 0
	for _, tx := range txs {
		if tx.Amount.GreaterThanOrEqual(floor) && tx.Amount.LessThan(a.threshold) {
			count++
		}
	}
	return count
}

func rapidPairs(txs []risk.Transaction) int {
	count := 0
	for i := 1; i < len(txs); i++ {
		if txs[i].Timestamp.Sub(txs[i-1].Timestamp) < RapidGap {
			count++
		}
	}
	return count
}

// peelStreak returns the longest run of strictly decreasing transfers where each
// drop is under 30% of the previous amount. Any other step resets the run.
func peelStreak(txs []risk.Transaction) int {
	best, streak := 0, 0
	for i := 1; i < len(txs); i++ {
		prev, curr := txs[i-1].Amount, txs[i].Amount
		if isPeel(prev, curr) {
			streak++
			best = max(best, streak)
			continue
		}
		streak = 0
	}
	return best
}

func isPeel(prev, curr decimal.Decimal) bool {
	if prev.Sign() <= 0 || !curr.LessThan(prev) {
		return false
	}
	peel := prev.Sub(curr)
	return peel.LessThan(prev.Mul(maxPeelFraction))
}

func chronological(txs []risk.Transaction) []risk.Transaction {
	sorted := append([]risk.Transaction(nil), txs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}
