package provider

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chain-screening/internal/patterns"
	"chain-screening/internal/risk"
	"chain-screening/internal/sanctions"
)

const (
	delistedScore      = 45
	partialJurisScore  = 70
	minorOwnershipRisk = 50
)

var patternScores = map[patterns.Pattern]struct {
	severity risk.Severity
	score    int
}{
	patterns.PatternMixing:        {risk.SeverityHigh, 85},
	patterns.PatternStructuring:   {risk.SeverityHigh, 70},
	patterns.PatternPeelingChain:  {risk.SeverityMedium, 65},
	patterns.PatternChainHopping:  {risk.SeverityMedium, 60},
	patterns.PatternRapidMovement: {risk.SeverityMedium, 50},
}

// ReferenceOptions tune the built-in screener.
type ReferenceOptions struct {
	Name               string
	FuzzyThreshold     float64
	OwnershipThreshold float64
}

// Reference runs the built-in address, jurisdiction, entity, ownership and
// transaction-pattern checks.
type Reference struct {
	opts     ReferenceOptions
	index    *sanctions.Index
	analyzer *patterns.Analyzer
	logger   zerolog.Logger
}

// NewReference wires the reference screener over a dataset index.
func NewReference(index *sanctions.Index, analyzer *patterns.Analyzer, opts ReferenceOptions, logger zerolog.Logger) *Reference {
	if opts.Name == "" {
		opts.Name = "reference"
	}
	if opts.FuzzyThreshold <= 0 {
		opts.FuzzyThreshold = sanctions.DefaultFuzzyThreshold
	}
	if opts.OwnershipThreshold <= 0 {
		opts.OwnershipThreshold = sanctions.DefaultOwnershipThreshold
	}
	if analyzer == nil {
		analyzer = patterns.NewAnalyzer(patterns.Options{Mixers: index.MixerSet()})
	}
	return &Reference{
		opts:     opts,
		index:    index,
		analyzer: analyzer,
		logger:   logger.With().Str("component", "reference_provider").Logger(),
	}
}

func (r *Reference) Name() string { return r.opts.Name }

func (r *Reference) SupportedCategories() []risk.Category {
	return []risk.Category{risk.CategorySanctions, risk.CategoryIllicitBehavior}
}

func (r *Reference) SupportedChains() []string { return nil }

func (r *Reference) IsHealthy() bool { return true }

func (r *Reference) ScreenAddress(_ context.Context, req Request) (risk.ProviderResult, error) {
	signals := make([]risk.Signal, 0)
	signals = append(signals, r.addressSignals(req)...)

	if sc := req.Context; sc != nil {
		signals = append(signals, r.jurisdictionSignals(req, sc.Jurisdiction)...)
		signals = append(signals, r.entitySignals(req, sc.EntityName)...)
		signals = append(signals, r.ownershipSignals(req, sc.Owners)...)
		signals = append(signals, r.patternSignals(req, sc.Transactions)...)
	}

	if len(signals) > 0 {
		r.logger.Debug().Str("address", req.Address).Int("signals", len(signals)).Msg("reference screening matched")
	}
	return risk.ProviderResult{
		Provider:   r.opts.Name,
		Matched:    len(signals) > 0,
		Signals:    signals,
		Success:    true,
		ScreenedAt: time.Now().UTC(),
	}, nil
}

func (r *Reference) addressSignals(req Request) []risk.Signal {
	switch r.index.LookupAddress(req.Address) {
	case sanctions.AddressActive:
		return []risk.Signal{r.signal(req, risk.CategorySanctions, risk.SeveritySevere, 100,
			"address on active sanctions list", risk.ActionDeny, risk.ActionAlert)}
	case sanctions.AddressDelisted:
		return []risk.Signal{r.signal(req, risk.CategorySanctions, risk.SeverityMedium, delistedScore,
			"address was previously sanctioned and has been delisted", risk.ActionReview)}
	default:
		return nil
	}
}

func (r *Reference) jurisdictionSignals(req Request, code string) []risk.Signal {
	switch r.index.LookupJurisdiction(code) {
	case sanctions.JurisdictionComprehensive:
		s := r.signal(req, risk.CategorySanctions, risk.SeveritySevere, 100,
			"jurisdiction under comprehensive sanctions", risk.ActionDeny)
		s.Metadata["jurisdiction"] = strings.ToUpper(code)
		return []risk.Signal{s}
	case sanctions.JurisdictionPartial:
		s := r.signal(req, risk.CategorySanctions, risk.SeverityHigh, partialJurisScore,
			"jurisdiction under partial sanctions", risk.ActionReview)
		s.Metadata["jurisdiction"] = strings.ToUpper(code)
		return []risk.Signal{s}
	default:
		return nil
	}
}

func (r *Reference) entitySignals(req Request, name string) []risk.Signal {
	matches := sanctions.MatchEntities(name, r.index.Entities(), r.opts.FuzzyThreshold)
	if len(matches) == 0 {
		return nil
	}
	best := matches[0]
	severity := risk.SeverityMedium
	actions := []risk.Action{risk.ActionReview}
	switch {
	case best.Similarity >= 0.95:
		severity = risk.SeveritySevere
		actions = []risk.Action{risk.ActionDeny, risk.ActionReview}
	case best.Similarity >= 0.8:
		severity = risk.SeverityHigh
	}

	s := r.signal(req, risk.CategorySanctions, severity, int(math.Round(best.Similarity*100)),
		fmt.Sprintf("entity name resembles sanctioned entity %q", best.Entity.Name), actions...)
	s.EntityName = best.Entity.Name
	s.Metadata["match_confidence"] = fmt.Sprintf("%.2f", best.Similarity)
	s.Metadata["matched_name"] = best.MatchedName
	if best.Entity.Program != "" {
		s.Metadata["program"] = best.Entity.Program
	}
	return []risk.Signal{s}
}

func (r *Reference) ownershipSignals(req Request, owners []risk.Owner) []risk.Signal {
	if len(owners) == 0 {
		return nil
	}
	assessment := sanctions.AssessOwnership(owners, r.index.Entities(), r.opts.OwnershipThreshold)
	if len(assessment.Matches) == 0 {
		return nil
	}

	names := make([]string, 0, len(assessment.Matches))
	for _, m := range assessment.Matches {
		names = append(names, m.Owner.Name)
	}

	var s risk.Signal
	if assessment.ExceedsControl {
		s = r.signal(req, risk.CategorySanctions, risk.SeveritySevere, 100,
			"sanctioned owners hold 50% or more in aggregate", risk.ActionDeny)
	} else {
		s = r.signal(req, risk.CategorySanctions, risk.SeverityMedium, minorOwnershipRisk,
			"minority ownership by sanctioned parties", risk.ActionReview)
	}
	s.Metadata["aggregate_percent"] = assessment.AggregatePercent.String()
	s.Metadata["owners"] = strings.Join(names, ";")
	return []risk.Signal{s}
}

func (r *Reference) patternSignals(req Request, txs []risk.Transaction) []risk.Signal {
	findings := r.analyzer.Analyze(txs)
	out := make([]risk.Signal, 0, len(findings))
	for _, f := range findings {
		weight := patternScores[f.Pattern]
		s := r.signal(req, risk.CategoryIllicitBehavior, weight.severity, weight.score,
			f.Detail, risk.ActionReview, risk.ActionAlert)
		s.Metadata["pattern"] = string(f.Pattern)
		s.Metadata["count"] = fmt.Sprintf("%d", f.Count)
		out = append(out, s)
	}
	return out
}

func (r *Reference) signal(req Request, category risk.Category, severity risk.Severity, score int, description string, actions ...risk.Action) risk.Signal {
	return risk.Signal{
		Provider:    r.opts.Name,
		Category:    category,
		Severity:    severity,
		RiskScore:   score,
		Actions:     actions,
		Description: description,
		Direction:   directionOf(req),
		Metadata:    map[string]string{"dataset": r.index.Name()},
	}
}

var _ Provider = (*Reference)(nil)
