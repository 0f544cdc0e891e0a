package sanctions

import (
	"github.com/shopspring/decimal"

	"chain-screening/internal/risk"
)

// DefaultOwnershipThreshold is the similarity an owner name needs to count as sanctioned.
const DefaultOwnershipThreshold = 0.7

// ControlPercent is the aggregate stake at which an entity is treated as sanctioned itself.
var ControlPercent = decimal.NewFromInt(50)

// OwnerMatch links a declared owner to the sanctioned entity it resembles.
type OwnerMatch struct {
	Owner risk.Owner
	Match EntityMatch
}

// OwnershipAssessment is the outcome of the 50% rule.
type OwnershipAssessment struct {
	Matches          []OwnerMatch
	AggregatePercent decimal.Decimal
	ExceedsControl   bool
}

// AssessOwnership sums the stakes of owners that fuzzy-match a sanctioned entity.
// The aggregate can meet ControlPercent even when no single owner does.
func AssessOwnership(owners []risk.Owner, entities []Entity, threshold float64) OwnershipAssessment {
	out := OwnershipAssessment{AggregatePercent: decimal.Zero}
	for _, owner := range owners {
		matches := MatchEntities(owner.Name, entities, threshold)
		if len(matches) == 0 {
			continue
		}
		out.Matches = append(out.Matches, OwnerMatch{Owner: owner, Match: matches[0]})
		out.AggregatePercent = out.AggregatePercent.Add(owner.Percent)
	}
	out.ExceedsControl = len(out.Matches) > 0 && out.AggregatePercent.GreaterThanOrEqual(ControlPercent)
	return out
}
