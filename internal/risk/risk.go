package risk

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Category classifies the kind of risk a signal reports.
type Category string

const (
	CategorySanctions          Category = "SANCTIONS"
	CategoryFrozen             Category = "FROZEN"
	CategoryCustomBlocklist    Category = "CUSTOM_BLOCKLIST"
	CategoryTerroristFinancing Category = "TERRORIST_FINANCING"
	CategoryCSAM               Category = "CSAM"
	CategoryIllicitBehavior    Category = "ILLICIT_BEHAVIOR"
	CategoryGambling           Category = "GAMBLING"
	CategoryPEP                Category = "PEP"
	CategoryDarknet            Category = "DARKNET"
	CategoryUnknown            Category = "UNKNOWN"
)

// Categories lists every known category.
var Categories = []Category{
	CategorySanctions,
	CategoryFrozen,
	CategoryCustomBlocklist,
	CategoryTerroristFinancing,
	CategoryCSAM,
	CategoryIllicitBehavior,
	CategoryGambling,
	CategoryPEP,
	CategoryDarknet,
	CategoryUnknown,
}

// ParseCategory maps free-form vendor labels onto the closed category set.
func ParseCategory(s string) Category {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	for _, c := range Categories {
		if string(c) == normalized {
			return c
		}
	}
	return CategoryUnknown
}

// Severity is totally ordered; higher values are worse.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeveritySevere
	SeverityBlocklist
)

var severityNames = [...]string{"NONE", "LOW", "MEDIUM", "HIGH", "SEVERE", "BLOCKLIST"}

func (s Severity) String() string {
	if s < SeverityNone || int(s) >= len(severityNames) {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity is case-insensitive and returns SeverityNone for unknown input.
func ParseSeverity(s string) (Severity, bool) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range severityNames {
		if name == upper {
			return Severity(i), true
		}
	}
	return SeverityNone, false
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	parsed, ok := ParseSeverity(string(b))
	if !ok {
		return fmt.Errorf("unknown severity %q", string(b))
	}
	*s = parsed
	return nil
}

// MaxSeverity returns the worse of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b > a {
		return b
	}
	return a
}

// Action is a recommended handling step emitted alongside a signal.
type Action string

const (
	ActionDeny    Action = "DENY"
	ActionReview  Action = "REVIEW"
	ActionAlert   Action = "ALERT"
	ActionFreeze  Action = "FREEZE"
	ActionMonitor Action = "MONITOR"
)

// Direction states which side of a transfer the signal applies to.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
	DirectionBoth     Direction = "BOTH"
)

// Signal is one discrete risk finding. Treat as immutable once built.
type Signal struct {
	Provider    string            `json:"provider"`
	Category    Category          `json:"category"`
	Severity    Severity          `json:"severity"`
	RiskScore   int               `json:"risk_score"`
	Actions     []Action          `json:"actions"`
	Description string            `json:"description"`
	Direction   Direction         `json:"direction"`
	EntityName  string            `json:"entity_name,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Decision is the final verdict. Ordering: Approve < Review < Block.
type Decision int

const (
	DecisionApprove Decision = iota
	DecisionReview
	DecisionBlock
)

func (d Decision) String() string {
	switch d {
	case DecisionApprove:
		return "APPROVE"
	case DecisionReview:
		return "REVIEW"
	case DecisionBlock:
		return "BLOCK"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

func (d Decision) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Decision) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "APPROVE":
		*d = DecisionApprove
	case "REVIEW":
		*d = DecisionReview
	case "BLOCK":
		*d = DecisionBlock
	default:
		return fmt.Errorf("unknown decision %q", s)
	}
	return nil
}

// Worse returns the more restrictive of two decisions.
func Worse(a, b Decision) Decision {
	if b > a {
		return b
	}
	return a
}
