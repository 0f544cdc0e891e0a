package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProviderResult is what a single provider reports for one address.
type ProviderResult struct {
	Provider   string    `json:"provider"`
	Matched    bool      `json:"matched"`
	Signals    []Signal  `json:"signals"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	LatencyMs  int64     `json:"latency_ms"`
	ScreenedAt time.Time `json:"screened_at"`
}

// Failed builds the uniform shape recorded for a provider that errored or timed out.
func Failed(provider string, err error, latency time.Duration) ProviderResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return ProviderResult{
		Provider:   provider,
		Signals:    []Signal{},
		Error:      msg,
		LatencyMs:  latency.Milliseconds(),
		ScreenedAt: time.Now().UTC(),
	}
}

// Result is the unified outcome of screening one address.
type Result struct {
	ID                 string           `json:"id"`
	Address            string           `json:"address"`
	Chain              string           `json:"chain"`
	Decision           Decision         `json:"decision"`
	AggregateRiskScore int              `json:"aggregate_risk_score"`
	HighestSeverity    Severity         `json:"highest_severity"`
	Categories         []Category       `json:"categories"`
	Actions            []Action         `json:"actions"`
	AllSignals         []Signal         `json:"all_signals"`
	ProviderResults    []ProviderResult `json:"provider_results"`
	ProvidersConsulted int              `json:"providers_consulted"`
	ProvidersSucceeded int              `json:"providers_succeeded"`
	Blocklisted        bool             `json:"blocklisted"`
	Allowlisted        bool             `json:"allowlisted"`
	ScreenedAt         time.Time        `json:"screened_at"`
}

// TransactionResult pairs the sender and recipient screenings of one transfer.
type TransactionResult struct {
	ID               string          `json:"id"`
	Amount           decimal.Decimal `json:"amount"`
	Chain            string          `json:"chain"`
	Sender           Result          `json:"sender"`
	Recipient        Result          `json:"recipient"`
	CombinedDecision Decision        `json:"combined_decision"`
}

// Context carries optional facts about the screened party. Providers ignore what
// they do not use.
type Context struct {
	EntityName   string        `json:"entity_name,omitempty"`
	Jurisdiction string        `json:"jurisdiction,omitempty"`
	Owners       []Owner       `json:"owners,omitempty"`
	Transactions []Transaction `json:"transactions,omitempty"`
	Direction    Direction     `json:"direction,omitempty"`
}

// Owner is a declared beneficial owner and its stake in percent (0-100).
type Owner struct {
	Name    string          `json:"name"`
	Percent decimal.Decimal `json:"percent"`
}

// Transaction is one historical transfer used for pattern analysis.
type Transaction struct {
	Hash      string          `json:"hash,omitempty"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Chain     string          `json:"chain"`
	Timestamp time.Time       `json:"timestamp"`
}

// UnionCategories appends the categories in src not yet present in dst, keeping first-seen order.
func UnionCategories(dst []Category, src ...Category) []Category {
	for _, c := range src {
		if !containsCategory(dst, c) {
			dst = append(dst, c)
		}
	}
	return dst
}

// UnionActions appends the actions in src not yet present in dst, keeping first-seen order.
func UnionActions(dst []Action, src ...Action) []Action {
	for _, a := range src {
		if !containsAction(dst, a) {
			dst = append(dst, a)
		}
	}
	return dst
}

func containsCategory(list []Category, c Category) bool {
	for _, item := range list {
		if item == c {
			return true
		}
	}
	return false
}

func containsAction(list []Action, a Action) bool {
	for _, item := range list {
		if item == a {
			return true
		}
	}
	return false
}
