package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"chain-screening/internal/risk"
	"chain-screening/internal/screening"
)

// ScreenOptions configure the screen command.
type ScreenOptions struct {
	Address     string
	Chain       string
	ContextFile string
	JSON        bool
}

// ScreenTxOptions configure the screen-tx command.
type ScreenTxOptions struct {
	From   string
	To     string
	Amount decimal.Decimal
	Chain  string
	JSON   bool
}

// Screen screens one address and prints the unified result.
func (a *App) Screen(ctx context.Context, opts ScreenOptions) error {
	sc, err := loadContext(opts.ContextFile)
	if err != nil {
		return err
	}

	agg, closeAll, err := a.openAggregator(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	res := agg.ScreenAddress(ctx, opts.Address, opts.Chain, sc)
	if opts.JSON {
		return writeJSON(os.Stdout, res)
	}
	printResult(os.Stdout, "", res)
	return nil
}

// ScreenTx screens both parties of a transfer.
func (a *App) ScreenTx(ctx context.Context, opts ScreenTxOptions) error {
	agg, closeAll, err := a.openAggregator(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	res := agg.ScreenTransaction(ctx, opts.From, opts.To, opts.Amount, opts.Chain)
	if opts.JSON {
		return writeJSON(os.Stdout, res)
	}
	fmt.Fprintf(os.Stdout, "Transaction %s  amount=%s chain=%s  decision=%s\n\n", res.ID, res.Amount.String(), res.Chain, res.CombinedDecision)
	printResult(os.Stdout, "sender", res.Sender)
	fmt.Fprintln(os.Stdout)
	printResult(os.Stdout, "recipient", res.Recipient)
	return nil
}

// Health prints each provider's self-reported health. It fails when any provider is unhealthy.
func (a *App) Health(ctx context.Context) error {
	agg, closeAll, err := a.openAggregator(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	health := agg.HealthCheck()
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	sort.Strings(names)

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Provider\tHealthy")
	unhealthy := 0
	for _, name := range names {
		if !health[name] {
			unhealthy++
		}
		fmt.Fprintf(writer, "%s\t%t\n", name, health[name])
	}
	writer.Flush()

	if unhealthy > 0 {
		return fmt.Errorf("%d of %d providers unhealthy", unhealthy, len(names))
	}
	return nil
}

func (a *App) openAggregator(ctx context.Context) (*screening.Aggregator, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	closeAll := func() {
		if closeStore != nil {
			closeStore()
		}
	}

	agg, err := a.newAggregator(ctx, overrideStore(store), nil)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return agg, closeAll, nil
}

func loadContext(path string) (*risk.Context, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read context file: %w", err)
	}
	var sc risk.Context
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("decode context file %s: %w", path, err)
	}
	return &sc, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(w io.Writer, label string, res risk.Result) {
	if label != "" {
		fmt.Fprintf(w, "[%s]\n", label)
	}
	fmt.Fprintf(w, "Address:   %s (%s)\n", res.Address, res.Chain)
	fmt.Fprintf(w, "Decision:  %s  score=%d  severity=%s\n", res.Decision, res.AggregateRiskScore, res.HighestSeverity)
	fmt.Fprintf(w, "Providers: %d/%d succeeded  blocklisted=%t allowlisted=%t\n", res.ProvidersSucceeded, res.ProvidersConsulted, res.Blocklisted, res.Allowlisted)
	fmt.Fprintf(w, "Result:    %s\n", res.ID)

	if len(res.ProviderResults) > 0 {
		writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Provider\tOK\tMatched\tSignals\tLatency(ms)\tError")
		for _, pr := range res.ProviderResults {
			fmt.Fprintf(writer, "%s\t%t\t%t\t%d\t%d\t%s\n", pr.Provider, pr.Success, pr.Matched, len(pr.Signals), pr.LatencyMs, sanitizeInline(pr.Error))
		}
		writer.Flush()
	}

	if len(res.AllSignals) > 0 {
		writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Source\tCategory\tSeverity\tScore\tActions\tDescription")
		for _, s := range res.AllSignals {
			actions := make([]string, len(s.Actions))
			for i, act := range s.Actions {
				actions[i] = string(act)
			}
			fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\t%s\n", s.Provider, s.Category, s.Severity, s.RiskScore, strings.Join(actions, ","), sanitizeInline(s.Description))
		}
		writer.Flush()
	}
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
