package provider

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"chain-screening/internal/risk"
)

// ListMatcher screens against a static sanctions address list.
type ListMatcher struct {
	name      string
	source    string
	chains    []string
	addresses map[string]struct{}
}

// NewListMatcher builds a matcher over addresses; matching is case-insensitive.
func NewListMatcher(name, source string, addresses []string, chains []string) *ListMatcher {
	set := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			set[a] = struct{}{}
		}
	}
	if name == "" {
		name = "sanctions_list"
	}
	return &ListMatcher{name: name, source: source, chains: chains, addresses: set}
}

// LoadAddressList reads one address per line, skipping blanks and # comments.
func LoadAddressList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open address list: %w", err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line != "" {
			out = append(out, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read address list: %w", err)
	}
	return out, nil
}

func (l *ListMatcher) Name() string { return l.name }

func (l *ListMatcher) SupportedCategories() []risk.Category {
	return []risk.Category{risk.CategorySanctions}
}

func (l *ListMatcher) SupportedChains() []string { return l.chains }

// IsHealthy is always true; the list lives in memory.
func (l *ListMatcher) IsHealthy() bool { return true }

// Len returns the number of distinct listed addresses.
func (l *ListMatcher) Len() int { return len(l.addresses) }

func (l *ListMatcher) ScreenAddress(_ context.Context, req Request) (risk.ProviderResult, error) {
	result := risk.ProviderResult{
		Provider:   l.name,
		Signals:    []risk.Signal{},
		Success:    true,
		ScreenedAt: time.Now().UTC(),
	}
	if !SupportsChain(l, req.Chain) {
		return risk.ProviderResult{}, fmt.Errorf("%w: %s", ErrUnsupportedChain, req.Chain)
	}
	if _, ok := l.addresses[strings.ToLower(strings.TrimSpace(req.Address))]; !ok {
		return result, nil
	}

	result.Matched = true
	result.Signals = append(result.Signals, risk.Signal{
		Provider:    l.name,
		Category:    risk.CategorySanctions,
		Severity:    risk.SeveritySevere,
		RiskScore:   100,
		Actions:     []risk.Action{risk.ActionDeny, risk.ActionAlert},
		Description: "address present on sanctions list",
		Direction:   directionOf(req),
		Metadata:    map[string]string{"dataset": l.source},
	})
	return result, nil
}

var _ Provider = (*ListMatcher)(nil)
