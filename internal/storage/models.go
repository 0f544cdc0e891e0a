package storage

import (
	"strings"
	"time"

	"chain-screening/internal/overrides"
)

// OverrideRecord is the row shape of override_entries.
type OverrideRecord struct {
	List      string
	Address   string
	Chains    []string
	Reason    string
	AddedBy   string
	AddedAt   time.Time
	ExpiresAt *time.Time
}

func newOverrideRecord(list overrides.List, e overrides.Entry) OverrideRecord {
	chains := make([]string, 0, len(e.Chains))
	for _, c := range e.Chains {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			chains = append(chains, c)
		}
	}
	added := e.AddedAt
	if added.IsZero() {
		added = time.Now().UTC()
	}
	return OverrideRecord{
		List:      string(list),
		Address:   normalizeAddress(e.Address),
		Chains:    chains,
		Reason:    e.Reason,
		AddedBy:   e.AddedBy,
		AddedAt:   added,
		ExpiresAt: e.ExpiresAt,
	}
}

func normalizeAddress(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}
