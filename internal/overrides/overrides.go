// Package overrides implements the operator-maintained block and allow lists
// that pre-empt provider screening.
package overrides

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrTierGate is returned when the caller's plan does not include override lists.
	ErrTierGate = errors.New("override lists require a higher plan tier")
	// ErrUnknownList is returned for list names other than blocklist/allowlist.
	ErrUnknownList = errors.New("unknown override list")
	// ErrInvalidEntry is returned for entries without an address.
	ErrInvalidEntry = errors.New("override entry requires an address")
)

// List names one of the two override lists.
type List string

const (
	Blocklist List = "blocklist"
	Allowlist List = "allowlist"
)

// ParseList validates a list name.
func ParseList(s string) (List, error) {
	switch List(strings.ToLower(strings.TrimSpace(s))) {
	case Blocklist:
		return Blocklist, nil
	case Allowlist:
		return Allowlist, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownList, s)
	}
}

// Entry is one override record. Empty Chains means the entry applies to every chain.
type Entry struct {
	Address   string     `json:"address"`
	Chains    []string   `json:"chains,omitempty"`
	Reason    string     `json:"reason"`
	AddedBy   string     `json:"added_by"`
	AddedAt   time.Time  `json:"added_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the entry is inert at now.
func (e Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// appliesTo matches the entry against a chain. An empty query chain only
// matches chain-agnostic entries.
func (e Entry) appliesTo(chain string) bool {
	if len(e.Chains) == 0 {
		return true
	}
	for _, c := range e.Chains {
		if c == chain {
			return true
		}
	}
	return false
}

// Tier is the caller's plan level.
type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

var tierRank = map[Tier]int{
	TierFree:       0,
	TierStarter:    1,
	TierPro:        2,
	TierEnterprise: 3,
}

// DefaultMinimumTier is the lowest plan allowed to maintain override lists.
const DefaultMinimumTier = TierPro

// Allows reports whether t is at or above min. Unknown tiers are never allowed.
func (t Tier) Allows(min Tier) bool {
	have, ok := tierRank[t]
	if !ok {
		return false
	}
	return have >= tierRank[min]
}

type options struct {
	minimumTier Tier
	now         func() time.Time
}

// Option customises a Manager.
type Option func(*options)

// WithMinimumTier overrides DefaultMinimumTier.
func WithMinimumTier(t Tier) Option {
	return func(o *options) { o.minimumTier = t }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Manager holds both lists in memory. Reads vastly outnumber writes.
type Manager struct {
	mu    sync.RWMutex
	now   func() time.Time
	lists map[List]map[string]Entry
}

// NewManager fails with ErrTierGate when tier is below the minimum.
func NewManager(tier Tier, opts ...Option) (*Manager, error) {
	o := options{minimumTier: DefaultMinimumTier, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if !Tier(strings.ToLower(string(tier))).Allows(o.minimumTier) {
		return nil, fmt.Errorf("%w: have %q, need %q", ErrTierGate, tier, o.minimumTier)
	}
	return &Manager{
		now: o.now,
		lists: map[List]map[string]Entry{
			Blocklist: {},
			Allowlist: {},
		},
	}, nil
}

func (m *Manager) IsBlocklisted(address, chain string) bool {
	return m.matches(Blocklist, address, chain)
}

func (m *Manager) IsAllowlisted(address, chain string) bool {
	return m.matches(Allowlist, address, chain)
}

// Lookup returns the live entry for address on the given list, if any.
func (m *Manager) Lookup(which List, address, chain string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, ok := m.lists[which]
	if !ok {
		return Entry{}, false
	}
	entry, ok := entries[normalizeAddress(address)]
	if !ok || entry.Expired(m.now()) || !entry.appliesTo(normalizeChain(chain)) {
		return Entry{}, false
	}
	return entry, true
}

func (m *Manager) matches(which List, address, chain string) bool {
	_, ok := m.Lookup(which, address, chain)
	return ok
}

func (m *Manager) AddToBlocklist(entry Entry) error { return m.Add(Blocklist, entry) }

func (m *Manager) AddToAllowlist(entry Entry) error { return m.Add(Allowlist, entry) }

func (m *Manager) RemoveFromBlocklist(address string) bool { return m.Remove(Blocklist, address) }

func (m *Manager) RemoveFromAllowlist(address string) bool { return m.Remove(Allowlist, address) }

// Add upserts entry keyed by its lower-cased address; the last write wins.
func (m *Manager) Add(which List, entry Entry) error {
	normalized, err := m.normalize(entry)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entries, ok := m.lists[which]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownList, which)
	}
	entries[normalized.Address] = normalized
	return nil
}

// Remove deletes the entry and reports whether one existed.
func (m *Manager) Remove(which List, address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, ok := m.lists[which]
	if !ok {
		return false
	}
	key := normalizeAddress(address)
	if _, exists := entries[key]; !exists {
		return false
	}
	delete(entries, key)
	return true
}

// Import upserts entries and returns how many were stored. It stops at the
// first invalid entry.
func (m *Manager) Import(which List, entries []Entry) (int, error) {
	count := 0
	for _, e := range entries {
		if err := m.Add(which, e); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Export returns every entry on the list, expired ones included, ordered by
// AddedAt then address.
func (m *Manager) Export(which List) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, ok := m.lists[which]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownList, which)
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		return out[i].Address < out[j].Address
	})
	return out, nil
}

// Len counts entries on a list including expired ones.
func (m *Manager) Len(which List) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.lists[which])
}

func (m *Manager) normalize(entry Entry) (Entry, error) {
	entry.Address = normalizeAddress(entry.Address)
	if entry.Address == "" {
		return Entry{}, ErrInvalidEntry
	}
	chains := make([]string, 0, len(entry.Chains))
	for _, c := range entry.Chains {
		if c = normalizeChain(c); c != "" {
			chains = append(chains, c)
		}
	}
	entry.Chains = nil
	if len(chains) > 0 {
		entry.Chains = chains
	}
	if entry.AddedAt.IsZero() {
		entry.AddedAt = m.now().UTC()
	}
	return cloneEntry(entry), nil
}

func cloneEntry(e Entry) Entry {
	if e.Chains != nil {
		e.Chains = append([]string(nil), e.Chains...)
	}
	if e.ExpiresAt != nil {
		exp := *e.ExpiresAt
		e.ExpiresAt = &exp
	}
	return e
}

func normalizeAddress(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}

func normalizeChain(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
