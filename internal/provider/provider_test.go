package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"chain-screening/internal/risk"
	"chain-screening/internal/sanctions"
)

func TestRegistryKeepsOrderAndRejectsDuplicates(t *testing.T) {
	reg, err := NewRegistry(
		NewListMatcher("a", "", nil, nil),
		NewListMatcher("b", "", nil, nil),
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if err := reg.Add(NewListMatcher("a", "", nil, nil)); !errors.Is(err, ErrDuplicateProvider) {
		t.Fatalf("duplicate name should fail, got %v", err)
	}
	if err := reg.Add(NewListMatcher("c", "", nil, nil)); err != nil {
		t.Fatalf("add: %v", err)
	}

	snapshot := reg.Snapshot()
	if !reg.Remove("b") {
		t.Fatal("remove should report an existing provider")
	}
	if reg.Remove("b") {
		t.Fatal("second remove should report false")
	}

	names := reg.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "c" {
		t.Fatalf("unexpected names %v", names)
	}
	if len(snapshot) != 3 {
		t.Fatal("snapshots taken before a removal must not change")
	}
}

func TestRegistryRejectsNilProvider(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if err := reg.Add(nil); !errors.Is(err, ErrNilProvider) {
		t.Fatalf("nil provider should fail, got %v", err)
	}
	if _, err := NewRegistry(NewListMatcher("a", "", nil, nil), nil); !errors.Is(err, ErrNilProvider) {
		t.Fatalf("NewRegistry should reject nil providers, got %v", err)
	}
	if len(reg.Names()) != 0 {
		t.Fatal("registry should stay empty")
	}
}

func TestSupportsChain(t *testing.T) {
	agnostic := NewListMatcher("x", "", nil, nil)
	if !SupportsChain(agnostic, "anything") {
		t.Fatal("chain-agnostic provider should support every chain")
	}
	scoped := NewListMatcher("y", "", nil, []string{"ethereum"})
	if !SupportsChain(scoped, "ETHEREUM") || SupportsChain(scoped, "tron") {
		t.Fatal("scoped provider should match case-insensitively and only its chains")
	}
}

func TestLoadAddressListAndMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sdn.txt")
	content := "# OFAC SDN digital currency addresses\n0xABC\n\n0xdef # trailing comment\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	addrs, err := LoadAddressList(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(addrs) != 2 {
		t.Fatalf("expected 2 addresses, got %v", addrs)
	}

	m := NewListMatcher("ofac", path, addrs, nil)
	res, err := m.ScreenAddress(context.Background(), Request{Address: "0xabc", Chain: "ethereum"})
	if err != nil || !res.Matched || res.Signals[0].RiskScore != 100 {
		t.Fatalf("expected a case-insensitive hit, got %+v (%v)", res, err)
	}
	res, _ = m.ScreenAddress(context.Background(), Request{Address: "0x123", Chain: "ethereum"})
	if res.Matched || len(res.Signals) != 0 || !res.Success {
		t.Fatalf("expected a clean success, got %+v", res)
	}
}

func newReference() *Reference {
	return NewReference(sanctions.NewIndex(sanctions.DefaultDataset()), nil, ReferenceOptions{}, noopLogger())
}

func TestReferenceActiveAndDelisted(t *testing.T) {
	r := newReference()

	res, _ := r.ScreenAddress(context.Background(), Request{Address: sampleAddress, Chain: "ethereum"})
	if len(res.Signals) != 1 || res.Signals[0].RiskScore != 100 || res.Signals[0].Severity != risk.SeveritySevere {
		t.Fatalf("active address should yield SEVERE/100, got %+v", res.Signals)
	}

	res, _ = r.ScreenAddress(context.Background(), Request{Address: "0x8589427373d6d84e98730d7795d8f6f8731fda16", Chain: "ethereum"})
	if len(res.Signals) != 1 || res.Signals[0].RiskScore != 45 {
		t.Fatalf("delisted address should score 45, got %+v", res.Signals)
	}
	for _, a := range res.Signals[0].Actions {
		if a == risk.ActionDeny {
			t.Fatal("delisted match must not deny")
		}
	}
}

func TestReferenceContextChecks(t *testing.T) {
	r := newReference()
	sc := &risk.Context{
		EntityName:   "Lazarus Group",
		Jurisdiction: "ru",
		Owners: []risk.Owner{
			{Name: "Garantex", Percent: decimal.NewFromInt(30)},
			{Name: "Hydra Market", Percent: decimal.NewFromInt(25)},
		},
	}
	res, err := r.ScreenAddress(context.Background(), Request{Address: "0x1111111111111111111111111111111111111111", Chain: "ethereum", Context: sc})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Signals) != 3 {
		t.Fatalf("expected jurisdiction, entity and ownership signals, got %+v", res.Signals)
	}
	if res.Signals[0].RiskScore != 70 || res.Signals[0].Metadata["jurisdiction"] != "RU" {
		t.Fatalf("partial jurisdiction should score 70, got %+v", res.Signals[0])
	}
	if res.Signals[1].RiskScore != 100 || res.Signals[1].EntityName != "Lazarus Group" {
		t.Fatalf("exact entity match should score 100, got %+v", res.Signals[1])
	}
	if res.Signals[2].Severity != risk.SeveritySevere || res.Signals[2].Metadata["aggregate_percent"] != "55" {
		t.Fatalf("55%% sanctioned ownership should be SEVERE, got %+v", res.Signals[2])
	}
}

func TestReferencePatterns(t *testing.T) {
	r := newReference()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	sc := &risk.Context{Transactions: []risk.Transaction{
		{From: "0x1", To: "0xd90e2f925da726b50c4ed8d0fb90ad053324f31b", Amount: decimal.NewFromInt(1), Chain: "ethereum", Timestamp: start},
	}}
	res, _ := r.ScreenAddress(context.Background(), Request{Address: "0x1", Chain: "ethereum", Context: sc})
	if len(res.Signals) != 1 || res.Signals[0].Metadata["pattern"] != "MIXING" || res.Signals[0].RiskScore != 85 {
		t.Fatalf("expected a MIXING signal, got %+v", res.Signals)
	}
}
