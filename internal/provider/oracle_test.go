package provider

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"chain-screening/internal/risk"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type fakeCaller struct {
	sanctioned bool
	err        error
	lastTo     common.Address
}

func (f *fakeCaller) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastTo = *call.To
	return sanctionsOracleABI.Methods["isSanctioned"].Outputs.Pack(f.sanctioned)
}

const sampleAddress = "0x098B716B8Aaf21512996dC57EB0615e2383E2f96"

func TestOracleMissingConfig(t *testing.T) {
	off := NewOracle(OracleOptions{}, noopLogger())
	if _, err := off.ScreenAddress(context.Background(), Request{Address: sampleAddress, Chain: "ethereum"}); err == nil {
		t.Fatal("未配置 RPC 时应报错")
	}
	if off.IsHealthy() {
		t.Fatal("a failed call should mark the oracle unhealthy")
	}
}

func TestOracleRejectsInvalidAddress(t *testing.T) {
	o := NewOracle(OracleOptions{}, noopLogger())
	o.caller = &fakeCaller{}
	if _, err := o.ScreenAddress(context.Background(), Request{Address: "bc1qxyz", Chain: "ethereum"}); err == nil {
		t.Fatal("non-hex address should fail")
	}
}

func TestOracleUnsupportedChain(t *testing.T) {
	o := NewOracle(OracleOptions{Chains: []string{"ethereum"}}, noopLogger())
	o.caller = &fakeCaller{}
	_, err := o.ScreenAddress(context.Background(), Request{Address: sampleAddress, Chain: "solana"})
	if !errors.Is(err, ErrUnsupportedChain) {
		t.Fatalf("expected ErrUnsupportedChain, got %v", err)
	}
}

func TestOracleSanctioned(t *testing.T) {
	caller := &fakeCaller{sanctioned: true}
	o := NewOracle(OracleOptions{Chains: []string{"ethereum"}}, noopLogger())
	o.caller = caller

	res, err := o.ScreenAddress(context.Background(), Request{Address: sampleAddress, Chain: "Ethereum"})
	if err != nil {
		t.Fatalf("oracle call should succeed: %v", err)
	}
	if !res.Success || !res.Matched || len(res.Signals) != 1 {
		t.Fatalf("expected one match signal, got %+v", res)
	}
	if res.Signals[0].Severity != risk.SeveritySevere || res.Signals[0].RiskScore != 100 {
		t.Fatalf("oracle hit should be SEVERE/100, got %+v", res.Signals[0])
	}
	if caller.lastTo != common.HexToAddress(DefaultOracleAddress) {
		t.Fatalf("call should target default oracle, got %s", caller.lastTo.Hex())
	}
	if !o.IsHealthy() {
		t.Fatal("successful call should report healthy")
	}
}

func TestOracleClean(t *testing.T) {
	o := NewOracle(OracleOptions{}, noopLogger())
	o.caller = &fakeCaller{sanctioned: false}

	res, err := o.ScreenAddress(context.Background(), Request{Address: sampleAddress, Chain: "polygon"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Matched || len(res.Signals) != 0 {
		t.Fatalf("clean address should have no signals, got %+v", res)
	}
}

func TestOracleCallError(t *testing.T) {
	o := NewOracle(OracleOptions{}, noopLogger())
	o.caller = &fakeCaller{err: errors.New("connection refused")}
	if _, err := o.ScreenAddress(context.Background(), Request{Address: sampleAddress, Chain: "ethereum"}); err == nil {
		t.Fatal("rpc failure should surface as error")
	}
}
