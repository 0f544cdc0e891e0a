package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"chain-screening/internal/risk"
)

const (
	sanctionsOracleABIJSON = `[{"inputs":[{"internalType":"address","name":"addr","type":"address"}],"name":"isSanctioned","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"}]`

	// DefaultOracleAddress is the Chainalysis sanctions oracle deployment shared by most EVM chains.
	DefaultOracleAddress = "0x40C57923924B5c5c5455c48D93317139ADDaC8fb"
)

var (
	sanctionsOracleABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(sanctionsOracleABIJSON))
	if err != nil {
		panic("failed to parse sanctions oracle ABI: " + err.Error())
	}
	sanctionsOracleABI = parsed
}

type contractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// OracleOptions parameterise the on-chain oracle provider.
type OracleOptions struct {
	Name            string
	RPCURL          string
	ContractAddress string
	Chains          []string
	Timeout         time.Duration
}

// Oracle asks an on-chain sanctions oracle whether an address is listed.
type Oracle struct {
	health
	opts      OracleOptions
	logger    zerolog.Logger
	caller    contractCaller
	clientMux sync.Mutex
}

// NewOracle builds a new oracle provider.
func NewOracle(opts OracleOptions, logger zerolog.Logger) *Oracle {
	if opts.Name == "" {
		opts.Name = "chain_oracle"
	}
	if opts.ContractAddress == "" {
		opts.ContractAddress = DefaultOracleAddress
	}
	return &Oracle{opts: opts, logger: logger.With().Str("component", "oracle_provider").Logger()}
}

func (o *Oracle) Name() string { return o.opts.Name }

func (o *Oracle) SupportedCategories() []risk.Category {
	return []risk.Category{risk.CategorySanctions}
}

func (o *Oracle) SupportedChains() []string { return o.opts.Chains }

// ScreenAddress calls isSanctioned(address) at the latest block.
func (o *Oracle) ScreenAddress(ctx context.Context, req Request) (risk.ProviderResult, error) {
	result, err := o.screen(ctx, req)
	o.record(err)
	return result, err
}

func (o *Oracle) screen(ctx context.Context, req Request) (risk.ProviderResult, error) {
	if o.opts.RPCURL == "" && o.caller == nil {
		return risk.ProviderResult{}, errors.New("ethereum rpc url not configured")
	}
	if !SupportsChain(o, req.Chain) {
		return risk.ProviderResult{}, fmt.Errorf("%w: %s", ErrUnsupportedChain, req.Chain)
	}
	if !common.IsHexAddress(req.Address) {
		return risk.ProviderResult{}, fmt.Errorf("invalid evm address %q", req.Address)
	}

	timeout := o.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	caller, err := o.getCaller(ctx)
	if err != nil {
		return risk.ProviderResult{}, err
	}

	oracle := common.HexToAddress(o.opts.ContractAddress)
	payload, err := sanctionsOracleABI.Pack("isSanctioned", common.HexToAddress(req.Address))
	if err != nil {
		return risk.ProviderResult{}, err
	}

	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &oracle, Data: payload}, nil)
	if err != nil {
		return risk.ProviderResult{}, fmt.Errorf("call sanctions oracle: %w", err)
	}

	outputs, err := sanctionsOracleABI.Unpack("isSanctioned", res)
	if err != nil {
		return risk.ProviderResult{}, fmt.Errorf("decode isSanctioned: %w", err)
	}
	if len(outputs) != 1 {
		return risk.ProviderResult{}, errors.New("unexpected isSanctioned response")
	}
	sanctioned, ok := outputs[0].(bool)
	if !ok {
		return risk.ProviderResult{}, errors.New("failed to decode isSanctioned output")
	}

	result := risk.ProviderResult{
		Provider:   o.opts.Name,
		Matched:    sanctioned,
		Signals:    []risk.Signal{},
		Success:    true,
		ScreenedAt: time.Now().UTC(),
	}
	if sanctioned {
		result.Signals = append(result.Signals, risk.Signal{
			Provider:    o.opts.Name,
			Category:    risk.CategorySanctions,
			Severity:    risk.SeveritySevere,
			RiskScore:   100,
			Actions:     []risk.Action{risk.ActionDeny, risk.ActionAlert},
			Description: "address flagged by on-chain sanctions oracle",
			Direction:   directionOf(req),
			Metadata: map[string]string{
				"oracle": oracle.Hex(),
				"chain":  req.Chain,
			},
		})
		o.logger.Debug().Str("address", req.Address).Str("chain", req.Chain).Msg("oracle match")
	}
	return result, nil
}

func (o *Oracle) getCaller(ctx context.Context) (contractCaller, error) {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()

	if o.caller != nil {
		return o.caller, nil
	}

	client, err := ethclient.DialContext(ctx, o.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	o.caller = client
	return client, nil
}

func directionOf(req Request) risk.Direction {
	if req.Context != nil && req.Context.Direction != "" {
		return req.Context.Direction
	}
	return risk.DirectionBoth
}

var _ Provider = (*Oracle)(nil)
