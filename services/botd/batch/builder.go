package batch

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"llamabot/services/botd/chain"
	"llamabot/services/botd/contract"
	"llamabot/services/botd/resolver"
)

// DefaultGasHeadroom is added to the estimated gas of the outer batch.
const DefaultGasHeadroom uint64 = 1_000_000

// Config captures the deployment-specific knobs of the builder.
type Config struct {
	Contract common.Address
	// Operator is the estimation sender. Zero selects the transactor address.
	Operator    common.Address
	GasHeadroom uint64
	DryRun      bool
}

// OwnerResult records the cost gate decision for one owner.
type OwnerResult struct {
	Owner    common.Address
	Calls    int
	Gas      uint64
	Cost     *big.Int
	Balance  *big.Int
	Included bool
}

// Result summarises a build.
type Result struct {
	Owners    []OwnerResult
	// GasPrice is the per-gas price used by the cost gate.
	GasPrice  *big.Int
	Included  int
	GasLimit  uint64
	TxHash    common.Hash
	Submitted bool
}

// Dropped returns the owners that failed the cost gate.
func (r Result) Dropped() []common.Address {
	var out []common.Address
	for _, owner := range r.Owners {
		if !owner.Included {
			out = append(out, owner.Owner)
		}
	}
	return out
}

// Builder packs a plan into per-owner instructions, applies the cost gate and
// submits the surviving instructions as one batch.
type Builder struct {
	client     chain.Client
	codec      *contract.Codec
	transactor chain.Transactor
	cfg        Config
	logger     *slog.Logger
}

// Option customises a Builder.
type Option func(*Builder)

// WithLogger sets the builder logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) { b.logger = logger }
}

// NewBuilder constructs a builder.
func NewBuilder(client chain.Client, codec *contract.Codec, transactor chain.Transactor, cfg Config, opts ...Option) *Builder {
	if cfg.GasHeadroom == 0 {
		cfg.GasHeadroom = DefaultGasHeadroom
	}
	b := &Builder{
		client:     client,
		codec:      codec,
		transactor: transactor,
		cfg:        cfg,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

func (b *Builder) operator() common.Address {
	if b.cfg.Operator != (common.Address{}) {
		return b.cfg.Operator
	}
	if b.transactor != nil {
		return b.transactor.From()
	}
	return common.Address{}
}

// Execute runs the cost gate over every owner in plan order and submits one
// batchExecute with the owners that can pay. Any RPC failure abandons the
// whole batch before submission.
func (b *Builder) Execute(ctx context.Context, plan *resolver.Plan) (Result, error) {
	var result Result
	if plan.Len() == 0 {
		return result, nil
	}
	if b.client == nil || b.codec == nil {
		return result, fmt.Errorf("builder not initialised")
	}
	// Owners are priced at the fee cap the batch transaction may pay.
	fees, err := chain.SuggestFees(ctx, b.client)
	if err != nil {
		return result, err
	}
	result.GasPrice = fees.FeeCap

	var included [][]byte
	for _, owner := range plan.Owners() {
		instruction, err := b.codec.PackExecute(plan.CallData(owner), owner)
		if err != nil {
			return result, err
		}
		gate, err := b.gate(ctx, owner, instruction, fees.FeeCap)
		if err != nil {
			return result, err
		}
		gate.Calls = len(plan.Calls(owner))
		result.Owners = append(result.Owners, gate)
		if !gate.Included {
			b.logger.Info("owner dropped: insufficient balance",
				slog.String("owner", owner.Hex()),
				slog.String("balance", gate.Balance.String()),
				slog.String("cost", gate.Cost.String()),
				slog.Int("calls", gate.Calls),
			)
			continue
		}
		included = append(included, instruction)
	}
	result.Included = len(included)
	if len(included) == 0 {
		return result, nil
	}

	data, err := b.codec.PackBatchExecute(included)
	if err != nil {
		return result, err
	}
	gas, err := b.client.EstimateGas(ctx, ethereum.CallMsg{From: b.operator(), To: &b.cfg.Contract, Data: data})
	if err != nil {
		return result, fmt.Errorf("estimate batch: %w", err)
	}
	result.GasLimit = gas + b.cfg.GasHeadroom
	if b.cfg.DryRun {
		b.logger.Info("dry run: batch not submitted",
			slog.Int("owners", len(included)),
			slog.Uint64("gas_limit", result.GasLimit),
		)
		return result, nil
	}
	if b.transactor == nil {
		return result, fmt.Errorf("transactor not configured")
	}
	hash, err := b.transactor.Send(ctx, b.cfg.Contract, data, result.GasLimit)
	if err != nil {
		return result, fmt.Errorf("submit batch: %w", err)
	}
	result.TxHash = hash
	result.Submitted = true
	return result, nil
}

// gate compares the owner's prepaid balance against the estimated cost of
// the owner's instruction. Equality passes.
func (b *Builder) gate(ctx context.Context, owner common.Address, instruction []byte, gasPrice *big.Int) (OwnerResult, error) {
	res := OwnerResult{Owner: owner}
	balance, err := b.balance(ctx, owner)
	if err != nil {
		return res, err
	}
	gas, err := b.client.EstimateGas(ctx, ethereum.CallMsg{From: b.operator(), To: &b.cfg.Contract, Data: instruction})
	if err != nil {
		return res, fmt.Errorf("estimate %s: %w", owner.Hex(), err)
	}
	res.Balance = balance
	res.Gas = gas
	res.Cost = new(big.Int).Mul(new(big.Int).SetUint64(gas), gasPrice)
	res.Included = balance.Cmp(res.Cost) >= 0
	return res, nil
}

func (b *Builder) balance(ctx context.Context, owner common.Address) (*big.Int, error) {
	data, err := b.codec.PackBalances(owner)
	if err != nil {
		return nil, err
	}
	out, err := b.client.CallContract(ctx, ethereum.CallMsg{From: b.operator(), To: &b.cfg.Contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", owner.Hex(), err)
	}
	return b.codec.UnpackBalances(out)
}
