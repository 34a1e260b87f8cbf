package contract

import (
	_ "embed"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"llamabot/services/botd/events"
)

//go:embed llamapaybot.abi.json
var bundledABI string

// Scheduler contract methods packed by the bot.
const (
	MethodExecuteWithdraw = "executeWithdraw"
	MethodExecuteRedirect = "executeRedirect"
	MethodExecute         = "execute"
	MethodBatchExecute    = "batchExecute"
	MethodBalances        = "balances"
)

var familyPrefixes = map[events.Family]string{
	events.FamilyWithdraw: "Withdraw",
	events.FamilyRedirect: "Redirect",
}

var kindSuffixes = map[events.Kind]string{
	events.KindScheduled: "Scheduled",
	events.KindExecuted:  "Executed",
	events.KindCancelled: "Cancelled",
}

// Options configures a Codec for one deployment.
type Options struct {
	// ABI is the contract ABI JSON. Empty selects the bundled ABI.
	ABI string
	// Withdraw and Redirect override the default positional layouts.
	Withdraw *Layout
	Redirect *Layout
	// Redirects enables decoding of the Redirect* event family.
	Redirects bool
}

type eventSpec struct {
	family events.Family
	kind   events.Kind
	name   string
	args   abi.Arguments
	layout Layout
}

// Codec decodes scheduler events into records and packs scheduler calls.
type Codec struct {
	abi    abi.ABI
	events map[common.Hash]eventSpec
	topics []common.Hash
}

// NewCodec parses the ABI and binds the event families enabled by opts.
func NewCodec(opts Options) (*Codec, error) {
	source := strings.TrimSpace(opts.ABI)
	if source == "" {
		source = bundledABI
	}
	parsed, err := abi.JSON(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	for _, method := range []string{MethodExecuteWithdraw, MethodExecute, MethodBatchExecute, MethodBalances} {
		if _, ok := parsed.Methods[method]; !ok {
			return nil, fmt.Errorf("abi missing method %s", method)
		}
	}

	layouts := map[events.Family]Layout{events.FamilyWithdraw: DefaultWithdrawLayout()}
	if opts.Withdraw != nil {
		layouts[events.FamilyWithdraw] = *opts.Withdraw
	}
	if opts.Redirects {
		if _, ok := parsed.Methods[MethodExecuteRedirect]; !ok {
			return nil, fmt.Errorf("abi missing method %s", MethodExecuteRedirect)
		}
		layouts[events.FamilyRedirect] = DefaultRedirectLayout()
		if opts.Redirect != nil {
			layouts[events.FamilyRedirect] = *opts.Redirect
		}
	}

	codec := &Codec{abi: parsed, events: make(map[common.Hash]eventSpec)}
	for family, layout := range layouts {
		for kind, suffix := range kindSuffixes {
			name := familyPrefixes[family] + suffix
			ev, ok := parsed.Events[name]
			if !ok {
				return nil, fmt.Errorf("abi missing event %s", name)
			}
			args := ev.Inputs.NonIndexed()
			if err := layout.validate(len(args)); err != nil {
				return nil, fmt.Errorf("event %s: %w", name, err)
			}
			codec.events[ev.ID] = eventSpec{family: family, kind: kind, name: name, args: args, layout: layout}
			codec.topics = append(codec.topics, ev.ID)
		}
	}
	sort.Slice(codec.topics, func(i, j int) bool {
		return codec.topics[i].Hex() < codec.topics[j].Hex()
	})
	return codec, nil
}

// Topics returns the topic0 values of every bound event, for log filters.
func (c *Codec) Topics() []common.Hash {
	out := make([]common.Hash, len(c.topics))
	copy(out, c.topics)
	return out
}

// EventID returns the topic0 of the named event.
func (c *Codec) EventID(name string) (common.Hash, bool) {
	ev, ok := c.abi.Events[name]
	if !ok {
		return common.Hash{}, false
	}
	return ev.ID, true
}

// Decode converts a raw log into a record. Logs whose topic0 is not a bound
// scheduler event are reported with ok=false and no error.
func (c *Codec) Decode(log gethtypes.Log) (events.Record, bool, error) {
	if len(log.Topics) == 0 {
		return events.Record{}, false, nil
	}
	spec, ok := c.events[log.Topics[0]]
	if !ok {
		return events.Record{}, false, nil
	}
	values, err := spec.args.Unpack(log.Data)
	if err != nil {
		return events.Record{}, false, fmt.Errorf("decode %s at block %d index %d: %w", spec.name, log.BlockNumber, log.Index, err)
	}
	rec := events.Record{
		Family:      spec.family,
		Kind:        spec.kind,
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
		TxHash:      log.TxHash,
	}
	if err := spec.layout.fill(values, &rec); err != nil {
		return events.Record{}, false, fmt.Errorf("decode %s at block %d index %d: %w", spec.name, log.BlockNumber, log.Index, err)
	}
	return rec, true, nil
}

func (l Layout) fill(values []interface{}, rec *events.Record) error {
	var err error
	if rec.ID, err = hashAt(values, l.ID); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if rec.Owner, err = addressAt(values, l.Owner); err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	targets := []struct {
		name string
		idx  int
		dst  *events.Target
	}{
		{"source vault", l.SourceVault, &rec.SourceVault},
		{"from", l.From, &rec.From},
		{"to", l.To, &rec.To},
		{"token", l.Token, &rec.Token},
		{"redirect to", l.RedirectTo, &rec.RedirectTo},
	}
	for _, target := range targets {
		addr, err := addressAt(values, target.idx)
		if err != nil {
			return fmt.Errorf("%s: %w", target.name, err)
		}
		*target.dst = events.TargetFromAddress(addr)
	}
	if rec.AmountPerSec, err = bigAt(values, l.AmountPerSec); err != nil {
		return fmt.Errorf("amount per sec: %w", err)
	}
	if rec.Amount, err = bigAt(values, l.Amount); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	if rec.Starts, err = uint64At(values, l.Starts); err != nil {
		return fmt.Errorf("starts: %w", err)
	}
	if rec.Frequency, err = uint64At(values, l.Frequency); err != nil {
		return fmt.Errorf("frequency: %w", err)
	}
	return nil
}

func addressAt(values []interface{}, idx int) (common.Address, error) {
	if idx == Absent {
		return common.Address{}, nil
	}
	addr, ok := values[idx].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("position %d is %T, want address", idx, values[idx])
	}
	return addr, nil
}

func hashAt(values []interface{}, idx int) (common.Hash, error) {
	raw, ok := values[idx].([32]byte)
	if !ok {
		return common.Hash{}, fmt.Errorf("position %d is %T, want bytes32", idx, values[idx])
	}
	return common.Hash(raw), nil
}

func bigAt(values []interface{}, idx int) (*big.Int, error) {
	if idx == Absent {
		return new(big.Int), nil
	}
	switch v := values[idx].(type) {
	case *big.Int:
		if v == nil {
			return new(big.Int), nil
		}
		return new(big.Int).Set(v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("position %d is %T, want unsigned integer", idx, values[idx])
	}
}

func uint64At(values []interface{}, idx int) (uint64, error) {
	v, err := bigAt(values, idx)
	if err != nil {
		return 0, err
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("position %d value %s overflows uint64", idx, v)
	}
	return v.Uint64(), nil
}

// PackWithdraw encodes an executeWithdraw call. execute=false marks the
// closing entry of a wildcard expansion; emitEvent=false marks the
// per-stream entries that must not be booked as a settlement.
func (c *Codec) PackWithdraw(owner common.Address, vault, from, to events.Target, amountPerSec *big.Int, starts, frequency uint64, execute, emitEvent bool) ([]byte, error) {
	data, err := c.abi.Pack(MethodExecuteWithdraw,
		owner,
		vault.Raw(),
		from.Raw(),
		to.Raw(),
		orZero(amountPerSec),
		new(big.Int).SetUint64(starts),
		new(big.Int).SetUint64(frequency),
		execute,
		emitEvent,
	)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", MethodExecuteWithdraw, err)
	}
	return data, nil
}

// PackRedirect encodes an executeRedirect call.
func (c *Codec) PackRedirect(from, to, token events.Target, amount *big.Int, starts, frequency uint64) ([]byte, error) {
	data, err := c.abi.Pack(MethodExecuteRedirect,
		from.Raw(),
		to.Raw(),
		token.Raw(),
		orZero(amount),
		new(big.Int).SetUint64(starts),
		new(big.Int).SetUint64(frequency),
	)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", MethodExecuteRedirect, err)
	}
	return data, nil
}

// PackExecute wraps one owner's calls into a single instruction billed to owner.
func (c *Codec) PackExecute(calls [][]byte, owner common.Address) ([]byte, error) {
	data, err := c.abi.Pack(MethodExecute, calls, owner)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", MethodExecute, err)
	}
	return data, nil
}

// PackBatchExecute wraps per-owner instructions into the outer batch.
func (c *Codec) PackBatchExecute(instructions [][]byte) ([]byte, error) {
	data, err := c.abi.Pack(MethodBatchExecute, instructions)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", MethodBatchExecute, err)
	}
	return data, nil
}

// PackBalances encodes the prepaid balance lookup for owner.
func (c *Codec) PackBalances(owner common.Address) ([]byte, error) {
	data, err := c.abi.Pack(MethodBalances, owner)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", MethodBalances, err)
	}
	return data, nil
}

// UnpackBalances decodes the result of a balances call.
func (c *Codec) UnpackBalances(output []byte) (*big.Int, error) {
	values, err := c.abi.Unpack(MethodBalances, output)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", MethodBalances, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unpack %s: expected 1 value, got %d", MethodBalances, len(values))
	}
	balance, ok := values[0].(*big.Int)
	if !ok || balance == nil {
		return nil, fmt.Errorf("unpack %s: unexpected %T", MethodBalances, values[0])
	}
	return balance, nil
}

// EncodeLog builds a log carrying the named event with values packed in
// tuple order. It is the inverse of Decode and is used to replay fixtures.
func (c *Codec) EncodeLog(name string, values ...interface{}) (gethtypes.Log, error) {
	ev, ok := c.abi.Events[name]
	if !ok {
		return gethtypes.Log{}, fmt.Errorf("unknown event %s", name)
	}
	data, err := ev.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		return gethtypes.Log{}, fmt.Errorf("pack %s: %w", name, err)
	}
	return gethtypes.Log{Topics: []common.Hash{ev.ID}, Data: data}, nil
}

// MethodArguments returns the input arguments of a method.
func (c *Codec) MethodArguments(name string) (abi.Arguments, error) {
	method, ok := c.abi.Methods[name]
	if !ok {
		return nil, fmt.Errorf("unknown method %s", name)
	}
	return method.Inputs, nil
}

// MethodID returns the 4-byte selector of a method.
func (c *Codec) MethodID(name string) ([]byte, bool) {
	method, ok := c.abi.Methods[name]
	if !ok {
		return nil, false
	}
	return method.ID, true
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
