package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"llamabot/observability/logging"
)

// Client defines the subset of the Ethereum RPC used by the bot.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
}

// Dial initialises an EVM RPC client for the provided endpoint.
func Dial(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	client, err := ethclient.DialContext(ctx, trimmed)
	if err != nil {
		return nil, logging.ScrubURLError(err)
	}
	return client, nil
}

// Observer receives the outcome of every upstream call.
type Observer func(method string, duration time.Duration, err error)

// Throttled wraps a Client so every round trip waits on a shared limiter.
// Public RPC providers cap request rates and log queries are the heaviest.
type Throttled struct {
	next     Client
	limiter  *rate.Limiter
	observer Observer
}

// ThrottleOption customises a Throttled client.
type ThrottleOption func(*Throttled)

// WithObserver reports each call, including its limiter wait, to fn.
func WithObserver(fn Observer) ThrottleOption {
	return func(t *Throttled) { t.observer = fn }
}

// NewThrottled limits next to perSecond requests. A non-positive rate
// disables throttling.
func NewThrottled(next Client, perSecond float64, opts ...ThrottleOption) *Throttled {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	t := &Throttled{next: next, limiter: limiter}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Throttled) wait(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rpc rate limit: %w", err)
	}
	return nil
}

// track masks provider credentials that transport errors carry in the
// endpoint URL and reports the call.
func (t *Throttled) track(method string, started time.Time, err *error) {
	*err = logging.ScrubURLError(*err)
	if t.observer != nil {
		t.observer(method, time.Since(started), *err)
	}
}

func (t *Throttled) BlockNumber(ctx context.Context) (n uint64, err error) {
	defer t.track("eth_blockNumber", time.Now(), &err)
	if err = t.wait(ctx); err != nil {
		return 0, err
	}
	return t.next.BlockNumber(ctx)
}

func (t *Throttled) HeaderByNumber(ctx context.Context, number *big.Int) (header *gethtypes.Header, err error) {
	defer t.track("eth_getBlockByNumber", time.Now(), &err)
	if err = t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.HeaderByNumber(ctx, number)
}

func (t *Throttled) FilterLogs(ctx context.Context, q ethereum.FilterQuery) (logs []gethtypes.Log, err error) {
	defer t.track("eth_getLogs", time.Now(), &err)
	if err = t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.FilterLogs(ctx, q)
}

func (t *Throttled) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) (out []byte, err error) {
	defer t.track("eth_call", time.Now(), &err)
	if err = t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.CallContract(ctx, msg, blockNumber)
}

func (t *Throttled) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (gas uint64, err error) {
	defer t.track("eth_estimateGas", time.Now(), &err)
	if err = t.wait(ctx); err != nil {
		return 0, err
	}
	return t.next.EstimateGas(ctx, msg)
}

func (t *Throttled) SuggestGasPrice(ctx context.Context) (price *big.Int, err error) {
	defer t.track("eth_gasPrice", time.Now(), &err)
	if err = t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.SuggestGasPrice(ctx)
}

func (t *Throttled) SuggestGasTipCap(ctx context.Context) (tip *big.Int, err error) {
	defer t.track("eth_maxPriorityFeePerGas", time.Now(), &err)
	if err = t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.SuggestGasTipCap(ctx)
}

func (t *Throttled) PendingNonceAt(ctx context.Context, account common.Address) (nonce uint64, err error) {
	defer t.track("eth_getTransactionCount", time.Now(), &err)
	if err = t.wait(ctx); err != nil {
		return 0, err
	}
	return t.next.PendingNonceAt(ctx, account)
}

func (t *Throttled) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) (err error) {
	defer t.track("eth_sendRawTransaction", time.Now(), &err)
	if err = t.wait(ctx); err != nil {
		return err
	}
	return t.next.SendTransaction(ctx, tx)
}

// BlockTime returns the timestamp of the given block.
func BlockTime(ctx context.Context, client Client, number uint64) (uint64, error) {
	header, err := client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, fmt.Errorf("fetch header %d: %w", number, err)
	}
	if header == nil {
		return 0, fmt.Errorf("header %d unavailable", number)
	}
	return header.Time, nil
}
