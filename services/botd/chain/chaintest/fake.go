// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ErrTransport is returned by the fake when a call is configured to fail.
var ErrTransport = errors.New("chaintest: transport failure")

// Fake is a scriptable chain.Client. Zero values give an empty chain at
// block 0; fields may be set directly before use.
type Fake struct {
	mu sync.Mutex

	Head     uint64
	Logs     []gethtypes.Log
	Times    map[uint64]uint64
	BaseFee  *big.Int
	GasPrice *big.Int
	GasTip   *big.Int

	// FailFilterAt makes any FilterLogs window containing the block fail.
	FailFilterAt *uint64
	FailHeader   bool

	CallFunc     func(msg ethereum.CallMsg) ([]byte, error)
	EstimateFunc func(msg ethereum.CallMsg) (uint64, error)
	SendErr      error

	Queries   []ethereum.FilterQuery
	Headers   []uint64
	Calls     []ethereum.CallMsg
	Estimates []ethereum.CallMsg
	Sent      []*gethtypes.Transaction
}

func (f *Fake) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Head, nil
}

func (f *Fake) HeaderByNumber(_ context.Context, number *big.Int) (*gethtypes.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailHeader {
		return nil, ErrTransport
	}
	n := f.Head
	if number != nil {
		n = number.Uint64()
	}
	f.Headers = append(f.Headers, n)
	return &gethtypes.Header{
		Number:  new(big.Int).SetUint64(n),
		Time:    f.Times[n],
		BaseFee: f.BaseFee,
	}, nil
}

func (f *Fake) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Queries = append(f.Queries, q)
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	if f.FailFilterAt != nil && *f.FailFilterAt >= from && *f.FailFilterAt <= to {
		return nil, fmt.Errorf("window [%d,%d]: %w", from, to, ErrTransport)
	}
	var out []gethtypes.Log
	for _, log := range f.Logs {
		if log.BlockNumber < from || log.BlockNumber > to {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, log.Address) {
			continue
		}
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 {
			if len(log.Topics) == 0 || !containsHash(q.Topics[0], log.Topics[0]) {
				continue
			}
		}
		out = append(out, log)
	}
	return out, nil
}

func (f *Fake) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, msg)
	fn := f.CallFunc
	f.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("call: %w", ErrTransport)
	}
	return fn(msg)
}

func (f *Fake) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	f.Estimates = append(f.Estimates, msg)
	fn := f.EstimateFunc
	f.mu.Unlock()
	if fn == nil {
		return 21_000, nil
	}
	return fn(msg)
}

func (f *Fake) SuggestGasPrice(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GasPrice == nil {
		return big.NewInt(1), nil
	}
	return new(big.Int).Set(f.GasPrice), nil
}

func (f *Fake) SuggestGasTipCap(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GasTip == nil {
		return big.NewInt(1), nil
	}
	return new(big.Int).Set(f.GasTip), nil
}

func (f *Fake) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.Sent)), nil
}

func (f *Fake) SendTransaction(_ context.Context, tx *gethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.Sent = append(f.Sent, tx)
	return nil
}

func containsAddress(list []common.Address, addr common.Address) bool {
	for _, candidate := range list {
		if candidate == addr {
			return true
		}
	}
	return false
}

func containsHash(list []common.Hash, h common.Hash) bool {
	for _, candidate := range list {
		if candidate == h {
			return true
		}
	}
	return false
}

// Transactor records sends instead of signing.
type Transactor struct {
	mu       sync.Mutex
	Operator common.Address
	Err      error
	Sends    []Send
}

// Send is one recorded transaction.
type Send struct {
	To       common.Address
	Data     []byte
	GasLimit uint64
}

func (t *Transactor) From() common.Address { return t.Operator }

func (t *Transactor) Send(_ context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return common.Hash{}, t.Err
	}
	t.Sends = append(t.Sends, Send{To: to, Data: append([]byte(nil), data...), GasLimit: gasLimit})
	return common.BytesToHash([]byte{byte(len(t.Sends))}), nil
}
