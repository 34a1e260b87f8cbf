package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// DefaultMaxBlockSpan is the widest block range most providers accept for
// eth_getLogs.
const DefaultMaxBlockSpan uint64 = 1024

// Window is an inclusive block range.
type Window struct {
	From uint64
	To   uint64
}

// Windows splits [from, head] into consecutive inclusive ranges of at most
// span blocks.
func Windows(from, head, span uint64) []Window {
	if span == 0 {
		span = DefaultMaxBlockSpan
	}
	if from > head {
		return nil
	}
	var out []Window
	for start := from; ; {
		end := head
		if head-start >= span {
			end = start + span - 1
		}
		out = append(out, Window{From: start, To: end})
		if end == head {
			return out
		}
		start = end + 1
	}
}

// Fetcher pulls the scheduler contract's logs in bounded windows.
type Fetcher struct {
	client  Client
	address common.Address
	topics  []common.Hash
	span    uint64
}

// NewFetcher builds a fetcher filtering address for any of topics.
func NewFetcher(client Client, address common.Address, topics []common.Hash, span uint64) *Fetcher {
	if span == 0 {
		span = DefaultMaxBlockSpan
	}
	return &Fetcher{client: client, address: address, topics: topics, span: span}
}

// Fetch returns every matching log in [from, head] in ascending block and
// log-index order. A single failed window aborts the whole fetch.
func (f *Fetcher) Fetch(ctx context.Context, from, head uint64) ([]gethtypes.Log, error) {
	if f == nil || f.client == nil {
		return nil, fmt.Errorf("fetcher not initialised")
	}
	var logs []gethtypes.Log
	for _, window := range Windows(from, head, f.span) {
		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(window.From),
			ToBlock:   new(big.Int).SetUint64(window.To),
			Addresses: []common.Address{f.address},
		}
		if len(f.topics) > 0 {
			query.Topics = [][]common.Hash{f.topics}
		}
		batch, err := f.client.FilterLogs(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("filter logs [%d,%d]: %w", window.From, window.To, err)
		}
		logs = append(logs, batch...)
	}
	return logs, nil
}
