package engine

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"llamabot/services/botd/batch"
	"llamabot/services/botd/chain/chaintest"
	"llamabot/services/botd/contract"
	"llamabot/services/botd/directory"
	"llamabot/services/botd/resolver"
)

var (
	schedulerAddr = common.HexToAddress("0x5c4e000000000000000000000000000000000001")
	operatorAddr  = common.HexToAddress("0x0be7000000000000000000000000000000000002")
	ownerA        = common.HexToAddress("0xaaaa000000000000000000000000000000000003")
	ownerB        = common.HexToAddress("0xbbbb000000000000000000000000000000000004")
	vault         = common.HexToAddress("0xcccc000000000000000000000000000000000005")
	payee         = common.HexToAddress("0xdddd000000000000000000000000000000000006")
	streamPayee   = common.HexToAddress("0xeeee000000000000000000000000000000000007")

	testNow    = time.Date(2024, 3, 10, 15, 4, 5, 0, time.UTC)
	testWindow = resolver.DayWindow(testNow)
)

type fixture struct {
	codec *contract.Codec
	fake  *chaintest.Fake
	tx    *chaintest.Transactor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	codec, err := contract.NewCodec(contract.Options{})
	require.NoError(t, err)
	return &fixture{
		codec: codec,
		fake: &chaintest.Fake{
			Times: map[uint64]uint64{},
			CallFunc: func(ethereum.CallMsg) ([]byte, error) {
				return common.LeftPadBytes(big.NewInt(1_000_000_000).Bytes(), 32), nil
			},
		},
		tx: &chaintest.Transactor{Operator: operatorAddr},
	}
}

func (f *fixture) withdrawLog(t *testing.T, event string, id byte, owner common.Address, from common.Address, block uint64) gethtypes.Log {
	t.Helper()
	to := payee
	amount := big.NewInt(1_000)
	if from == (common.Address{}) {
		to = common.Address{}
		amount = new(big.Int)
	}
	log, err := f.codec.EncodeLog(event,
		owner, vault, from, to, common.Address{}, common.Address{},
		amount,
		new(big.Int).SetUint64(testWindow.Start-3600),
		new(big.Int).SetUint64(resolver.SecondsPerDay),
		[32]byte{id},
	)
	require.NoError(t, err)
	log.Address = schedulerAddr
	log.BlockNumber = block
	return log
}

func (f *fixture) engine(t *testing.T, span uint64, opts ...Option) *Engine {
	t.Helper()
	builder := batch.NewBuilder(f.fake, f.codec, f.tx, batch.Config{Contract: schedulerAddr})
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	e, err := New(Config{Chain: "testnet", Contract: schedulerAddr, MaxBlockSpan: span}, f.fake, f.codec, builder, opts...)
	require.NoError(t, err)
	return e
}

func TestRunSubmitsDueRequests(t *testing.T) {
	f := newFixture(t)
	f.fake.Head = 60
	f.fake.Logs = []gethtypes.Log{
		f.withdrawLog(t, "WithdrawScheduled", 1, ownerA, ownerA, 10),
		f.withdrawLog(t, "WithdrawScheduled", 2, ownerB, ownerB, 20),
		f.withdrawLog(t, "WithdrawCancelled", 2, ownerB, ownerB, 30),
		f.withdrawLog(t, "WithdrawScheduled", 3, ownerA, ownerA, 40),
		f.withdrawLog(t, "WithdrawExecuted", 3, ownerA, ownerA, 50),
		f.withdrawLog(t, "WithdrawScheduled", 4, ownerB, common.Address{}, 55),
	}
	// Executed a day minus 100s before the window opened: due inside it.
	f.fake.Times[50] = testWindow.Start - resolver.SecondsPerDay + 100

	var roles []directory.Role
	dir := directory.Func(func(_ context.Context, owner common.Address, role directory.Role) ([]directory.Stream, error) {
		roles = append(roles, role)
		require.Equal(t, ownerB, owner)
		return []directory.Stream{
			{Contract: vault, Payer: ownerB, Payee: payee, AmountPerSec: big.NewInt(7)},
			{Contract: vault, Payer: ownerB, Payee: streamPayee, AmountPerSec: big.NewInt(9)},
		}, nil
	})

	report, err := f.engine(t, 25, WithDirectory(dir)).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(60), report.Head)
	require.Equal(t, testWindow, report.Window)
	require.Equal(t, 6, report.Logs)
	require.Equal(t, 6, report.Records)
	require.Equal(t, 4, report.Requests)
	require.Equal(t, 2, report.Outcomes[resolver.OutcomeDirect])
	require.Equal(t, 1, report.Outcomes[resolver.OutcomeCancelled])
	require.Equal(t, 1, report.Outcomes[resolver.OutcomeWildcard])
	require.Equal(t, []directory.Role{directory.RolePayer}, roles)

	require.True(t, report.Batch.Submitted)
	require.Equal(t, 2, report.Batch.Included)
	require.Len(t, report.Batch.Owners, 2)
	require.Equal(t, ownerA, report.Batch.Owners[0].Owner)
	require.Equal(t, 2, report.Batch.Owners[0].Calls)
	require.Equal(t, ownerB, report.Batch.Owners[1].Owner)
	require.Equal(t, 3, report.Batch.Owners[1].Calls)

	require.Len(t, f.tx.Sends, 1)
	require.Equal(t, schedulerAddr, f.tx.Sends[0].To)
	// Block 50 dates the executed record; the head prices the batch.
	require.Equal(t, []uint64{50, 60}, f.fake.Headers)

	// Windows [0,24] [25,49] [50,60].
	require.Len(t, f.fake.Queries, 3)
}

func TestRunWithoutDueRequestsMakesNoCalls(t *testing.T) {
	f := newFixture(t)
	f.fake.Head = 40
	f.fake.Logs = []gethtypes.Log{
		f.withdrawLog(t, "WithdrawScheduled", 1, ownerA, ownerA, 10),
		f.withdrawLog(t, "WithdrawCancelled", 1, ownerA, ownerA, 20),
	}

	report, err := f.engine(t, 0).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Outcomes[resolver.OutcomeCancelled])
	require.False(t, report.Batch.Submitted)
	require.Empty(t, f.fake.Calls)
	require.Empty(t, f.fake.Estimates)
	require.Empty(t, f.tx.Sends)
}

func TestFetchFailureAbortsWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	f.fake.Head = 100
	f.fake.Logs = []gethtypes.Log{
		f.withdrawLog(t, "WithdrawScheduled", 1, ownerA, ownerA, 5),
	}
	failAt := uint64(35)
	f.fake.FailFilterAt = &failAt

	_, err := f.engine(t, 10).Run(context.Background())
	require.ErrorIs(t, err, chaintest.ErrTransport)
	require.Len(t, f.fake.Queries, 4)
	require.Empty(t, f.fake.Headers)
	require.Empty(t, f.fake.Calls)
	require.Empty(t, f.fake.Estimates)
	require.Empty(t, f.tx.Sends)
}

func TestDirectoryFailureAbortsWithoutSubmission(t *testing.T) {
	f := newFixture(t)
	f.fake.Head = 20
	f.fake.Logs = []gethtypes.Log{
		f.withdrawLog(t, "WithdrawScheduled", 1, ownerA, ownerA, 5),
		f.withdrawLog(t, "WithdrawScheduled", 2, ownerB, common.Address{}, 6),
	}
	boom := errors.New("subgraph unavailable")
	dir := directory.Func(func(context.Context, common.Address, directory.Role) ([]directory.Stream, error) {
		return nil, boom
	})

	_, err := f.engine(t, 0, WithDirectory(dir)).Run(context.Background())
	require.ErrorIs(t, err, boom)
	require.Empty(t, f.fake.Estimates)
	require.Empty(t, f.tx.Sends)
}

func TestNewValidatesDependencies(t *testing.T) {
	f := newFixture(t)
	builder := batch.NewBuilder(f.fake, f.codec, f.tx, batch.Config{Contract: schedulerAddr})
	_, err := New(Config{Contract: schedulerAddr}, nil, f.codec, builder)
	require.Error(t, err)
	_, err = New(Config{}, f.fake, f.codec, builder)
	require.Error(t, err)
	_, err = New(Config{Contract: schedulerAddr}, f.fake, f.codec, nil)
	require.Error(t, err)
}
