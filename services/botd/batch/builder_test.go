package batch

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"llamabot/services/botd/chain/chaintest"
	"llamabot/services/botd/contract"
	"llamabot/services/botd/events"
	"llamabot/services/botd/resolver"
)

var (
	schedulerAddr = common.HexToAddress("0x5c4e000000000000000000000000000000000001")
	operatorAddr  = common.HexToAddress("0x0be7000000000000000000000000000000000002")
	ownerA        = common.HexToAddress("0xaaaa000000000000000000000000000000000003")
	ownerB        = common.HexToAddress("0xbbbb000000000000000000000000000000000004")
)

// chainScript wires a fake chain whose balances and per-owner gas estimates
// come from the supplied maps.
func chainScript(t *testing.T, codec *contract.Codec, balances map[common.Address]int64, costs map[common.Address]uint64, batchGas uint64) *chaintest.Fake {
	t.Helper()
	executeSel, _ := codec.MethodID(contract.MethodExecute)
	batchSel, _ := codec.MethodID(contract.MethodBatchExecute)
	executeArgs, err := codec.MethodArguments(contract.MethodExecute)
	require.NoError(t, err)
	return &chaintest.Fake{
		GasPrice: big.NewInt(1),
		CallFunc: func(msg ethereum.CallMsg) ([]byte, error) {
			owner := common.BytesToAddress(msg.Data[4:36])
			return common.LeftPadBytes(big.NewInt(balances[owner]).Bytes(), 32), nil
		},
		EstimateFunc: func(msg ethereum.CallMsg) (uint64, error) {
			switch {
			case bytes.HasPrefix(msg.Data, batchSel):
				return batchGas, nil
			case bytes.HasPrefix(msg.Data, executeSel):
				values, err := executeArgs.Unpack(msg.Data[4:])
				if err != nil {
					return 0, err
				}
				return costs[values[1].(common.Address)], nil
			default:
				return 0, errors.New("unexpected estimate")
			}
		},
	}
}

func planFor(t *testing.T, codec *contract.Codec, owners ...common.Address) *resolver.Plan {
	t.Helper()
	plan := resolver.NewPlan()
	for i, owner := range owners {
		data, err := codec.PackWithdraw(owner, events.Fixed(owner), events.Fixed(owner), events.Fixed(owner), big.NewInt(1), 0, 1, true, true)
		require.NoError(t, err)
		plan.Add(resolver.Call{
			Owner:  owner,
			Key:    events.Key{Family: events.FamilyWithdraw, ID: common.Hash{byte(i + 1)}},
			Method: contract.MethodExecuteWithdraw,
			Data:   data,
			Final:  true,
		})
	}
	return plan
}

func newTestCodec(t *testing.T) *contract.Codec {
	t.Helper()
	codec, err := contract.NewCodec(contract.Options{})
	require.NoError(t, err)
	return codec
}

func TestCostGateIncludesOnlyFundedOwners(t *testing.T) {
	codec := newTestCodec(t)
	fake := chainScript(t, codec,
		map[common.Address]int64{ownerA: 100, ownerB: 50},
		map[common.Address]uint64{ownerA: 90, ownerB: 90},
		400_000,
	)
	tx := &chaintest.Transactor{Operator: operatorAddr}
	builder := NewBuilder(fake, codec, tx, Config{Contract: schedulerAddr})

	result, err := builder.Execute(context.Background(), planFor(t, codec, ownerA, ownerB))
	require.NoError(t, err)
	require.True(t, result.Submitted)
	require.Equal(t, 1, result.Included)
	require.Equal(t, []common.Address{ownerB}, result.Dropped())
	require.Equal(t, uint64(400_000)+DefaultGasHeadroom, result.GasLimit)

	require.Len(t, tx.Sends, 1)
	sent := tx.Sends[0]
	require.Equal(t, schedulerAddr, sent.To)
	require.Equal(t, result.GasLimit, sent.GasLimit)

	batchArgs, err := codec.MethodArguments(contract.MethodBatchExecute)
	require.NoError(t, err)
	values, err := batchArgs.Unpack(sent.Data[4:])
	require.NoError(t, err)
	instructions := values[0].([][]byte)
	require.Len(t, instructions, 1)

	expected, err := codec.PackExecute(planFor(t, codec, ownerA).CallData(ownerA), ownerA)
	require.NoError(t, err)
	require.Equal(t, expected, instructions[0])

	for _, msg := range fake.Estimates {
		require.Equal(t, operatorAddr, msg.From)
	}
}

func TestCostGateEqualityPasses(t *testing.T) {
	codec := newTestCodec(t)
	fake := chainScript(t, codec,
		map[common.Address]int64{ownerA: 180},
		map[common.Address]uint64{ownerA: 90},
		100,
	)
	fake.GasPrice = big.NewInt(2)
	tx := &chaintest.Transactor{Operator: operatorAddr}
	result, err := NewBuilder(fake, codec, tx, Config{Contract: schedulerAddr, GasHeadroom: 5}).Execute(context.Background(), planFor(t, codec, ownerA))
	require.NoError(t, err)
	require.Equal(t, 1, result.Included)
	require.Equal(t, int64(180), result.Owners[0].Cost.Int64())
	require.Equal(t, uint64(105), result.GasLimit)
}

func TestCostGatePricesAtDynamicFeeCap(t *testing.T) {
	codec := newTestCodec(t)
	fake := chainScript(t, codec,
		map[common.Address]int64{ownerA: 90 * 22, ownerB: 90*22 - 1},
		map[common.Address]uint64{ownerA: 90, ownerB: 90},
		100,
	)
	fake.BaseFee = big.NewInt(10)
	fake.GasTip = big.NewInt(2)
	tx := &chaintest.Transactor{Operator: operatorAddr}
	result, err := NewBuilder(fake, codec, tx, Config{Contract: schedulerAddr}).Execute(context.Background(), planFor(t, codec, ownerA, ownerB))
	require.NoError(t, err)
	require.Equal(t, int64(22), result.GasPrice.Int64())
	require.Equal(t, int64(90*22), result.Owners[0].Cost.Int64())
	require.Equal(t, 1, result.Included)
	require.Equal(t, []common.Address{ownerB}, result.Dropped())
}

func TestNoFundedOwnersSkipsSubmission(t *testing.T) {
	codec := newTestCodec(t)
	fake := chainScript(t, codec,
		map[common.Address]int64{ownerA: 1},
		map[common.Address]uint64{ownerA: 90},
		100,
	)
	tx := &chaintest.Transactor{Operator: operatorAddr}
	result, err := NewBuilder(fake, codec, tx, Config{Contract: schedulerAddr}).Execute(context.Background(), planFor(t, codec, ownerA))
	require.NoError(t, err)
	require.False(t, result.Submitted)
	require.Empty(t, tx.Sends)
}

func TestEmptyPlanMakesNoCalls(t *testing.T) {
	codec := newTestCodec(t)
	fake := &chaintest.Fake{}
	tx := &chaintest.Transactor{}
	result, err := NewBuilder(fake, codec, tx, Config{Contract: schedulerAddr}).Execute(context.Background(), resolver.NewPlan())
	require.NoError(t, err)
	require.False(t, result.Submitted)
	require.Empty(t, fake.Calls)
	require.Empty(t, fake.Estimates)
}

func TestEstimationFailureAbandonsBatch(t *testing.T) {
	codec := newTestCodec(t)
	fake := chainScript(t, codec, map[common.Address]int64{ownerA: 100, ownerB: 100}, nil, 100)
	boom := errors.New("execution reverted")
	fake.EstimateFunc = func(msg ethereum.CallMsg) (uint64, error) { return 0, boom }
	tx := &chaintest.Transactor{Operator: operatorAddr}
	_, err := NewBuilder(fake, codec, tx, Config{Contract: schedulerAddr}).Execute(context.Background(), planFor(t, codec, ownerA, ownerB))
	require.ErrorIs(t, err, boom)
	require.Empty(t, tx.Sends)
}

func TestSubmissionFailureSurfaces(t *testing.T) {
	codec := newTestCodec(t)
	fake := chainScript(t, codec, map[common.Address]int64{ownerA: 100}, map[common.Address]uint64{ownerA: 10}, 100)
	boom := errors.New("nonce too low")
	tx := &chaintest.Transactor{Operator: operatorAddr, Err: boom}
	_, err := NewBuilder(fake, codec, tx, Config{Contract: schedulerAddr}).Execute(context.Background(), planFor(t, codec, ownerA))
	require.ErrorIs(t, err, boom)
}

func TestDryRunEstimatesWithoutSending(t *testing.T) {
	codec := newTestCodec(t)
	fake := chainScript(t, codec, map[common.Address]int64{ownerA: 100}, map[common.Address]uint64{ownerA: 10}, 100)
	tx := &chaintest.Transactor{Operator: operatorAddr}
	result, err := NewBuilder(fake, codec, tx, Config{Contract: schedulerAddr, DryRun: true}).Execute(context.Background(), planFor(t, codec, ownerA))
	require.NoError(t, err)
	require.False(t, result.Submitted)
	require.Equal(t, 1, result.Included)
	require.Empty(t, tx.Sends)
}
