package contract

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"llamabot/services/botd/events"
)

var (
	owner = common.HexToAddress("0x1000000000000000000000000000000000000001")
	vault = common.HexToAddress("0x2000000000000000000000000000000000000002")
	payer = common.HexToAddress("0x3000000000000000000000000000000000000003")
	payee = common.HexToAddress("0x4000000000000000000000000000000000000004")
)

func mustCodec(t *testing.T, redirects bool) *Codec {
	t.Helper()
	codec, err := NewCodec(Options{Redirects: redirects})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return codec
}

func withdrawLog(t *testing.T, codec *Codec, name string, from common.Address, id byte) gethtypes.Log {
	t.Helper()
	log, err := codec.EncodeLog(name,
		owner, vault, from, payee, common.Address{}, common.Address{},
		big.NewInt(42), big.NewInt(1_700_000_000), big.NewInt(86_400), [32]byte{id},
	)
	if err != nil {
		t.Fatalf("encode %s: %v", name, err)
	}
	log.BlockNumber = 77
	log.Index = 3
	return log
}

func TestDecodeWithdrawScheduled(t *testing.T) {
	codec := mustCodec(t, false)
	rec, ok, err := codec.Decode(withdrawLog(t, codec, "WithdrawScheduled", payer, 9))
	if err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	if rec.Family != events.FamilyWithdraw || rec.Kind != events.KindScheduled {
		t.Fatalf("unexpected classification %s/%s", rec.Family, rec.Kind)
	}
	if rec.ID != (common.Hash{9}) || rec.Owner != owner {
		t.Fatalf("unexpected identity %s owner %s", rec.ID.Hex(), rec.Owner.Hex())
	}
	if got, _ := rec.From.Address(); got != payer {
		t.Fatalf("expected from %s, got %s", payer.Hex(), rec.From)
	}
	if rec.Token.IsSet() || rec.RedirectTo.IsSet() {
		t.Fatalf("zero address slots must decode as unset")
	}
	if rec.AmountPerSec.Int64() != 42 || rec.Starts != 1_700_000_000 || rec.Frequency != 86_400 {
		t.Fatalf("unexpected schedule %+v", rec)
	}
	if rec.BlockNumber != 77 || rec.LogIndex != 3 {
		t.Fatalf("log position not carried: %d/%d", rec.BlockNumber, rec.LogIndex)
	}
}

func TestDecodeWildcardFrom(t *testing.T) {
	codec := mustCodec(t, false)
	rec, ok, err := codec.Decode(withdrawLog(t, codec, "WithdrawExecuted", common.Address{}, 1))
	if err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	if rec.Kind != events.KindExecuted {
		t.Fatalf("expected executed, got %s", rec.Kind)
	}
	if rec.From.IsSet() {
		t.Fatalf("expected wildcard from")
	}
}

func TestDecodeIgnoresUnknownTopics(t *testing.T) {
	codec := mustCodec(t, false)
	if _, ok, err := codec.Decode(gethtypes.Log{Topics: []common.Hash{{0xde, 0xad}}}); ok || err != nil {
		t.Fatalf("expected unknown topic to be skipped, ok=%v err=%v", ok, err)
	}
	if _, ok, err := codec.Decode(gethtypes.Log{}); ok || err != nil {
		t.Fatalf("expected topic-less log to be skipped, ok=%v err=%v", ok, err)
	}
	redirect, err := codec.EncodeLog("RedirectScheduled",
		payer, payee, vault, big.NewInt(5), big.NewInt(1), big.NewInt(2), [32]byte{1},
	)
	if err != nil {
		t.Fatalf("encode redirect: %v", err)
	}
	if _, ok, err := codec.Decode(redirect); ok || err != nil {
		t.Fatalf("redirects disabled: expected skip, ok=%v err=%v", ok, err)
	}
}

func TestDecodeRedirectOwnerIsSource(t *testing.T) {
	codec := mustCodec(t, true)
	log, err := codec.EncodeLog("RedirectCancelled",
		payer, payee, vault, big.NewInt(5), big.NewInt(1), big.NewInt(2), [32]byte{1},
	)
	if err != nil {
		t.Fatalf("encode redirect: %v", err)
	}
	rec, ok, err := codec.Decode(log)
	if err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	if rec.Family != events.FamilyRedirect || rec.Kind != events.KindCancelled {
		t.Fatalf("unexpected classification %s/%s", rec.Family, rec.Kind)
	}
	if rec.Owner != payer || rec.Amount.Int64() != 5 {
		t.Fatalf("unexpected redirect record %+v", rec)
	}
	if len(codec.Topics()) != 6 {
		t.Fatalf("expected 6 bound topics, got %d", len(codec.Topics()))
	}
}

func TestDecodeMalformedPayload(t *testing.T) {
	codec := mustCodec(t, false)
	log := withdrawLog(t, codec, "WithdrawScheduled", payer, 1)
	log.Data = log.Data[:40]
	if _, _, err := codec.Decode(log); err == nil {
		t.Fatalf("expected decode error for truncated payload")
	}
}

func TestLayoutOverrideOutOfRange(t *testing.T) {
	layout := DefaultWithdrawLayout()
	layout.ID = 12
	if _, err := NewCodec(Options{Withdraw: &layout}); err == nil {
		t.Fatalf("expected layout validation error")
	}
}

func TestLayoutOverrideKeepsOmittedPositions(t *testing.T) {
	absent, id := Absent, 3
	override := &LayoutOverride{Token: &absent, ID: &id}
	got := override.Apply(DefaultWithdrawLayout())

	want := DefaultWithdrawLayout()
	want.Token = Absent
	want.ID = 3
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	var none *LayoutOverride
	if none.Apply(DefaultRedirectLayout()) != DefaultRedirectLayout() {
		t.Fatalf("nil override must keep the bundled layout")
	}
}

func TestPackWithdrawFlags(t *testing.T) {
	codec := mustCodec(t, false)
	data, err := codec.PackWithdraw(owner, events.Fixed(vault), events.Unset(), events.Fixed(payee), nil, 10, 20, false, true)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	selector, _ := codec.MethodID(MethodExecuteWithdraw)
	if !bytes.HasPrefix(data, selector) {
		t.Fatalf("missing selector")
	}
	args, err := codec.MethodArguments(MethodExecuteWithdraw)
	if err != nil {
		t.Fatalf("arguments: %v", err)
	}
	values, err := args.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if values[2].(common.Address) != (common.Address{}) {
		t.Fatalf("unset from must pack as zero address")
	}
	if values[7].(bool) || !values[8].(bool) {
		t.Fatalf("unexpected flags execute=%v emit=%v", values[7], values[8])
	}
}

func TestBalancesRoundTrip(t *testing.T) {
	codec := mustCodec(t, false)
	out := common.LeftPadBytes(big.NewInt(1234).Bytes(), 32)
	balance, err := codec.UnpackBalances(out)
	if err != nil {
		t.Fatalf("unpack balances: %v", err)
	}
	if balance.Int64() != 1234 {
		t.Fatalf("expected 1234, got %s", balance)
	}
}
