package events

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func rec(family Family, id byte, kind Kind, block uint64) Record {
	return Record{
		Family:      family,
		ID:          common.Hash{id},
		Kind:        kind,
		BlockNumber: block,
	}
}

func TestGroupKeepsEncounterOrder(t *testing.T) {
	input := []Record{
		rec(FamilyWithdraw, 2, KindScheduled, 10),
		rec(FamilyWithdraw, 1, KindScheduled, 11),
		rec(FamilyWithdraw, 2, KindExecuted, 12),
		rec(FamilyRedirect, 2, KindScheduled, 13),
		rec(FamilyWithdraw, 1, KindCancelled, 14),
	}
	groups := Group(input)

	if groups.Len() != 3 {
		t.Fatalf("expected 3 groups, got %d", groups.Len())
	}
	keys := groups.Keys()
	want := []Key{
		{Family: FamilyWithdraw, ID: common.Hash{2}},
		{Family: FamilyWithdraw, ID: common.Hash{1}},
		{Family: FamilyRedirect, ID: common.Hash{2}},
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("key %d: expected %s, got %s", i, want[i], keys[i])
		}
	}

	total := 0
	for _, key := range keys {
		history := groups.Records(key)
		var last uint64
		for _, r := range history {
			if r.Key() != key {
				t.Fatalf("record %s landed in group %s", r.Key(), key)
			}
			if r.BlockNumber < last {
				t.Fatalf("group %s out of order", key)
			}
			last = r.BlockNumber
			total++
		}
	}
	if total != len(input) {
		t.Fatalf("expected %d grouped records, got %d", len(input), total)
	}
}

func TestGroupAbsentIdentity(t *testing.T) {
	groups := Group(nil)
	if groups.Len() != 0 {
		t.Fatalf("expected empty groups")
	}
	if got := groups.Records(Key{Family: FamilyWithdraw}); got != nil {
		t.Fatalf("expected nil history for unknown key, got %v", got)
	}
}

func TestAuthoritativeIsLastRecord(t *testing.T) {
	history := []Record{
		rec(FamilyWithdraw, 1, KindScheduled, 1),
		rec(FamilyWithdraw, 1, KindExecuted, 2),
		rec(FamilyWithdraw, 1, KindScheduled, 3),
	}
	last, ok := Authoritative(history)
	if !ok {
		t.Fatalf("expected authoritative record")
	}
	if last.BlockNumber != 3 || last.Kind != KindScheduled {
		t.Fatalf("unexpected authoritative record %+v", last)
	}
	if _, ok := Authoritative(nil); ok {
		t.Fatalf("empty history must not yield a record")
	}
}

func TestTargetSentinel(t *testing.T) {
	if TargetFromAddress(common.Address{}).IsSet() {
		t.Fatalf("zero address must decode as unset")
	}
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	target := TargetFromAddress(addr)
	got, ok := target.Address()
	if !ok || got != addr {
		t.Fatalf("expected fixed %s, got %s", addr.Hex(), target)
	}
	if Unset().Raw() != (common.Address{}) {
		t.Fatalf("unset target must encode as zero address")
	}
}
