package events

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Family separates the identity spaces of the scheduler contract. Withdraw
// and redirect requests may reuse the same id without colliding.
type Family uint8

const (
	FamilyWithdraw Family = iota + 1
	FamilyRedirect
)

func (f Family) String() string {
	switch f {
	case FamilyWithdraw:
		return "withdraw"
	case FamilyRedirect:
		return "redirect"
	default:
		return fmt.Sprintf("family(%d)", uint8(f))
	}
}

// Kind is the lifecycle event a record was decoded from.
type Kind uint8

const (
	KindScheduled Kind = iota + 1
	KindExecuted
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindScheduled:
		return "scheduled"
	case KindExecuted:
		return "executed"
	case KindCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Key identifies one scheduled request across all of its events.
type Key struct {
	Family Family
	ID     common.Hash
}

func (k Key) String() string {
	return k.Family.String() + ":" + k.ID.Hex()
}

// Record is a single decoded scheduler event.
type Record struct {
	Family       Family
	ID           common.Hash
	Kind         Kind
	Owner        common.Address
	SourceVault  Target
	From         Target
	To           Target
	Token        Target
	RedirectTo   Target
	AmountPerSec *big.Int
	Amount       *big.Int
	Starts       uint64
	Frequency    uint64

	BlockNumber uint64
	LogIndex    uint
	TxHash      common.Hash
}

// Key returns the grouping key of the record.
func (r Record) Key() Key {
	return Key{Family: r.Family, ID: r.ID}
}
