package events

import (
	"github.com/ethereum/go-ethereum/common"
)

// Target is an address slot on a scheduled request. A slot is either Unset,
// meaning the request applies to every matching stream of the owner, or
// Fixed to a concrete address.
type Target struct {
	addr common.Address
	set  bool
}

// Unset returns the wildcard target.
func Unset() Target { return Target{} }

// Fixed returns a target pinned to addr.
func Fixed(addr common.Address) Target { return Target{addr: addr, set: true} }

// TargetFromAddress maps the on-chain zero-address sentinel to Unset and any
// other value to Fixed.
func TargetFromAddress(addr common.Address) Target {
	if addr == (common.Address{}) {
		return Unset()
	}
	return Fixed(addr)
}

// IsSet reports whether the target holds a concrete address.
func (t Target) IsSet() bool { return t.set }

// Address returns the concrete address and whether one is set.
func (t Target) Address() (common.Address, bool) { return t.addr, t.set }

// Raw returns the value as written on-chain: the zero address when unset.
func (t Target) Raw() common.Address {
	if !t.set {
		return common.Address{}
	}
	return t.addr
}

func (t Target) String() string {
	if !t.set {
		return "*"
	}
	return t.addr.Hex()
}
