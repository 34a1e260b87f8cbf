package resolver

import (
	"github.com/ethereum/go-ethereum/common"

	"llamabot/services/botd/events"
)

// Call is one encoded scheduler instruction billed to Owner.
type Call struct {
	Owner  common.Address
	Key    events.Key
	Method string
	Data   []byte
	// Final is false for the per-stream calls of a wildcard expansion; the
	// closing call that settles the request is final.
	Final bool
}

// Plan groups the calls of a run by paying owner. Owners iterate in the
// order they first received a call; calls keep production order.
type Plan struct {
	owners []common.Address
	calls  map[common.Address][]Call
}

// NewPlan returns an empty plan.
func NewPlan() *Plan {
	return &Plan{calls: make(map[common.Address][]Call)}
}

// Add appends calls under their owners.
func (p *Plan) Add(calls ...Call) {
	for _, call := range calls {
		if _, ok := p.calls[call.Owner]; !ok {
			p.owners = append(p.owners, call.Owner)
		}
		p.calls[call.Owner] = append(p.calls[call.Owner], call)
	}
}

// Owners returns owners in insertion order.
func (p *Plan) Owners() []common.Address {
	if p == nil {
		return nil
	}
	out := make([]common.Address, len(p.owners))
	copy(out, p.owners)
	return out
}

// Calls returns the calls billed to owner.
func (p *Plan) Calls(owner common.Address) []Call {
	if p == nil {
		return nil
	}
	return p.calls[owner]
}

// CallData returns the raw payloads billed to owner.
func (p *Plan) CallData(owner common.Address) [][]byte {
	calls := p.Calls(owner)
	out := make([][]byte, 0, len(calls))
	for _, call := range calls {
		out = append(out, call.Data)
	}
	return out
}

// Len reports the number of owners.
func (p *Plan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.owners)
}

// CallCount reports the number of calls across owners.
func (p *Plan) CallCount() int {
	if p == nil {
		return 0
	}
	total := 0
	for _, calls := range p.calls {
		total += len(calls)
	}
	return total
}
