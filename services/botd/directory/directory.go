package directory

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Role selects which side of a stream the queried owner sits on.
type Role string

const (
	RolePayer Role = "payer"
	RolePayee Role = "payee"
)

// Stream is an active, unpaused payment stream.
type Stream struct {
	Contract     common.Address
	Payer        common.Address
	Payee        common.Address
	Token        common.Address
	AmountPerSec *big.Int
}

// Directory lists the live streams an owner participates in.
type Directory interface {
	ActiveStreams(ctx context.Context, owner common.Address, role Role) ([]Stream, error)
}

// Func adapts a callback to the Directory interface.
type Func func(ctx context.Context, owner common.Address, role Role) ([]Stream, error)

// ActiveStreams delegates to the callback.
func (f Func) ActiveStreams(ctx context.Context, owner common.Address, role Role) ([]Stream, error) {
	if f == nil {
		return nil, fmt.Errorf("directory: not configured")
	}
	return f(ctx, owner, role)
}
