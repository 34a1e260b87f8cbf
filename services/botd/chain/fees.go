package chain

import (
	"context"
	"fmt"
	"math/big"
)

// Fees is the per-gas pricing of one transaction. Tip is nil on chains
// without a base fee, where FeeCap is the legacy gas price.
type Fees struct {
	Tip    *big.Int
	FeeCap *big.Int
}

// Dynamic reports whether the fees describe an EIP-1559 transaction.
func (f Fees) Dynamic() bool { return f.Tip != nil }

// SuggestFees prices a transaction against the current head. FeeCap is the
// most the transaction can pay per gas: 2*baseFee + tip, or the suggested
// gas price when the head carries no base fee.
func SuggestFees(ctx context.Context, client Client) (Fees, error) {
	head, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return Fees{}, fmt.Errorf("fetch head: %w", err)
	}
	if head != nil && head.BaseFee != nil {
		tip, err := client.SuggestGasTipCap(ctx)
		if err != nil {
			return Fees{}, fmt.Errorf("suggest tip: %w", err)
		}
		feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
		feeCap.Add(feeCap, tip)
		return Fees{Tip: tip, FeeCap: feeCap}, nil
	}
	price, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return Fees{}, fmt.Errorf("suggest gas price: %w", err)
	}
	return Fees{FeeCap: price}, nil
}
