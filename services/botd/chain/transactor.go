package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Transactor signs and broadcasts transactions on behalf of the operator.
type Transactor interface {
	From() common.Address
	Send(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error)
}

// KeyedTransactor signs with an in-memory secp256k1 key.
type KeyedTransactor struct {
	client  Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
}

// NewKeyedTransactor binds key to chainID.
func NewKeyedTransactor(client Client, key *ecdsa.PrivateKey, chainID *big.Int) (*KeyedTransactor, error) {
	if client == nil {
		return nil, fmt.Errorf("transactor: client required")
	}
	if key == nil {
		return nil, fmt.Errorf("transactor: signer key required")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("transactor: chain id required")
	}
	return &KeyedTransactor{
		client:  client,
		key:     key,
		from:    gethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
	}, nil
}

// From returns the operator address.
func (t *KeyedTransactor) From() common.Address { return t.from }

// Send prices the transaction with SuggestFees: dynamic-fee when the chain
// reports a base fee, legacy otherwise.
func (t *KeyedTransactor) Send(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	nonce, err := t.client.PendingNonceAt(ctx, t.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}
	fees, err := SuggestFees(ctx, t.client)
	if err != nil {
		return common.Hash{}, err
	}
	var tx *gethtypes.Transaction
	if fees.Dynamic() {
		tx = gethtypes.NewTx(&gethtypes.DynamicFeeTx{
			ChainID:   t.chainID,
			Nonce:     nonce,
			GasTipCap: fees.Tip,
			GasFeeCap: fees.FeeCap,
			Gas:       gasLimit,
			To:        &to,
			Data:      data,
		})
	} else {
		tx = gethtypes.NewTx(&gethtypes.LegacyTx{
			Nonce:    nonce,
			GasPrice: fees.FeeCap,
			Gas:      gasLimit,
			To:       &to,
			Data:     data,
		})
	}
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(t.chainID), t.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := t.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}
	return signed.Hash(), nil
}
