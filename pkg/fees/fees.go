// Package fees implements EIP-1559 fee arithmetic over transactions.
package fees

import (
	"errors"
	"fmt"

	"github.com/0xmhha/evm-block-extractor/pkg/types"
)

// EIP-1559 parameters
const (
	// InitialBaseFee is the base fee of the first EIP-1559 block (1 gwei)
	InitialBaseFee = 1_000_000_000

	// ElasticityMultiplier bounds the gas limit relative to the gas target
	ElasticityMultiplier = 2

	// BaseFeeMaxChangeDenominator bounds the per-block base fee change to 1/8
	BaseFeeMaxChangeDenominator = 8
)

var (
	// ErrFeeBelowBaseFee is returned when a transaction's fee cap is lower than the block base fee
	ErrFeeBelowBaseFee = errors.New("fee cap below base fee")

	// ErrUnsupportedTxType is returned for transaction types without a fee rule
	ErrUnsupportedTxType = errors.New("unsupported transaction type")
)

func requireField(v *types.UInt256, name string) (types.UInt256, error) {
	if v == nil {
		return types.UInt256{}, fmt.Errorf("%s: %w", name, types.ErrMissingFeeField)
	}
	return *v, nil
}

// GasCost returns the most the sender pays per unit of gas: the gas price
// for legacy and access-list transactions, the max fee for EIP-1559 ones.
func GasCost(tx *types.Transaction) (types.UInt256, error) {
	switch tx.Type {
	case types.LegacyTxType, types.AccessListTxType:
		return requireField(tx.GasPrice, "gas price")
	case types.DynamicFeeTxType:
		return requireField(tx.MaxFeePerGas, "max fee per gas")
	default:
		return types.UInt256{}, fmt.Errorf("%w: %d", ErrUnsupportedTxType, tx.Type)
	}
}

// MaxPriorityFeeOrGasPrice returns the gas price for legacy and
// access-list transactions and the max priority fee for EIP-1559 ones.
func MaxPriorityFeeOrGasPrice(tx *types.Transaction) (types.UInt256, error) {
	switch tx.Type {
	case types.LegacyTxType, types.AccessListTxType:
		return requireField(tx.GasPrice, "gas price")
	case types.DynamicFeeTxType:
		return requireField(tx.MaxPriorityFeePerGas, "max priority fee per gas")
	default:
		return types.UInt256{}, fmt.Errorf("%w: %d", ErrUnsupportedTxType, tx.Type)
	}
}

// EffectiveGasTip returns the per-gas amount the block producer receives.
// Without a base fee it is MaxPriorityFeeOrGasPrice. With one, it is
// min(MaxPriorityFeeOrGasPrice, GasCost-baseFee); a GasCost below the base
// fee is reported as ErrFeeBelowBaseFee rather than saturated to zero.
func EffectiveGasTip(tx *types.Transaction, baseFee *types.UInt256) (types.UInt256, error) {
	priority, err := MaxPriorityFeeOrGasPrice(tx)
	if err != nil {
		return types.UInt256{}, err
	}
	if baseFee == nil {
		return priority, nil
	}

	cost, err := GasCost(tx)
	if err != nil {
		return types.UInt256{}, err
	}
	headroom, ok := cost.CheckedSub(*baseFee)
	if !ok {
		return types.UInt256{}, fmt.Errorf("%w: cost %s, base fee %s", ErrFeeBelowBaseFee, cost, baseFee)
	}
	return types.MinUInt256(priority, headroom), nil
}

// EffectiveGasPrice returns baseFee + EffectiveGasTip, the price actually
// charged per unit of gas.
func EffectiveGasPrice(tx *types.Transaction, baseFee *types.UInt256) (types.UInt256, error) {
	tip, err := EffectiveGasTip(tx, baseFee)
	if err != nil {
		return types.UInt256{}, err
	}
	if baseFee == nil {
		return tip, nil
	}
	price, ok := tip.CheckedAdd(*baseFee)
	if !ok {
		return types.UInt256{}, types.NewCodecError("effective gas price", types.ErrOverflow)
	}
	return price, nil
}

// NextBaseFee computes a child block's base fee from its parent's gas
// usage. A parent without a base fee yields InitialBaseFee.
func NextBaseFee(parentGasUsed, parentGasLimit uint64, parentBaseFee *types.UInt256) types.UInt256 {
	if parentBaseFee == nil {
		return types.NewUInt256(InitialBaseFee)
	}

	target := parentGasLimit / ElasticityMultiplier
	if target == 0 || parentGasUsed == target {
		return *parentBaseFee
	}

	base := parentBaseFee.Int()
	denom := types.NewUInt256(BaseFeeMaxChangeDenominator).Int()
	tgt := types.NewUInt256(target).Int()

	if parentGasUsed > target {
		delta := types.NewUInt256(parentGasUsed - target).Int()
		delta.Mul(delta, base)
		delta.Div(delta, tgt)
		delta.Div(delta, denom)
		if delta.IsZero() {
			delta.SetOne()
		}
		next, _ := types.UInt256FromBig(delta.Add(delta, base).ToBig())
		return next
	}

	delta := types.NewUInt256(target - parentGasUsed).Int()
	delta.Mul(delta, base)
	delta.Div(delta, tgt)
	delta.Div(delta, denom)
	if delta.Cmp(base) >= 0 {
		return types.ZeroUInt256()
	}
	next, _ := types.UInt256FromBig(base.Sub(base, delta).ToBig())
	return next
}
