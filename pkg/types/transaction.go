package types

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// Transaction type discriminants
const (
	LegacyTxType     UInt64 = 0
	AccessListTxType UInt64 = 1
	DynamicFeeTxType UInt64 = 2
)

// ErrMissingFeeField is returned when a transaction lacks the fee fields its type requires.
var ErrMissingFeeField = errors.New("transaction is missing a fee field for its type")

// AccessTuple is one EIP-2930 access list entry.
type AccessTuple struct {
	Address     Hash160   `json:"address"`
	StorageKeys []Hash256 `json:"storageKeys"`
}

// AccessList is an EIP-2930 access list.
type AccessList []AccessTuple

// Transaction is a transaction object from a full block.
type Transaction struct {
	Hash                 Hash256    `json:"hash"`
	Type                 UInt64     `json:"type"`
	Nonce                UInt64     `json:"nonce"`
	BlockHash            *Hash256   `json:"blockHash"`
	BlockNumber          *UInt64    `json:"blockNumber"`
	TransactionIndex     *UInt64    `json:"transactionIndex"`
	From                 Hash160    `json:"from"`
	To                   *Hash160   `json:"to"`
	Value                UInt256    `json:"value"`
	Gas                  UInt64     `json:"gas"`
	GasPrice             *UInt256   `json:"gasPrice,omitempty"`
	MaxFeePerGas         *UInt256   `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *UInt256   `json:"maxPriorityFeePerGas,omitempty"`
	Input                Bytes      `json:"input"`
	ChainID              *UInt256   `json:"chainId,omitempty"`
	AccessList           AccessList `json:"accessList,omitempty"`
	V                    UInt256    `json:"v"`
	R                    UInt256    `json:"r"`
	S                    UInt256    `json:"s"`
}

// IsContractCreation reports whether tx has no recipient.
func (tx *Transaction) IsContractCreation() bool {
	return tx.To == nil
}

func (tx *Transaction) recipient() []byte {
	if tx.To == nil {
		return nil
	}
	return tx.To[:]
}

func (tx *Transaction) accessList() AccessList {
	if tx.AccessList == nil {
		return AccessList{}
	}
	return tx.AccessList
}

// WireEncoding returns the signed canonical encoding, v, r and s included:
// the RLP list for legacy transactions, or the type byte followed by the RLP
// list for typed transactions.
func (tx *Transaction) WireEncoding() ([]byte, error) {
	var chainID UInt256
	if tx.ChainID != nil {
		chainID = *tx.ChainID
	}

	switch tx.Type {
	case LegacyTxType:
		if tx.GasPrice == nil {
			return nil, fmt.Errorf("legacy gas price: %w", ErrMissingFeeField)
		}
		return EncodeRLPBytes([]interface{}{
			tx.Nonce, *tx.GasPrice, tx.Gas, tx.recipient(), tx.Value, []byte(tx.Input), tx.V, tx.R, tx.S,
		})

	case AccessListTxType:
		if tx.GasPrice == nil {
			return nil, fmt.Errorf("access list gas price: %w", ErrMissingFeeField)
		}
		body, err := EncodeRLPBytes([]interface{}{
			chainID, tx.Nonce, *tx.GasPrice, tx.Gas, tx.recipient(), tx.Value, []byte(tx.Input),
			tx.accessList(), tx.V, tx.R, tx.S,
		})
		if err != nil {
			return nil, err
		}
		return append([]byte{byte(AccessListTxType)}, body...), nil

	case DynamicFeeTxType:
		if tx.MaxFeePerGas == nil || tx.MaxPriorityFeePerGas == nil {
			return nil, fmt.Errorf("dynamic fee caps: %w", ErrMissingFeeField)
		}
		body, err := EncodeRLPBytes([]interface{}{
			chainID, tx.Nonce, *tx.MaxPriorityFeePerGas, *tx.MaxFeePerGas, tx.Gas, tx.recipient(),
			tx.Value, []byte(tx.Input), tx.accessList(), tx.V, tx.R, tx.S,
		})
		if err != nil {
			return nil, err
		}
		return append([]byte{byte(DynamicFeeTxType)}, body...), nil

	default:
		return nil, NewCodecError("transaction wire encoding", fmt.Errorf("unsupported transaction type %d", tx.Type))
	}
}

// ComputeHash returns keccak256 of the canonical wire encoding.
func (tx *Transaction) ComputeHash() (Hash256, error) {
	payload, err := tx.WireEncoding()
	if err != nil {
		return Hash256{}, err
	}
	return Keccak256Hash(payload), nil
}

// VerifyHash reports whether the advertised hash matches the computed one.
func (tx *Transaction) VerifyHash() error {
	h, err := tx.ComputeHash()
	if err != nil {
		return err
	}
	if h != tx.Hash {
		return NewCodecError("verify transaction hash", fmt.Errorf("advertised %s, computed %s", tx.Hash, h))
	}
	return nil
}

// RawTransaction decodes a signed legacy transaction's RLP list far enough
// to check its shape; typed payloads are returned unchanged.
func RawTransaction(raw Bytes) (Bytes, error) {
	if len(raw) == 0 {
		return nil, NewCodecError("raw transaction", ErrInvalidLength)
	}
	if raw[0] >= 0xc0 {
		if _, _, err := rlp.SplitList(raw); err != nil {
			return nil, NewCodecError("raw transaction", err)
		}
	}
	return raw.Clone(), nil
}

// Log is an event log emitted during transaction execution.
type Log struct {
	Address          Hash160   `json:"address"`
	Topics           []Hash256 `json:"topics"`
	Data             Bytes     `json:"data"`
	BlockNumber      UInt64    `json:"blockNumber"`
	TransactionHash  Hash256   `json:"transactionHash"`
	TransactionIndex UInt64    `json:"transactionIndex"`
	BlockHash        Hash256   `json:"blockHash"`
	LogIndex         UInt64    `json:"logIndex"`
	Removed          bool      `json:"removed"`
}

// Receipt is the execution outcome of a mined transaction.
type Receipt struct {
	TransactionHash   Hash256  `json:"transactionHash"`
	TransactionIndex  UInt64   `json:"transactionIndex"`
	BlockHash         Hash256  `json:"blockHash"`
	BlockNumber       UInt64   `json:"blockNumber"`
	From              Hash160  `json:"from"`
	To                *Hash160 `json:"to"`
	CumulativeGasUsed UInt64   `json:"cumulativeGasUsed"`
	GasUsed           UInt64   `json:"gasUsed"`
	EffectiveGasPrice *UInt256 `json:"effectiveGasPrice,omitempty"`
	ContractAddress   *Hash160 `json:"contractAddress"`
	Logs              []*Log   `json:"logs"`
	LogsBloom         Bytes    `json:"logsBloom"`
	Status            *UInt64  `json:"status,omitempty"`
	Root              *Hash256 `json:"root,omitempty"`
	Type              UInt64   `json:"type"`
}

// Succeeded reports whether the receipt carries status 1.
func (r *Receipt) Succeeded() bool {
	return r.Status != nil && *r.Status == 1
}
