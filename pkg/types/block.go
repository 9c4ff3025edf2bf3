package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/rlp"
)

// Block is an Ethereum block as returned by eth_getBlockByNumber.
// Transactions is set when the block was fetched with full transactions;
// TransactionHashes is always populated.
type Block struct {
	Number           UInt64   `json:"number"`
	Hash             Hash256  `json:"hash"`
	ParentHash       Hash256  `json:"parentHash"`
	Nonce            Hash64   `json:"nonce"`
	Miner            Hash160  `json:"miner"`
	StateRoot        Hash256  `json:"stateRoot"`
	TransactionsRoot Hash256  `json:"transactionsRoot"`
	ReceiptsRoot     Hash256  `json:"receiptsRoot"`
	LogsBloom        Bytes    `json:"logsBloom"`
	Difficulty       *UInt256 `json:"difficulty,omitempty"`
	ExtraData        Bytes    `json:"extraData"`
	GasLimit         UInt64   `json:"gasLimit"`
	GasUsed          UInt64   `json:"gasUsed"`
	Timestamp        UInt64   `json:"timestamp"`
	BaseFeePerGas    *UInt256 `json:"baseFeePerGas,omitempty"`

	Transactions      []*Transaction `json:"-"`
	TransactionHashes []Hash256      `json:"-"`
}

type blockAlias Block

type blockJSON struct {
	*blockAlias
	Transactions []json.RawMessage `json:"transactions"`
}

// UnmarshalJSON accepts both full-transaction and hash-only blocks.
func (b *Block) UnmarshalJSON(data []byte) error {
	aux := blockJSON{blockAlias: (*blockAlias)(b)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	b.Transactions = nil
	b.TransactionHashes = make([]Hash256, 0, len(aux.Transactions))
	for i, raw := range aux.Transactions {
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '"' {
			var h Hash256
			if err := json.Unmarshal(raw, &h); err != nil {
				return fmt.Errorf("transaction %d: %w", i, err)
			}
			b.TransactionHashes = append(b.TransactionHashes, h)
			continue
		}

		tx := new(Transaction)
		if err := json.Unmarshal(raw, tx); err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}
		b.Transactions = append(b.Transactions, tx)
		b.TransactionHashes = append(b.TransactionHashes, tx.Hash)
	}
	return nil
}

// MarshalJSON emits full transactions when present, hashes otherwise.
func (b Block) MarshalJSON() ([]byte, error) {
	aux := blockJSON{blockAlias: (*blockAlias)(&b)}
	if b.Transactions != nil {
		aux.Transactions = make([]json.RawMessage, 0, len(b.Transactions))
		for _, tx := range b.Transactions {
			raw, err := json.Marshal(tx)
			if err != nil {
				return nil, err
			}
			aux.Transactions = append(aux.Transactions, raw)
		}
	} else {
		aux.Transactions = make([]json.RawMessage, 0, len(b.TransactionHashes))
		for _, h := range b.TransactionHashes {
			raw, err := json.Marshal(h)
			if err != nil {
				return nil, err
			}
			aux.Transactions = append(aux.Transactions, raw)
		}
	}
	return json.Marshal(aux)
}

// IsFull reports whether full transaction objects are attached.
func (b *Block) IsFull() bool {
	return b.Transactions != nil || len(b.TransactionHashes) == 0
}

// Summary returns a copy of b without full transaction objects.
func (b *Block) Summary() *Block {
	cp := *b
	cp.Transactions = nil
	cp.TransactionHashes = append([]Hash256(nil), b.TransactionHashes...)
	return &cp
}

// blockRLP is the RLP layout served by the read API.
type blockRLP struct {
	Number            UInt64
	Hash              Hash256
	ParentHash        Hash256
	Timestamp         UInt64
	StateRoot         Hash256
	TransactionsRoot  Hash256
	ReceiptsRoot      Hash256
	Miner             Hash160
	GasLimit          UInt64
	GasUsed           UInt64
	TransactionHashes []Hash256
	BaseFeePerGas     *UInt256 `rlp:"optional"`
}

// EncodeRLP writes the block summary as an RLP list.
func (b *Block) EncodeRLP(w io.Writer) error {
	hashes := b.TransactionHashes
	if hashes == nil {
		hashes = []Hash256{}
	}
	return rlp.Encode(w, &blockRLP{
		Number:            b.Number,
		Hash:              b.Hash,
		ParentHash:        b.ParentHash,
		Timestamp:         b.Timestamp,
		StateRoot:         b.StateRoot,
		TransactionsRoot:  b.TransactionsRoot,
		ReceiptsRoot:      b.ReceiptsRoot,
		Miner:             b.Miner,
		GasLimit:          b.GasLimit,
		GasUsed:           b.GasUsed,
		TransactionHashes: hashes,
		BaseFeePerGas:     b.BaseFeePerGas,
	})
}

// DecodeRLP reads a block summary written by EncodeRLP.
func (b *Block) DecodeRLP(s *rlp.Stream) error {
	var enc blockRLP
	if err := s.Decode(&enc); err != nil {
		if IsCodecError(err) {
			return err
		}
		return decodeErr("decode rlp block", err)
	}
	*b = Block{
		Number:            enc.Number,
		Hash:              enc.Hash,
		ParentHash:        enc.ParentHash,
		Timestamp:         enc.Timestamp,
		StateRoot:         enc.StateRoot,
		TransactionsRoot:  enc.TransactionsRoot,
		ReceiptsRoot:      enc.ReceiptsRoot,
		Miner:             enc.Miner,
		GasLimit:          enc.GasLimit,
		GasUsed:           enc.GasUsed,
		TransactionHashes: enc.TransactionHashes,
		BaseFeePerGas:     enc.BaseFeePerGas,
	}
	return nil
}

// BlockIndexEntrySize is the encoded width of a BlockIndexEntry.
const BlockIndexEntrySize = 8 + Hash256Length + Hash256Length + 8 + 8

var blockIndexSchema = MustFixedSchema(
	FieldOf("number", new(UInt64)),
	FieldOf("hash", new(Hash256)),
	FieldOf("parent_hash", new(Hash256)),
	FieldOf("timestamp", new(UInt64)),
	FieldOf("tx_count", new(UInt64)),
)

// BlockIndexEntry is the compact fixed-width record key-value backends keep
// per block for range scans and parent-hash checks.
type BlockIndexEntry struct {
	Number     UInt64
	Hash       Hash256
	ParentHash Hash256
	Timestamp  UInt64
	TxCount    UInt64
}

// IndexEntry returns the index record for b.
func (b *Block) IndexEntry() BlockIndexEntry {
	return BlockIndexEntry{
		Number:     b.Number,
		Hash:       b.Hash,
		ParentHash: b.ParentHash,
		Timestamp:  b.Timestamp,
		TxCount:    UInt64(len(b.TransactionHashes)),
	}
}

func (e *BlockIndexEntry) MarshalBinary() ([]byte, error) {
	return blockIndexSchema.Encode(&e.Number, &e.Hash, &e.ParentHash, &e.Timestamp, &e.TxCount)
}

func (e *BlockIndexEntry) UnmarshalBinary(data []byte) error {
	return blockIndexSchema.Decode(data, &e.Number, &e.Hash, &e.ParentHash, &e.Timestamp, &e.TxCount)
}
