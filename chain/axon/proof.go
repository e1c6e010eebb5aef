package axon

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
)

// objectProof is the serialized proof handed to counterparty light
// clients: the receipt of the transaction that wrote the IBC object, its
// MPT proof against the block's receipts root, the block itself, the
// state root of the previous block and the consensus proof of the block.
type objectProof struct {
	Receipt      []byte
	ReceiptProof [][]byte
	Block        Block
	StateRoot    common.Hash
	BlockProof   BlockProof
}

// proofList collects trie nodes emitted by Trie.Prove in order.
type proofList [][]byte

func (p *proofList) Put(_ []byte, value []byte) error {
	*p = append(*p, value)
	return nil
}

func (p *proofList) Delete([]byte) error {
	return errors.New("proof list is append-only")
}

// receiptTrie builds the receipts MPT of one block, keyed by the
// RLP-encoded transaction index.
func receiptTrie(receipts types.Receipts) (*trie.Trie, error) {
	tr := trie.NewEmpty(triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil))
	for i, receipt := range receipts {
		key, err := rlp.EncodeToBytes(uint64(i))
		if err != nil {
			return nil, err
		}
		value, err := receipt.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("encode receipt %d: %w", i, err)
		}
		if err := tr.Update(key, value); err != nil {
			return nil, fmt.Errorf("insert receipt %d: %w", i, err)
		}
	}
	return tr, nil
}

// ReceiptProof proves the receipt at index against the block's receipts
// root rebuilt from all receipts of the block.
func ReceiptProof(receipts types.Receipts, index uint64) ([][]byte, error) {
	if index >= uint64(len(receipts)) {
		return nil, fmt.Errorf("receipt index %d out of range (%d receipts)", index, len(receipts))
	}
	tr, err := receiptTrie(receipts)
	if err != nil {
		return nil, err
	}
	key, err := rlp.EncodeToBytes(index)
	if err != nil {
		return nil, err
	}
	var proof proofList
	if err := tr.Prove(key, &proof); err != nil {
		return nil, fmt.Errorf("prove receipt %d: %w", index, err)
	}
	return proof, nil
}

// VerifyReceiptProof resolves a receipt proof against a receipts root and
// returns the proven receipt encoding.
func VerifyReceiptProof(root common.Hash, index uint64, proof [][]byte) ([]byte, error) {
	db := memorydb.New()
	for _, node := range proof {
		if err := db.Put(crypto.Keccak256(node), node); err != nil {
			return nil, err
		}
	}
	key, err := rlp.EncodeToBytes(index)
	if err != nil {
		return nil, err
	}
	value, err := trie.VerifyProof(root, key, db)
	if err != nil {
		return nil, fmt.Errorf("verify receipt proof: %w", err)
	}
	if len(value) == 0 {
		return nil, fmt.Errorf("no receipt at index %d", index)
	}
	return value, nil
}

// assembleObjectProof serializes the full proof bundle.
func assembleObjectProof(receipt *types.Receipt, receiptProof [][]byte, block *Block, stateRoot common.Hash, blockProof *BlockProof) ([]byte, error) {
	encodedReceipt, err := receipt.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode receipt: %w", err)
	}
	return rlp.EncodeToBytes(objectProof{
		Receipt:      encodedReceipt,
		ReceiptProof: receiptProof,
		Block:        *block,
		StateRoot:    stateRoot,
		BlockProof:   *blockProof,
	})
}
