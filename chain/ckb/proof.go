package ckb

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/nervosnetwork/ckb-sdk-go/v2/crypto/blake2b"
	"github.com/nervosnetwork/ckb-sdk-go/v2/types"
)

// TxProof proves one transaction into a CKB header. The raw-transaction
// branch is carried as a CBMT proof; the witnesses root is carried whole
// because the witness side holds the IBC object preimages and the
// verifier recombines both into the header's transactions_root.
type TxProof struct {
	Indices       []uint32
	Lemmas        []types.Hash
	WitnessesRoot types.Hash
}

// ObjectProof is the proof payload shipped to the counterparty light
// client: the full transaction, the block that committed it and the
// inclusion proof into that block's header.
type ObjectProof struct {
	Transaction []byte // JSON encoding of the CKB transaction
	BlockHash   types.Hash
	Proof       TxProof
}

func witnessHash(tx *types.Transaction) types.Hash {
	return types.BytesToHash(blake2b.Blake256(tx.Serialize()))
}

// BuildTransactionProof proves the given transaction into its block's
// transactions_root. The recombined root is checked against the header
// before the proof is returned.
func BuildTransactionProof(block *types.Block, txHash types.Hash) (*TxProof, error) {
	index := -1
	rawLeaves := make([]types.Hash, len(block.Transactions))
	witnessLeaves := make([]types.Hash, len(block.Transactions))
	for i, tx := range block.Transactions {
		if tx.Hash == (types.Hash{}) {
			return nil, fmt.Errorf("block %d transaction %d has no hash", block.Header.Number, i)
		}
		rawLeaves[i] = tx.Hash
		witnessLeaves[i] = witnessHash(tx)
		if tx.Hash == txHash {
			index = i
		}
	}
	if index < 0 {
		return nil, fmt.Errorf("transaction %s not in block %d", txHash, block.Header.Number)
	}

	proof, err := BuildProof(rawLeaves, []uint32{uint32(index)})
	if err != nil {
		return nil, err
	}
	witnessesRoot := MerkleRoot(witnessLeaves)

	combined := CombinedTransactionsRoot(MerkleRoot(rawLeaves), witnessesRoot)
	if combined != block.Header.TransactionsRoot {
		return nil, fmt.Errorf("recombined transactions root %s does not match header %s", combined, block.Header.TransactionsRoot)
	}

	return &TxProof{
		Indices:       proof.Indices,
		Lemmas:        proof.Lemmas,
		WitnessesRoot: witnessesRoot,
	}, nil
}

// VerifyTransactionProof resolves a proof against a header.
func VerifyTransactionProof(header *types.Header, proof *TxProof, txHashes []types.Hash) error {
	merkle := &MerkleProof{Indices: proof.Indices, Lemmas: proof.Lemmas}
	rawRoot, err := merkle.Root(txHashes)
	if err != nil {
		return err
	}
	combined := CombinedTransactionsRoot(rawRoot, proof.WitnessesRoot)
	if combined != header.TransactionsRoot {
		return fmt.Errorf("transactions root mismatch: computed %s, header %s", combined, header.TransactionsRoot)
	}
	return nil
}

// AssembleObjectProof encodes the proof payload for SendMessages on the
// counterparty chain.
func AssembleObjectProof(tx *types.Transaction, blockHash types.Hash, proof *TxProof) ([]byte, error) {
	rawTx, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	return rlp.EncodeToBytes(ObjectProof{
		Transaction: rawTx,
		BlockHash:   blockHash,
		Proof:       *proof,
	})
}
