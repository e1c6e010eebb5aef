package ckb

import (
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/nervosnetwork/ckb-sdk-go/v2/types"
	"github.com/stretchr/testify/require"
)

// proofBlock builds a block of minimal transactions with a consistent
// transactions_root.
func proofBlock(t *testing.T, txCount int) *types.Block {
	t.Helper()

	txs := make([]*types.Transaction, txCount)
	rawLeaves := make([]types.Hash, txCount)
	witnessLeaves := make([]types.Hash, txCount)
	for i := range txs {
		txs[i] = &types.Transaction{
			Hash:      types.Hash{byte(i + 1)},
			Witnesses: [][]byte{{byte(i)}},
		}
		rawLeaves[i] = txs[i].Hash
		witnessLeaves[i] = witnessHash(txs[i])
	}

	return &types.Block{
		Header: &types.Header{
			Number:           77,
			TransactionsRoot: CombinedTransactionsRoot(MerkleRoot(rawLeaves), MerkleRoot(witnessLeaves)),
		},
		Transactions: txs,
	}
}

func TestBuildTransactionProofRoundtrip(t *testing.T) {
	t.Parallel()

	block := proofBlock(t, 5)
	target := block.Transactions[2]

	proof, err := BuildTransactionProof(block, target.Hash)
	require.NoError(t, err)

	require.NoError(t, VerifyTransactionProof(block.Header, proof, []types.Hash{target.Hash}))

	// A different transaction hash fails against the same proof.
	require.Error(t, VerifyTransactionProof(block.Header, proof, []types.Hash{{0xff}}))
}

func TestBuildTransactionProofUnknownTx(t *testing.T) {
	t.Parallel()

	block := proofBlock(t, 3)
	_, err := BuildTransactionProof(block, types.Hash{0xee})
	require.Error(t, err)
}

func TestBuildTransactionProofBadHeader(t *testing.T) {
	t.Parallel()

	block := proofBlock(t, 3)
	block.Header.TransactionsRoot = types.Hash{0xde, 0xad}

	_, err := BuildTransactionProof(block, block.Transactions[0].Hash)
	require.Error(t, err, "a header that does not commit to the transactions is rejected")
}

func TestAssembleObjectProofRoundtrip(t *testing.T) {
	t.Parallel()

	block := proofBlock(t, 2)
	target := block.Transactions[1]
	proof, err := BuildTransactionProof(block, target.Hash)
	require.NoError(t, err)

	blockHash := types.Hash{0xbb}
	object, err := AssembleObjectProof(target, blockHash, proof)
	require.NoError(t, err)

	var decoded ObjectProof
	require.NoError(t, rlp.DecodeBytes(object, &decoded))
	require.Equal(t, blockHash, decoded.BlockHash)
	require.Equal(t, proof.WitnessesRoot, decoded.Proof.WitnessesRoot)
	require.NotEmpty(t, decoded.Transaction)
}
