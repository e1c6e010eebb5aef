package ckb

import (
	"errors"
	"fmt"
	"sort"

	"github.com/nervosnetwork/ckb-sdk-go/v2/crypto/blake2b"
	"github.com/nervosnetwork/ckb-sdk-go/v2/types"
)

// CKB commits transactions with a complete binary merkle tree (CBMT): a
// full tree over 2n-1 nodes where the n leaves occupy indices n-1..2n-2
// and every parent is blake2b-256(left || right).

func merge(left, right types.Hash) types.Hash {
	data := make([]byte, 0, 64)
	data = append(data, left.Bytes()...)
	data = append(data, right.Bytes()...)
	return types.BytesToHash(blake2b.Blake256(data))
}

// MerkleRoot computes the CBMT root of a leaf list. An empty list has the
// zero root, matching the on-chain convention.
func MerkleRoot(leaves []types.Hash) types.Hash {
	n := len(leaves)
	if n == 0 {
		return types.Hash{}
	}
	nodes := make([]types.Hash, 2*n-1)
	copy(nodes[n-1:], leaves)
	for i := n - 2; i >= 0; i-- {
		nodes[i] = merge(nodes[2*i+1], nodes[2*i+2])
	}
	return nodes[0]
}

// MerkleProof is a CBMT inclusion proof: the tree indices of the proven
// leaves and the sibling hashes needed to climb to the root.
type MerkleProof struct {
	Indices []uint32
	Lemmas  []types.Hash
}

type indexedLeaf struct {
	index uint32
	hash  types.Hash
}

// Root resolves the proof against the given leaves and returns the
// computed root. Leaves must be in the same order as the proof indices.
func (p *MerkleProof) Root(leaves []types.Hash) (types.Hash, error) {
	if len(leaves) == 0 {
		return types.Hash{}, errors.New("merkle proof needs at least one leaf")
	}
	if len(leaves) != len(p.Indices) {
		return types.Hash{}, fmt.Errorf("merkle proof has %d indices for %d leaves", len(p.Indices), len(leaves))
	}

	queue := make([]indexedLeaf, 0, len(leaves))
	for i, leaf := range leaves {
		queue = append(queue, indexedLeaf{index: p.Indices[i], hash: leaf})
	}
	// Deepest nodes first so siblings meet before their parent is needed.
	sort.Slice(queue, func(i, j int) bool { return queue[i].index > queue[j].index })

	lemmas := p.Lemmas
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		if node.index == 0 {
			if len(queue) > 0 || len(lemmas) > 0 {
				return types.Hash{}, errors.New("malformed merkle proof")
			}
			return node.hash, nil
		}

		sibling := ((node.index + 1) ^ 1) - 1
		var siblingHash types.Hash
		if len(queue) > 0 && queue[0].index == sibling {
			siblingHash = queue[0].hash
			queue = queue[1:]
		} else {
			if len(lemmas) == 0 {
				return types.Hash{}, errors.New("merkle proof ran out of lemmas")
			}
			siblingHash = lemmas[0]
			lemmas = lemmas[1:]
		}

		var parentHash types.Hash
		if node.index < sibling {
			parentHash = merge(node.hash, siblingHash)
		} else {
			parentHash = merge(siblingHash, node.hash)
		}
		queue = append(queue, indexedLeaf{index: (node.index - 1) >> 1, hash: parentHash})
		// Keep the queue ordered by depth.
		sort.Slice(queue, func(i, j int) bool { return queue[i].index > queue[j].index })
	}
	return types.Hash{}, errors.New("merkle proof resolved no root")
}

// Verify resolves the proof and compares against an expected root.
func (p *MerkleProof) Verify(root types.Hash, leaves []types.Hash) error {
	computed, err := p.Root(leaves)
	if err != nil {
		return err
	}
	if computed != root {
		return fmt.Errorf("merkle root mismatch: computed %s, expected %s", computed, root)
	}
	return nil
}

// BuildProof constructs the inclusion proof for the leaves at the given
// leaf positions. Used in tests and by light client tooling; on-chain
// proofs normally come from the node.
func BuildProof(leaves []types.Hash, positions []uint32) (*MerkleProof, error) {
	n := uint32(len(leaves))
	if n == 0 || len(positions) == 0 {
		return nil, errors.New("cannot prove an empty leaf set")
	}

	nodes := make([]types.Hash, 2*n-1)
	copy(nodes[n-1:], leaves)
	for i := int(n) - 2; i >= 0; i-- {
		nodes[i] = merge(nodes[2*i+1], nodes[2*i+2])
	}

	indices := make([]uint32, 0, len(positions))
	for _, pos := range positions {
		if pos >= n {
			return nil, fmt.Errorf("leaf position %d out of range (%d leaves)", pos, n)
		}
		indices = append(indices, n - 1 + pos)
	}

	pending := append([]uint32(nil), indices...)
	sort.Slice(pending, func(i, j int) bool { return pending[i] > pending[j] })

	var lemmas []types.Hash
	for len(pending) > 0 && pending[0] != 0 {
		node := pending[0]
		pending = pending[1:]

		sibling := ((node + 1) ^ 1) - 1
		if len(pending) > 0 && pending[0] == sibling {
			pending = pending[1:]
		} else {
			lemmas = append(lemmas, nodes[sibling])
		}
		pending = append(pending, (node-1)>>1)
		sort.Slice(pending, func(i, j int) bool { return pending[i] > pending[j] })
		// Drop duplicate parents.
		deduped := pending[:0]
		for i, idx := range pending {
			if i == 0 || idx != pending[i-1] {
				deduped = append(deduped, idx)
			}
		}
		pending = deduped
	}

	return &MerkleProof{Indices: indices, Lemmas: lemmas}, nil
}

// CombinedTransactionsRoot folds the raw-transactions root and the
// witnesses root into the transactions_root committed by a CKB header.
func CombinedTransactionsRoot(rawTransactionsRoot, witnessesRoot types.Hash) types.Hash {
	return MerkleRoot([]types.Hash{rawTransactionsRoot, witnessesRoot})
}
