// utils/merkle.go
package utils

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrEmptyTree is returned when building a tree with zero leaves.
var ErrEmptyTree = errors.New("merkle: cannot build tree with zero leaves")

// ErrLeafNotFound is returned when proving a leaf that is not in the tree.
var ErrLeafNotFound = errors.New("merkle: leaf not found in tree")

// winnerTuple is the abi argument list for one winner leaf:
// (uint256 gameId, address player, uint256 amount). It must match the
// contract's claimPrize verification encoding byte for byte.
var winnerTuple abi.Arguments

func init() {
	uint256Ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(fmt.Sprintf("merkle: uint256 abi type: %v", err))
	}
	addressTy, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(fmt.Sprintf("merkle: address abi type: %v", err))
	}
	winnerTuple = abi.Arguments{
		{Type: uint256Ty},
		{Type: addressTy},
		{Type: uint256Ty},
	}
}

// WinnerLeaf computes the double-hashed leaf for one winner:
// keccak256(bytes.concat(keccak256(abi.encode(gameId, player, amount)))).
// The double hash is what the on-chain verifier expects; it is an
// interoperability requirement, not a style choice.
func WinnerLeaf(gameID *big.Int, player common.Address, amount *big.Int) (common.Hash, error) {
	encoded, err := winnerTuple.Pack(gameID, player, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("merkle: abi encode winner: %w", err)
	}
	inner := crypto.Keccak256Hash(encoded)
	return crypto.Keccak256Hash(inner.Bytes()), nil
}

// hashPair hashes two child nodes with the smaller hash first, so proof
// verification never needs to know left from right.
func hashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	combined := make([]byte, 64)
	copy(combined[:32], a[:])
	copy(combined[32:], b[:])
	return crypto.Keccak256Hash(combined)
}

// MerkleTree holds every layer of a built tree, leaves first.
// Layer construction duplicates the last node of an odd layer (always
// duplicate, never drop) to keep tree shape deterministic.
type MerkleTree struct {
	layers [][]common.Hash
}

// BuildMerkleTree builds a tree over the given leaves.
// The leaf layer is sorted into canonical order first: the committed set,
// not its iteration order, determines the pairing and therefore the root.
// Symmetric node hashing alone is not enough, a permuted input would pair
// different leaves together.
func BuildMerkleTree(leaves []common.Hash) (*MerkleTree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}

	first := make([]common.Hash, len(leaves))
	copy(first, leaves)
	sort.Slice(first, func(i, j int) bool {
		return bytes.Compare(first[i][:], first[j][:]) < 0
	})

	layers := [][]common.Hash{first}
	current := first

	for len(current) > 1 {
		if len(current)%2 != 0 {
			current = append(current, current[len(current)-1])
		}
		next := make([]common.Hash, len(current)/2)
		for i := 0; i < len(current); i += 2 {
			next[i/2] = hashPair(current[i], current[i+1])
		}
		layers = append(layers, next)
		current = next
	}

	return &MerkleTree{layers: layers}, nil
}

// Root returns the root hash of the tree.
func (t *MerkleTree) Root() common.Hash {
	top := t.layers[len(t.layers)-1]
	return top[0]
}

// LeafCount returns the number of leaves the tree was built from.
func (t *MerkleTree) LeafCount() int {
	return len(t.layers[0])
}

// IndexOf returns the index of the given leaf, or -1 if absent.
func (t *MerkleTree) IndexOf(leaf common.Hash) int {
	for i, l := range t.layers[0] {
		if l == leaf {
			return i
		}
	}
	return -1
}

// Proof returns the sibling-hash path for the leaf at index, bottom-up.
// Indexes refer to the canonical (sorted) leaf layer; callers holding a
// leaf hash should use ProveLeaf instead.
// When the sibling slot only exists because the layer was odd, the sibling
// is the node itself, mirroring the duplication done at build time.
func (t *MerkleTree) Proof(index int) ([]common.Hash, error) {
	if index < 0 || index >= len(t.layers[0]) {
		return nil, ErrLeafNotFound
	}

	var proof []common.Hash
	for _, layer := range t.layers[:len(t.layers)-1] {
		sibling := index ^ 1
		if sibling >= len(layer) {
			// Odd layer: the build duplicated this node, so it pairs with itself.
			sibling = index
		}
		proof = append(proof, layer[sibling])
		index /= 2
	}
	return proof, nil
}

// ProveLeaf locates the leaf and returns its proof.
func (t *MerkleTree) ProveLeaf(leaf common.Hash) ([]common.Hash, error) {
	idx := t.IndexOf(leaf)
	if idx < 0 {
		return nil, ErrLeafNotFound
	}
	return t.Proof(idx)
}

// VerifyMerkleProof folds the proof into the leaf with the same sorted-pair
// rule and compares against the expected root.
func VerifyMerkleProof(root, leaf common.Hash, proof []common.Hash) bool {
	computed := leaf
	for _, sibling := range proof {
		computed = hashPair(computed, sibling)
	}
	return computed == root
}
