// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package chain

import (
	"fmt"
	"math/big"

	"github.com/dblokhin/chainkeeper/consensus"
)

// maxWork is 2^256, the numerator of the "work done by a block" formula:
// a block's contribution to cumulative work is inversely proportional to
// its target, so a smaller target (harder to satisfy) contributes more.
var maxWork = new(big.Int).Lsh(big.NewInt(1), 256)

// StoredBlock is a node of the block tree: a header plus the two derived
// fields the tree needs to pick a best chain, its height and its
// cumulative proof-of-work. It never carries transactions; those live
// only transiently in an in-flight consensus.Block or in the undo log a
// full-validation store keeps alongside it.
type StoredBlock struct {
	Header         consensus.BlockHeader
	Height         int64
	CumulativeWork *big.Int
}

// Build constructs the StoredBlock that follows prev, given header.
// header.PrevBlock is assumed to already equal prev.Header.Hash(); the
// caller (chain package's connect/fork logic) enforces that.
func Build(prev *StoredBlock, header consensus.BlockHeader) *StoredBlock {
	work := blockWork(header.Bits)
	total := new(big.Int).Add(prev.CumulativeWork, work)

	return &StoredBlock{
		Header:         header,
		Height:         prev.Height + 1,
		CumulativeWork: total,
	}
}

// BuildGenesis constructs the StoredBlock for a chain's genesis header,
// which has no predecessor to accumulate work from.
func BuildGenesis(header consensus.BlockHeader) *StoredBlock {
	return &StoredBlock{
		Header:         header,
		Height:         0,
		CumulativeWork: blockWork(header.Bits),
	}
}

func blockWork(bits uint32) *big.Int {
	target := consensus.CompactToBig(bits)
	if target.Sign() <= 0 {
		return big.NewInt(0)
	}
	denom := new(big.Int).Add(target, big.NewInt(1))
	return new(big.Int).Div(maxWork, denom)
}

// Hash returns the identifying hash of the stored header.
func (sb *StoredBlock) Hash() consensus.Hash {
	return sb.Header.Hash()
}

// Prev walks one link back in the block tree via store.
func (sb *StoredBlock) Prev(store BlockStore) (*StoredBlock, error) {
	if sb.Header.PrevBlock == consensus.ZeroHash {
		return nil, nil
	}
	return store.Get(sb.Header.PrevBlock)
}

// MoreWorkThan reports whether sb has strictly greater cumulative work
// than other, the sole criterion the engine uses to pick a best chain.
func (sb *StoredBlock) MoreWorkThan(other *StoredBlock) bool {
	return sb.CumulativeWork.Cmp(other.CumulativeWork) > 0
}

// String implements the String() interface.
func (sb StoredBlock) String() string {
	return fmt.Sprintf("StoredBlock{height=%d, hash=%s, work=%s}", sb.Height, sb.Header.Hash(), sb.CumulativeWork)
}
