// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package chain

import "github.com/dblokhin/chainkeeper/consensus"

// BlockStore is the persistence seam the engine depends on. It doesn't
// enforce consensus rules and doesn't know about the block tree's shape;
// it's a flat key/value map from header hash to StoredBlock plus a single
// mutable chain-head pointer. The engine wraps errors from GetChainHead,
// Put and SetChainHead as StoreUnavailable. An error from Get is not
// surfaced: the engine treats it as the hash being absent (an unknown
// parent queues the block as an orphan), so a failing Get is not told
// apart from a missing block.
type BlockStore interface {
	// Get returns the stored block for hash, or an error if it isn't
	// present.
	Get(hash consensus.Hash) (*StoredBlock, error)
	// Put durably persists sb, keyed by its header hash.
	Put(sb *StoredBlock) error
	// GetChainHead returns the current best-chain tip.
	GetChainHead() (*StoredBlock, error)
	// SetChainHead durably updates the best-chain tip.
	SetChainHead(sb *StoredBlock) error
}

// TxOutputChanges is the opaque result of connecting a block's
// transactions against the UTXO set: whatever the UtxoHook needs to
// later undo the connection during a reorg. The chain engine never looks
// inside it.
type TxOutputChanges struct {
	BlockHash consensus.Hash
	Payload   []byte
}

// UndoableStoredBlock augments a StoredBlock with the change set needed
// to unwind it, the shape full-validation mode keeps around so blocks on
// a chain that stops being best can be disconnected during a reorg.
type UndoableStoredBlock struct {
	StoredBlock
	Undo *TxOutputChanges
}

// UndoableBlockStore is the storage seam full-validation mode requires:
// everything BlockStore offers, plus the ability to fetch the undo log
// alongside a stored block.
type UndoableBlockStore interface {
	BlockStore
	// GetUndoable returns the stored block for hash together with the
	// TxOutputChanges recorded when it was connected.
	GetUndoable(hash consensus.Hash) (*UndoableStoredBlock, error)
	// PutUndoable persists sb together with its undo log.
	PutUndoable(sb *UndoableStoredBlock) error
}

// headerStoreAdapter exposes a BlockStore as a consensus.BlockHeaderStore,
// the narrower read seam the difficulty engine needs.
type headerStoreAdapter struct {
	store BlockStore
}

func (a headerStoreAdapter) HeaderByHash(hash consensus.Hash) (consensus.BlockHeader, bool) {
	sb, err := a.store.Get(hash)
	if err != nil {
		return consensus.BlockHeader{}, false
	}
	return sb.Header, true
}
