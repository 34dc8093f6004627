// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package chain

import "github.com/dblokhin/chainkeeper/consensus"

// StoreHook is the dependency-injection seam that replaces an abstract
// base class's subclass hooks: it's how the engine's core connect/reorg
// logic stays identical between a lightweight header-only client and a
// full-validation node.
type StoreHook interface {
	// ShouldVerifyTransactions reports whether the engine must have a
	// full consensus.Block (rather than just a header) to connect it.
	ShouldVerifyTransactions() bool

	// AddToStore persists the block that follows prev and returns its
	// StoredBlock. changes is nil in header-only mode.
	AddToStore(prev *StoredBlock, header consensus.BlockHeader, changes *TxOutputChanges) (*StoredBlock, error)

	// DoSetChainHead durably moves the chain head to sb before the
	// in-memory pointer is flipped.
	DoSetChainHead(sb *StoredBlock) error

	// NotSettingChainHead rolls back any in-flight DB transaction opened
	// while attempting to set a new chain head, after a later
	// verification step failed.
	NotSettingChainHead() error

	// GetStoredBlockInScope returns the stored block for hash if it's
	// reachable in this hook's scope (full-validation mode may need the
	// undo log; header-only mode never does).
	GetStoredBlockInScope(hash consensus.Hash) (*StoredBlock, error)
}

// UtxoHook is the transaction-validation seam: connecting and
// disconnecting a block's transactions against whatever UTXO set the
// caller maintains. It's never invoked in header-only mode.
type UtxoHook interface {
	// ConnectTransactionsAtHeight validates and applies block's
	// transactions as if it were mined at height, returning the changes
	// needed to undo them later.
	ConnectTransactionsAtHeight(height int64, block *consensus.Block) (*TxOutputChanges, error)

	// ConnectTransactionsForStored re-applies a previously connected
	// stored block's transactions, used when reconnecting a block during
	// a reorg.
	ConnectTransactionsForStored(sb *StoredBlock) (*TxOutputChanges, error)

	// DisconnectTransactions undoes a stored block's transactions,
	// walking its recorded TxOutputChanges backward.
	DisconnectTransactions(sb *StoredBlock) error
}

// HeaderOnlyHooks is the SPV wiring: it never asks for a full block and
// never touches a UtxoHook, backed by a plain BlockStore.
type HeaderOnlyHooks struct {
	Store BlockStore
}

func (h *HeaderOnlyHooks) ShouldVerifyTransactions() bool { return false }

func (h *HeaderOnlyHooks) AddToStore(prev *StoredBlock, header consensus.BlockHeader, changes *TxOutputChanges) (*StoredBlock, error) {
	sb := Build(prev, header)
	if err := h.Store.Put(sb); err != nil {
		return nil, newErr(ErrStoreUnavailable, "put stored block", err)
	}
	return sb, nil
}

func (h *HeaderOnlyHooks) DoSetChainHead(sb *StoredBlock) error {
	if err := h.Store.SetChainHead(sb); err != nil {
		return newErr(ErrStoreUnavailable, "set chain head", err)
	}
	return nil
}

func (h *HeaderOnlyHooks) NotSettingChainHead() error { return nil }

func (h *HeaderOnlyHooks) GetStoredBlockInScope(hash consensus.Hash) (*StoredBlock, error) {
	sb, err := h.Store.Get(hash)
	if err != nil {
		return nil, newErr(ErrStoreUnavailable, "get stored block", err)
	}
	return sb, nil
}

// FullValidationHooks backs a node that verifies every transaction: it
// requires a full consensus.Block to connect anything. The UtxoHook that
// actually validates transaction contents is supplied separately, to
// NewEngine, not here; this hook only ever touches the store.
type FullValidationHooks struct {
	Store UndoableBlockStore
}

func (h *FullValidationHooks) ShouldVerifyTransactions() bool { return true }

func (h *FullValidationHooks) AddToStore(prev *StoredBlock, header consensus.BlockHeader, changes *TxOutputChanges) (*StoredBlock, error) {
	base := Build(prev, header)
	sb := &UndoableStoredBlock{StoredBlock: *base, Undo: changes}
	if err := h.Store.PutUndoable(sb); err != nil {
		return nil, newErr(ErrStoreUnavailable, "put undoable stored block", err)
	}
	return base, nil
}

func (h *FullValidationHooks) DoSetChainHead(sb *StoredBlock) error {
	if err := h.Store.SetChainHead(sb); err != nil {
		return newErr(ErrStoreUnavailable, "set chain head", err)
	}
	return nil
}

// NotSettingChainHead is a no-op for this store: SQLUndoStore has no
// transaction to roll back, since each Put/PutUndoable call already
// commits on its own.
func (h *FullValidationHooks) NotSettingChainHead() error {
	return nil
}

func (h *FullValidationHooks) GetStoredBlockInScope(hash consensus.Hash) (*StoredBlock, error) {
	sb, err := h.Store.GetUndoable(hash)
	if err != nil {
		return nil, newErr(ErrStoreUnavailable, "get undoable stored block", err)
	}
	return &sb.StoredBlock, nil
}
