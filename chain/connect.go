// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package chain

import (
	"github.com/dblokhin/chainkeeper/consensus"
	"github.com/sirupsen/logrus"
)

// connect dispatches to a straight extension of the current head (Case
// A) or to side-chain/fork handling (Case B), depending on whether prev
// is the current head.
func (e *Engine) connect(prev, head *StoredBlock, header consensus.BlockHeader, full *consensus.Block, filteredHashes map[consensus.Hash]struct{}, filteredTxs []consensus.Transaction) (bool, error) {
	if prev.Hash() == head.Hash() {
		return e.connectExtend(prev, header, full, filteredHashes, filteredTxs)
	}
	return e.connectFork(prev, head, header, full, filteredHashes, filteredTxs)
}

// connectExtend is Case A: prev is the current head, so the new block
// becomes the new tip in place.
func (e *Engine) connectExtend(prev *StoredBlock, header consensus.BlockHeader, full *consensus.Block, filteredHashes map[consensus.Hash]struct{}, filteredTxs []consensus.Transaction) (bool, error) {
	height := prev.Height + 1
	hash := header.Hash()

	if !e.params.PassesCheckpoint(height, hash) {
		return false, newErr(ErrCheckpointMismatch, "block fails checkpoint", nil)
	}

	fullMode := e.hooks.ShouldVerifyTransactions()

	if fullMode {
		for _, tx := range full.Transactions {
			if !tx.IsFinal(height, header.Timestamp) {
				return false, newErr(ErrNonFinalTransaction, "transaction not final", nil)
			}
		}

		median := medianTimestamp(e.store, prev)
		if !header.Timestamp.After(median) {
			return false, newErr(ErrTimestampTooEarly, "timestamp not after median of last 11 blocks", nil)
		}
	}

	var changes *TxOutputChanges
	if fullMode {
		var err error
		changes, err = e.utxo.ConnectTransactionsAtHeight(height, full)
		if err != nil {
			e.hooks.NotSettingChainHead()
			return false, newErr(ErrStoreUnavailable, "connect transactions", err)
		}
	}

	sb, err := e.hooks.AddToStore(prev, header, changes)
	if err != nil {
		e.hooks.NotSettingChainHead()
		return false, err
	}

	if err := e.hooks.DoSetChainHead(sb); err != nil {
		e.hooks.NotSettingChainHead()
		return false, err
	}

	e.setHead(sb)

	e.observers.deliverTransactions(sb, txsOf(full, filteredTxs), BestChain)
	e.observers.deliverHashOnly(sb, filteredHashes, BestChain)
	e.observers.notifyNewBestBlock(sb)

	return true, nil
}

// txsOf picks the transaction slice to deliver to observers: a full
// block's transactions, or the partial set carried by a filtered
// submission.
func txsOf(full *consensus.Block, filteredTxs []consensus.Transaction) []consensus.Transaction {
	if full != nil {
		return full.Transactions
	}
	return filteredTxs
}

// connectFork is Case B: prev isn't the current head, so the block joins
// a side branch. It's always stored and delivered to observers as
// SIDE_CHAIN first; only then, if that branch now has more cumulative
// work than head, a reorg follows and takes over notifying observers of
// the new best chain.
func (e *Engine) connectFork(prev, head *StoredBlock, header consensus.BlockHeader, full *consensus.Block, filteredHashes map[consensus.Hash]struct{}, filteredTxs []consensus.Transaction) (bool, error) {
	newBlock := Build(prev, header)
	haveNewBest := newBlock.MoreWorkThan(head)

	if !haveNewBest {
		split, err := e.findSplit(newBlock, head)
		if err != nil {
			return false, err
		}
		if split != nil && split.Hash() == newBlock.Hash() {
			logrus.WithField("hash", newBlock.Hash()).Debug("chain: duplicate block already on main chain")
			return true, nil
		}
		if split == nil {
			return false, newErr(ErrForkWithoutAncestor, "side branch shares no ancestor with head", nil)
		}
	}

	sb, err := e.hooks.AddToStore(prev, header, nil)
	if err != nil {
		return false, err
	}

	e.observers.deliverTransactions(sb, txsOf(full, filteredTxs), SideChain)
	e.observers.deliverHashOnly(sb, filteredHashes, SideChain)

	if !haveNewBest {
		return true, nil
	}

	if _, err := e.reorganize(prev, head, header, full); err != nil {
		return false, err
	}

	return true, nil
}
