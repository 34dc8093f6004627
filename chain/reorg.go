// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package chain

import (
	"errors"

	"github.com/dblokhin/chainkeeper/consensus"
)

// ErrPrunedData is the sentinel a UtxoHook returns from
// ConnectTransactionsForStored/DisconnectTransactions when the undo data
// or original transaction contents it needs are no longer available. The
// engine surfaces it as a Pruned ChainError.
var ErrPrunedData = errors.New("chain: undo data unavailable")

// reorganize switches the active chain to the branch headed by the block
// built from (prev, header), which has strictly more cumulative work
// than head. It returns the new head's StoredBlock.
func (e *Engine) reorganize(prev, head *StoredBlock, header consensus.BlockHeader, full *consensus.Block) (*StoredBlock, error) {
	newBlock := Build(prev, header)

	split, err := e.findSplit(newBlock, head)
	if err != nil {
		return nil, err
	}
	if split == nil {
		return nil, newErr(ErrForkWithoutAncestor, "reorg target shares no ancestor with head", nil)
	}

	oldSegment, err := e.getPartialChain(head, split)
	if err != nil {
		return nil, err
	}

	// sideChain is top-down starting at the just-submitted tip itself
	// (newBlock), down to but not including split: [newBlock, ...,
	// child-of-split]. Anchoring on newBlock rather than prev keeps this
	// well-defined even for the minimal reorg shape where prev IS split.
	sideChain, err := e.getPartialChain(newBlock, split)
	if err != nil {
		return nil, err
	}

	fullMode := e.hooks.ShouldVerifyTransactions()

	var newHead *StoredBlock

	if fullMode {
		for _, old := range oldSegment {
			if err := e.utxo.DisconnectTransactions(old); err != nil {
				if errors.Is(err, ErrPrunedData) {
					return nil, newErr(ErrPruned, "disconnect transactions", err)
				}
				return nil, newErr(ErrStoreUnavailable, "disconnect transactions", err)
			}
		}

		running := split
		// sideChain[1:] are the already-stored blocks between split and
		// the tip's parent, top-down; walk them bottom-up. sideChain[0]
		// is the tip itself and is handled separately below.
		for i := len(sideChain) - 1; i >= 1; i-- {
			sb := sideChain[i]

			if err := e.checkExpensiveChecks(sb, running); err != nil {
				return nil, err
			}

			changes, err := e.utxo.ConnectTransactionsForStored(sb)
			if err != nil {
				if errors.Is(err, ErrPrunedData) {
					return nil, newErr(ErrPruned, "connect transactions for stored", err)
				}
				return nil, newErr(ErrStoreUnavailable, "connect transactions for stored", err)
			}

			running, err = e.hooks.AddToStore(running, sb.Header, changes)
			if err != nil {
				e.hooks.NotSettingChainHead()
				return nil, err
			}
		}

		if err := e.checkExpensiveChecks(&StoredBlock{Header: header}, running); err != nil {
			return nil, err
		}

		tipHeight := running.Height + 1
		var changes *TxOutputChanges
		if full != nil {
			changes, err = e.utxo.ConnectTransactionsAtHeight(tipHeight, full)
			if err != nil {
				e.hooks.NotSettingChainHead()
				return nil, newErr(ErrStoreUnavailable, "connect transactions at height", err)
			}
		}

		newHead, err = e.hooks.AddToStore(running, header, changes)
		if err != nil {
			e.hooks.NotSettingChainHead()
			return nil, err
		}
	} else {
		var err error
		newHead, err = e.hooks.AddToStore(prev, header, nil)
		if err != nil {
			return nil, err
		}
	}

	if err := e.hooks.DoSetChainHead(newHead); err != nil {
		e.hooks.NotSettingChainHead()
		return nil, err
	}

	// newSegment mirrors sideChain (tip-first, down to child-of-split)
	// with its first slot swapped for the now-persisted newHead in
	// place of the not-yet-stored newBlock.
	newSegment := append([]*StoredBlock{}, sideChain...)
	newSegment[0] = newHead

	e.observers.notifyReorganize(split, oldSegment, newSegment)
	e.setHead(newHead)

	return newHead, nil
}

func (e *Engine) checkExpensiveChecks(sb *StoredBlock, parent *StoredBlock) error {
	if !e.hooks.ShouldVerifyTransactions() {
		return nil
	}
	median := medianTimestamp(e.store, parent)
	if !sb.Header.Timestamp.After(median) {
		return newErr(ErrTimestampTooEarly, "timestamp not after median of last 11 blocks", nil)
	}
	return nil
}

// findSplit returns the common ancestor of a and b: two cursors, the
// higher advanced by one parent step until heights equal, then both
// advanced in lock-step until they match. Returns nil (not an error) if
// either cursor walks off the store without meeting.
func (e *Engine) findSplit(a, b *StoredBlock) (*StoredBlock, error) {
	var err error
	for a.Height > b.Height {
		a, err = a.Prev(e.store)
		if err != nil || a == nil {
			return nil, nil
		}
	}
	for b.Height > a.Height {
		b, err = b.Prev(e.store)
		if err != nil || b == nil {
			return nil, nil
		}
	}
	for a.Hash() != b.Hash() {
		a, err = a.Prev(e.store)
		if err != nil || a == nil {
			return nil, nil
		}
		b, err = b.Prev(e.store)
		if err != nil || b == nil {
			return nil, nil
		}
	}
	return a, nil
}

// getPartialChain walks parents of higher, appending each, until
// reaching lower (exclusive). The result is ordered top-down: higher
// first, the block just above lower last. A nil parent mid-walk is a
// fatal invariant violation.
func (e *Engine) getPartialChain(higher, lower *StoredBlock) ([]*StoredBlock, error) {
	if higher.Height <= lower.Height {
		return nil, newErr(ErrOrphanedSegment, "getPartialChain requires higher.Height > lower.Height", nil)
	}

	var segment []*StoredBlock
	cursor := higher
	for cursor.Hash() != lower.Hash() {
		segment = append(segment, cursor)
		next, err := cursor.Prev(e.store)
		if err != nil || next == nil {
			return nil, newErr(ErrOrphanedSegment, "partial chain walk ran off the store", err)
		}
		cursor = next
	}

	return segment, nil
}
