// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package chain

import (
	"sync"

	"github.com/dblokhin/chainkeeper/consensus"
)

// BlockType tells an observer which side of a fork a notified block sits
// on.
type BlockType int

const (
	// BestChain marks a notification for a block on the current best
	// chain.
	BestChain BlockType = iota
	// SideChain marks a notification for a block on a side branch that
	// hasn't (or hasn't yet) become best.
	SideChain
)

func (t BlockType) String() string {
	if t == SideChain {
		return "side-chain"
	}
	return "best-chain"
}

// Cloner is an optional capability a Transaction implementation may
// provide. When present, the engine uses it to hand each observer past
// the first its own copy of a relevant transaction, so one observer's
// mutation of a returned value can't alias another's. Transactions that
// don't implement it are delivered by reference to every observer.
type Cloner interface {
	Clone() consensus.Transaction
}

// Observer is the wallet-facing notification seam. Implementations may
// remove themselves from the registry from inside any of these
// callbacks; the registry tolerates that.
type Observer interface {
	// IsTransactionRelevant reports whether tx matters to this observer.
	IsTransactionRelevant(tx consensus.Transaction) bool

	// ReceiveFromBlock is called once per relevant transaction as a
	// block is connected to the chain, tagged with which side of a fork
	// it sits on.
	ReceiveFromBlock(tx consensus.Transaction, sb *StoredBlock, blockType BlockType)

	// NotifyTransactionInBlock is a hash-only counterpart to
	// ReceiveFromBlock, used both after it (for bookkeeping) and alone,
	// for filtered-submission hashes whose transaction contents never
	// arrived.
	NotifyTransactionInBlock(txHash consensus.Hash, sb *StoredBlock, blockType BlockType)

	// NotifyNewBestBlock is called once a block extends the best chain.
	NotifyNewBestBlock(sb *StoredBlock)

	// Reorganize is called once per reorganization, after the store's
	// chain head has moved to the new branch.
	Reorganize(split *StoredBlock, oldSegment, newSegment []*StoredBlock)
}

// ObserverRegistry holds a copy-on-write list of observers. Additions and
// removals copy the backing slice; every notification walk snapshots the
// current slice once and iterates that snapshot, so an observer removing
// itself mid-notification neither skips a sibling nor panics.
type ObserverRegistry struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewObserverRegistry returns an empty registry.
func NewObserverRegistry() *ObserverRegistry {
	return &ObserverRegistry{}
}

// Add registers an observer.
func (r *ObserverRegistry) Add(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]Observer, len(r.observers), len(r.observers)+1)
	copy(next, r.observers)
	r.observers = append(next, o)
}

// Remove unregisters an observer. It's safe to call from inside a
// notification callback.
func (r *ObserverRegistry) Remove(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]Observer, 0, len(r.observers))
	for _, existing := range r.observers {
		if existing != o {
			next = append(next, existing)
		}
	}
	r.observers = next
}

// Snapshot returns the current observer list. The returned slice must be
// treated as read-only and safe to iterate even if an observer removes
// itself from the registry mid-iteration.
func (r *ObserverRegistry) Snapshot() []Observer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.observers
}

// RelevantTransactions filters txs down to those at least one registered
// observer considers relevant, and the set of their hashes.
func (r *ObserverRegistry) RelevantTransactions(txs []consensus.Transaction) ([]consensus.Transaction, map[consensus.Hash]struct{}) {
	observers := r.Snapshot()

	var relevant []consensus.Transaction
	hashes := make(map[consensus.Hash]struct{})

	for _, tx := range txs {
		for _, o := range observers {
			if o.IsTransactionRelevant(tx) {
				relevant = append(relevant, tx)
				hashes[tx.Hash()] = struct{}{}
				break
			}
		}
	}

	return relevant, hashes
}

// deliverTransactions runs ReceiveFromBlock then NotifyTransactionInBlock
// for each relevant transaction, tagged blockType. Every observer past
// the first receives its own clone of a Cloner transaction, so a mutation
// by one can't alias another's copy.
func (r *ObserverRegistry) deliverTransactions(sb *StoredBlock, txs []consensus.Transaction, blockType BlockType) {
	observers := r.Snapshot()

	for _, tx := range txs {
		for i, o := range observers {
			if !o.IsTransactionRelevant(tx) {
				continue
			}
			delivered := tx
			if i > 0 {
				if cloner, ok := tx.(Cloner); ok {
					delivered = cloner.Clone()
				}
			}
			o.ReceiveFromBlock(delivered, sb, blockType)
			o.NotifyTransactionInBlock(delivered.Hash(), sb, blockType)
		}
	}
}

// deliverHashOnly runs NotifyTransactionInBlock for hashes whose
// transaction contents never arrived (the remainder of a filtered
// submission's tx_hashes set after relevant partial transactions were
// removed).
func (r *ObserverRegistry) deliverHashOnly(sb *StoredBlock, hashes map[consensus.Hash]struct{}, blockType BlockType) {
	if len(hashes) == 0 {
		return
	}
	observers := r.Snapshot()
	for hash := range hashes {
		for _, o := range observers {
			o.NotifyTransactionInBlock(hash, sb, blockType)
		}
	}
}

// notifyNewBestBlock runs NotifyNewBestBlock on every observer.
func (r *ObserverRegistry) notifyNewBestBlock(sb *StoredBlock) {
	for _, o := range r.Snapshot() {
		o.NotifyNewBestBlock(sb)
	}
}

// notifyReorganize runs Reorganize on every observer.
func (r *ObserverRegistry) notifyReorganize(split *StoredBlock, oldSegment, newSegment []*StoredBlock) {
	for _, o := range r.Snapshot() {
		o.Reorganize(split, oldSegment, newSegment)
	}
}
