// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package chain

import "github.com/dblokhin/chainkeeper/consensus"

// orphanEntry holds a block whose parent isn't in the store yet. It
// carries either a full block (SubmitFull) or a filtered header plus the
// subset of transactions relevant to registered observers
// (SubmitFiltered); exactly one of the two shapes is populated.
type orphanEntry struct {
	header consensus.BlockHeader

	full *consensus.Block

	filteredTxHashes     map[consensus.Hash]struct{}
	filteredTransactions []consensus.Transaction
}

func (e *orphanEntry) prevHash() consensus.Hash {
	return e.header.PrevBlock
}

// OrphanPool holds blocks that arrived before their parent. Go has no
// builtin ordered map (the source this is grounded on used a
// LinkedHashMap), so a plain map is paired with a slice tracking
// insertion order; draining walks the slice so parents are reconnected
// before their children for any orphan chain that arrived in order.
type OrphanPool struct {
	entries map[consensus.Hash]*orphanEntry
	order   []consensus.Hash
}

// NewOrphanPool returns an empty orphan pool.
func NewOrphanPool() *OrphanPool {
	return &OrphanPool{
		entries: make(map[consensus.Hash]*orphanEntry),
	}
}

// AddFull inserts a full orphan block, keyed by its header hash.
func (p *OrphanPool) AddFull(block *consensus.Block) {
	hash := block.Hash()
	if _, exists := p.entries[hash]; exists {
		return
	}
	p.entries[hash] = &orphanEntry{header: block.Header, full: block}
	p.order = append(p.order, hash)
}

// AddFiltered inserts a header-only orphan plus the transactions
// relevant to registered observers.
func (p *OrphanPool) AddFiltered(header consensus.BlockHeader, txHashes map[consensus.Hash]struct{}, txs []consensus.Transaction) {
	hash := header.Hash()
	if _, exists := p.entries[hash]; exists {
		return
	}
	p.entries[hash] = &orphanEntry{
		header:               header,
		filteredTxHashes:     txHashes,
		filteredTransactions: txs,
	}
	p.order = append(p.order, hash)
}

// Has reports whether hash is already queued as an orphan.
func (p *OrphanPool) Has(hash consensus.Hash) bool {
	_, ok := p.entries[hash]
	return ok
}

// Len returns the number of queued orphans.
func (p *OrphanPool) Len() int {
	return len(p.entries)
}

func (p *OrphanPool) remove(hash consensus.Hash) {
	delete(p.entries, hash)
	for i, h := range p.order {
		if h == hash {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// drain repeatedly walks the pool in insertion order, handing each entry
// whose parent is now resolvable to connect, removing it on success.
// It stops when a full pass over the remaining entries connects nothing.
func (p *OrphanPool) drain(connect func(*orphanEntry) bool) {
	for {
		connectedAny := false

		for _, hash := range append([]consensus.Hash(nil), p.order...) {
			entry, ok := p.entries[hash]
			if !ok {
				continue
			}
			if connect(entry) {
				p.remove(hash)
				connectedAny = true
			}
		}

		if !connectedAny {
			return
		}
	}
}
