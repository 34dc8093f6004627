// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package chain

import (
	"sync"
	"time"

	"github.com/dblokhin/chainkeeper/consensus"
	"github.com/sirupsen/logrus"
)

// medianTimestampWindow is how many ancestor timestamps the
// expensive-checks "timestamp too early" rule looks back over.
const medianTimestampWindow = 11

// Engine is the chain state machine: it ingests headers and blocks,
// links them into a tree rooted at genesis, tracks the best chain by
// cumulative work, and drives reorgs when a competing branch overtakes
// the tip. Two hook wirings (HeaderOnlyHooks, FullValidationHooks) let a
// lightweight client and a full-validation node share this same core.
type Engine struct {
	params *consensus.NetworkParameters
	store  BlockStore
	hooks  StoreHook
	utxo   UtxoHook

	observers *ObserverRegistry
	orphans   *OrphanPool

	// ingestLock serializes every mutating operation: ingestion, reorg,
	// orphan drain, difficulty checks. The public entry points take it
	// once; ingest assumes it's already held and is called directly
	// (without re-locking) during orphan-drain recursion, giving the
	// nested calls the re-entrancy they need without an actual
	// reentrant mutex.
	ingestLock sync.Mutex

	// headMu guards head independently of ingestLock so readers (best
	// height, best block) aren't blocked behind a long ingestion batch.
	headMu sync.RWMutex
	head   *StoredBlock

	statsMu      sync.Mutex
	statsTick    time.Time
	blocksInTick int
}

// NewEngine builds an Engine over an already-initialized store (the
// caller is responsible for seeding it with the genesis stored block
// before the first submission).
func NewEngine(params *consensus.NetworkParameters, store BlockStore, hooks StoreHook, utxo UtxoHook, observers *ObserverRegistry) (*Engine, error) {
	head, err := store.GetChainHead()
	if err != nil {
		return nil, newErr(ErrStoreUnavailable, "load chain head", err)
	}

	return &Engine{
		params:    params,
		store:     store,
		hooks:     hooks,
		utxo:      utxo,
		observers: observers,
		orphans:   NewOrphanPool(),
		head:      head,
	}, nil
}

// Head returns the current best-chain tip.
func (e *Engine) Head() *StoredBlock {
	e.headMu.RLock()
	defer e.headMu.RUnlock()
	return e.head
}

// BestHeight returns the height of the current best-chain tip.
func (e *Engine) BestHeight() int64 {
	return e.Head().Height
}

func (e *Engine) setHead(sb *StoredBlock) {
	e.headMu.Lock()
	e.head = sb
	e.headMu.Unlock()
}

// IsOrphan reports whether hash is currently queued in the orphan pool.
func (e *Engine) IsOrphan(hash consensus.Hash) bool {
	return e.orphans.Has(hash)
}

// GetOrphanRoot walks the orphan pool backward via parent-hash links from
// hash and returns the parent hash of the deepest orphan reached: the
// missing block that would need to arrive to resolve the whole chain. If
// hash isn't an orphan, it's returned unchanged.
func (e *Engine) GetOrphanRoot(hash consensus.Hash) consensus.Hash {
	root := hash
	for {
		entry, ok := e.orphans.entries[root]
		if !ok {
			return root
		}
		root = entry.prevHash()
	}
}

// EstimateBlockTime estimates the wall-clock time of height h given the
// current head, assuming a 10-minute spacing. This deliberately doesn't
// match the network's actual target spacing; it's carried over unchanged
// from the collaborator contract this engine replaces.
func (e *Engine) EstimateBlockTime(h int64) time.Time {
	head := e.Head()
	delta := 10 * 60 * (h - head.Height)
	return head.Header.Timestamp.Add(time.Duration(delta) * time.Second)
}

// SubmitFull accepts a block carrying full transactions.
func (e *Engine) SubmitFull(block *consensus.Block) (bool, error) {
	e.ingestLock.Lock()
	defer e.ingestLock.Unlock()

	return e.ingest(block.Header, block, nil, nil, true)
}

// SubmitFiltered accepts a header plus a subset of its transactions
// relevant to registered observers. txHashes is mutated: any hash whose
// transaction is present in txs is removed before processing.
func (e *Engine) SubmitFiltered(header consensus.BlockHeader, txHashes map[consensus.Hash]struct{}, txs []consensus.Transaction) (bool, error) {
	for _, tx := range txs {
		delete(txHashes, tx.Hash())
	}

	e.ingestLock.Lock()
	defer e.ingestLock.Unlock()

	return e.ingest(header, nil, txHashes, txs, true)
}

// ingest is the private routine both submit entry points and orphan
// drain funnel through. It assumes ingestLock is already held.
func (e *Engine) ingest(header consensus.BlockHeader, full *consensus.Block, filteredHashes map[consensus.Hash]struct{}, filteredTxs []consensus.Transaction, external bool) (bool, error) {
	e.tickStats()

	hash := header.Hash()
	head := e.Head()

	// Step 2: duplicate head short-circuit.
	if hash == head.Header.Hash() {
		return true, nil
	}

	// Step 3: already-orphan short-circuit.
	if external && e.orphans.Has(hash) {
		return false, nil
	}

	// Step 4: mode check.
	if e.hooks.ShouldVerifyTransactions() && (full == nil || len(full.Transactions) == 0) {
		return false, newErr(ErrHeaderInFullMode, "full validation requires transactions", nil)
	}

	// Step 5: relevance probe.
	contentsImportant := e.hooks.ShouldVerifyTransactions()
	if !contentsImportant && full != nil {
		relevant, _ := e.observers.RelevantTransactions(full.Transactions)
		contentsImportant = len(relevant) > 0
	}
	if !contentsImportant && len(filteredTxs) > 0 {
		contentsImportant = true
	}

	// Step 6: header verification, always; transaction verification only
	// when contents matter.
	if err := header.VerifyHeader(); err != nil {
		return false, newErr(ErrHeaderInvalid, "verify header", err)
	}
	if contentsImportant && full != nil {
		if err := header.VerifyTransactions(full.Transactions); err != nil {
			return false, newErr(ErrMerkleInvalid, "verify transactions", err)
		}
	}

	// Step 7: parent lookup.
	prev, err := e.store.Get(header.PrevBlock)
	if err != nil {
		if full != nil {
			e.orphans.AddFull(full)
		} else {
			e.orphans.AddFiltered(header, filteredHashes, filteredTxs)
		}
		return false, nil
	}

	// Step 8: difficulty check.
	adapter := headerStoreAdapter{store: e.store}
	if err := consensus.CheckDifficultyTransitions(e.params, adapter, prev.Header, prev.Height, &header); err != nil {
		return false, newErr(ErrDifficultyMismatch, "check difficulty", err)
	}

	// Step 9: connect.
	accepted, err := e.connect(prev, head, header, full, filteredHashes, filteredTxs)
	if err != nil {
		return false, err
	}

	// Step 10: orphan drain.
	if external {
		e.drainOrphans()
	}

	return accepted, nil
}

func (e *Engine) tickStats() {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	now := time.Now()
	if e.statsTick.IsZero() {
		e.statsTick = now
	}
	e.blocksInTick++

	if now.Sub(e.statsTick) >= time.Second {
		logrus.WithFields(logrus.Fields{
			"blocksPerSec": e.blocksInTick,
		}).Debug("chain: ingestion rate")
		e.statsTick = now
		e.blocksInTick = 0
	}
}

func (e *Engine) drainOrphans() {
	e.orphans.drain(func(entry *orphanEntry) bool {
		if _, err := e.store.Get(entry.prevHash()); err != nil {
			return false
		}

		if entry.full != nil {
			if _, err := e.ingest(entry.header, entry.full, nil, nil, false); err != nil {
				logrus.WithError(err).Warn("chain: orphan drain failed to connect block")
			}
		} else {
			if _, err := e.ingest(entry.header, nil, entry.filteredTxHashes, entry.filteredTransactions, false); err != nil {
				logrus.WithError(err).Warn("chain: orphan drain failed to connect header")
			}
		}
		return true
	})
}

// medianTimestamp returns the median timestamp of from and up to
// medianTimestampWindow-1 of its ancestors, padding with whatever the
// chain supplies if it's shorter than the window.
func medianTimestamp(store BlockStore, from *StoredBlock) time.Time {
	times := make([]time.Time, 0, medianTimestampWindow)
	cursor := from
	for cursor != nil && len(times) < medianTimestampWindow {
		times = append(times, cursor.Header.Timestamp)
		next, err := cursor.Prev(store)
		if err != nil {
			break
		}
		cursor = next
	}

	sortTimes(times)
	return times[len(times)/2]
}

func sortTimes(times []time.Time) {
	for i := 1; i < len(times); i++ {
		for j := i; j > 0 && times[j].Before(times[j-1]); j-- {
			times[j], times[j-1] = times[j-1], times[j]
		}
	}
}
