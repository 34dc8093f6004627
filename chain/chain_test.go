// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package chain_test

import (
	"testing"
	"time"

	"github.com/dblokhin/chainkeeper/chain"
	"github.com/dblokhin/chainkeeper/consensus"
	"github.com/dblokhin/chainkeeper/storage"
)

// easyBits is a compact target that virtually every hash satisfies
// (2^256 - 2^240: only about one hash in 65536 lies above it), standing
// in for a real proof-of-work solution in tests. Each block carries one
// unit of work.
const easyBits uint32 = 0x2100ffff

func hashesOf(sbs []*chain.StoredBlock) []consensus.Hash {
	out := make([]consensus.Hash, len(sbs))
	for i, sb := range sbs {
		out[i] = sb.Hash()
	}
	return out
}

func hashSlicesEqual(a, b []consensus.Hash) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func testParams() *consensus.NetworkParameters {
	return &consensus.NetworkParameters{
		ID:               consensus.IDMainNet,
		ProofOfWorkLimit: consensus.CompactToBig(easyBits),
		Checkpoints:      map[int64]consensus.Hash{},
	}
}

func genesisHeader() consensus.BlockHeader {
	return consensus.BlockHeader{
		PrevBlock:  consensus.ZeroHash,
		MerkleRoot: consensus.ZeroHash,
		Timestamp:  time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC),
		Bits:       easyBits,
		Nonce:      0,
	}
}

// child builds a header extending prev with the given transactions,
// spaced 120 seconds after prev and repeating prev's bits (correct for
// any non-retarget era-0 height at these test heights).
func child(prev consensus.BlockHeader, txs []consensus.Transaction) consensus.BlockHeader {
	return consensus.BlockHeader{
		PrevBlock:  prev.Hash(),
		MerkleRoot: consensus.MerkleRoot(txs),
		Timestamp:  prev.Timestamp.Add(120 * time.Second),
		Bits:       prev.Bits,
		Nonce:      0,
	}
}

func newTestEngine(t *testing.T) (*chain.Engine, *chain.ObserverRegistry, consensus.BlockHeader) {
	t.Helper()

	genesis := genesisHeader()
	genesisSB := chain.BuildGenesis(genesis)

	store := storage.NewMemStore(genesisSB)
	hooks := &chain.HeaderOnlyHooks{Store: store}
	observers := chain.NewObserverRegistry()

	engine, err := chain.NewEngine(testParams(), store, hooks, nil, observers)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine, observers, genesis
}

// stubTx is a minimal consensus.Transaction for tests.
type stubTx struct {
	id byte
}

func (s stubTx) Hash() consensus.Hash {
	var h consensus.Hash
	h[0] = s.id
	return h
}

func (s stubTx) IsFinal(height int64, blockTime time.Time) bool { return true }

// stubObserver records every callback it receives.
type stubObserver struct {
	relevant       map[consensus.Hash]bool
	received       []consensus.Hash
	newBestBlocks  []*chain.StoredBlock
	reorganizes    int
	txInBlockCalls int

	lastSplit      *chain.StoredBlock
	lastOldSegment []*chain.StoredBlock
	lastNewSegment []*chain.StoredBlock
}

func (o *stubObserver) IsTransactionRelevant(tx consensus.Transaction) bool {
	return o.relevant[tx.Hash()]
}

func (o *stubObserver) ReceiveFromBlock(tx consensus.Transaction, sb *chain.StoredBlock, blockType chain.BlockType) {
	o.received = append(o.received, tx.Hash())
}

func (o *stubObserver) NotifyTransactionInBlock(txHash consensus.Hash, sb *chain.StoredBlock, blockType chain.BlockType) {
	o.txInBlockCalls++
}

func (o *stubObserver) NotifyNewBestBlock(sb *chain.StoredBlock) {
	o.newBestBlocks = append(o.newBestBlocks, sb)
}

func (o *stubObserver) Reorganize(split *chain.StoredBlock, oldSegment, newSegment []*chain.StoredBlock) {
	o.reorganizes++
	o.lastSplit = split
	o.lastOldSegment = oldSegment
	o.lastNewSegment = newSegment
}

// S1: straight extension, SPV mode, no relevant transactions.
func TestSubmitFull_StraightExtension(t *testing.T) {
	engine, observers, genesis := newTestEngine(t)

	obs := &stubObserver{relevant: map[consensus.Hash]bool{}}
	observers.Add(obs)

	header := child(genesis, nil)
	block := &consensus.Block{Header: header}

	accepted, err := engine.SubmitFull(block)
	if err != nil {
		t.Fatalf("SubmitFull: %v", err)
	}
	if !accepted {
		t.Fatal("expected block to be accepted")
	}
	if engine.BestHeight() != 1 {
		t.Fatalf("expected best height 1, got %d", engine.BestHeight())
	}
	if len(obs.received) != 0 {
		t.Fatalf("expected no ReceiveFromBlock calls, got %d", len(obs.received))
	}
	if len(obs.newBestBlocks) != 1 {
		t.Fatalf("expected exactly one NotifyNewBestBlock call, got %d", len(obs.newBestBlocks))
	}
}

// S2: orphan then parent.
func TestSubmitFull_OrphanThenParent(t *testing.T) {
	engine, _, genesis := newTestEngine(t)

	a := child(genesis, nil)
	b := child(a, nil)

	accepted, err := engine.SubmitFull(&consensus.Block{Header: b})
	if err != nil {
		t.Fatalf("submit orphan: %v", err)
	}
	if accepted {
		t.Fatal("expected orphan submission to be not-connected")
	}
	if !engine.IsOrphan(b.Hash()) {
		t.Fatal("expected b to be queued as an orphan")
	}

	accepted, err = engine.SubmitFull(&consensus.Block{Header: a})
	if err != nil {
		t.Fatalf("submit parent: %v", err)
	}
	if !accepted {
		t.Fatal("expected parent submission to be accepted")
	}

	if engine.BestHeight() != 2 {
		t.Fatalf("expected orphan drain to connect b, best height = %d", engine.BestHeight())
	}
	if engine.IsOrphan(b.Hash()) {
		t.Fatal("expected orphan pool to be empty after drain")
	}
}

// S3: fork without reorg — a side branch with less cumulative work than
// head is stored but never becomes the chain head.
func TestSubmitFull_ForkWithoutReorg(t *testing.T) {
	engine, _, genesis := newTestEngine(t)

	a := child(genesis, nil)
	b := child(a, nil)
	c := child(b, nil)

	for _, h := range []consensus.BlockHeader{a, b, c} {
		if _, err := engine.SubmitFull(&consensus.Block{Header: h}); err != nil {
			t.Fatalf("build main chain: %v", err)
		}
	}

	mainHead := engine.Head()
	if mainHead.Hash() != c.Hash() {
		t.Fatalf("expected head to be c, got %s", mainHead.Header.Hash())
	}

	// A side block off of `a`, with the same easy bits: it has less
	// cumulative work than the three-block main chain, so it must not
	// become the new head.
	bPrime := child(a, nil)
	bPrime.Nonce = 1 // otherwise identical to b
	accepted, err := engine.SubmitFull(&consensus.Block{Header: bPrime})
	if err != nil {
		t.Fatalf("submit side block: %v", err)
	}
	if !accepted {
		t.Fatal("expected side block to be accepted onto its branch")
	}

	if engine.Head().Hash() != mainHead.Hash() {
		t.Fatal("expected chain head to remain unchanged after a lower-work fork")
	}
}

// P3: submitting the same block twice is idempotent.
func TestSubmitFull_DuplicateIsIdempotent(t *testing.T) {
	engine, _, genesis := newTestEngine(t)

	header := child(genesis, nil)
	block := &consensus.Block{Header: header}

	if _, err := engine.SubmitFull(block); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	head := engine.Head()

	accepted, err := engine.SubmitFull(block)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !accepted {
		t.Fatal("expected duplicate submission to report accepted")
	}
	if engine.Head().Hash() != head.Hash() {
		t.Fatal("expected chain head unchanged after duplicate submission")
	}
}

func TestStoredBlock_CumulativeWorkIncreases(t *testing.T) {
	genesis := chain.BuildGenesis(genesisHeader())
	h := child(genesisHeader(), nil)
	sb := chain.Build(genesis, h)

	if sb.CumulativeWork.Cmp(genesis.CumulativeWork) <= 0 {
		t.Fatal("expected cumulative work to strictly increase")
	}
	if sb.Height != genesis.Height+1 {
		t.Fatalf("expected height %d, got %d", genesis.Height+1, sb.Height)
	}
}

// S4: a side branch overtakes head on cumulative work and triggers a
// reorg. Every block along the way is SIDE_CHAIN-delivered as it's
// stored; only the reorg itself notifies observers of the new head.
func TestSubmitFull_ForkTriggersReorg(t *testing.T) {
	engine, observers, genesis := newTestEngine(t)

	obs := &stubObserver{relevant: map[consensus.Hash]bool{}}
	observers.Add(obs)

	a := child(genesis, nil)
	b := child(a, nil)
	c := child(b, nil)
	for _, h := range []consensus.BlockHeader{a, b, c} {
		if _, err := engine.SubmitFull(&consensus.Block{Header: h}); err != nil {
			t.Fatalf("build main chain: %v", err)
		}
	}
	if engine.Head().Hash() != c.Hash() {
		t.Fatalf("expected head to be c, got %s", engine.Head().Header.Hash())
	}
	mainChainNewBests := len(obs.newBestBlocks)

	bPrime := child(a, nil)
	bPrime.Nonce = 1 // otherwise identical to b
	cPrime := child(bPrime, nil)
	dPrime := child(cPrime, nil)

	for _, h := range []consensus.BlockHeader{bPrime, cPrime} {
		accepted, err := engine.SubmitFull(&consensus.Block{Header: h})
		if err != nil {
			t.Fatalf("submit side block: %v", err)
		}
		if !accepted {
			t.Fatal("expected side block to be accepted onto its branch")
		}
		if engine.Head().Hash() != c.Hash() {
			t.Fatal("expected head to remain c before the side branch overtakes it")
		}
	}
	if obs.reorganizes != 0 {
		t.Fatalf("expected no reorg yet, got %d", obs.reorganizes)
	}

	accepted, err := engine.SubmitFull(&consensus.Block{Header: dPrime})
	if err != nil {
		t.Fatalf("submit reorg-triggering block: %v", err)
	}
	if !accepted {
		t.Fatal("expected reorg-triggering block to be accepted")
	}

	if engine.Head().Hash() != dPrime.Hash() {
		t.Fatalf("expected head to move to d', got %s", engine.Head().Header.Hash())
	}
	if obs.reorganizes != 1 {
		t.Fatalf("expected exactly one Reorganize call, got %d", obs.reorganizes)
	}
	if len(obs.newBestBlocks) != mainChainNewBests {
		t.Fatalf("expected reorg to not also call NotifyNewBestBlock, got %d new calls", len(obs.newBestBlocks)-mainChainNewBests)
	}

	// The split is a: the common ancestor of the two branches.
	if obs.lastSplit.Hash() != a.Hash() {
		t.Fatalf("expected split to be a, got %s", obs.lastSplit.Header.Hash())
	}

	// oldSegment is the displaced branch, top-down from head: [c, b].
	wantOld := []consensus.Hash{c.Hash(), b.Hash()}
	if got := hashesOf(obs.lastOldSegment); !hashSlicesEqual(got, wantOld) {
		t.Fatalf("oldSegment = %v, want %v", got, wantOld)
	}

	// newSegment is the winning branch, tip-first down to (not including)
	// the split: [d', c', b'].
	wantNew := []consensus.Hash{dPrime.Hash(), cPrime.Hash(), bPrime.Hash()}
	if got := hashesOf(obs.lastNewSegment); !hashSlicesEqual(got, wantNew) {
		t.Fatalf("newSegment = %v, want %v", got, wantNew)
	}
}

// A relevant transaction is delivered to an observer that flags it as
// relevant, and not to one that doesn't.
func TestSubmitFull_DeliversRelevantTransactions(t *testing.T) {
	engine, observers, genesis := newTestEngine(t)

	tx := stubTx{id: 0x42}

	interested := &stubObserver{relevant: map[consensus.Hash]bool{tx.Hash(): true}}
	uninterested := &stubObserver{relevant: map[consensus.Hash]bool{}}
	observers.Add(interested)
	observers.Add(uninterested)

	header := child(genesis, []consensus.Transaction{tx})
	block := &consensus.Block{Header: header, Transactions: []consensus.Transaction{tx}}

	accepted, err := engine.SubmitFull(block)
	if err != nil {
		t.Fatalf("SubmitFull: %v", err)
	}
	if !accepted {
		t.Fatal("expected block to be accepted")
	}

	if len(interested.received) != 1 || interested.received[0] != tx.Hash() {
		t.Fatalf("expected interested observer to receive the transaction, got %v", interested.received)
	}
	if len(uninterested.received) != 0 {
		t.Fatal("expected uninterested observer to receive nothing")
	}
}
