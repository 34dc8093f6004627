// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package consensus

import (
	"testing"
	"time"
)

// fakeHeaderStore is an in-memory BlockHeaderStore over a linear chain,
// enough to exercise the retarget walk-backs.
type fakeHeaderStore struct {
	byHash map[Hash]BlockHeader
}

func newFakeHeaderStore() *fakeHeaderStore {
	return &fakeHeaderStore{byHash: map[Hash]BlockHeader{}}
}

func (s *fakeHeaderStore) HeaderByHash(hash Hash) (BlockHeader, bool) {
	h, ok := s.byHash[hash]
	return h, ok
}

func (s *fakeHeaderStore) add(h BlockHeader) {
	s.byHash[h.Hash()] = h
}

// linearChain builds n headers starting at genesisTime, each spacingSecs
// after the last, all carrying bits, and registers them in store. It
// returns the last (tip) header.
func linearChain(store *fakeHeaderStore, n int, genesisTime time.Time, spacingSecs int64, bits uint32) BlockHeader {
	prev := Hash{}
	ts := genesisTime
	var tip BlockHeader
	for i := 0; i < n; i++ {
		h := BlockHeader{
			PrevBlock:  prev,
			MerkleRoot: ZeroHash,
			Timestamp:  ts,
			Bits:       bits,
		}
		store.add(h)
		prev = h.Hash()
		ts = ts.Add(time.Duration(spacingSecs) * time.Second)
		tip = h
	}
	return tip
}

// P6: constant inter-block spacing across a full classical retarget
// interval reproduces the parent's own target unchanged.
func TestCalcClassicalTarget_ConstantSpacingIsNoOp(t *testing.T) {
	store := newFakeHeaderStore()
	bits := uint32(0x1d00ffff)
	genesisTime := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)

	parent := linearChain(store, int(IntervalDefault)+1, genesisTime, TargetSpacing, bits)

	newTarget, err := calcClassicalTarget(store, parent, IntervalDefault, TargetTimespan)
	if err != nil {
		t.Fatalf("calcClassicalTarget: %v", err)
	}

	parentTarget := CompactToBig(parent.Bits)
	if newTarget.Cmp(parentTarget) != 0 {
		t.Fatalf("expected unchanged target under constant spacing, got %s want %s", newTarget, parentTarget)
	}
}

// P6, median form: a constant 120s spacing across the 60-block median
// window used by calcMedianTarget also reproduces the parent's target.
func TestCalcMedianTarget_ConstantSpacingIsNoOp(t *testing.T) {
	store := newFakeHeaderStore()
	bits := uint32(0x1d00ffff)
	genesisTime := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)

	// Enough headers behind parent to satisfy the widest window the
	// pre-julyFork2 median path needs (60 timestamps).
	parent := linearChain(store, 61, genesisTime, TargetSpacing, bits)
	parentHeight := NovemberFork + 1000

	newTarget, err := calcMedianTarget(store, parent, parentHeight, parentHeight+1)
	if err != nil {
		t.Fatalf("calcMedianTarget: %v", err)
	}

	parentTarget := CompactToBig(parent.Bits)
	if newTarget.Cmp(parentTarget) != 0 {
		t.Fatalf("expected unchanged target under constant spacing, got %s want %s", newTarget, parentTarget)
	}
}

// P5: perturbing a single bit of the advertised compact target away from
// what the retarget engine computes must be rejected.
func TestCheckDifficultyTransitions_RejectsWrongBits(t *testing.T) {
	store := newFakeHeaderStore()
	bits := uint32(0x1d00ffff)
	genesisTime := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)

	parent := linearChain(store, int(IntervalDefault)+1, genesisTime, TargetSpacing, bits)

	// 46080 sits past julyFork, at or below novemberFork (classical
	// target range), and is itself a multiple of intervalDefault.
	const nextHeight = 46080
	parentHeight := int64(nextHeight - 1)

	params := consensusTestParams()

	correct := BlockHeader{
		PrevBlock:  parent.Hash(),
		MerkleRoot: ZeroHash,
		Timestamp:  parent.Timestamp.Add(time.Duration(TargetSpacing) * time.Second),
		Bits:       bits,
	}

	if err := CheckDifficultyTransitions(params, store, parent, parentHeight, &correct); err != nil {
		t.Fatalf("expected correctly-computed bits to pass, got %v", err)
	}

	wrong := correct
	wrong.Bits = bits ^ 0x00000001

	err := CheckDifficultyTransitions(params, store, parent, parentHeight, &wrong)
	if err != ErrDifficultyMismatch {
		t.Fatalf("CheckDifficultyTransitions() = %v, want ErrDifficultyMismatch", err)
	}
}

func consensusTestParams() *NetworkParameters {
	return &NetworkParameters{
		ID:               IDMainNet,
		ProofOfWorkLimit: CompactToBig(0x1d00ffff),
		Checkpoints:      map[int64]Hash{},
	}
}

func consensusTestnetParams() *NetworkParameters {
	p := consensusTestParams()
	p.ID = IDTestNet
	return p
}

// Below julyFork, testnet's long-gap relief window is era0's 150s
// spacing (threshold 300s), not the flat 120s constant (threshold
// 240s). A 260s gap falls between the two thresholds, so it must be
// treated as a normal (non-long-gap) submission that has to repeat the
// parent's own bits, not the proof-of-work limit.
func TestCheckTestnetDifficulty_UsesEraAwareSpacingBelowJulyFork(t *testing.T) {
	store := newFakeHeaderStore()
	bits := uint32(0x1c00ffff) // not the PoW limit
	genesisTime := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)

	parent := linearChain(store, 3, genesisTime, era0TargetSpacing, bits)
	params := consensusTestnetParams()

	const parentHeight = 100 // well below JulyFork, and not a retarget boundary

	next := BlockHeader{
		PrevBlock: parent.Hash(),
		Timestamp: parent.Timestamp.Add(260 * time.Second),
		Bits:      bits,
	}

	if err := CheckDifficultyTransitions(params, store, parent, parentHeight, &next); err != nil {
		t.Fatalf("expected a 260s gap pre-julyFork to repeat parent bits without triggering the long-gap relief, got %v", err)
	}

	next.Bits = BigToCompact(params.ProofOfWorkLimit)
	if err := CheckDifficultyTransitions(params, store, parent, parentHeight, &next); err != ErrDifficultyMismatch {
		t.Fatalf("expected the PoW limit to be rejected when the gap doesn't clear era0's relief threshold, got %v", err)
	}
}

// A gap past twice the network's era-local target spacing lets testnet
// fall back to the proof-of-work limit outright.
func TestCheckTestnetDifficulty_LongGapAllowsPowLimit(t *testing.T) {
	store := newFakeHeaderStore()
	bits := uint32(0x1c00ffff)
	genesisTime := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)

	parent := linearChain(store, 3, genesisTime, TargetSpacing, bits)
	params := consensusTestnetParams()

	const parentHeight = NovemberFork + 1000 // past julyFork, flat 120s spacing applies

	next := BlockHeader{
		PrevBlock: parent.Hash(),
		Timestamp: parent.Timestamp.Add(2*time.Duration(TargetSpacing)*time.Second + time.Second),
		Bits:      BigToCompact(params.ProofOfWorkLimit),
	}

	if err := CheckDifficultyTransitions(params, store, parent, parentHeight, &next); err != nil {
		t.Fatalf("expected the PoW limit to be accepted after a long gap, got %v", err)
	}

	next.Bits = bits
	if err := CheckDifficultyTransitions(params, store, parent, parentHeight, &next); err != ErrDifficultyMismatch {
		t.Fatalf("expected a non-limit target to be rejected after a long gap, got %v", err)
	}
}

func TestCheckDifficultyTransitions_NonRetargetHeightRepeatsBits(t *testing.T) {
	store := newFakeHeaderStore()
	bits := uint32(0x1d00ffff)
	genesisTime := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)

	parent := linearChain(store, 5, genesisTime, TargetSpacing, bits)
	params := consensusTestParams()

	// parentHeight chosen so height = parentHeight+1 is not a retarget
	// boundary under IntervalDefault=60.
	parentHeight := int64(100001)

	next := BlockHeader{
		PrevBlock: parent.Hash(),
		Timestamp: parent.Timestamp.Add(time.Duration(TargetSpacing) * time.Second),
		Bits:      bits,
	}
	if err := CheckDifficultyTransitions(params, store, parent, parentHeight, &next); err != nil {
		t.Fatalf("expected repeated bits to pass at a non-retarget height: %v", err)
	}

	next.Bits = bits ^ 1
	if err := CheckDifficultyTransitions(params, store, parent, parentHeight, &next); err != ErrDifficultyMismatch {
		t.Fatalf("CheckDifficultyTransitions() = %v, want ErrDifficultyMismatch", err)
	}
}
