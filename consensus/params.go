// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package consensus

import "math/big"

// Network identifiers, mirroring the ID_MAINNET/ID_TESTNET pair every
// bitcoinj-lineage NetworkParameters carries.
const (
	IDMainNet = "org.chainkeeper.production"
	IDTestNet = "org.chainkeeper.test"
)

// Era fork heights. These are frozen historical constants of the multi-era
// difficulty retargeting protocol and are named to match the network's own
// terminology: julyFork/novemberFork/novemberFork2/mayFork/julyFork2
// delimit the four eras.
const (
	JulyFork      int64 = 45000
	NovemberFork  int64 = 103000
	NovemberFork2 int64 = 118800
	MayFork       int64 = 248000
	JulyFork2     int64 = 251230
)

// Retarget cadence constants (era 1/2, i.e. post-julyFork).
const (
	TargetSpacing   int64 = 120        // seconds, era >= 1
	TargetTimespan  int64 = 60 * 120   // 60 blocks * 120s
	IntervalDefault int64 = TargetTimespan / TargetSpacing // 60

	// Era 0 (pre-julyFork) used a slower 2.5-minute spacing and a
	// 7/8-day timespan; reimplemented literally per the design notes.
	era0TargetSpacing  int64 = 150
	era0TargetTimespan int64 = (7 * 24 * 60 * 60) / 8
)

// NetworkParameters bundles the network-specific constants the chain
// engine and difficulty engine need. It intentionally mirrors what
// bitcoinj-style NetworkParameters expose: an id, a genesis block, a
// proof-of-work floor, retarget cadence accessors and a checkpoint table.
type NetworkParameters struct {
	ID               string
	GenesisBlock     *Block
	ProofOfWorkLimit *big.Int
	Checkpoints      map[int64]Hash
}

// IsTestNet reports whether these parameters describe the test network,
// which relaxes non-retarget-height difficulty via the testnet relief rule.
func (p *NetworkParameters) IsTestNet() bool {
	return p.ID == IDTestNet
}

// Interval returns the number of blocks between difficulty retargets at
// the given height: era 0's own interval pre-julyFork, the default
// 60-block interval through julyFork2, and every block after.
func (p *NetworkParameters) Interval(height int64) int64 {
	switch {
	case height <= JulyFork:
		return p.era0Interval()
	case height <= JulyFork2:
		return IntervalDefault
	default:
		// Era 3 retargets every block.
		return 1
	}
}

func (p *NetworkParameters) era0Interval() int64 {
	return era0TargetTimespan / era0TargetSpacing
}

// TargetTimespan returns the timespan a full retarget interval should
// span, in seconds, at the given height.
func (p *NetworkParameters) TargetTimespan(height int64) int64 {
	if height <= JulyFork {
		return era0TargetTimespan
	}
	return TargetTimespan
}

// TargetSpacingAt returns the target inter-block spacing, in seconds, at
// the given height (era 0 used 150s, all later eras use 120s).
func (p *NetworkParameters) TargetSpacingAt(height int64) int64 {
	if height <= JulyFork {
		return era0TargetSpacing
	}
	return TargetSpacing
}

// PassesCheckpoint returns false if height is a checkpointed height and
// hash doesn't match the checkpointed value.
func (p *NetworkParameters) PassesCheckpoint(height int64, hash Hash) bool {
	want, ok := p.Checkpoints[height]
	if !ok {
		return true
	}
	return want == hash
}
