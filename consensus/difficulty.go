// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package consensus

import (
	"errors"
	"math/big"
	"sort"
	"time"
)

// ErrDifficultyMismatch is returned when a submitted header's compact
// target doesn't match what the retarget state machine computes for its
// height.
var ErrDifficultyMismatch = errors.New("consensus: computed difficulty does not match advertised bits")

// errSkipRetarget is an internal sentinel: it's raised when a retarget
// walk runs off the back of the store (typically because history before
// a checkpoint was pruned) and CheckDifficultyTransitions treats it as
// "nothing to check here", accepting the submitted bits as-is. It never
// escapes this file.
var errSkipRetarget = errors.New("consensus: retarget walk ran off the store")

// BlockHeaderStore is the narrow read seam the difficulty engine needs:
// look up the header a hash identifies, to walk parent links backward
// while collecting timestamps and past difficulty bits.
type BlockHeaderStore interface {
	HeaderByHash(hash Hash) (BlockHeader, bool)
}

// CheckDifficultyTransitions verifies that next's advertised bits match
// what the multi-era retarget state machine computes given parent (at
// parentHeight). It is the sole live entry point into the retarget
// cascade; there is deliberately no equivalent of a
// "checkDifficultyTransitions1" dead code path.
func CheckDifficultyTransitions(params *NetworkParameters, store BlockHeaderStore, parent BlockHeader, parentHeight int64, next *BlockHeader) error {
	height := parentHeight + 1
	interval := params.Interval(height)
	isRetarget := height%interval == 0

	if params.IsTestNet() && !isRetarget {
		return checkTestnetDifficulty(params, store, parent, parentHeight, next)
	}

	if !isRetarget {
		if next.Bits != parent.Bits {
			return ErrDifficultyMismatch
		}
		return nil
	}

	newTarget, err := calcNextTarget(params, store, parent, parentHeight, height)
	if err == errSkipRetarget {
		return nil
	}
	if err != nil {
		return err
	}

	return compareTarget(newTarget, next.Bits)
}

func calcNextTarget(params *NetworkParameters, store BlockHeaderStore, parent BlockHeader, parentHeight, height int64) (*big.Int, error) {
	var target *big.Int
	var err error

	switch {
	case height <= JulyFork:
		target, err = calcClassicalTarget(store, parent, params.era0Interval(), era0TargetTimespan)
	case height <= NovemberFork:
		target, err = calcClassicalTarget(store, parent, IntervalDefault, TargetTimespan)
	default:
		target, err = calcMedianTarget(store, parent, parentHeight, height)
	}
	if err != nil {
		return nil, err
	}

	if target.Cmp(params.ProofOfWorkLimit) > 0 {
		target = params.ProofOfWorkLimit
	}
	return target, nil
}

// calcClassicalTarget implements the era 0/1 retarget: timespan is the
// gap between the parent's timestamp and the timestamp `interval` blocks
// earlier, clamped to the era 0-2 bounds.
//
// TODO: the very first retarget after genesis should walk back
// interval-1 blocks, not interval (the original anti-51%-attack fix);
// this only diverges at the single historical era-0 boundary height.
func calcClassicalTarget(store BlockHeaderStore, parent BlockHeader, interval, targetTimespan int64) (*big.Int, error) {
	first, ok := headerAtDepth(store, parent, interval)
	if !ok {
		return nil, errSkipRetarget
	}

	timespan := parent.Timestamp.Unix() - first.Timestamp.Unix()
	timespan = clampTimespan(timespan, targetTimespan)

	newTarget := new(big.Int).Mul(CompactToBig(parent.Bits), big.NewInt(timespan))
	newTarget.Div(newTarget, big.NewInt(targetTimespan))
	return newTarget, nil
}

// calcMedianTarget implements the era 2/3 retarget: a median-window
// timespan corrected by an average-window check (past mayFork), a
// deadlock defense (past novemberFork2), and, in era 3, per-block clamps
// and inter-block ceilings in place of the era 0-2 timespan bounds.
func calcMedianTarget(store BlockHeaderStore, parent BlockHeader, parentHeight, height int64) (*big.Int, error) {
	ts60, ok := collectTimestamps(store, parent, 60)
	if !ok {
		return nil, errSkipRetarget
	}
	diffs60 := adjacentAbsDiffs(ts60)
	medTime := medianOf(diffs60)

	var avgTime int64
	didHalfAdjust := false
	if height > MayFork {
		ts120, ok := collectTimestamps(store, parent, 120)
		if !ok {
			return nil, errSkipRetarget
		}
		avgTime = meanOf(adjacentAbsDiffs(ts120))
		medTime, didHalfAdjust = applyAverageCorrection(medTime, avgTime, height, diffs60)
	}

	medTime = applyDeadlockDefense(medTime, height, ts60)

	if height > JulyFork2 {
		medTime = applyPerBlockClamps(medTime, avgTime, didHalfAdjust)
	}

	timespan := medTime * 60
	if height <= JulyFork2 {
		timespan = clampTimespan(timespan, TargetTimespan)
	}

	newTarget := new(big.Int).Mul(CompactToBig(parent.Bits), big.NewInt(timespan))
	newTarget.Div(newTarget, big.NewInt(TargetTimespan))

	if height > JulyFork2 {
		var err error
		newTarget, err = applyEra3Ceilings(store, parent, newTarget, didHalfAdjust)
		if err != nil {
			return nil, err
		}
	}

	return newTarget, nil
}

// applyAverageCorrection is the mayFork average-window correction. Past
// julyFork2 it also flags the "half adjust" the per-block clamps and the
// era-3 floor key off.
func applyAverageCorrection(medTime, avgTime, height int64, diffs60 []int64) (int64, bool) {
	if height <= JulyFork2 {
		switch {
		case avgTime >= 180:
			medTime = 130
		case avgTime >= 108 && medTime < 120:
			medTime = 110
		}
		return medTime, false
	}

	if medTime > avgTime {
		medTime = avgTime
	}

	didHalfAdjust := false
	if avgTime >= 180 && len(diffs60) >= 2 {
		last, secondLast := diffs60[len(diffs60)-1], diffs60[len(diffs60)-2]
		if last >= 1200 && secondLast >= 1200 {
			didHalfAdjust = true
			medTime = 240
		}
	}
	return medTime, didHalfAdjust
}

// applyDeadlockDefense: past novemberFork2, a stuck-difficulty
// oscillation pattern (two block gaps exactly 10 minutes apart, five
// blocks distant) forces med_time down.
func applyDeadlockDefense(medTime, height int64, ts60 []time.Time) int64 {
	if height <= NovemberFork2 || medTime < 120 {
		return medTime
	}

	end := len(ts60) - 1
	for i := 1; i <= 54; i++ {
		a := ts60[end-i].Unix()
		b := ts60[end-(i+5)].Unix()
		diff := a - b
		if diff < 0 {
			diff = -diff
		}
		if diff == 600 {
			if height > JulyFork2 {
				return 119
			}
			return 110
		}
	}
	return medTime
}

// applyPerBlockClamps bounds how far med_time may move in a single
// block, in either direction, once era 3 is in effect.
func applyPerBlockClamps(medTime, avgTime int64, didHalfAdjust bool) int64 {
	switch {
	case avgTime > 216 || medTime > 122:
		if didHalfAdjust {
			return 170
		}
		return 121
	case avgTime < 117 || medTime < 117:
		return 117
	default:
		return medTime
	}
}

// applyEra3Ceilings bounds the freshly computed target against the
// targets 60 and 240 blocks back, plus a floor against the parent's own
// target when no half-adjust occurred.
func applyEra3Ceilings(store BlockHeaderStore, parent BlockHeader, newTarget *big.Int, didHalfAdjust bool) (*big.Int, error) {
	h60, ok := headerAtDepth(store, parent, 60)
	if !ok {
		return nil, errSkipRetarget
	}
	h240, ok := headerAtDepth(store, parent, 240)
	if !ok {
		return nil, errSkipRetarget
	}

	tLast := CompactToBig(parent.Bits)
	t60 := CompactToBig(h60.Bits)
	t240 := CompactToBig(h240.Bits)

	floor := new(big.Int).Mul(tLast, big.NewInt(10))
	floor.Div(floor, big.NewInt(8))
	if !didHalfAdjust && newTarget.Cmp(floor) > 0 {
		newTarget = floor
	}

	ceil60 := new(big.Int).Mul(t60, big.NewInt(100))
	ceil60.Div(ceil60, big.NewInt(102))
	if newTarget.Cmp(ceil60) < 0 {
		newTarget = ceil60
	}

	ceil240 := new(big.Int).Mul(t240, big.NewInt(100))
	ceil240.Div(ceil240, big.NewInt(408))
	if newTarget.Cmp(ceil240) < 0 {
		newTarget = ceil240
	}

	return newTarget, nil
}

// checkTestnetDifficulty: outside a retarget height, testnet permits the
// proof-of-work-limit target after a long gap, and otherwise must repeat
// the most recent block that either sits on a retarget boundary or
// already carries a non-limit target.
func checkTestnetDifficulty(params *NetworkParameters, store BlockHeaderStore, parent BlockHeader, parentHeight int64, next *BlockHeader) error {
	if next.Timestamp.Unix() > parent.Timestamp.Unix()+2*params.TargetSpacingAt(parentHeight+1) {
		if next.Bits != BigToCompact(params.ProofOfWorkLimit) {
			return ErrDifficultyMismatch
		}
		return nil
	}

	limitBits := BigToCompact(params.ProofOfWorkLimit)
	cursor := parent
	h := parentHeight
	for h > 0 && h%params.Interval(h) != 0 && cursor.Bits == limitBits {
		prev, ok := store.HeaderByHash(cursor.PrevBlock)
		if !ok {
			return nil
		}
		cursor = prev
		h--
	}

	if next.Bits != cursor.Bits {
		return ErrDifficultyMismatch
	}
	return nil
}

// compareTarget is the "mantissa mask" comparison: newTarget is masked
// down to the submitted bits' mantissa precision before comparing, since
// the compact encoding is inherently lossy.
func compareTarget(newTarget *big.Int, receivedBits uint32) error {
	receivedTarget := CompactToBig(receivedBits)
	masked := MaskMantissa(newTarget, receivedBits)
	if masked.Cmp(receivedTarget) != 0 {
		return ErrDifficultyMismatch
	}
	return nil
}

func headerAtDepth(store BlockHeaderStore, from BlockHeader, depth int64) (BlockHeader, bool) {
	cursor := from
	for i := int64(0); i < depth; i++ {
		prev, ok := store.HeaderByHash(cursor.PrevBlock)
		if !ok {
			return BlockHeader{}, false
		}
		cursor = prev
	}
	return cursor, true
}

// collectTimestamps returns the n timestamps ending at parent (inclusive),
// oldest first.
func collectTimestamps(store BlockHeaderStore, parent BlockHeader, n int) ([]time.Time, bool) {
	ts := make([]time.Time, n)
	cursor := parent
	ts[n-1] = cursor.Timestamp
	for i := n - 2; i >= 0; i-- {
		prev, ok := store.HeaderByHash(cursor.PrevBlock)
		if !ok {
			return nil, false
		}
		cursor = prev
		ts[i] = cursor.Timestamp
	}
	return ts, true
}

func adjacentAbsDiffs(ts []time.Time) []int64 {
	diffs := make([]int64, len(ts)-1)
	for i := range diffs {
		d := ts[i+1].Unix() - ts[i].Unix()
		if d < 0 {
			d = -d
		}
		diffs[i] = d
	}
	return diffs
}

// medianOf takes the 59 adjacent differences of a 60-block window and
// returns the value at sorted index 29.
func medianOf(diffs []int64) int64 {
	sorted := append([]int64(nil), diffs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[29]
}

func meanOf(diffs []int64) int64 {
	var sum int64
	for _, d := range diffs {
		sum += d
	}
	return sum / int64(len(diffs))
}

func clampTimespan(timespan, targetTimespan int64) int64 {
	max := (targetTimespan * 99) / 70
	min := (targetTimespan * 70) / 99
	switch {
	case timespan < min:
		return min
	case timespan > max:
		return max
	default:
		return timespan
	}
}
