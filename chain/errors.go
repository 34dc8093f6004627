// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package chain

import "fmt"

// Kind tags the reason a submission was rejected, modeled on
// btcsuite/btcd/blockchain's ErrorCode: a closed enum callers can switch
// on, after errors.As into a *ChainError, rather than sniffing error
// strings. Kind itself is not an error value.
type Kind int

const (
	// ErrHeaderInvalid means BlockHeader.VerifyHeader failed: bad
	// proof-of-work or an out-of-range timestamp.
	ErrHeaderInvalid Kind = iota
	// ErrMerkleInvalid means BlockHeader.VerifyTransactions failed: the
	// block's transactions don't hash to the advertised merkle root.
	ErrMerkleInvalid
	// ErrHeaderInFullMode means a block arrived without transactions
	// while running full validation.
	ErrHeaderInFullMode
	// ErrCheckpointMismatch means a block at a checkpointed height
	// doesn't match the checkpointed hash.
	ErrCheckpointMismatch
	// ErrNonFinalTransaction means a full block carries a transaction
	// that isn't final at the block's height and timestamp.
	ErrNonFinalTransaction
	// ErrTimestampTooEarly means a block's timestamp doesn't exceed the
	// median of the last 11 block timestamps, checked only in
	// full-validation (expensive-checks) mode.
	ErrTimestampTooEarly
	// ErrDifficultyMismatch means the retarget state machine computed a
	// target that doesn't match the submitted header's bits.
	ErrDifficultyMismatch
	// ErrForkWithoutAncestor means a side-branch block shares no common
	// ancestor with the current head.
	ErrForkWithoutAncestor
	// ErrOrphanedSegment means a partial-chain walk ran off the end of
	// the store mid-segment, a fatal tree-integrity violation.
	ErrOrphanedSegment
	// ErrPruned means undo data required to disconnect a block during a
	// reorg is unavailable; non-recoverable locally.
	ErrPruned
	// ErrStoreUnavailable wraps any error a BlockStore call returned.
	ErrStoreUnavailable
)

func (k Kind) String() string {
	switch k {
	case ErrHeaderInvalid:
		return "header invalid"
	case ErrMerkleInvalid:
		return "merkle invalid"
	case ErrHeaderInFullMode:
		return "header in full mode"
	case ErrCheckpointMismatch:
		return "checkpoint mismatch"
	case ErrNonFinalTransaction:
		return "non-final transaction"
	case ErrTimestampTooEarly:
		return "timestamp too early"
	case ErrDifficultyMismatch:
		return "difficulty mismatch"
	case ErrForkWithoutAncestor:
		return "fork without ancestor"
	case ErrOrphanedSegment:
		return "orphaned segment"
	case ErrPruned:
		return "pruned"
	case ErrStoreUnavailable:
		return "store unavailable"
	default:
		return "unknown"
	}
}

// ChainError is the error type every rejected submission surfaces as.
type ChainError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *ChainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chain: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("chain: %s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the wrapped error for errors.Is/errors.As.
func (e *ChainError) Unwrap() error {
	return e.Err
}

func newErr(kind Kind, msg string, err error) *ChainError {
	return &ChainError{Kind: kind, Msg: msg, Err: err}
}
