// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package consensus

import "time"

// Transaction is the seam between the chain engine and whatever validates
// transaction contents (script evaluation, UTXO spends). Concrete
// transactions are out of scope here; the engine only ever needs to hash
// them, check finality and merkle-verify a block's set of them.
type Transaction interface {
	// Hash returns the transaction's identifying hash.
	Hash() Hash

	// IsFinal reports whether the transaction may be included in a block
	// at the given height, mined at the given time.
	IsFinal(height int64, blockTime time.Time) bool
}
