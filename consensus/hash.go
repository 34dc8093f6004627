// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package consensus

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BlockHashSize size of a block hash, in bytes.
const BlockHashSize = chainhash.HashSize

// Hash identifies a block or transaction. It aliases chainhash.Hash so it
// can be used directly as a map key (the block tree, the orphan pool and
// the store are all keyed by header hash).
type Hash = chainhash.Hash

// ZeroHash is the all-zero hash, used as the previous-block hash of the
// genesis block.
var ZeroHash = chainhash.Hash{}

// HashFromBytes builds a Hash from a byte slice, erroring if the slice is
// not exactly BlockHashSize bytes long.
func HashFromBytes(b []byte) (Hash, error) {
	h, err := chainhash.NewHash(b)
	if err != nil {
		return Hash{}, err
	}
	return *h, nil
}
