// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package consensus

import "golang.org/x/crypto/blake2b"

// MerkleRoot builds a binary merkle tree over the hashes of txs and
// returns its root, duplicating the final node of any odd-length level
// (the classic Bitcoin construction, including its accepted CVE-2012-2459
// quirk of treating a duplicated pair as legitimate).
func MerkleRoot(txs []Transaction) Hash {
	if len(txs) == 0 {
		return ZeroHash
	}

	level := make([]Hash, len(txs))
	for i, tx := range txs {
		level[i] = tx.Hash()
	}

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}

		next := make([]Hash, len(level)/2)
		for i := range next {
			next[i] = hashPair(level[2*i], level[2*i+1])
		}
		level = next
	}

	return level[0]
}

func hashPair(a, b Hash) Hash {
	buf := make([]byte, 0, BlockHashSize*2)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return blake2b.Sum256(buf)
}
