// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package consensus

import "math/big"

// CompactToBig decodes a "compact" difficulty representation (the historical
// floating-point-like encoding also used by Bitcoin/Litecoin-derived
// chains) into a full 256-bit target. This is the same layout
// btcsuite/btcd/blockchain.CompactToBig decodes; it's reimplemented here
// directly rather than importing that package so the module doesn't have
// to pull its large, database-shaped transitive dependency surface for
// two small integer routines.
func CompactToBig(compact uint32) *big.Int {
	mantissa := compact & 0x007fffff
	exponent := uint(compact >> 24)

	var bn *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		bn = big.NewInt(int64(mantissa))
	} else {
		bn = big.NewInt(int64(mantissa))
		bn.Lsh(bn, 8*(exponent-3))
	}

	if compact&0x00800000 != 0 {
		bn = bn.Neg(bn)
	}

	return bn
}

// BigToCompact encodes a 256-bit target into the compact representation.
func BigToCompact(n *big.Int) uint32 {
	if n.Sign() == 0 {
		return 0
	}

	var mantissa uint32
	exponent := uint(len(n.Bytes()))

	if exponent <= 3 {
		mantissa = uint32(n.Bits()[0])
		mantissa <<= 8 * (3 - exponent)
	} else {
		tn := new(big.Int).Set(n)
		mantissa = uint32(tn.Rsh(tn, 8*(exponent-3)).Bits()[0])
	}

	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	compact := uint32(exponent<<24) | mantissa
	if n.Sign() < 0 {
		compact |= 0x00800000
	}

	return compact
}

// hashToBig interprets a hash as a big-endian 256-bit number for target
// comparison. Hashes are stored and transmitted little-endian, so the bytes
// are reversed first.
func hashToBig(h Hash) *big.Int {
	buf := make([]byte, len(h))
	copy(buf, h[:])
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return new(big.Int).SetBytes(buf)
}

// MaskMantissa masks newTarget down to the same 3-byte mantissa precision
// the received compact-encoded bits carry, per the "Mantissa mask" rule:
// accuracy_bytes = ((received_bits >> 24) & 0xff) - 3;
// mask = 0xFFFFFF << (accuracy_bytes * 8).
func MaskMantissa(newTarget *big.Int, receivedBits uint32) *big.Int {
	accuracyBytes := int((receivedBits >> 24) & 0xff) - 3
	if accuracyBytes < 0 {
		// The mantissa already occupies fewer than 3 bytes of precision;
		// there's nothing coarser to mask down to.
		accuracyBytes = 0
	}
	mask := new(big.Int).Lsh(big.NewInt(0xFFFFFF), uint(accuracyBytes)*8)
	return new(big.Int).And(newTarget, mask)
}
