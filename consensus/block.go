// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package consensus

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// MaxFutureBlockTime is how far into the future a block's timestamp may
// lie and still be accepted, mirroring the "12 blocks ahead" rule used by
// Bitcoin-lineage chains.
const MaxFutureBlockTime = 12 * TargetSpacing * int64(time.Second)

var (
	// ErrBadProofOfWork is returned when a header's hash exceeds its
	// advertised target.
	ErrBadProofOfWork = errors.New("consensus: hash does not satisfy target")
	// ErrBadTimestamp is returned when a header's timestamp is out of
	// the accepted range.
	ErrBadTimestamp = errors.New("consensus: block timestamp out of range")
	// ErrBadMerkleRoot is returned when a block's transactions don't hash
	// to the merkle root advertised in the header.
	ErrBadMerkleRoot = errors.New("consensus: merkle root mismatch")
)

// BlockHeader is the portion of a block the chain engine verifies
// directly: a link to its parent, a commitment to the block's
// transactions, a timestamp, and a proof-of-work solution against a
// compact-encoded target.
type BlockHeader struct {
	PrevBlock  Hash
	MerkleRoot Hash
	Timestamp  time.Time
	Bits       uint32
	Nonce      uint32
}

// Bytes serializes the header for hashing.
func (h *BlockHeader) Bytes() []byte {
	buff := new(bytes.Buffer)

	if _, err := buff.Write(h.PrevBlock[:]); err != nil {
		logrus.Fatal(err)
	}
	if _, err := buff.Write(h.MerkleRoot[:]); err != nil {
		logrus.Fatal(err)
	}
	if err := binary.Write(buff, binary.BigEndian, h.Timestamp.Unix()); err != nil {
		logrus.Fatal(err)
	}
	if err := binary.Write(buff, binary.BigEndian, h.Bits); err != nil {
		logrus.Fatal(err)
	}
	if err := binary.Write(buff, binary.BigEndian, h.Nonce); err != nil {
		logrus.Fatal(err)
	}

	return buff.Bytes()
}

// Read deserializes a header.
func (h *BlockHeader) Read(r io.Reader) error {
	if _, err := io.ReadFull(r, h.PrevBlock[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, h.MerkleRoot[:]); err != nil {
		return err
	}

	var ts int64
	if err := binary.Read(r, binary.BigEndian, &ts); err != nil {
		return err
	}
	h.Timestamp = time.Unix(ts, 0).UTC()

	if err := binary.Read(r, binary.BigEndian, &h.Bits); err != nil {
		return err
	}
	return binary.Read(r, binary.BigEndian, &h.Nonce)
}

// Hash returns the header's identifying hash.
func (h *BlockHeader) Hash() Hash {
	return blake2b.Sum256(h.Bytes())
}

// Target decodes the header's compact difficulty bits into a full target.
func (h *BlockHeader) Target() *big.Int {
	return CompactToBig(h.Bits)
}

// String implements the String() interface.
func (h BlockHeader) String() string {
	return fmt.Sprintf("%#v", h)
}

// VerifyHeader checks the header's proof-of-work and timestamp sanity.
// It does not touch transaction contents; that's VerifyTransactions.
func (h *BlockHeader) VerifyHeader() error {
	target := CompactToBig(h.Bits)
	if target.Sign() <= 0 {
		return ErrBadProofOfWork
	}

	hash := h.Hash()
	hashNum := hashToBig(hash)
	if hashNum.Cmp(target) > 0 {
		return ErrBadProofOfWork
	}

	if h.Timestamp.UnixNano() > time.Now().UTC().UnixNano()+MaxFutureBlockTime {
		return ErrBadTimestamp
	}

	return nil
}

// VerifyTransactions checks that the block's transactions hash to the
// header's advertised merkle root.
func (h *BlockHeader) VerifyTransactions(txs []Transaction) error {
	root := MerkleRoot(txs)
	if root != h.MerkleRoot {
		return ErrBadMerkleRoot
	}
	return nil
}

// Block couples a header with the transactions it commits to. A Block
// with a nil Transactions slice is a header-only block, the shape orphan
// entries and SPV ingestion work with.
type Block struct {
	Header       BlockHeader
	Transactions []Transaction
}

// Hash returns the block's identifying hash (that of its header).
func (b *Block) Hash() Hash {
	return b.Header.Hash()
}

// CloneAsHeader returns a copy of b with its transactions dropped, the
// shape stored in the block tree once a block has been fully connected.
func (b *Block) CloneAsHeader() *Block {
	return &Block{Header: b.Header}
}

// String implements the String() interface.
func (b Block) String() string {
	return fmt.Sprintf("%#v", b.Header)
}
