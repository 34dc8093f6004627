// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package storage

import (
	"bytes"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/dblokhin/chainkeeper/chain"
	"github.com/dblokhin/chainkeeper/consensus"
	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
)

const schema = `
CREATE TABLE IF NOT EXISTS stored_blocks (
	hash            BINARY(32) NOT NULL PRIMARY KEY,
	prev_hash       BINARY(32) NOT NULL,
	merkle_root     BINARY(32) NOT NULL,
	timestamp       BIGINT NOT NULL,
	bits            INT UNSIGNED NOT NULL,
	nonce           INT UNSIGNED NOT NULL,
	height          BIGINT NOT NULL,
	cumulative_work BLOB NOT NULL,
	INDEX (prev_hash)
);

CREATE TABLE IF NOT EXISTS chain_head (
	id   TINYINT NOT NULL PRIMARY KEY,
	hash BINARY(32) NOT NULL
);
`

// SQLStore is a MySQL-backed chain.BlockStore: a stored_blocks table
// keyed by header hash plus a single-row chain_head table.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens dsn via go-sql-driver/mysql, ensures the schema
// exists, and returns a ready SQLStore.
func OpenSQLStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open mysql: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("storage: ping mysql: %w", err)
	}

	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	for _, stmt := range bytes.Split([]byte(schema), []byte(";\n\n")) {
		if len(bytes.TrimSpace(stmt)) == 0 {
			continue
		}
		if _, err := s.db.Exec(string(stmt)); err != nil {
			return fmt.Errorf("storage: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Get(hash consensus.Hash) (*chain.StoredBlock, error) {
	row := s.db.QueryRow(`
		SELECT prev_hash, merkle_root, timestamp, bits, nonce, height, cumulative_work
		FROM stored_blocks WHERE hash = ?`, hash[:])
	return scanStoredBlock(row)
}

func (s *SQLStore) Put(sb *chain.StoredBlock) error {
	hash := sb.Hash()
	_, err := s.db.Exec(`
		INSERT INTO stored_blocks (hash, prev_hash, merkle_root, timestamp, bits, nonce, height, cumulative_work)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE height = height`,
		hash[:], sb.Header.PrevBlock[:], sb.Header.MerkleRoot[:], sb.Header.Timestamp.Unix(),
		sb.Header.Bits, sb.Header.Nonce, sb.Height, sb.CumulativeWork.Bytes())
	if err != nil {
		logrus.WithError(err).WithField("hash", hash).Error("storage: put stored block failed")
	}
	return err
}

func (s *SQLStore) GetChainHead() (*chain.StoredBlock, error) {
	var hash []byte
	err := s.db.QueryRow(`SELECT hash FROM chain_head WHERE id = 1`).Scan(&hash)
	if err != nil {
		return nil, err
	}

	h, err := consensus.HashFromBytes(hash)
	if err != nil {
		return nil, err
	}
	return s.Get(h)
}

func (s *SQLStore) SetChainHead(sb *chain.StoredBlock) error {
	if err := s.Put(sb); err != nil {
		return err
	}

	hash := sb.Hash()
	_, err := s.db.Exec(`
		INSERT INTO chain_head (id, hash) VALUES (1, ?)
		ON DUPLICATE KEY UPDATE hash = VALUES(hash)`, hash[:])
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanStoredBlock(row scanner) (*chain.StoredBlock, error) {
	var (
		prevHash, merkleRoot, workBytes []byte
		timestamp                      int64
		bits, nonce                    uint32
		height                         int64
	)

	if err := row.Scan(&prevHash, &merkleRoot, &timestamp, &bits, &nonce, &height, &workBytes); err != nil {
		return nil, err
	}

	prev, err := consensus.HashFromBytes(prevHash)
	if err != nil {
		return nil, err
	}
	root, err := consensus.HashFromBytes(merkleRoot)
	if err != nil {
		return nil, err
	}

	return &chain.StoredBlock{
		Header: consensus.BlockHeader{
			PrevBlock:  prev,
			MerkleRoot: root,
			Timestamp:  time.Unix(timestamp, 0).UTC(),
			Bits:       bits,
			Nonce:      nonce,
		},
		Height:         height,
		CumulativeWork: new(big.Int).SetBytes(workBytes),
	}, nil
}
