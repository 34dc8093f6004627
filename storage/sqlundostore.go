// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package storage

import (
	"database/sql"
	"fmt"

	"github.com/dblokhin/chainkeeper/chain"
	"github.com/dblokhin/chainkeeper/consensus"
)

const undoSchema = `
CREATE TABLE IF NOT EXISTS undo_logs (
	hash    BINARY(32) NOT NULL PRIMARY KEY,
	payload BLOB NOT NULL
);
`

// SQLUndoStore is the full-validation variant of SQLStore: it keeps an
// undo_logs table alongside stored_blocks, recording the TxOutputChanges
// needed to disconnect a block during a reorg.
type SQLUndoStore struct {
	*SQLStore
}

// OpenSQLUndoStore opens dsn and ensures both the stored_blocks/chain_head
// schema and the undo_logs table exist.
func OpenSQLUndoStore(dsn string) (*SQLUndoStore, error) {
	base, err := OpenSQLStore(dsn)
	if err != nil {
		return nil, err
	}
	if _, err := base.db.Exec(undoSchema); err != nil {
		return nil, fmt.Errorf("storage: migrate undo_logs: %w", err)
	}
	return &SQLUndoStore{SQLStore: base}, nil
}

// GetUndoable returns the stored block for hash together with its undo
// log. If the undo log is missing for a block that otherwise exists, the
// block is returned with a nil Undo field and no error.
func (s *SQLUndoStore) GetUndoable(hash consensus.Hash) (*chain.UndoableStoredBlock, error) {
	sb, err := s.Get(hash)
	if err != nil {
		return nil, err
	}

	var payload []byte
	err = s.db.QueryRow(`SELECT payload FROM undo_logs WHERE hash = ?`, hash[:]).Scan(&payload)
	switch {
	case err == sql.ErrNoRows:
		return &chain.UndoableStoredBlock{StoredBlock: *sb}, nil
	case err != nil:
		return nil, err
	}

	return &chain.UndoableStoredBlock{
		StoredBlock: *sb,
		Undo:        &chain.TxOutputChanges{BlockHash: hash, Payload: payload},
	}, nil
}

// PutUndoable persists sb's header/height/work via Put and, if present,
// its undo log.
func (s *SQLUndoStore) PutUndoable(sb *chain.UndoableStoredBlock) error {
	if err := s.Put(&sb.StoredBlock); err != nil {
		return err
	}
	if sb.Undo == nil {
		return nil
	}

	hash := sb.Hash()
	_, err := s.db.Exec(`
		INSERT INTO undo_logs (hash, payload) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE payload = VALUES(payload)`, hash[:], sb.Undo.Payload)
	return err
}
