// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

// Package storage provides BlockStore implementations for the chain
// engine: a durable MySQL-backed store and an in-memory reference store
// used by tests.
package storage

import (
	"errors"
	"sync"

	"github.com/dblokhin/chainkeeper/chain"
	"github.com/dblokhin/chainkeeper/consensus"
)

// ErrNotFound is returned by MemStore.Get when a hash isn't stored.
var ErrNotFound = errors.New("storage: block not found")

// MemStore is a map-backed chain.BlockStore, used by the chain package's
// own tests and as a lightweight store for SPV clients that don't need
// durability across restarts.
type MemStore struct {
	mu     sync.RWMutex
	blocks map[consensus.Hash]*chain.StoredBlock
	head   *chain.StoredBlock
}

// NewMemStore returns a MemStore seeded with genesis as the chain head.
func NewMemStore(genesis *chain.StoredBlock) *MemStore {
	s := &MemStore{
		blocks: make(map[consensus.Hash]*chain.StoredBlock),
	}
	s.blocks[genesis.Hash()] = genesis
	s.head = genesis
	return s
}

func (s *MemStore) Get(hash consensus.Hash) (*chain.StoredBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sb, ok := s.blocks[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return sb, nil
}

func (s *MemStore) Put(sb *chain.StoredBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks[sb.Hash()] = sb
	return nil
}

func (s *MemStore) GetChainHead() (*chain.StoredBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head, nil
}

func (s *MemStore) SetChainHead(sb *chain.StoredBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blocks[sb.Hash()]; !ok {
		s.blocks[sb.Hash()] = sb
	}
	s.head = sb
	return nil
}
