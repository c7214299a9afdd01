// Copyright 2015 The go-probeum Authors
// This file is part of the go-probeum library.
//
// The go-probeum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-probeum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-probeum library. If not, see <http://www.gnu.org/licenses/>.

package netsync

import (
	"time"

	"github.com/probeum/netsync/common"
)

// cachedPowBlock is a remote PoW block parked pending a consensus signal.
type cachedPowBlock struct {
	block    Block
	prevHash common.Hash
	waitTime time.Time
	verified bool
}

// localPowBlock is this node's own mined candidate, parked the same way.
type localPowBlock struct {
	block    Block
	prevHash common.Hash
	waitTime time.Time
}

// AddCacheLocalPowBlock parks a locally-mined candidate (primary fork only).
func (s *Schedule) AddCacheLocalPowBlock(block Block, now time.Time) {
	if !s.isPrimary {
		return
	}
	s.localPowCache.Add(block.Hash(), &localPowBlock{block: block, prevHash: block.ParentHash(), waitTime: now})
}

// GetCacheLocalPowBlock returns a parked local candidate by hash.
func (s *Schedule) GetCacheLocalPowBlock(hash common.Hash) (Block, bool) {
	v, ok := s.localPowCache.Peek(hash)
	if !ok {
		return nil, false
	}
	return v.(*localPowBlock).block, true
}

// CheckCacheLocalPowBlock reports whether height has a parked local
// candidate, used by IsLocalCachePowBlock.
func (s *Schedule) CheckCacheLocalPowBlock(height uint64) (has bool) {
	for _, hash := range s.localPowCache.Keys() {
		v, ok := s.localPowCache.Peek(hash)
		if ok && v.(*localPowBlock).block.Height() == height {
			return true
		}
	}
	return false
}

// RemoveCacheLocalPowBlock drops a parked local candidate once it has been
// submitted or superseded.
func (s *Schedule) RemoveCacheLocalPowBlock(hash common.Hash) {
	s.localPowCache.Remove(hash)
}

// addCachePowBlock parks a remote PoW candidate at its first observation.
func (s *Schedule) addCachePowBlock(block Block, now time.Time) {
	if !s.isPrimary {
		return
	}
	s.powCache.Add(block.Hash(), &cachedPowBlock{block: block, prevHash: block.ParentHash(), waitTime: now})
}

// isFirstCachePowBlockAtParent reports whether no PoW block is cached yet at
// the given parent, i.e. whether a block about to be cached there would be
// the first; used by AddNewBlock step 4's first-cached-at-height broadcast
// decision, which calls it before addCachePowBlock.
func (s *Schedule) isFirstCachePowBlockAtParent(prevHash common.Hash) bool {
	for _, hash := range s.powCache.Keys() {
		v, ok := s.powCache.Peek(hash)
		if ok && v.(*cachedPowBlock).prevHash == prevHash {
			return false
		}
	}
	return true
}

// GetSubmitCachePowBlock returns the cached PoW blocks now eligible to
// apply: those whose prevHash matches the oracle's next-consensus signal.
// Results are tagged Remote/Local via two return slices.
func (s *Schedule) GetSubmitCachePowBlock(consensusHash common.Hash) (remote []Block, local []Block) {
	for _, hash := range s.powCache.Keys() {
		v, ok := s.powCache.Peek(hash)
		if !ok {
			continue
		}
		b := v.(*cachedPowBlock)
		if b.prevHash == consensusHash {
			remote = append(remote, b.block)
			s.powCache.Remove(hash)
		}
	}
	for _, hash := range s.localPowCache.Keys() {
		v, ok := s.localPowCache.Peek(hash)
		if !ok {
			continue
		}
		b := v.(*localPowBlock)
		if b.prevHash == consensusHash {
			local = append(local, b.block)
			s.localPowCache.Remove(hash)
		}
	}
	return remote, local
}

// AddRefBlock indexes a subsidiary/extended/vacant block waiting on a
// primary-chain ref block that hasn't arrived yet.
func (s *Schedule) AddRefBlock(refHash common.Hash, childFork ForkHash, childBlock common.Hash) {
	s.refBlockIndex[refHash] = append(s.refBlockIndex[refHash], refChild{childFork: childFork, childBlock: childBlock})
}

// GetNextRefBlock returns (and clears) the children unlocked now that
// refHash has been applied on the primary chain.
func (s *Schedule) GetNextRefBlock(refHash common.Hash) []refChild {
	children, ok := s.refBlockIndex[refHash]
	if !ok {
		return nil
	}
	delete(s.refBlockIndex, refHash)
	return children
}

// SetRepeatBlock records the first peer observed delivering a repeat-mint
// conflict at parentHash — the contested slot, not the competing block's own
// hash, since two distinct peers minting at the same height/parent produce
// two distinct block hashes by construction. The second distinct peer on the
// same parentHash is a misbehavior trigger (§4.4 step 3).
func (s *Schedule) SetRepeatBlock(peer PeerID, parentHash common.Hash) (isFirst bool) {
	if existing, ok := s.repeatBlock[parentHash]; ok {
		return existing == peer
	}
	s.repeatBlock[parentHash] = peer
	return true
}
