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
	"container/list"
	"time"

	"github.com/probeum/netsync/common"
)

// knownTxEntry is one element of the time-ordered index. hashicorp/golang-lru
// implements plain capacity-bounded LRU, but PeerKnownTx's eviction rule
// (§4.1) mixes a time-based and a count-based threshold that fire under
// different conditions simultaneously, which a single-capacity LRU cannot
// express — so this is hand-rolled on container/list, mirroring the
// boost::multi_index by-time secondary index the source uses for the same
// structure (see DESIGN.md).
type knownTxEntry struct {
	hash common.Hash
	time time.Time
}

// PeerKnownTx is the bounded per-(peer,fork) set of tx hashes already known
// to have passed between us and a peer, with the time+count eviction policy
// from spec §4.1.
type PeerKnownTx struct {
	byHash map[common.Hash]*list.Element
	byTime *list.List // front = oldest
}

// NewPeerKnownTx returns an empty PeerKnownTx set.
func NewPeerKnownTx() *PeerKnownTx {
	return &PeerKnownTx{
		byHash: make(map[common.Hash]*list.Element),
		byTime: list.New(),
	}
}

// Contains reports whether hash is already known.
func (k *PeerKnownTx) Contains(hash common.Hash) bool {
	_, ok := k.byHash[hash]
	return ok
}

// Len returns the number of known tx hashes currently held.
func (k *PeerKnownTx) Len() int { return len(k.byHash) }

// AddKnownTx bulk-inserts txs (skipping ones already present) and then runs
// the eviction pass against totalPoolSize, per §4.1.
func (k *PeerKnownTx) AddKnownTx(txs []common.Hash, totalPoolSize int, now time.Time) {
	for _, h := range txs {
		if _, ok := k.byHash[h]; ok {
			continue
		}
		e := k.byTime.PushBack(&knownTxEntry{hash: h, time: now})
		k.byHash[h] = e
	}
	k.evict(totalPoolSize, now)
}

// cacheSynTxCount, controlCapacity and maxCapacity implement the capacity
// formulas from §4.1.
func cacheSynTxCount(totalPoolSize int) int {
	if totalPoolSize > KnownInvMaxCount {
		return totalPoolSize
	}
	return KnownInvMaxCount
}

func controlCapacity(totalPoolSize int) int {
	return cacheSynTxCount(totalPoolSize) + 2*MaxInvCount
}

func maxCapacity(totalPoolSize int) int {
	cc := controlCapacity(totalPoolSize)
	twice := 2 * cacheSynTxCount(totalPoolSize)
	if twice > cc+MaxInvCount {
		return twice
	}
	return cc + MaxInvCount
}

// evict walks the time index oldest-first, evicting while any of the four
// rules in §4.1 holds.
func (k *PeerKnownTx) evict(totalPoolSize int, now time.Time) {
	softExpire := now.Add(-ExpiredTime)
	hardExpire := now.Add(-3 * ExpiredTime)
	minExpire := now.Add(-MinExpiredTime)

	cc := controlCapacity(totalPoolSize)
	mc := maxCapacity(totalPoolSize)

	for {
		front := k.byTime.Front()
		if front == nil {
			return
		}
		oldest := front.Value.(*knownTxEntry)
		size := len(k.byHash)

		shouldEvict := (size > cc && !oldest.time.After(softExpire)) ||
			!oldest.time.After(hardExpire) ||
			size > mc ||
			(size <= MinExpiredCount && !oldest.time.After(minExpire))

		if !shouldEvict {
			return
		}
		k.byTime.Remove(front)
		delete(k.byHash, oldest.hash)
	}
}
