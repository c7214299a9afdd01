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

	mapset "github.com/deckarep/golang-set"
	lru "github.com/hashicorp/golang-lru"

	"github.com/probeum/netsync/common"
)

// maxPowCacheSize bounds the PoW caches against a peer flooding us with
// candidates that never reach consensus eligibility; GetSubmitCachePowBlock's
// explicit delete-on-match is the normal eviction path, this is a backstop.
const maxPowCacheSize = 4096

// invEntry is one arena slot. Orphan dependencies are recorded as arena
// indices (Schedule.orphanPrev, keyed by the missing parent hash) rather than
// as InvKeys, per spec §9: this makes Unsubscribe (which drops the whole
// arena) O(#entries) with no dangling references to clean up one at a time.
type invEntry struct {
	key InvKey

	knownPeers   mapset.Set // of PeerID
	assigned     bool
	assignedPeer PeerID
	requestExpiry time.Time

	state InvState

	tx    Tx
	block Block

	prevHash       common.Hash // blocks only
	orphanChildren []int       // not populated; orphanPrev holds the waiting blocks' indices

	fromAddr     common.Address // txs only
	nonce        uint64
	nonceIndexed bool // true once (fromAddr, nonce) is registered in txByNonce

	live bool // false once removed; slot is then free for reuse
}

// peerSchedState is the per-(peer,fork) scheduling cursor (§3: by_peer).
type peerSchedState struct {
	inFlightBlock int
	inFlightTx    int

	locatorDepthHash    common.Hash
	locatorInvBlockHash common.Hash
	nextGetBlocksTime   time.Time
}

// refChild is one entry of Schedule's ref_block_index: a subsidiary block
// waiting on a primary-chain ref block to appear.
type refChild struct {
	childFork  ForkHash
	childBlock common.Hash
}

// Schedule is the per-fork inventory table: peer assignment, orphan chains,
// PoW block cache and timers (spec §3/§4.3).
type Schedule struct {
	fork      ForkHash
	isPrimary bool

	entries  []invEntry
	index    map[InvKey]int
	freeList []int

	byPeer map[PeerID]*peerSchedState

	orphanPrev map[common.Hash][]int // missing parent hash -> dependent block indices

	// txPrev mirrors the source's tx_prev reverse-index (AddOrphanTxPrev),
	// kept for shape parity with spec's declared state. It has no sender:
	// the source's own GetMissingPrevTx is a stub that always returns false,
	// so nothing ever calls AddOrphanTxPrev outside of tests. GetNextTx's
	// real nonce-chaining below is a separate mechanism, keyed by
	// (sender, nonce) instead of by tx hash.
	txPrev map[common.Hash][]int

	txByNonce map[common.Address]map[uint64]int // (from, nonce) -> live entry index, for GetNextTx

	delayedClear map[InvKey]time.Time

	powCache      *lru.Cache // common.Hash -> *cachedPowBlock
	localPowCache *lru.Cache // common.Hash -> *localPowBlock
	refBlockIndex map[common.Hash][]refChild
	repeatBlock   map[common.Hash]PeerID
}

// NewSchedule returns an empty Schedule for fork. isPrimary gates the PoW
// caches, which only apply to the primary chain (§4.3).
func NewSchedule(fork ForkHash, isPrimary bool) *Schedule {
	powCache, _ := lru.New(maxPowCacheSize)
	localPowCache, _ := lru.New(maxPowCacheSize)
	return &Schedule{
		fork:          fork,
		isPrimary:     isPrimary,
		index:         make(map[InvKey]int),
		byPeer:        make(map[PeerID]*peerSchedState),
		orphanPrev:    make(map[common.Hash][]int),
		txPrev:        make(map[common.Hash][]int),
		txByNonce:     make(map[common.Address]map[uint64]int),
		delayedClear:  make(map[InvKey]time.Time),
		powCache:      powCache,
		localPowCache: localPowCache,
		refBlockIndex: make(map[common.Hash][]refChild),
		repeatBlock:   make(map[common.Hash]PeerID),
	}
}

func (s *Schedule) peerState(p PeerID) *peerSchedState {
	ps, ok := s.byPeer[p]
	if !ok {
		ps = &peerSchedState{}
		s.byPeer[p] = ps
	}
	return ps
}

// alloc returns the arena index for a new entry, reusing a tombstoned slot
// if one is available.
func (s *Schedule) alloc(key InvKey) int {
	if n := len(s.freeList); n > 0 {
		idx := s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
		s.entries[idx] = invEntry{key: key, knownPeers: mapset.NewThreadUnsafeSet(), live: true}
		s.index[key] = idx
		return idx
	}
	s.entries = append(s.entries, invEntry{key: key, knownPeers: mapset.NewThreadUnsafeSet(), live: true})
	idx := len(s.entries) - 1
	s.index[key] = idx
	return idx
}

func (s *Schedule) get(key InvKey) (*invEntry, bool) {
	idx, ok := s.index[key]
	if !ok {
		return nil, false
	}
	return &s.entries[idx], true
}

func (s *Schedule) peerLimit(kind InvKind) int {
	if kind == KindBlock {
		return MaxPeerBlockInvCount
	}
	return MaxPeerTxInvCount
}

func (s *Schedule) inFlight(peer PeerID, kind InvKind) *int {
	ps := s.peerState(peer)
	if kind == KindBlock {
		return &ps.inFlightBlock
	}
	return &ps.inFlightTx
}

// AddNewInv registers peer as a holder of inv. Idempotent across duplicate
// peers. Fails (no side effect) if peer has exceeded the per-kind inventory
// capacity (§4.3).
func (s *Schedule) AddNewInv(inv InvKey, peer PeerID) bool {
	if e, ok := s.get(inv); ok {
		e.knownPeers.Add(peer)
		return true
	}
	count := 0
	for idx := range s.entries {
		e := &s.entries[idx]
		if e.live && e.key.Kind == inv.Kind && e.knownPeers.Contains(peer) {
			count++
		}
	}
	if count >= s.peerLimit(inv.Kind) {
		return false
	}
	idx := s.alloc(inv)
	s.entries[idx].knownPeers.Add(peer)
	s.entries[idx].state = StateAnnounced
	return true
}

// scheduleInv is the shared body of ScheduleBlockInv/ScheduleTxInv: pick up
// to budget Announced-or-expired entries known to peer, preferring (for
// blocks) entries whose prev_hash is already known locally.
func (s *Schedule) scheduleInv(peer PeerID, kind InvKind, budget int, now time.Time, preferKnownPrev func(common.Hash) bool) ([]InvKey, bool) {
	var picked []InvKey
	anyPending := false

	for idx := range s.entries {
		if len(picked) >= budget {
			break
		}
		e := &s.entries[idx]
		if !e.live || e.key.Kind != kind {
			continue
		}
		if !e.knownPeers.Contains(peer) {
			continue
		}
		if _, delayed := s.delayedClear[e.key]; delayed {
			continue
		}
		switch e.state {
		case StateAnnounced:
			// eligible
		case StateRequested:
			if now.Before(e.requestExpiry) {
				anyPending = true
				continue
			}
			// expired: reclaim
		default:
			continue
		}
		if kind == KindBlock && preferKnownPrev != nil && !preferKnownPrev(e.prevHash) {
			anyPending = true
			continue
		}
		e.state = StateRequested
		e.assigned = true
		e.assignedPeer = peer
		e.requestExpiry = now.Add(ReqTimeout)
		picked = append(picked, e.key)
		*s.inFlight(peer, kind)++
	}
	emptyAll := len(picked) == 0 && !anyPending
	return picked, emptyAll
}

// ScheduleBlockInv selects up to budget block invs to request from peer.
// missingPrev is set when the peer has announced blocks beyond anything we
// can currently schedule (the caller should issue GetBlocks); emptyAll is
// set when peer has no scheduling work pending at all.
func (s *Schedule) ScheduleBlockInv(peer PeerID, budget int, now time.Time, chainHasLocally func(common.Hash) bool) (picked []InvKey, missingPrev bool, emptyAll bool) {
	picked, emptyAll = s.scheduleInv(peer, KindBlock, budget, now, chainHasLocally)
	if len(picked) == 0 {
		// Any orphaned announcement from this peer implies we are missing a
		// prefix of their chain.
		for idx := range s.entries {
			e := &s.entries[idx]
			if e.live && e.key.Kind == KindBlock && e.state == StateAnnounced && e.knownPeers.Contains(peer) && !chainHasLocally(e.prevHash) {
				missingPrev = true
				break
			}
		}
	}
	return picked, missingPrev, emptyAll
}

// ScheduleTxInv selects up to budget tx invs to request from peer.
// allReceived reports whether every tx this peer has announced has been
// received (used to drive the tx-inv "complete" signal).
func (s *Schedule) ScheduleTxInv(peer PeerID, budget int, now time.Time) (picked []InvKey, allReceived bool) {
	picked, _ = s.scheduleInv(peer, KindTx, budget, now, nil)
	allReceived = true
	for idx := range s.entries {
		e := &s.entries[idx]
		if e.live && e.key.Kind == KindTx && e.knownPeers.Contains(peer) && e.state != StateReceived && e.state != StateVerified {
			allReceived = false
			break
		}
	}
	return picked, allReceived
}

// ReceiveBlock matches hash against a Requested entry. On a hit it stores
// the payload, transitions to Received and returns the set of peers known
// to hold it (so they can be scheduled for successors). Returns false for
// an unsolicited or wrong-peer delivery.
func (s *Schedule) ReceiveBlock(peer PeerID, hash common.Hash, block Block) (notifyPeers []PeerID, ok bool) {
	e, found := s.get(InvKey{Kind: KindBlock, Hash: hash})
	if !found || e.state != StateRequested || e.assignedPeer != peer {
		return nil, false
	}
	e.block = block
	e.prevHash = block.ParentHash()
	e.state = StateReceived
	return peerSetSlice(e.knownPeers), true
}

// ReceiveTx is ReceiveBlock's tx analog. It also registers the tx under
// its (sender, nonce) so a later GetNextTx can find it as a sequential
// successor once its predecessor nonce clears.
func (s *Schedule) ReceiveTx(peer PeerID, txid common.Hash, tx Tx) (notifyPeers []PeerID, ok bool) {
	idx, found := s.index[InvKey{Kind: KindTx, Hash: txid}]
	if !found {
		return nil, false
	}
	e := &s.entries[idx]
	if e.state != StateRequested || e.assignedPeer != peer {
		return nil, false
	}
	e.tx = tx
	e.fromAddr = tx.From()
	e.nonce = tx.Nonce()
	if m, ok := s.txByNonce[e.fromAddr]; ok {
		m[e.nonce] = idx
	} else {
		s.txByNonce[e.fromAddr] = map[uint64]int{e.nonce: idx}
	}
	e.nonceIndexed = true
	e.state = StateReceived
	return peerSetSlice(e.knownPeers), true
}

// CancelAssignedInv clears a Requested assignment (on GetFail) so another
// peer can be tried on the next schedule pass.
func (s *Schedule) CancelAssignedInv(peer PeerID, inv InvKey) {
	e, ok := s.get(inv)
	if !ok || e.assignedPeer != peer {
		return
	}
	*s.inFlight(peer, inv.Kind)--
	e.assigned = false
	e.state = StateAnnounced
}

// RemovePeer drops all assignments and known-peer entries for peer, and
// returns the set of peers who had co-assignments on items peer was
// servicing (so the caller can reschedule them).
func (s *Schedule) RemovePeer(peer PeerID) (peersToReschedule []PeerID) {
	seen := mapset.NewThreadUnsafeSet()
	for idx := range s.entries {
		e := &s.entries[idx]
		if !e.live {
			continue
		}
		wasAssigned := e.assigned && e.assignedPeer == peer
		e.knownPeers.Remove(peer)
		if wasAssigned {
			e.assigned = false
			e.state = StateAnnounced
			for p := range e.knownPeers.Iter() {
				seen.Add(p)
			}
		}
		if e.knownPeers.Cardinality() == 0 && !wasAssigned {
			// no one else holds it either; leave as-is, harmless.
			continue
		}
	}
	delete(s.byPeer, peer)
	return peerSetSlice(seen)
}

// AddOrphanBlockPrev indexes child as waiting on missingPrev.
func (s *Schedule) AddOrphanBlockPrev(child InvKey, missingPrev common.Hash) {
	idx, ok := s.index[child]
	if !ok {
		return
	}
	s.orphanPrev[missingPrev] = append(s.orphanPrev[missingPrev], idx)
}

// AddOrphanTxPrev indexes child as waiting on a prior tx from the same
// sender (missingPrev identifies that tx).
func (s *Schedule) AddOrphanTxPrev(child InvKey, missingPrev common.Hash) {
	idx, ok := s.index[child]
	if !ok {
		return
	}
	s.txPrev[missingPrev] = append(s.txPrev[missingPrev], idx)
}

// GetNextBlock walks the orphan index to find children unlocked now that
// hash has been added to the chain.
func (s *Schedule) GetNextBlock(hash common.Hash) []common.Hash {
	indices, ok := s.orphanPrev[hash]
	if !ok {
		return nil
	}
	delete(s.orphanPrev, hash)
	out := make([]common.Hash, 0, len(indices))
	for _, idx := range indices {
		if idx < len(s.entries) && s.entries[idx].live {
			out = append(out, s.entries[idx].key.Hash)
		}
	}
	return out
}

// GetNextTx looks up the tx parked under (from, nonce): the sender's
// sequential successor, already received and still held in the Schedule
// (for instance under a delayed-clear) pending the predecessor nonce. This is the real
// nonce-chaining mechanism AddNewBlock/AddNewTx drive forward; it is keyed
// by (sender, nonce), not by a predecessor tx hash, unlike the inert
// txPrev graph above.
func (s *Schedule) GetNextTx(from common.Address, nonce uint64) (common.Hash, bool) {
	m, ok := s.txByNonce[from]
	if !ok {
		return common.Hash{}, false
	}
	idx, ok := m[nonce]
	if !ok || idx >= len(s.entries) || !s.entries[idx].live {
		return common.Hash{}, false
	}
	return s.entries[idx].key.Hash, true
}

// SetDelayedClear holds inv off the scheduler until expiry.
func (s *Schedule) SetDelayedClear(inv InvKey, expiry time.Time) {
	if _, ok := s.index[inv]; ok {
		s.delayedClear[inv] = expiry
	}
}

// expireDelayed clears delayedClear entries whose deadline has passed and
// removes the underlying inv, matching §4.3's "Delayed entries are cleared
// when their deadline passes."
func (s *Schedule) expireDelayed(now time.Time) {
	for k, exp := range s.delayedClear {
		if !now.Before(exp) {
			delete(s.delayedClear, k)
			s.Remove(k)
		}
	}
}

// Remove deletes an entry and tombstones its arena slot for reuse. Any
// block children it unblocked (already resolved into orphanPrev before
// removal) are left for the caller to have already drained via
// GetNextBlock/GetNextTx.
func (s *Schedule) Remove(key InvKey) {
	idx, ok := s.index[key]
	if !ok {
		return
	}
	e := &s.entries[idx]
	if e.nonceIndexed {
		if m, ok := s.txByNonce[e.fromAddr]; ok {
			delete(m, e.nonce)
			if len(m) == 0 {
				delete(s.txByNonce, e.fromAddr)
			}
		}
	}
	delete(s.index, key)
	s.entries[idx] = invEntry{live: false}
	s.freeList = append(s.freeList, idx)
}

// Has reports whether key has a live entry.
func (s *Schedule) Has(key InvKey) bool {
	_, ok := s.index[key]
	return ok
}

func peerSetSlice(set mapset.Set) []PeerID {
	out := make([]PeerID, 0, set.Cardinality())
	for p := range set.Iter() {
		out = append(out, p.(PeerID))
	}
	return out
}
