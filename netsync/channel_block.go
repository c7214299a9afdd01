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

	"github.com/probeum/netsync/common"
)

// addNewBlockLocked runs the AddNewBlock worklist (§4.4) against seed.
// Children unlocked by GetNextBlock are appended to the same worklist
// rather than recursing, since schedMu (held by the caller) is not
// reentrant — this is the worklist pattern called for in spec §9. Children
// unlocked by a primary block's ref-block resolution belong to another
// fork's Schedule and are run through a nested addNewBlockLocked call.
func (nc *NetChannel) addNewBlockLocked(fork ForkHash, s *Schedule, seed []Block, peer PeerID) {
	worklist := append([]Block(nil), seed...)
	var reschedule []PeerID

	for i := 0; i < len(worklist); i++ {
		block := worklist[i]
		hash := block.Hash()
		invKey := InvKey{Kind: KindBlock, Hash: hash}

		if nc.chain.Exists(hash) {
			for _, childHash := range s.GetNextBlock(hash) {
				if e, ok := s.get(InvKey{Kind: KindBlock, Hash: childHash}); ok && e.block != nil {
					worklist = append(worklist, e.block)
				}
			}
			s.Remove(invKey)
			continue
		}

		entry, hasEntry := s.get(invKey)
		var knownPeers mapset.Set
		if hasEntry {
			knownPeers = entry.knownPeers
		}

		if !block.IsPrimary() {
			if refHash, hasRef := block.RefBlock(); hasRef && !nc.chain.Exists(refHash) {
				s.AddRefBlock(refHash, fork, hash)
				s.SetDelayedClear(invKey, time.Now().Add(MinExpiredTime))
				continue
			}
		}

		if !(block.IsVacant() && block.MintIsNull()) && nc.chain.VerifyRepeatBlock(block) {
			if !s.SetRepeatBlock(peer, block.ParentHash()) {
				nc.reportMisbehavior(peer, fork, ReasonDDosAttack, "repeat mint at same height/parent")
				continue
			}
		}

		// Blocks handed back by SubmitCachePowBlock (attributed to selfPeerID)
		// were verified and cached already; they go on to the Dispatcher.
		if s.isPrimary && block.IsPow() && peer != selfPeerID {
			now := time.Now()
			if !nc.chain.VerifyPowBlock(block) {
				nc.reportMisbehavior(peer, fork, ReasonDDosAttack, "PoW verification failed")
				continue
			}
			first := s.isFirstCachePowBlockAtParent(block.ParentHash())
			s.addCachePowBlock(block, now)
			if first {
				nc.fanOutBlockInv(fork, hash, knownPeers)
			}
			continue // parked until ConsensusOracle names a winner (GetSubmitCachePowBlock)
		}

		errno := nc.dispatcher.AddNewBlock(block, peer)
		switch errno {
		case ErrnoOK:
			if s.isPrimary {
				// A primary block can unlock children parked on any
				// subsidiary fork's own Schedule, never on the primary's
				// own (AddRefBlock always writes into the child's fork).
				// Each is its own worklist root, run as a separate call
				// rather than folded into this one (channel_block.go's
				// worklist is single-Schedule by construction).
				for _, child := range nc.getNextRefBlockLocked(hash) {
					childSched, ok := nc.schedLocked(child.childFork)
					if !ok {
						continue
					}
					if e, ok := childSched.get(InvKey{Kind: KindBlock, Hash: child.childBlock}); ok && e.block != nil {
						nc.addNewBlockLocked(child.childFork, childSched, []Block{e.block}, peer)
					}
				}
			}
			for _, tx := range block.Txs() {
				if nextTxHash, ok := s.GetNextTx(tx.From(), tx.Nonce()+1); ok {
					if e, ok := s.get(InvKey{Kind: KindTx, Hash: nextTxHash}); ok && e.tx != nil {
						nc.addNewTxLocked(fork, s, []common.Hash{nextTxHash}, map[common.Hash]Tx{nextTxHash: e.tx}, peer)
					}
				}
				s.Remove(InvKey{Kind: KindTx, Hash: tx.Hash()})
			}
			ps := s.peerState(peer)
			ps.locatorInvBlockHash = hash
			if knownPeers != nil {
				reschedule = append(reschedule, peerSetSlice(knownPeers)...)
			}
			nc.award(peer, fork)
			s.Remove(invKey)
			for _, childHash := range s.GetNextBlock(hash) {
				if e, ok := s.get(InvKey{Kind: KindBlock, Hash: childHash}); ok && e.block != nil {
					worklist = append(worklist, e.block)
				}
			}
		case ErrnoAlreadyHave:
			s.Remove(invKey)
		default:
			// validation loss is not automatically malicious (§7.3)
			s.Remove(invKey)
		}
	}

	now := time.Now()
	seen := mapset.NewThreadUnsafeSet()
	for _, p := range reschedule {
		if seen.Contains(p) {
			continue
		}
		seen.Add(p)
		nc.scheduleInvForPeerLocked(p, fork, now)
	}
}

// getNextRefBlockLocked is NetChannel's cross-fork analogue of the source's
// CNetChannel::GetNextRefBlock: AddRefBlock parks a subsidiary/extended/
// vacant block on its OWN fork's Schedule while it waits on a primary ref
// block, so resolving a primary hash must poll every subsidiary Schedule,
// not just the primary's (a subsidiary block is never primary, so its
// parking entry can never live on nc.sched[nc.primary]).
func (nc *NetChannel) getNextRefBlockLocked(refHash common.Hash) []refChild {
	var out []refChild
	for fork, sub := range nc.sched {
		if fork == nc.primary {
			continue
		}
		out = append(out, sub.GetNextRefBlock(refHash)...)
	}
	return out
}

// fanOutBlockInv announces hash to every peer subscribed to fork except
// those in exclude (the peers who already announced it to us). It only
// needs the peer RW lock, which may be acquired while schedMu is held
// (§5's lock order: schedMu before the peer lock).
func (nc *NetChannel) fanOutBlockInv(fork ForkHash, hash common.Hash, exclude mapset.Set) {
	nc.peerMu.RLock()
	defer nc.peerMu.RUnlock()
	for id, p := range nc.peers {
		if exclude != nil && exclude.Contains(id) {
			continue
		}
		if _, ok := p.LookupForkState(fork); !ok {
			continue
		}
		nc.emit(OutPeerInvEvent{eventHeader: eventHeader{Peer: id, Fork: fork}, Invs: []InvKey{{Kind: KindBlock, Hash: hash}}})
	}
}

// BroadcastBlockInv is the host-facing control surface (§6): announce hash
// on fork to every subscribed peer that did not already tell us about it.
func (nc *NetChannel) BroadcastBlockInv(fork ForkHash, hash common.Hash) {
	nc.schedMu.Lock()
	var exclude mapset.Set
	if s, ok := nc.schedLocked(fork); ok {
		if e, ok := s.get(InvKey{Kind: KindBlock, Hash: hash}); ok {
			exclude = e.knownPeers
		}
	}
	nc.schedMu.Unlock()
	nc.fanOutBlockInv(fork, hash, exclude)
}

// AddCacheLocalPowBlock parks a locally-mined candidate on the primary fork.
func (nc *NetChannel) AddCacheLocalPowBlock(block Block) {
	nc.schedMu.Lock()
	defer nc.schedMu.Unlock()
	if s, ok := nc.schedLocked(nc.primary); ok {
		s.AddCacheLocalPowBlock(block, time.Now())
	}
}

// IsLocalCachePowBlock reports whether a local candidate is parked at
// height. is_dpos is not modeled by this core (consensus-kind classification
// belongs to ConsensusOracle); it is always returned false.
func (nc *NetChannel) IsLocalCachePowBlock(height uint64) (has bool, isDpos bool) {
	nc.schedMu.Lock()
	defer nc.schedMu.Unlock()
	s, ok := nc.schedLocked(nc.primary)
	if !ok {
		return false, false
	}
	return s.CheckCacheLocalPowBlock(height), false
}

// SubmitCachePowBlock asks the ConsensusOracle which parked PoW candidates
// may now apply, and runs each through the AddNewBlock worklist.
func (nc *NetChannel) SubmitCachePowBlock(consensusParam common.Hash) bool {
	nc.schedMu.Lock()
	defer nc.schedMu.Unlock()

	s, ok := nc.schedLocked(nc.primary)
	if !ok {
		return false
	}
	remote, local := s.GetSubmitCachePowBlock(consensusParam)
	if len(remote) == 0 && len(local) == 0 {
		return false
	}
	nc.addNewBlockLocked(nc.primary, s, remote, selfPeerID)
	nc.addNewBlockLocked(nc.primary, s, local, selfPeerID)
	return true
}

// selfPeerID attributes self-originated blocks (submitted from the local
// PoW cache via the ConsensusOracle) for the Dispatcher.AddNewBlock peer
// parameter; it never appears as a real peer's identity in mapPeer.
var selfPeerID = PeerID{}
