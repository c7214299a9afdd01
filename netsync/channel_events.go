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

// HandleEvent is the single entry point for everything a peer hands to the
// core. It dispatches on the dynamic type of ev — a tagged sum, not runtime
// polymorphism — mirroring the teacher's Handle(peer, packet) type switch
// in probe/handler_probe.go.
func (nc *NetChannel) HandleEvent(ev InboundEvent) {
	switch e := ev.(type) {
	case PeerActiveEvent:
		nc.handlePeerActive(e)
	case PeerDeactiveEvent:
		nc.handlePeerDeactive(e)
	case PeerSubscribeEvent:
		nc.handlePeerSubscribe(e)
	case PeerUnsubscribeEvent:
		nc.handlePeerUnsubscribe(e)
	case PeerInvEvent:
		nc.handlePeerInv(e)
	case PeerGetDataEvent:
		nc.handlePeerGetData(e)
	case PeerGetBlocksEvent:
		nc.handlePeerGetBlocks(e)
	case PeerTxEvent:
		nc.handlePeerTx(e)
	case PeerBlockEvent:
		nc.handlePeerBlock(e)
	case PeerGetFailEvent:
		nc.handlePeerGetFail(e)
	case PeerMsgRspEvent:
		nc.handlePeerMsgRsp(e)
	default:
		nc.log.Warn("unrecognized inbound event", "type", e)
	}
}

// schedLocked returns fork's Schedule. Callers must hold schedMu.
func (nc *NetChannel) schedLocked(fork ForkHash) (*Schedule, bool) {
	s, ok := nc.sched[fork]
	return s, ok
}

func (nc *NetChannel) handlePeerActive(e PeerActiveEvent) {
	now := time.Now()

	nc.schedMu.Lock()
	genesis := nc.cfg.GenesisFork
	var nonGenesisForks []ForkHash
	for f := range nc.sched {
		if f != genesis {
			nonGenesisForks = append(nonGenesisForks, f)
		}
	}
	nc.schedMu.Unlock()

	nc.peerMu.Lock()
	p := NewPeerState(e.Peer, e.Addr, e.NodeNetwork)
	nc.peers[e.Peer] = p
	p.ForkState(genesis)
	if _, ok := nc.unsync[genesis]; !ok {
		nc.unsync[genesis] = mapset.NewThreadUnsafeSet()
	}
	nc.unsync[genesis].Add(e.Peer)
	nc.peerMu.Unlock()

	if !e.NodeNetwork {
		return
	}

	locator := nc.chain.GetBlockLocator(genesis)
	nc.emit(OutPeerGetBlocksEvent{eventHeader: eventHeader{Peer: e.Peer, Fork: genesis}, Locator: locator})

	nc.pushTxInvToPeer(e.Peer, genesis, now)

	if len(nonGenesisForks) > 0 {
		nc.emit(OutPeerSubscribeEvent{eventHeader: eventHeader{Peer: e.Peer, Fork: genesis}, ChildForks: nonGenesisForks})
	}
}

func (nc *NetChannel) handlePeerDeactive(e PeerDeactiveEvent) {
	nc.schedMu.Lock()
	for fork, s := range nc.sched {
		reschedule := s.RemovePeer(e.Peer)
		for _, p := range reschedule {
			nc.scheduleInvForPeerLocked(p, fork, time.Now())
		}
	}
	nc.schedMu.Unlock()

	nc.peerMu.Lock()
	delete(nc.peers, e.Peer)
	for _, set := range nc.unsync {
		set.Remove(e.Peer)
	}
	nc.peerMu.Unlock()
}

func (nc *NetChannel) handlePeerSubscribe(e PeerSubscribeEvent) {
	if e.Fork != nc.cfg.GenesisFork {
		nc.reportMisbehavior(e.Peer, e.Fork, ReasonDDosAttack, "subscribe on non-genesis fork")
		return
	}
	p, ok := nc.lookupPeer(e.Peer)
	if !ok {
		return
	}
	nc.peerMu.Lock()
	for _, child := range e.ChildForks {
		p.ForkState(child)
		if _, ok := nc.unsync[child]; !ok {
			nc.unsync[child] = mapset.NewThreadUnsafeSet()
		}
		nc.unsync[child].Add(e.Peer)
	}
	nc.peerMu.Unlock()

	nc.schedMu.Lock()
	for _, child := range e.ChildForks {
		if _, ok := nc.schedLocked(child); ok {
			locator := nc.chain.GetBlockLocator(child)
			nc.emit(OutPeerGetBlocksEvent{eventHeader: eventHeader{Peer: e.Peer, Fork: child}, Locator: locator})
		}
	}
	nc.schedMu.Unlock()
}

func (nc *NetChannel) handlePeerUnsubscribe(e PeerUnsubscribeEvent) {
	p, ok := nc.lookupPeer(e.Peer)
	if !ok {
		return
	}
	nc.peerMu.Lock()
	for _, child := range e.ChildForks {
		p.RemoveFork(child)
		if set, ok := nc.unsync[child]; ok {
			set.Remove(e.Peer)
		}
	}
	nc.peerMu.Unlock()
}

func (nc *NetChannel) handlePeerInv(e PeerInvEvent) {
	if len(e.Invs) > MaxInvCount {
		nc.reportMisbehavior(e.Peer, e.Fork, ReasonDDosAttack, "oversized inv batch")
		return
	}

	now := time.Now()
	_, ok := nc.lookupPeer(e.Peer)
	if !ok {
		return
	}

	nc.schedMu.Lock()
	s, ok := nc.schedLocked(e.Fork)
	if !ok {
		nc.schedMu.Unlock()
		return
	}

	sawTx := false
	allBlocksExisted := true
	allAdded := true

	// fork_max_height bounds how far ahead of our tip an announced block may
	// sit; a hash we have never seen carries no height of its own, so this
	// is enforced as the per-peer announced-block capacity inside
	// Schedule.AddNewInv (MAX_PEER_BLOCK_INV_COUNT) rather than per hash here.
	for _, inv := range e.Invs {
		switch inv.Kind {
		case KindTx:
			sawTx = true
			if nc.txPool.Exists(inv.Hash) || nc.chain.ExistsTx(inv.Hash) {
				continue
			}
			if !s.AddNewInv(inv, e.Peer) {
				allAdded = false
			}
		case KindBlock:
			if nc.chain.Exists(inv.Hash) {
				continue
			}
			if _, cached := s.GetCacheLocalPowBlock(inv.Hash); cached {
				continue
			}
			allBlocksExisted = false
			if !s.AddNewInv(inv, e.Peer) {
				allAdded = false
			}
		}
	}
	ps := s.peerState(e.Peer)
	if allBlocksExisted {
		ps.nextGetBlocksTime = time.Time{} // immediate
	} else if allAdded {
		// halve the remaining wait rather than the configured interval itself,
		// since nextGetBlocksTime is an absolute deadline, not a duration.
		if remaining := ps.nextGetBlocksTime.Sub(now); remaining > 0 {
			ps.nextGetBlocksTime = now.Add(remaining / 2)
		}
	}
	nc.schedMu.Unlock()

	if sawTx {
		nc.emit(OutPeerMsgRspEvent{eventHeader: eventHeader{Peer: e.Peer, Fork: e.Fork}, ReqType: ReqInv, SubType: SubTxInvReceived})
	}

	nc.scheduleInvForPeer(e.Peer, e.Fork, now)
}

func (nc *NetChannel) handlePeerGetData(e PeerGetDataEvent) {
	var fail []InvKey
	for _, inv := range e.Invs {
		switch inv.Kind {
		case KindTx:
			if tx, ok := nc.txPool.Get(inv.Hash); ok {
				nc.emit(OutPeerTxEvent{eventHeader: eventHeader{Peer: e.Peer, Fork: e.Fork}, Tx: tx})
				continue
			}
			if tx, ok := nc.chain.GetTransactionAndIndex(inv.Hash); ok {
				nc.emit(OutPeerTxEvent{eventHeader: eventHeader{Peer: e.Peer, Fork: e.Fork}, Tx: tx})
				continue
			}
			fail = append(fail, inv)
		case KindBlock:
			if block, ok := nc.chain.GetBlock(inv.Hash); ok {
				nc.emit(OutPeerBlockEvent{eventHeader: eventHeader{Peer: e.Peer, Fork: e.Fork}, Block: block})
				continue
			}
			if e.Fork == nc.cfg.GenesisFork {
				nc.schedMu.Lock()
				s, ok := nc.schedLocked(e.Fork)
				var cached Block
				var hit bool
				if ok {
					cached, hit = s.GetCacheLocalPowBlock(inv.Hash)
				}
				nc.schedMu.Unlock()
				if hit {
					nc.emit(OutPeerBlockEvent{eventHeader: eventHeader{Peer: e.Peer, Fork: e.Fork}, Block: cached})
					continue
				}
			}
			fail = append(fail, inv)
		}
	}
	if len(fail) > 0 {
		nc.emit(OutPeerGetFailEvent{eventHeader: eventHeader{Peer: e.Peer, Fork: e.Fork}, Invs: fail})
	}
}

func (nc *NetChannel) handlePeerGetBlocks(e PeerGetBlocksEvent) {
	hashes, ok := nc.chain.GetBlockInv(e.Fork, e.Locator, MaxGetBlocksCount)
	if !ok || len(hashes) == 0 {
		status, has := nc.chain.GetLastBlockStatus(e.Fork)
		sub := SubGetBlocksEmpty
		if has && len(e.Locator) > 0 && e.Locator[0] == status.Hash {
			sub = SubGetBlocksEqual
		}
		nc.emit(OutPeerMsgRspEvent{eventHeader: eventHeader{Peer: e.Peer, Fork: e.Fork}, ReqType: ReqGetBlocks, SubType: sub})
		return
	}
	invs := make([]InvKey, 0, len(hashes))
	for _, h := range hashes {
		invs = append(invs, InvKey{Kind: KindBlock, Hash: h})
	}
	nc.emit(OutPeerInvEvent{eventHeader: eventHeader{Peer: e.Peer, Fork: e.Fork}, Invs: invs})
}

func (nc *NetChannel) handlePeerTx(e PeerTxEvent) {
	nc.schedMu.Lock()
	s, ok := nc.schedLocked(e.Fork)
	if !ok {
		nc.schedMu.Unlock()
		return
	}
	_, ok = s.ReceiveTx(e.Peer, e.Tx.Hash(), e.Tx)
	if !ok {
		nc.schedMu.Unlock()
		return
	}
	if e.Tx.IsReward() {
		s.SetDelayedClear(InvKey{Kind: KindTx, Hash: e.Tx.Hash()}, time.Now().Add(MinExpiredTime))
		nc.schedMu.Unlock()
		return
	}
	nc.addNewTxLocked(e.Fork, s, []common.Hash{e.Tx.Hash()}, map[common.Hash]Tx{e.Tx.Hash(): e.Tx}, e.Peer)
	nc.schedMu.Unlock()
}

func (nc *NetChannel) handlePeerBlock(e PeerBlockEvent) {
	nc.schedMu.Lock()
	defer nc.schedMu.Unlock()

	s, ok := nc.schedLocked(e.Fork)
	if !ok {
		return
	}
	_, ok = s.ReceiveBlock(e.Peer, e.Block.Hash(), e.Block)
	if !ok {
		return
	}

	if !nc.cfg.Testnet && e.Block.IsPrimary() && !nc.chain.VerifyCheckPoint(e.Block.Height(), e.Block.Hash()) {
		nc.reportMisbehavior(e.Peer, e.Fork, ReasonDDosAttack, "checkpoint mismatch")
		return
	}

	if !e.Block.IsPrimary() && nc.chain.IsVacantBlockBeforeCreatedForkHeight(e.Block) && !e.Block.IsVacant() {
		nc.reportMisbehavior(e.Peer, e.Fork, ReasonDDosAttack, "expected vacant block before fork creation height")
		return
	}

	if nc.chain.Exists(e.Block.ParentHash()) {
		nc.addNewBlockLocked(e.Fork, s, []Block{e.Block}, e.Peer)
		return
	}

	s.AddOrphanBlockPrev(InvKey{Kind: KindBlock, Hash: e.Block.Hash()}, e.Block.ParentHash())
}

func (nc *NetChannel) handlePeerGetFail(e PeerGetFailEvent) {
	nc.schedMu.Lock()
	s, ok := nc.schedLocked(e.Fork)
	if !ok {
		nc.schedMu.Unlock()
		return
	}
	for _, inv := range e.Invs {
		s.CancelAssignedInv(e.Peer, inv)
	}
	nc.schedMu.Unlock()

	nc.scheduleInvForPeer(e.Peer, e.Fork, time.Now())
}

func (nc *NetChannel) handlePeerMsgRsp(e PeerMsgRspEvent) {
	p, ok := nc.lookupPeer(e.Peer)
	if !ok {
		return
	}
	fs := p.ForkState(e.Fork)

	switch e.ReqType {
	case ReqInv:
		switch e.SubType {
		case SubTxInvReceived:
			fs.ResetTxInvSynStatus(false)
		case SubTxInvComplete:
			fs.ResetTxInvSynStatus(true)
			nc.BroadcastTxInv(e.Fork)
		}
	case ReqGetBlocks:
		switch e.SubType {
		case SubGetBlocksEmpty:
			nc.schedMu.Lock()
			if ps, ok := nc.schedLocked(e.Fork); ok {
				ps.peerState(e.Peer).locatorInvBlockHash = common.Hash{}
			}
			nc.schedMu.Unlock()
			locator := nc.chain.GetBlockLocator(e.Fork)
			nc.emit(OutPeerGetBlocksEvent{eventHeader: eventHeader{Peer: e.Peer, Fork: e.Fork}, Locator: locator})
		case SubGetBlocksEqual:
			nc.schedMu.Lock()
			if ps, ok := nc.schedLocked(e.Fork); ok {
				ps.peerState(e.Peer).nextGetBlocksTime = time.Now().Add(GetBlocksIntervalEqualTime)
			}
			nc.schedMu.Unlock()
			nc.scheduleInvForPeer(e.Peer, e.Fork, time.Now())
		}
	}
}

// scheduleInvForPeer runs SchedulePeerInv under schedMu.
func (nc *NetChannel) scheduleInvForPeer(peer PeerID, fork ForkHash, now time.Time) {
	nc.schedMu.Lock()
	nc.scheduleInvForPeerLocked(peer, fork, now)
	nc.schedMu.Unlock()
}

// scheduleInvForPeerLocked requests the next batch of block/tx invs from
// peer on fork and, when the Schedule reports a gap in the block prefix,
// asks for a fresh GetBlocks locator. Callers must hold schedMu.
func (nc *NetChannel) scheduleInvForPeerLocked(peer PeerID, fork ForkHash, now time.Time) {
	s, ok := nc.schedLocked(fork)
	if !ok {
		return
	}

	blockBudget := MaxPeerSchedCount - *s.inFlight(peer, KindBlock)
	if blockBudget > 0 {
		picked, missingPrev, _ := s.ScheduleBlockInv(peer, blockBudget, now, nc.chain.Exists)
		if len(picked) > 0 {
			nc.emit(OutPeerGetDataEvent{eventHeader: eventHeader{Peer: peer, Fork: fork}, Invs: picked})
		}
		if missingPrev {
			ps := s.peerState(peer)
			if !now.Before(ps.nextGetBlocksTime) {
				locator := nc.chain.GetBlockLocator(fork)
				nc.emit(OutPeerGetBlocksEvent{eventHeader: eventHeader{Peer: peer, Fork: fork}, Locator: locator})
				ps.nextGetBlocksTime = now.Add(GetBlocksIntervalDefTime)
			}
		}
	}

	txBudget := MaxPeerSchedCount - *s.inFlight(peer, KindTx)
	if txBudget > 0 {
		picked, _ := s.ScheduleTxInv(peer, txBudget, now)
		if len(picked) > 0 {
			nc.emit(OutPeerGetDataEvent{eventHeader: eventHeader{Peer: peer, Fork: fork}, Invs: picked})
		}
	}
}

// pushTxInvToPeer sends one PeerForkState.MakeTxInv batch immediately,
// used on peer activation ahead of the debounced broadcast cycle.
func (nc *NetChannel) pushTxInvToPeer(peer PeerID, fork ForkHash, now time.Time) {
	p, ok := nc.lookupPeer(peer)
	if !ok {
		return
	}
	fs := p.ForkState(fork)
	batch := fs.MakeTxInv(nc.txPool, now)
	if len(batch) == 0 {
		return
	}
	invs := make([]InvKey, 0, len(batch))
	for _, h := range batch {
		invs = append(invs, InvKey{Kind: KindTx, Hash: h})
	}
	nc.emit(OutPeerInvEvent{eventHeader: eventHeader{Peer: peer, Fork: fork}, Invs: invs})
}
