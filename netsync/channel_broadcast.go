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
)

// broadcastTxInvLocked is the internal entry point used by addNewTxLocked
// (schedMu already held); the PeerMsgRsp TXINV_COMPLETE handler calls
// BroadcastTxInv directly.
func (nc *NetChannel) broadcastTxInvLocked(fork ForkHash) {
	nc.BroadcastTxInv(fork)
}

// BroadcastTxInv is the host-facing control surface (§6) and the internal
// trigger after a tx is newly accepted: it debounces by PUSH_TX_TIMEOUT —
// queuing fork and returning immediately if a push is already pending.
func (nc *NetChannel) BroadcastTxInv(fork ForkHash) {
	nc.pushMu.Lock()
	defer nc.pushMu.Unlock()
	nc.pushTxForkQueue.Add(fork)
	if nc.pushTxTimerArmed {
		return
	}
	nc.pushTxTimerArmed = true
	nc.armPushTimer(PushTxTimeout)
}

// armPushTimer (re)starts the single push-tx timer. Callers must hold
// pushMu.
func (nc *NetChannel) armPushTimer(d time.Duration) {
	if !nc.pushTimer.Stop() {
		select {
		case <-nc.pushTimer.C:
		default:
		}
	}
	nc.pushTimer.Reset(d)
}

// pushTxTimerLoop fires firePushTxTimer each time armPushTimer's debounce
// window elapses; the timer sits drained and idle between pushes.
func (nc *NetChannel) pushTxTimerLoop() {
	defer nc.wg.Done()
	for {
		select {
		case <-nc.stopCh:
			return
		case <-nc.pushTimer.C:
			nc.firePushTxTimer()
		}
	}
}

func (nc *NetChannel) firePushTxTimer() {
	nc.pushMu.Lock()
	forks := peerSetSliceFromForkSet(nc.pushTxForkQueue)
	nc.pushTxForkQueue = mapset.NewThreadUnsafeSet()
	nc.pushTxTimerArmed = false
	nc.pushMu.Unlock()

	hitCap := false
	for _, fork := range forks {
		if nc.pushTxInv(fork) {
			hitCap = true
		}
	}
	nc.sweepTxInvTimeouts()

	if hitCap {
		// more to send right away: re-debounce rather than busy-loop
		for _, fork := range forks {
			nc.BroadcastTxInv(fork)
		}
		return
	}
	// Idle: re-arm at the longer interval so the timeout sweep above keeps
	// running (I6) even with no further tx traffic to debounce.
	nc.pushMu.Lock()
	nc.armPushTimer(SynTxInvTimeout)
	nc.pushMu.Unlock()
}

// sweepTxInvTimeouts reports a RESPONSE_FAILURE misbehavior for every peer
// whose tx-inv cycle has sat past SYNTXINV_TIMEOUT without a response (I6),
// then resets its cycle so the report does not repeat every tick.
func (nc *NetChannel) sweepTxInvTimeouts() {
	now := time.Now()
	type stuck struct {
		peer PeerID
		fork ForkHash
	}
	var stuckList []stuck

	nc.peerMu.RLock()
	for id, p := range nc.peers {
		for _, fork := range p.Forks() {
			fs, _ := p.LookupForkState(fork)
			if fs != nil && fs.Check(now) == WaitTimeout {
				stuckList = append(stuckList, stuck{peer: id, fork: fork})
			}
		}
	}
	nc.peerMu.RUnlock()

	for _, s := range stuckList {
		if p, ok := nc.lookupPeer(s.peer); ok {
			if fs, ok := p.LookupForkState(s.fork); ok {
				fs.ResetTxInvSynStatus(true)
			}
		}
		nc.reportMisbehavior(s.peer, s.fork, ReasonResponseFailure, "tx-inv cycle timed out")
	}
}

// pushTxInv enumerates every peer subscribed to fork and sends it a fresh
// tx-inv batch via PeerForkState.MakeTxInv. It reports whether any peer's
// batch hit MAX_INV_COUNT (more txs may remain to push).
func (nc *NetChannel) pushTxInv(fork ForkHash) bool {
	now := time.Now()
	hitCap := false

	nc.peerMu.RLock()
	defer nc.peerMu.RUnlock()
	for id, p := range nc.peers {
		fs, ok := p.LookupForkState(fork)
		if !ok {
			continue
		}
		batch := fs.MakeTxInv(nc.txPool, now)
		if len(batch) == 0 {
			continue
		}
		invs := make([]InvKey, 0, len(batch))
		for _, h := range batch {
			invs = append(invs, InvKey{Kind: KindTx, Hash: h})
		}
		nc.emit(OutPeerInvEvent{eventHeader: eventHeader{Peer: id, Fork: fork}, Invs: invs})
		if len(batch) >= MaxInvCount {
			hitCap = true
		}
	}
	return hitCap
}

// forkUpdateTimerLoop reconciles the Schedule set against ChainEngine's
// valid-fork list every FORKUPDATE_TIMEOUT and re-dispatches GetBlocks.
func (nc *NetChannel) forkUpdateTimerLoop() {
	defer nc.wg.Done()
	ticker := time.NewTicker(nc.cfg.ForkUpdateTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-nc.stopCh:
			return
		case <-ticker.C:
			nc.reconcileForks()
		}
	}
}

func (nc *NetChannel) reconcileForks() {
	valid := nc.chain.ListForkContext()
	validSet := make(map[ForkHash]bool, len(valid))
	for _, f := range valid {
		validSet[f] = true
	}

	nc.schedMu.Lock()
	var vanished []ForkHash
	for f := range nc.sched {
		if f == nc.cfg.GenesisFork {
			continue
		}
		if !validSet[f] {
			vanished = append(vanished, f)
		}
	}
	var newForks []ForkHash
	for f := range validSet {
		if _, ok := nc.sched[f]; !ok {
			newForks = append(newForks, f)
		}
	}
	for _, f := range newForks {
		nc.subscribeForkLocked(f, false)
	}
	nc.schedMu.Unlock()

	for _, f := range vanished {
		nc.UnsubscribeFork(f)
	}

	now := time.Now()
	nc.peerMu.RLock()
	type peerFork struct {
		peer PeerID
		fork ForkHash
	}
	var pairs []peerFork
	for id, p := range nc.peers {
		for _, f := range p.Forks() {
			pairs = append(pairs, peerFork{peer: id, fork: f})
		}
	}
	nc.peerMu.RUnlock()

	for _, pf := range pairs {
		nc.scheduleInvForPeer(pf.peer, pf.fork, now)
	}
}

func peerSetSliceFromForkSet(set mapset.Set) []ForkHash {
	out := make([]ForkHash, 0, set.Cardinality())
	for f := range set.Iter() {
		out = append(out, f.(ForkHash))
	}
	return out
}
