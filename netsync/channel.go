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

// Package netsync implements the per-fork inventory scheduler and peer
// event orchestrator that synchronize blocks and transactions across an
// untrusted peer set.
package netsync

import (
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"

	"github.com/probeum/netsync/log"
)

// Config holds the core's tunables. It carries no file/CLI loading of its
// own (that machinery is a non-goal); a host constructs one directly.
type Config struct {
	GenesisFork ForkHash
	Testnet     bool

	PushTxTimeout     time.Duration
	SynTxInvTimeout   time.Duration
	ForkUpdateTimeout time.Duration
}

// DefaultConfig returns the tunables from spec §6.
func DefaultConfig(genesis ForkHash) Config {
	return Config{
		GenesisFork:       genesis,
		PushTxTimeout:     PushTxTimeout,
		SynTxInvTimeout:   SynTxInvTimeout,
		ForkUpdateTimeout: ForkUpdateTimeout,
	}
}

// NetChannel is the outermost orchestrator: it owns every Schedule and
// every PeerState, consumes typed peer events, drives the Schedule
// operations (C1-C3) and delegates accepted blocks/txs to the Dispatcher.
//
// Concurrency follows spec §5: mapPeer/mapUnsync are guarded by a single
// RWMutex; the Schedule table is guarded by a single Mutex. Go has no
// reentrant mutex, so code that would recursively re-enter Schedule
// operations in the source (ref-block unlock, local-pow submission) instead
// calls the *Locked helpers with schedMu already held: orphan children are
// appended to addNewBlockLocked's worklist, and each unlocked ref-block child
// runs through its own nested addNewBlockLocked call — see channel_block.go
// (§9 design note).
type NetChannel struct {
	cfg Config
	log log.Logger

	chain      ChainEngine
	txPool     TxPool
	dispatcher Dispatcher
	oracle     ConsensusOracle
	transport  PeerTransport

	peerMu sync.RWMutex
	peers  map[PeerID]*PeerState
	unsync map[ForkHash]mapset.Set // PeerID set: peers behind on this fork

	schedMu   sync.Mutex
	sched     map[ForkHash]*Schedule
	primary   ForkHash

	pushMu           sync.Mutex
	pushTxForkQueue  mapset.Set
	pushTxTimerArmed bool
	pushTimer        *time.Timer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewNetChannel wires a NetChannel against its external collaborators
// (§4.5). The genesis fork is subscribed (as primary) immediately.
func NewNetChannel(cfg Config, chain ChainEngine, txPool TxPool, dispatcher Dispatcher, oracle ConsensusOracle, transport PeerTransport) *NetChannel {
	nc := &NetChannel{
		cfg:             cfg,
		log:             log.New("module", "netsync"),
		chain:           chain,
		txPool:          txPool,
		dispatcher:      dispatcher,
		oracle:          oracle,
		transport:       transport,
		peers:           make(map[PeerID]*PeerState),
		unsync:          make(map[ForkHash]mapset.Set),
		sched:           make(map[ForkHash]*Schedule),
		primary:         cfg.GenesisFork,
		pushTxForkQueue: mapset.NewThreadUnsafeSet(),
		pushTimer:       time.NewTimer(time.Hour),
		stopCh:          make(chan struct{}),
	}
	if !nc.pushTimer.Stop() {
		<-nc.pushTimer.C
	}
	nc.subscribeForkLocked(cfg.GenesisFork, true)
	return nc
}

// Start launches the push-tx and fork-update timer loops. Handlers
// themselves are driven synchronously by HandleEvent; Start only owns the
// background timer goroutines, mirroring the teacher's Start/Stop pairing
// of goroutines with a WaitGroup and a single quit channel.
func (nc *NetChannel) Start() {
	nc.wg.Add(2)
	go nc.pushTxTimerLoop()
	go nc.forkUpdateTimerLoop()
}

// Stop cancels the timer loops and waits for them to exit. Handlers
// in-flight via HandleEvent are the caller's responsibility to drain first.
func (nc *NetChannel) Stop() {
	close(nc.stopCh)
	nc.wg.Wait()
	nc.log.Info("netsync channel stopped")
}

// SubscribeFork creates a Schedule for fork if one does not already exist.
func (nc *NetChannel) SubscribeFork(fork ForkHash, isPrimary bool) {
	nc.schedMu.Lock()
	defer nc.schedMu.Unlock()
	nc.subscribeForkLocked(fork, isPrimary)
}

func (nc *NetChannel) subscribeForkLocked(fork ForkHash, isPrimary bool) {
	if _, ok := nc.sched[fork]; ok {
		return
	}
	nc.sched[fork] = NewSchedule(fork, isPrimary)
	if isPrimary {
		nc.primary = fork
	}
	nc.peerMu.Lock()
	if _, ok := nc.unsync[fork]; !ok {
		nc.unsync[fork] = mapset.NewThreadUnsafeSet()
	}
	nc.peerMu.Unlock()
}

// UnsubscribeFork destroys fork's Schedule and every peer assignment and
// timer referencing it. After this returns, invariant I5 holds: no
// entries, timers, or peer assignments referencing fork remain.
func (nc *NetChannel) UnsubscribeFork(fork ForkHash) {
	nc.schedMu.Lock()
	delete(nc.sched, fork)
	nc.schedMu.Unlock()

	nc.peerMu.Lock()
	delete(nc.unsync, fork)
	for _, p := range nc.peers {
		p.RemoveFork(fork)
	}
	nc.peerMu.Unlock()

	nc.pushMu.Lock()
	nc.pushTxForkQueue.Remove(fork)
	nc.pushMu.Unlock()
}

// GetPrimaryChainHeight returns the local height of the primary chain.
func (nc *NetChannel) GetPrimaryChainHeight() int {
	status, ok := nc.chain.GetLastBlockStatus(nc.primary)
	if !ok {
		return 0
	}
	return int(status.Height)
}

// IsForkSynchronized reports whether no peer is known to have blocks beyond
// our local tip on fork.
func (nc *NetChannel) IsForkSynchronized(fork ForkHash) bool {
	nc.peerMu.RLock()
	defer nc.peerMu.RUnlock()
	set, ok := nc.unsync[fork]
	if !ok {
		return false
	}
	return set.Cardinality() == 0
}

// lookupPeer returns a peer's state under the read lock.
func (nc *NetChannel) lookupPeer(id PeerID) (*PeerState, bool) {
	nc.peerMu.RLock()
	defer nc.peerMu.RUnlock()
	p, ok := nc.peers[id]
	return p, ok
}

// markSynchronized removes peer from fork's unsync set (called once the
// peer's locator catches up to our tip).
func (nc *NetChannel) markSynchronized(fork ForkHash, peer PeerID) {
	nc.peerMu.Lock()
	defer nc.peerMu.Unlock()
	if set, ok := nc.unsync[fork]; ok {
		set.Remove(peer)
	}
}

// markUnsynchronized adds peer to fork's unsync set.
func (nc *NetChannel) markUnsynchronized(fork ForkHash, peer PeerID) {
	nc.peerMu.Lock()
	defer nc.peerMu.Unlock()
	if _, ok := nc.unsync[fork]; !ok {
		nc.unsync[fork] = mapset.NewThreadUnsafeSet()
	}
	nc.unsync[fork].Add(peer)
}

func (nc *NetChannel) emit(ev OutboundEvent) {
	nc.transport.DispatchEvent(ev)
}

func (nc *NetChannel) reportMisbehavior(peer PeerID, fork ForkHash, reason PeerCloseReason, detail string) {
	nc.log.Warn("peer misbehavior", "peer", peer, "fork", fork, "reason", reason, "detail", detail)
	nc.emit(OutPeerNetCloseEvent{eventHeader: eventHeader{Peer: peer, Fork: fork}, Reason: reason, Detail: detail})
}

func (nc *NetChannel) award(peer PeerID, fork ForkHash) {
	nc.emit(OutPeerNetRewardEvent{eventHeader: eventHeader{Peer: peer, Fork: fork}})
}
