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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probeum/netsync/common"
)

// fakeChainEngine is a minimal, configurable ChainEngine fixture.
type fakeChainEngine struct {
	mu         sync.Mutex
	exists     map[common.Hash]bool
	blocks     map[common.Hash]Block
	repeatMint bool
}

func newFakeChainEngine() *fakeChainEngine {
	return &fakeChainEngine{exists: make(map[common.Hash]bool), blocks: make(map[common.Hash]Block)}
}

func (c *fakeChainEngine) GetLastBlockStatus(ForkHash) (BlockStatus, bool) { return BlockStatus{}, true }
func (c *fakeChainEngine) GetBlockLocation(common.Hash) (ForkHash, uint64, bool) {
	return ForkHash{}, 0, false
}
func (c *fakeChainEngine) Exists(hash common.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exists[hash]
}
func (c *fakeChainEngine) GetBlockInv(ForkHash, []common.Hash, int) ([]common.Hash, bool) {
	return nil, false
}
func (c *fakeChainEngine) GetBlockLocator(ForkHash) []common.Hash { return []common.Hash{hashN(0)} }
func (c *fakeChainEngine) GetForkStorageMaxHeight(ForkHash) uint64 { return 0 }
func (c *fakeChainEngine) VerifyPowBlock(Block) bool               { return true }
func (c *fakeChainEngine) VerifyCheckPoint(uint64, common.Hash) bool { return true }
func (c *fakeChainEngine) VerifyRepeatBlock(Block) bool            { return c.repeatMint }
func (c *fakeChainEngine) IsVacantBlockBeforeCreatedForkHeight(Block) bool { return false }
func (c *fakeChainEngine) ListForkContext() []ForkHash             { return nil }
func (c *fakeChainEngine) GetBlock(hash common.Hash) (Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.blocks[hash]
	return b, ok
}
func (c *fakeChainEngine) GetTransactionAndIndex(common.Hash) (Tx, bool) { return nil, false }
func (c *fakeChainEngine) ExistsTx(common.Hash) bool                    { return false }

func (c *fakeChainEngine) markExists(hash common.Hash, b Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exists[hash] = true
	c.blocks[hash] = b
}

// fakeTxPoolFull additionally satisfies TxPool for channel-level tests.
type fakeTxPoolFull struct{ fakeTxPool }

// fakeDispatcher returns canned Errno values, recording every call. An
// ErrnoOK block commits to chain as a side effect, since a real Dispatcher
// accepting a block is exactly what makes ChainEngine.Exists see it next.
type fakeDispatcher struct {
	mu          sync.Mutex
	blockErrno  Errno
	txErrno     Errno
	blocksSeen  []common.Hash
	txsSeen     []common.Hash
	chain       *fakeChainEngine
}

func (d *fakeDispatcher) AddNewBlock(block Block, peer PeerID) Errno {
	d.mu.Lock()
	d.blocksSeen = append(d.blocksSeen, block.Hash())
	errno := d.blockErrno
	d.mu.Unlock()
	if errno == ErrnoOK && d.chain != nil {
		d.chain.markExists(block.Hash(), block)
	}
	return errno
}

func (d *fakeDispatcher) AddNewTx(fork ForkHash, tx Tx, peer PeerID) Errno {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txsSeen = append(d.txsSeen, tx.Hash())
	return d.txErrno
}

type fakeOracle struct{}

func (fakeOracle) GetNextConsensus() (common.Hash, bool)        { return common.Hash{}, false }
func (fakeOracle) GetAgreement(uint64) (interface{}, bool)      { return nil, false }

// fakeTransport records every outbound event for assertion.
type fakeTransport struct {
	mu     sync.Mutex
	events []OutboundEvent
}

func (f *fakeTransport) DispatchEvent(ev OutboundEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}
func (f *fakeTransport) SetTimer(int64, func()) uint32 { return 0 }
func (f *fakeTransport) CancelTimer(uint32)             {}

func (f *fakeTransport) eventsOfType(match func(OutboundEvent) bool) []OutboundEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []OutboundEvent
	for _, ev := range f.events {
		if match(ev) {
			out = append(out, ev)
		}
	}
	return out
}

func newTestChannel(blockErrno, txErrno Errno) (*NetChannel, *fakeChainEngine, *fakeDispatcher, *fakeTransport) {
	genesis := hashN(0)
	chain := newFakeChainEngine()
	pool := &fakeTxPoolFull{}
	dispatcher := &fakeDispatcher{blockErrno: blockErrno, txErrno: txErrno, chain: chain}
	transport := &fakeTransport{}
	nc := NewNetChannel(DefaultConfig(genesis), chain, pool, dispatcher, fakeOracle{}, transport)
	return nc, chain, dispatcher, transport
}

func TestPeerActiveSubscribesGenesisAndRequestsBlocks(t *testing.T) {
	nc, _, _, transport := newTestChannel(ErrnoOK, ErrnoOK)
	genesis := nc.cfg.GenesisFork
	peer := NewPeerID()

	nc.HandleEvent(PeerActiveEvent{
		eventHeader: eventHeader{Peer: peer, Fork: genesis},
		Addr:        "10.0.0.1:30303",
		NodeNetwork: true,
	})

	got := transport.eventsOfType(func(ev OutboundEvent) bool {
		_, ok := ev.(OutPeerGetBlocksEvent)
		return ok
	})
	require.Len(t, got, 1)

	p, ok := nc.lookupPeer(peer)
	require.True(t, ok)
	_, hasForkState := p.LookupForkState(genesis)
	assert.True(t, hasForkState)
}

func TestPeerDeactiveClearsPeerState(t *testing.T) {
	nc, _, _, _ := newTestChannel(ErrnoOK, ErrnoOK)
	genesis := nc.cfg.GenesisFork
	peer := NewPeerID()

	nc.HandleEvent(PeerActiveEvent{eventHeader: eventHeader{Peer: peer, Fork: genesis}})
	_, ok := nc.lookupPeer(peer)
	require.True(t, ok)

	nc.HandleEvent(PeerDeactiveEvent{eventHeader: eventHeader{Peer: peer, Fork: genesis}})
	_, ok = nc.lookupPeer(peer)
	assert.False(t, ok)
}

// requestBlockFrom puts hash's inv entry into the Requested-by-peer state
// ReceiveBlock needs, standing in for a prior PeerInv/GetData round trip
// (ScheduleBlockInv's own prevHash heuristic doesn't apply yet since the
// payload, and so prevHash, isn't known until the block is delivered).
func requestBlockFrom(nc *NetChannel, fork ForkHash, peer PeerID, hash common.Hash) {
	nc.schedMu.Lock()
	defer nc.schedMu.Unlock()
	s := nc.sched[fork]
	invKey := InvKey{Kind: KindBlock, Hash: hash}
	s.AddNewInv(invKey, peer)
	e, _ := s.get(invKey)
	e.state = StateRequested
	e.assigned = true
	e.assignedPeer = peer
	e.requestExpiry = time.Now().Add(ReqTimeout)
}

func TestPeerBlockAcceptedFlowsThroughDispatcherAndAwardsPeer(t *testing.T) {
	nc, chain, dispatcher, transport := newTestChannel(ErrnoOK, ErrnoOK)
	genesis := nc.cfg.GenesisFork
	peer := NewPeerID()
	nc.HandleEvent(PeerActiveEvent{eventHeader: eventHeader{Peer: peer, Fork: genesis}})

	parent := hashN(1)
	chain.markExists(parent, nil)
	block := &fakeBlock{hash: hashN(2), parent: parent, fork: genesis, primary: true, pow: false}
	requestBlockFrom(nc, genesis, peer, block.Hash())

	nc.HandleEvent(PeerBlockEvent{eventHeader: eventHeader{Peer: peer, Fork: genesis}, Block: block})

	assert.Contains(t, dispatcher.blocksSeen, block.Hash())
	rewards := transport.eventsOfType(func(ev OutboundEvent) bool {
		_, ok := ev.(OutPeerNetRewardEvent)
		return ok
	})
	assert.NotEmpty(t, rewards)
}

func TestPeerGetBlocksEmptyRespondsWithMsgRsp(t *testing.T) {
	nc, _, _, transport := newTestChannel(ErrnoOK, ErrnoOK)
	genesis := nc.cfg.GenesisFork
	peer := NewPeerID()
	nc.HandleEvent(PeerActiveEvent{eventHeader: eventHeader{Peer: peer, Fork: genesis}})

	nc.HandleEvent(PeerGetBlocksEvent{eventHeader: eventHeader{Peer: peer, Fork: genesis}, Locator: []common.Hash{hashN(5)}})

	rsps := transport.eventsOfType(func(ev OutboundEvent) bool {
		r, ok := ev.(OutPeerMsgRspEvent)
		return ok && r.ReqType == ReqGetBlocks
	})
	assert.NotEmpty(t, rsps)
}

// S2 — orphan reassembly: B10 (prev=B9) arrives before B9 does. B9 then
// arrives from a different peer with a known parent; B10 must apply in the
// same AddNewBlock worklist, after B9, without a fresh announcement.
func TestOrphanBlockAppliesAfterItsParentArrives(t *testing.T) {
	nc, chain, dispatcher, _ := newTestChannel(ErrnoOK, ErrnoOK)
	genesis := nc.cfg.GenesisFork
	peerA := NewPeerID()
	peerB := peerN(2)

	grandparent := hashN(8)
	chain.markExists(grandparent, nil)
	b9 := &fakeBlock{hash: hashN(9), parent: grandparent, fork: genesis, primary: true}
	b10 := &fakeBlock{hash: hashN(10), parent: b9.Hash(), fork: genesis, primary: true}

	requestBlockFrom(nc, genesis, peerA, b10.Hash())
	nc.HandleEvent(PeerBlockEvent{eventHeader: eventHeader{Peer: peerA, Fork: genesis}, Block: b10})
	assert.Empty(t, dispatcher.blocksSeen, "B10 must park as an orphan until B9 is known")

	requestBlockFrom(nc, genesis, peerB, b9.Hash())
	nc.HandleEvent(PeerBlockEvent{eventHeader: eventHeader{Peer: peerB, Fork: genesis}, Block: b9})

	require.Equal(t, []common.Hash{b9.Hash(), b10.Hash()}, dispatcher.blocksSeen)
}

// S3 — tx-inv backpressure: a 1500-tx pool is pushed to a peer in
// MAX_INV_COUNT-capped batches. The next batch is withheld until the prior
// one is acknowledged (here, by MsgRsp(INV, TXINV_COMPLETE) — the only
// PeerForkState transition that both reopens AllowSync and re-arms the push,
// per ResetTxInvSynStatus/handlePeerMsgRsp), and single_syn_tx_inv_count
// shrinks toward MIN with each completion.
func TestTxInvBackpressureGatedByAckAndShrinksBatch(t *testing.T) {
	genesis := hashN(0)
	chain := newFakeChainEngine()
	pool := &fakeTxPool{}
	for i := 0; i < 1500; i++ {
		pool.txs = append(pool.txs, &fakeTx{hash: hashIdx(i)})
	}
	dispatcher := &fakeDispatcher{blockErrno: ErrnoOK, txErrno: ErrnoOK, chain: chain}
	transport := &fakeTransport{}
	nc := NewNetChannel(DefaultConfig(genesis), chain, pool, dispatcher, fakeOracle{}, transport)

	peer := NewPeerID()
	nc.HandleEvent(PeerActiveEvent{eventHeader: eventHeader{Peer: peer, Fork: genesis}, NodeNetwork: true})

	invBatches := func() []OutPeerInvEvent {
		var out []OutPeerInvEvent
		for _, ev := range transport.eventsOfType(func(ev OutboundEvent) bool {
			_, ok := ev.(OutPeerInvEvent)
			return ok
		}) {
			out = append(out, ev.(OutPeerInvEvent))
		}
		return out
	}

	batches := invBatches()
	require.Len(t, batches, 1, "peer activation pushes the first batch immediately")
	assert.Len(t, batches[0].Invs, MaxInvCount)

	assert.False(t, nc.pushTxInv(genesis), "no second batch before the first is acknowledged")
	assert.Len(t, invBatches(), 1)

	ackComplete := func() {
		nc.HandleEvent(PeerMsgRspEvent{eventHeader: eventHeader{Peer: peer, Fork: genesis}, ReqType: ReqInv, SubType: SubTxInvComplete})
		nc.pushTxInv(genesis)
	}

	p, ok := nc.lookupPeer(peer)
	require.True(t, ok)
	fs, ok := p.LookupForkState(genesis)
	require.True(t, ok)
	firstCount := fs.SingleSynTxInvCount

	ackComplete()
	batches = invBatches()
	require.Len(t, batches, 2, "TXINV_COMPLETE reopens AllowSync and re-triggers the push")
	secondCount := fs.SingleSynTxInvCount
	assert.Less(t, secondCount, firstCount, "TXINV_COMPLETE halves SingleSynTxInvCount (§4.2)")
	assert.Len(t, batches[1].Invs, secondCount)
}

// S5 — repeat mint: two distinct peers each deliver a competing block at the
// same parent, both flagged by VerifyRepeatBlock. The first is tolerated and
// applied; the second is a DDOS_ATTACK misbehavior, never reaching Dispatcher.
func TestRepeatMintSecondDistinctPeerIsMisbehavior(t *testing.T) {
	nc, chain, dispatcher, transport := newTestChannel(ErrnoOK, ErrnoOK)
	chain.repeatMint = true
	genesis := nc.cfg.GenesisFork
	peerA := NewPeerID()
	peerB := peerN(2)

	parent := hashN(1)
	chain.markExists(parent, nil)
	blockA := &fakeBlock{hash: hashN(2), parent: parent, fork: genesis, primary: true}
	blockB := &fakeBlock{hash: hashN(3), parent: parent, fork: genesis, primary: true}

	requestBlockFrom(nc, genesis, peerA, blockA.Hash())
	nc.HandleEvent(PeerBlockEvent{eventHeader: eventHeader{Peer: peerA, Fork: genesis}, Block: blockA})
	assert.Contains(t, dispatcher.blocksSeen, blockA.Hash(), "the first peer's competing block is tolerated and applied")

	requestBlockFrom(nc, genesis, peerB, blockB.Hash())
	nc.HandleEvent(PeerBlockEvent{eventHeader: eventHeader{Peer: peerB, Fork: genesis}, Block: blockB})
	assert.NotContains(t, dispatcher.blocksSeen, blockB.Hash(), "the second distinct peer's competing block never reaches the dispatcher")

	closes := transport.eventsOfType(func(ev OutboundEvent) bool {
		c, ok := ev.(OutPeerNetCloseEvent)
		return ok && c.Peer == peerB && c.Reason == ReasonDDosAttack
	})
	assert.NotEmpty(t, closes)

	closesA := transport.eventsOfType(func(ev OutboundEvent) bool {
		c, ok := ev.(OutPeerNetCloseEvent)
		return ok && c.Peer == peerA
	})
	assert.Empty(t, closesA)
}

// S6 — subsidiary ref-block: a subsidiary block parked on an unresolved
// primary ref block is automatically re-submitted, through
// NetChannel.getNextRefBlockLocked, once that ref block lands on the primary
// fork — no re-announcement needed.
func TestSubsidiaryBlockUnlockedWhenItsRefBlockArrives(t *testing.T) {
	nc, chain, dispatcher, _ := newTestChannel(ErrnoOK, ErrnoOK)
	genesis := nc.cfg.GenesisFork
	subFork := hashN(50)
	nc.SubscribeFork(subFork, false)

	peer := NewPeerID()
	primaryParent := hashN(1)
	chain.markExists(primaryParent, nil)
	primaryBlock := &fakeBlock{hash: hashN(2), parent: primaryParent, fork: genesis, primary: true}

	subParent := hashN(40)
	chain.markExists(subParent, nil)
	subBlock := &fakeBlock{
		hash: hashN(41), parent: subParent, fork: subFork, primary: false,
		ref: primaryBlock.Hash(), hasRef: true,
	}

	requestBlockFrom(nc, subFork, peer, subBlock.Hash())
	nc.HandleEvent(PeerBlockEvent{eventHeader: eventHeader{Peer: peer, Fork: subFork}, Block: subBlock})
	assert.NotContains(t, dispatcher.blocksSeen, subBlock.Hash(), "the subsidiary block parks until its ref block is known")

	requestBlockFrom(nc, genesis, peer, primaryBlock.Hash())
	nc.HandleEvent(PeerBlockEvent{eventHeader: eventHeader{Peer: peer, Fork: genesis}, Block: primaryBlock})

	assert.Contains(t, dispatcher.blocksSeen, primaryBlock.Hash())
	assert.Contains(t, dispatcher.blocksSeen, subBlock.Hash(), "the subsidiary block auto-applies once its ref block lands, without re-announcement")
}
