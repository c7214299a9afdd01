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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probeum/netsync/common"
)

// fakeTxPool is a minimal TxPool fixture for PeerForkState.MakeTxInv.
type fakeTxPool struct {
	txs []Tx
}

func (p *fakeTxPool) Exists(common.Hash) bool                    { return false }
func (p *fakeTxPool) Get(common.Hash) (Tx, bool)                 { return nil, false }
func (p *fakeTxPool) ListTx(max int) []Tx {
	if max >= len(p.txs) {
		return p.txs
	}
	return p.txs[:max]
}
func (p *fakeTxPool) CheckTxNonce(common.Address, uint64) bool   { return true }
func (p *fakeTxPool) GetDestNextTxNonce(common.Address) uint64   { return 0 }
func (p *fakeTxPool) Size() int                                  { return len(p.txs) }

func TestPeerForkStateCheckInitialAllowsSync(t *testing.T) {
	fs := NewPeerForkState()
	assert.Equal(t, AllowSyn, fs.Check(time.Now()))
}

func TestPeerForkStateMakeTxInvTransitionsAndFilters(t *testing.T) {
	fs := NewPeerForkState()
	pool := &fakeTxPool{txs: []Tx{
		&fakeTx{hash: hashN(1)},
		&fakeTx{hash: hashN(2)},
	}}
	now := time.Now()

	batch := fs.MakeTxInv(pool, now)
	require.Len(t, batch, 2)
	assert.Equal(t, WaitPeerRecv, fs.TxInvStatus)

	// A second call before a response resets the cycle returns nothing:
	// Check is WaitSyn, not AllowSyn.
	assert.Nil(t, fs.MakeTxInv(pool, now))
}

func TestPeerForkStateResetTxInvSynStatusAdaptsBatchSize(t *testing.T) {
	fs := NewPeerForkState()
	// A fresh state starts at MaxSynTxInvCount; start below the cap so an
	// incomplete response has room to grow the batch.
	fs.SingleSynTxInvCount = MaxSynTxInvCount / 2
	start := fs.SingleSynTxInvCount

	fs.ResetTxInvSynStatus(false) // incomplete: peer is behind, grow the batch
	assert.Equal(t, WaitPeerComplete, fs.TxInvStatus)
	assert.Greater(t, fs.SingleSynTxInvCount, start)

	fs.ResetTxInvSynStatus(true) // complete: peer caught up, shrink it
	assert.Equal(t, AllowSync, fs.TxInvStatus)
	assert.Less(t, fs.SingleSynTxInvCount, MaxSynTxInvCount)
}

func TestPeerForkStateCheckTimesOut(t *testing.T) {
	fs := NewPeerForkState()
	fs.TxInvStatus = WaitPeerRecv
	fs.TxInvSendTime = time.Now().Add(-SynTxInvTimeout - time.Second)

	assert.Equal(t, WaitTimeout, fs.Check(time.Now()))
}

func TestPeerStateForkLifecycle(t *testing.T) {
	p := NewPeerState(NewPeerID(), "127.0.0.1:30303", true)
	fork := hashN(9)

	_, ok := p.LookupForkState(fork)
	assert.False(t, ok)

	fs := p.ForkState(fork)
	require.NotNil(t, fs)
	assert.Len(t, p.Forks(), 1)

	p.RemoveFork(fork)
	_, ok = p.LookupForkState(fork)
	assert.False(t, ok)
	assert.Len(t, p.Forks(), 0)
}
