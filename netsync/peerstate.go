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

// TxInvStatus is the three-state tx-inv send cycle from spec §4.2.
type TxInvStatus int

const (
	AllowSync TxInvStatus = iota
	WaitPeerRecv
	WaitPeerComplete
)

// TxInvCheckResult is Check()'s outcome.
type TxInvCheckResult int

const (
	AllowSyn TxInvCheckResult = iota
	WaitSyn
	WaitTimeout
)

// PeerForkState is the per-(peer,fork) record governing subscription,
// tx-inv flow control and known-tx tracking (§3, §4.2).
type PeerForkState struct {
	Subscribed   bool
	Synchronized bool

	KnownTx *PeerKnownTx

	TxInvStatus         TxInvStatus
	TxInvSendTime       time.Time
	SingleSynTxInvCount int
}

// NewPeerForkState returns a fresh PeerForkState in its initial states.
func NewPeerForkState() *PeerForkState {
	return &PeerForkState{
		KnownTx:             NewPeerKnownTx(),
		TxInvStatus:         AllowSync,
		SingleSynTxInvCount: MaxSynTxInvCount,
	}
}

// Check reports the tx-inv cycle's current disposition relative to now.
func (s *PeerForkState) Check(now time.Time) TxInvCheckResult {
	switch s.TxInvStatus {
	case AllowSync:
		return AllowSyn
	default: // WaitPeerRecv, WaitPeerComplete
		if now.Sub(s.TxInvSendTime) < SynTxInvTimeout {
			return WaitSyn
		}
		return WaitTimeout
	}
}

// MakeTxInv builds a batch of up to SingleSynTxInvCount txids from pool that
// are not already in KnownTx. Returns nil if Check() isn't AllowSyn or the
// batch would be empty. On a non-empty batch it transitions the state
// machine and marks the chosen txs known.
func (s *PeerForkState) MakeTxInv(pool TxPool, now time.Time) []common.Hash {
	if s.Check(now) != AllowSyn {
		return nil
	}
	candidates := pool.ListTx(s.SingleSynTxInvCount * 4)
	batch := make([]common.Hash, 0, s.SingleSynTxInvCount)
	for _, tx := range candidates {
		h := tx.Hash()
		if s.KnownTx.Contains(h) {
			continue
		}
		batch = append(batch, h)
		if len(batch) >= s.SingleSynTxInvCount {
			break
		}
	}
	if len(batch) == 0 {
		return nil
	}
	s.TxInvStatus = WaitPeerRecv
	s.TxInvSendTime = now
	s.KnownTx.AddKnownTx(batch, pool.Size(), now)
	return batch
}

// ResetTxInvSynStatus applies the MsgRsp transition and adapts the batch
// size per §4.2.
func (s *PeerForkState) ResetTxInvSynStatus(complete bool) {
	if complete {
		s.TxInvStatus = AllowSync
		s.SingleSynTxInvCount /= 2
		if s.SingleSynTxInvCount < MinSynTxInvCount {
			s.SingleSynTxInvCount = MinSynTxInvCount
		}
	} else {
		s.TxInvStatus = WaitPeerComplete
		s.SingleSynTxInvCount *= 2
		if s.SingleSynTxInvCount > MaxSynTxInvCount {
			s.SingleSynTxInvCount = MaxSynTxInvCount
		}
	}
}

// PeerState is one connected peer's process-wide record: the forks it has
// subscribed to and a PeerForkState per fork, created lazily on subscribe.
type PeerState struct {
	ID          PeerID
	Addr        string
	NodeNetwork bool

	forks map[ForkHash]*PeerForkState
}

// NewPeerState returns a PeerState for a newly activated peer.
func NewPeerState(id PeerID, addr string, nodeNetwork bool) *PeerState {
	return &PeerState{
		ID:          id,
		Addr:        addr,
		NodeNetwork: nodeNetwork,
		forks:       make(map[ForkHash]*PeerForkState),
	}
}

// ForkState returns the PeerForkState for fork, creating it lazily.
func (p *PeerState) ForkState(fork ForkHash) *PeerForkState {
	fs, ok := p.forks[fork]
	if !ok {
		fs = NewPeerForkState()
		p.forks[fork] = fs
	}
	return fs
}

// LookupForkState returns the PeerForkState for fork without creating it.
func (p *PeerState) LookupForkState(fork ForkHash) (*PeerForkState, bool) {
	fs, ok := p.forks[fork]
	return fs, ok
}

// Forks returns the set of forks this peer currently has state for.
func (p *PeerState) Forks() []ForkHash {
	out := make([]ForkHash, 0, len(p.forks))
	for f := range p.forks {
		out = append(out, f)
	}
	return out
}

// RemoveFork drops the fork's state (used by Unsubscribe cleanup, §I5).
func (p *PeerState) RemoveFork(fork ForkHash) {
	delete(p.forks, fork)
}
