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

// addNewTxLocked runs the AddNewTx worklist (§4.4) against seed. Like
// addNewBlockLocked, successor txs unlocked by GetNextTx are appended to
// the same worklist instead of recursing, since schedMu is not reentrant.
// Callers must already hold schedMu.
func (nc *NetChannel) addNewTxLocked(fork ForkHash, s *Schedule, seed []common.Hash, payload map[common.Hash]Tx, peer PeerID) {
	worklist := append([]common.Hash(nil), seed...)
	var reschedule []PeerID
	applied := false

	for i := 0; i < len(worklist); i++ {
		txid := worklist[i]
		invKey := InvKey{Kind: KindTx, Hash: txid}

		tx, ok := payload[txid]
		if !ok {
			entry, hasEntry := s.get(invKey)
			if !hasEntry || entry.tx == nil {
				continue
			}
			tx = entry.tx
		}

		entry, hasEntry := s.get(invKey)
		var knownPeers mapset.Set
		if hasEntry {
			knownPeers = entry.knownPeers
		}

		// A non-cert tx whose nonce the pool has already surpassed is
		// already included; only its sequential successor can still matter.
		if !tx.IsCertTx() && tx.Nonce() < nc.txPool.GetDestNextTxNonce(tx.From()) {
			if next, ok := s.GetNextTx(tx.From(), tx.Nonce()+1); ok {
				worklist = append(worklist, next)
			}
			s.Remove(invKey)
			continue
		}

		errno := nc.dispatcher.AddNewTx(fork, tx, peer)
		switch errno {
		case ErrnoOK:
			applied = true
			if next, ok := s.GetNextTx(tx.From(), tx.Nonce()+1); ok {
				worklist = append(worklist, next)
			}
			if knownPeers != nil {
				reschedule = append(reschedule, peerSetSlice(knownPeers)...)
			}
			nc.award(peer, fork)
			s.Remove(invKey)
		case ErrnoMissingPrev, ErrnoConflictingInput, ErrnoAlreadyHave:
			s.Remove(invKey)
		case ErrnoTooManyCertTx:
			s.SetDelayedClear(invKey, time.Now().Add(ExpiredTime))
		default:
			// validation loss is not automatically malicious (§7.3)
			s.SetDelayedClear(invKey, time.Now().Add(ExpiredTime))
		}
	}

	if applied {
		nc.broadcastTxInvLocked(fork)
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
