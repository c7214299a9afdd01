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

import "time"

// Wire-shared limits. These are fixed integers the transport layer also
// enforces; a mismatch here is a protocol violation, not a tuning choice.
const (
	MaxInvCount          = 500 // MAX_INV_COUNT
	MaxGetBlocksCount     = 128 // MAX_GETBLOCKS_COUNT
	MaxPeerSchedCount    = 8   // MAX_PEER_SCHED_COUNT: in-flight fetches per peer, per kind
	MaxPeerBlockInvCount = 1024
	MaxPeerTxInvCount    = 4096
)

// Timeouts. Values in milliseconds per the source.
const (
	PushTxTimeout    = 1000 * time.Millisecond  // PUSHTX_TIMEOUT
	SynTxInvTimeout  = 60000 * time.Millisecond // SYNTXINV_TIMEOUT
	ForkUpdateTimeout = 120000 * time.Millisecond // FORKUPDATE_TIMEOUT

	GetBlocksIntervalDefTime   = 2 * time.Second  // GET_BLOCKS_INTERVAL_DEF_TIME
	GetBlocksIntervalEqualTime = 30 * time.Second // GET_BLOCKS_INTERVAL_EQUAL_TIME

	ReqTimeout = 5 * time.Second // per-inv request expiry
)

// PeerKnownTx eviction tunables (§4.1).
const (
	KnownInvMaxCount = 20000 // KNOWNINV_MAXCOUNT
	MinExpiredCount  = 256   // MIN_EXPIRED_COUNT

	ExpiredTime    = 2 * time.Minute  // EXPIRED_TIME
	MinExpiredTime = 10 * time.Minute // MIN_EXPIRED_TIME
)

// Adaptive tx-inv batch size bounds (§4.2).
const (
	MinSynTxInvCount = 1
	MaxSynTxInvCount = MaxInvCount
)

// MsgRsp request/sub types (§6).
type ReqType int

const (
	ReqInv ReqType = iota
	ReqGetBlocks
)

type SubType int

const (
	SubTxInvReceived SubType = iota
	SubTxInvComplete
	SubGetBlocksEmpty
	SubGetBlocksEqual
)

// PeerCloseReason tags why the core asked the transport to drop a peer.
type PeerCloseReason int

const (
	ReasonDDosAttack PeerCloseReason = iota
	ReasonResponseFailure
)

func (r PeerCloseReason) String() string {
	switch r {
	case ReasonDDosAttack:
		return "DDOS_ATTACK"
	case ReasonResponseFailure:
		return "RESPONSE_FAILURE"
	default:
		return "UNKNOWN"
	}
}
