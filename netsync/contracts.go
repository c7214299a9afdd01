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
	"github.com/probeum/netsync/common"
)

// Tx is the minimal view of a transaction the scheduler needs. Full
// transaction semantics (signature, payload, validation) live in the
// transaction pool and chain packages this core only calls into.
type Tx interface {
	Hash() common.Hash
	From() common.Address
	Nonce() uint64
	IsReward() bool
	IsCertTx() bool
}

// Block is the minimal view of a block the scheduler needs.
type Block interface {
	Hash() common.Hash
	ParentHash() common.Hash
	Height() uint64
	Fork() ForkHash
	IsPrimary() bool
	IsPow() bool
	// RefBlock returns the primary-chain block a subsidiary/extended/vacant
	// block refers to, and whether this block kind carries a ref at all.
	RefBlock() (hash common.Hash, ok bool)
	IsVacant() bool
	MintIsNull() bool
	Txs() []Tx
}

// BlockStatus reports a peer's known chain position for locator bookkeeping.
type BlockStatus struct {
	Hash   common.Hash
	Height uint64
}

// Errno is the dispatcher's result code for an attempted addition. It is
// deliberately not a Go error: spec §4.4 requires distinguishing OK,
// already-have (no penalty, remove quietly) and other validation failures
// (no penalty either, by design) from hard misbehavior, which Dispatcher
// never signals directly — NetChannel derives misbehavior from the specific
// conditions named in §4.4 (repeat mint, PoW failure), not from Errno alone.
type Errno int

const (
	ErrnoOK Errno = iota
	ErrnoAlreadyHave
	ErrnoMissingPrev
	ErrnoConflictingInput
	ErrnoTooManyCertTx
	ErrnoOther
)

// ChainEngine is the read-mostly view of the local chain the core consults
// to decide what to fetch and what to accept.
type ChainEngine interface {
	GetLastBlockStatus(fork ForkHash) (BlockStatus, bool)
	GetBlockLocation(hash common.Hash) (fork ForkHash, height uint64, ok bool)
	Exists(hash common.Hash) bool
	GetBlockInv(fork ForkHash, locator []common.Hash, maxCount int) ([]common.Hash, bool)
	GetBlockLocator(fork ForkHash) []common.Hash
	GetForkStorageMaxHeight(fork ForkHash) uint64
	VerifyPowBlock(block Block) bool
	VerifyCheckPoint(height uint64, hash common.Hash) bool
	VerifyRepeatBlock(block Block) bool
	IsVacantBlockBeforeCreatedForkHeight(block Block) bool
	ListForkContext() []ForkHash
	GetBlock(hash common.Hash) (Block, bool)
	GetTransactionAndIndex(hash common.Hash) (Tx, bool)
	ExistsTx(hash common.Hash) bool
}

// TxPool is the pending-transaction pool the core consults and feeds.
type TxPool interface {
	Exists(hash common.Hash) bool
	Get(hash common.Hash) (Tx, bool)
	ListTx(max int) []Tx
	CheckTxNonce(from common.Address, nonce uint64) bool
	GetDestNextTxNonce(from common.Address) uint64
	Size() int
}

// Dispatcher applies accepted units to the chain and pool.
type Dispatcher interface {
	AddNewBlock(block Block, peer PeerID) Errno
	AddNewTx(fork ForkHash, tx Tx, peer PeerID) Errno
}

// ConsensusOracle resolves which cached PoW blocks may now be applied.
type ConsensusOracle interface {
	GetNextConsensus() (hash common.Hash, ok bool)
	GetAgreement(height uint64) (ballot interface{}, ok bool)
}

// PeerTransport is the outbound boundary: the core never touches sockets,
// it only enqueues typed events and arms/cancels timers.
type PeerTransport interface {
	DispatchEvent(ev OutboundEvent)
	SetTimer(delay int64, fn func()) (timerID uint32)
	CancelTimer(timerID uint32)
}
