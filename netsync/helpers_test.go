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

// fakeTx is the minimal Tx fixture used across tests.
type fakeTx struct {
	hash   common.Hash
	from   common.Address
	nonce  uint64
	reward bool
	cert   bool
}

func (t *fakeTx) Hash() common.Hash      { return t.hash }
func (t *fakeTx) From() common.Address   { return t.from }
func (t *fakeTx) Nonce() uint64          { return t.nonce }
func (t *fakeTx) IsReward() bool         { return t.reward }
func (t *fakeTx) IsCertTx() bool         { return t.cert }

// fakeBlock is the minimal Block fixture used across tests.
type fakeBlock struct {
	hash    common.Hash
	parent  common.Hash
	height  uint64
	fork    ForkHash
	primary bool
	pow     bool
	vacant  bool
	mintNil bool
	ref     common.Hash
	hasRef  bool
	txs     []Tx
}

func (b *fakeBlock) Hash() common.Hash       { return b.hash }
func (b *fakeBlock) ParentHash() common.Hash { return b.parent }
func (b *fakeBlock) Height() uint64          { return b.height }
func (b *fakeBlock) Fork() ForkHash          { return b.fork }
func (b *fakeBlock) IsPrimary() bool         { return b.primary }
func (b *fakeBlock) IsPow() bool             { return b.pow }
func (b *fakeBlock) RefBlock() (common.Hash, bool) { return b.ref, b.hasRef }
func (b *fakeBlock) IsVacant() bool          { return b.vacant }
func (b *fakeBlock) MintIsNull() bool        { return b.mintNil }
func (b *fakeBlock) Txs() []Tx               { return b.txs }

func hashN(n byte) common.Hash {
	var h common.Hash
	h[len(h)-1] = n
	return h
}

func peerN(n byte) PeerID {
	var p PeerID
	p[len(p)-1] = n
	return p
}
