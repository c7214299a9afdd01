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
	"github.com/google/uuid"

	"github.com/probeum/netsync/common"
)

// ForkHash identifies a fork (the primary chain or a subsidiary). It shares
// Hash's representation since forks are identified by their creation block.
type ForkHash = common.Hash

// PeerID identifies a connected peer. The wire transport that assigns a
// real node identity is out of scope for this core (see spec non-goals);
// PeerID is left abstract as a uuid so the core and its tests never need
// a concrete transport.
type PeerID uuid.UUID

// NewPeerID generates a fresh random PeerID, used by fake transports in
// tests and by hosts that have no better identity to offer.
func NewPeerID() PeerID { return PeerID(uuid.New()) }

func (p PeerID) String() string { return uuid.UUID(p).String() }

// InvKind distinguishes the two object kinds the scheduler multiplexes.
type InvKind uint8

const (
	KindTx InvKind = iota
	KindBlock
)

func (k InvKind) String() string {
	if k == KindTx {
		return "tx"
	}
	return "block"
}

// InvKey is the unit of scheduling: a (kind, hash) pair, unique within a
// Schedule.
type InvKey struct {
	Kind InvKind
	Hash common.Hash
}

func (k InvKey) String() string { return k.Kind.String() + ":" + k.Hash.Hex() }

// InvState is the lifecycle state of an InvEntry.
type InvState uint8

const (
	StateAnnounced InvState = iota
	StateRequested
	StateReceived
	StateDelayed
	StateVerified
)

// BlockOrigin names where a cached PoW block came from. GetSubmitCachePowBlock
// expresses its {Remote, Local} split as two return slices and does not use
// this type.
type BlockOrigin uint8

const (
	OriginRemote BlockOrigin = iota
	OriginLocal
)
