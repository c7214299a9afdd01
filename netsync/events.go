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

import "github.com/probeum/netsync/common"

// InboundEvent is the tagged sum of everything a peer can hand to the core.
// Each concrete type is a distinct variant; HandleEvent dispatches on the
// dynamic type via a single type switch rather than emulating virtual
// dispatch (see spec §9 on runtime-polymorphic events).
type InboundEvent interface {
	peerID() PeerID
	fork() ForkHash
}

type eventHeader struct {
	Peer PeerID
	Fork ForkHash
}

func (e eventHeader) peerID() PeerID { return e.Peer }
func (e eventHeader) fork() ForkHash { return e.Fork }

// PeerActiveEvent announces a newly connected peer.
type PeerActiveEvent struct {
	eventHeader
	Addr         string
	NodeNetwork  bool // advertises full NODE_NETWORK service
}

// PeerDeactiveEvent announces a peer disconnection.
type PeerDeactiveEvent struct {
	eventHeader
}

// PeerSubscribeEvent is sent when a peer subscribes to child forks of Fork.
type PeerSubscribeEvent struct {
	eventHeader
	ChildForks []ForkHash
}

// PeerUnsubscribeEvent mirrors PeerSubscribeEvent.
type PeerUnsubscribeEvent struct {
	eventHeader
	ChildForks []ForkHash
}

// PeerInvEvent announces inventory the peer holds.
type PeerInvEvent struct {
	eventHeader
	Invs []InvKey
}

// PeerGetDataEvent requests payloads for the given invs.
type PeerGetDataEvent struct {
	eventHeader
	Invs []InvKey
}

// PeerGetBlocksEvent requests a range of block hashes given a locator.
type PeerGetBlocksEvent struct {
	eventHeader
	Locator []common.Hash
}

// PeerTxEvent delivers a transaction payload.
type PeerTxEvent struct {
	eventHeader
	Tx Tx
}

// PeerBlockEvent delivers a block payload.
type PeerBlockEvent struct {
	eventHeader
	Block Block
}

// PeerGetFailEvent reports that a prior GetData could not be satisfied.
type PeerGetFailEvent struct {
	eventHeader
	Invs []InvKey
}

// PeerMsgRspEvent is a protocol-level acknowledgement/response signal.
type PeerMsgRspEvent struct {
	eventHeader
	ReqType ReqType
	SubType SubType
}

// OutboundEvent is the tagged sum of everything the core emits to a peer.
type OutboundEvent interface {
	peerID() PeerID
	fork() ForkHash
}

// OutPeerSubscribeEvent asks a peer to subscribe to child forks.
type OutPeerSubscribeEvent struct {
	eventHeader
	ChildForks []ForkHash
}

// OutPeerUnsubscribeEvent asks a peer to unsubscribe from child forks.
type OutPeerUnsubscribeEvent struct {
	eventHeader
	ChildForks []ForkHash
}

// OutPeerInvEvent announces inventory this node holds to a peer.
type OutPeerInvEvent struct {
	eventHeader
	Invs []InvKey
}

// OutPeerGetDataEvent requests payloads from a peer.
type OutPeerGetDataEvent struct {
	eventHeader
	Invs []InvKey
}

// OutPeerGetBlocksEvent requests a block range from a peer.
type OutPeerGetBlocksEvent struct {
	eventHeader
	Locator []common.Hash
}

// OutPeerTxEvent sends a transaction payload to a peer.
type OutPeerTxEvent struct {
	eventHeader
	Tx Tx
}

// OutPeerBlockEvent sends a block payload to a peer.
type OutPeerBlockEvent struct {
	eventHeader
	Block Block
}

// OutPeerGetFailEvent tells a peer a GetData request could not be honored.
type OutPeerGetFailEvent struct {
	eventHeader
	Invs []InvKey
}

// OutPeerMsgRspEvent acknowledges a protocol exchange.
type OutPeerMsgRspEvent struct {
	eventHeader
	ReqType ReqType
	SubType SubType
}

// OutPeerNetRewardEvent signals the transport to credit a cooperative peer.
type OutPeerNetRewardEvent struct {
	eventHeader
}

// OutPeerNetCloseEvent signals the transport to disconnect (and optionally
// penalize) a peer.
type OutPeerNetCloseEvent struct {
	eventHeader
	Reason PeerCloseReason
	Detail string
}

