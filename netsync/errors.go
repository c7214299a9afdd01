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
	"errors"
)

// No function in this package returns these sentinels: the handlers treat
// an unknown fork or peer as a no-op, report protocol violations as an
// OutPeerNetCloseEvent, and Schedule reports an unsolicited delivery through
// its false ok result.
var (
	// ErrUnknownFork names an operation on a fork that has no Schedule,
	// typically a race with Unsubscribe.
	ErrUnknownFork = errors.New("netsync: unknown fork")

	// ErrUnknownPeer names an event or control call for a peer that has no
	// PeerState, typically a race with deactivation.
	ErrUnknownPeer = errors.New("netsync: unknown peer")

	// ErrOversizedInv names a peer inv batch that exceeds MaxInvCount.
	ErrOversizedInv = errors.New("netsync: inv batch too large")

	// ErrNotGenesisSubscriber names a PeerSubscribe for a fork other than
	// genesis (only the genesis fork may subscribe others).
	ErrNotGenesisSubscriber = errors.New("netsync: subscribe must target genesis fork")

	// ErrUnsolicited names a received Tx/Block that does not match any
	// Requested entry.
	ErrUnsolicited = errors.New("netsync: unsolicited delivery")

	// ErrCheckpointMismatch names a received block whose hash at the
	// checkpoint height does not match the configured checkpoint.
	ErrCheckpointMismatch = errors.New("netsync: checkpoint hash mismatch")
)

// Misbehavior is a first-class signal, not an error: the core never panics
// or returns an error to the transport on a validation failure. It carries
// the same fields that NetChannel.reportMisbehavior puts on the
// OutPeerNetCloseEvent it emits; the core emits that event and does not
// construct this type itself. See spec §7/§9 on exceptions as control flow.
type Misbehavior struct {
	Peer   PeerID
	Fork   ForkHash
	Reason PeerCloseReason
	Detail string
}
