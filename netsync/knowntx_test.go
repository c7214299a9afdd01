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

func hashIdx(n int) common.Hash {
	var h common.Hash
	h[len(h)-1] = byte(n)
	h[len(h)-2] = byte(n >> 8)
	return h
}

func TestPeerKnownTxContainsAndLen(t *testing.T) {
	k := NewPeerKnownTx()
	require.Equal(t, 0, k.Len())

	now := time.Now()
	h1, h2 := hashN(1), hashN(2)
	k.AddKnownTx([]common.Hash{h1, h2}, 0, now)

	assert.True(t, k.Contains(h1))
	assert.True(t, k.Contains(h2))
	assert.False(t, k.Contains(hashN(3)))
	assert.Equal(t, 2, k.Len())
}

func TestPeerKnownTxAddIsIdempotent(t *testing.T) {
	k := NewPeerKnownTx()
	now := time.Now()
	h1 := hashN(1)

	k.AddKnownTx([]common.Hash{h1}, 0, now)
	k.AddKnownTx([]common.Hash{h1}, 0, now)

	assert.Equal(t, 1, k.Len())
}

func TestPeerKnownTxEvictsPastHardExpire(t *testing.T) {
	k := NewPeerKnownTx()
	old := time.Now().Add(-3*ExpiredTime - time.Second)
	h1 := hashN(1)
	k.AddKnownTx([]common.Hash{h1}, 0, old)

	// A fresh insert at "now" re-runs eviction and should drop the
	// hard-expired entry regardless of capacity.
	k.AddKnownTx([]common.Hash{hashN(2)}, 0, time.Now())

	assert.False(t, k.Contains(h1))
	assert.True(t, k.Contains(hashN(2)))
}

func TestPeerKnownTxEvictsOverMaxCapacity(t *testing.T) {
	k := NewPeerKnownTx()
	now := time.Now()

	mc := maxCapacity(0)
	batch := make([]common.Hash, 0, mc+10)
	for i := 0; i < mc+10; i++ {
		batch = append(batch, hashIdx(i))
	}
	k.AddKnownTx(batch, 0, now)

	assert.LessOrEqual(t, k.Len(), mc)
}
