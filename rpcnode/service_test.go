// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpcnode

import (
	"testing"

	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/stretchr/testify/assert"

	cjson "github.com/ava-labs/avalanchego/utils/json"

	"github.com/ava-labs/replayvm/replayvm"
)

func newTestState(t *testing.T) (State, *replayvm.Header, []replayvm.StoragePair) {
	state := NewState(memdb.New())
	header := &replayvm.Header{
		ParentID:  ids.ID{1},
		Height:    3,
		Timestamp: 1700000000,
		StateRoot: ids.ID{2},
	}
	pairs := []replayvm.StoragePair{
		{Key: []byte("a"), Value: []byte{1}},
		{Key: []byte("b"), Value: []byte{2}},
	}
	assert.NoError(t, state.PutBlock(header, pairs))
	return state, header, pairs
}

func TestStateRoundTrip(t *testing.T) {
	assert := assert.New(t)
	state, header, pairs := newTestState(t)

	got, err := state.GetHeader(header.ID())
	assert.NoError(err)
	assert.Equal(header, got)

	got, err = state.GetHeaderAtHeight(3)
	assert.NoError(err)
	assert.Equal(header.ID(), got.ID())

	got, err = state.LastHeader()
	assert.NoError(err)
	assert.Equal(header.ID(), got.ID())

	gotPairs, err := state.GetState(header.ID())
	assert.NoError(err)
	assert.Equal(pairs, gotPairs)
}

func TestStateLatestTracksHighest(t *testing.T) {
	assert := assert.New(t)
	state, header, _ := newTestState(t)

	lower := &replayvm.Header{
		ParentID:  ids.ID{3},
		Height:    1,
		Timestamp: 1600000000,
	}
	assert.NoError(state.PutBlock(lower, nil))

	got, err := state.LastHeader()
	assert.NoError(err)
	assert.Equal(header.ID(), got.ID())

	higher := &replayvm.Header{
		ParentID:  header.ID(),
		Height:    4,
		Timestamp: 1700000100,
	}
	assert.NoError(state.PutBlock(higher, nil))

	got, err = state.LastHeader()
	assert.NoError(err)
	assert.Equal(higher.ID(), got.ID())
}

func TestStateNotFound(t *testing.T) {
	assert := assert.New(t)
	state, _, _ := newTestState(t)

	_, err := state.GetHeader(ids.ID{9, 9})
	assert.ErrorIs(err, replayvm.ErrBlockNotFound)
	_, err = state.GetHeaderAtHeight(99)
	assert.ErrorIs(err, replayvm.ErrBlockNotFound)
	_, err = state.GetState(ids.ID{9, 9})
	assert.ErrorIs(err, replayvm.ErrBlockNotFound)
}

func TestServiceGetHeader(t *testing.T) {
	assert := assert.New(t)
	state, header, _ := newTestState(t)
	service := Service{state: state}

	// by hash
	blkID := header.ID()
	reply := GetHeaderReply{}
	assert.NoError(service.GetHeader(nil, &GetHeaderArgs{ID: &blkID}, &reply))
	headerBytes, err := formatting.Decode(reply.Encoding, reply.Bytes)
	assert.NoError(err)
	parsed, err := replayvm.ParseHeader(headerBytes)
	assert.NoError(err)
	assert.Equal(header, parsed)

	// by height
	height := cjson.Uint64(3)
	reply = GetHeaderReply{}
	assert.NoError(service.GetHeader(nil, &GetHeaderArgs{Height: &height}, &reply))

	// latest
	reply = GetHeaderReply{}
	assert.NoError(service.GetHeader(nil, &GetHeaderArgs{}, &reply))

	// unknown block
	missing := ids.ID{9, 9}
	err = service.GetHeader(nil, &GetHeaderArgs{ID: &missing}, &GetHeaderReply{})
	assert.ErrorIs(err, replayvm.ErrBlockNotFound)
}

func TestServiceGetState(t *testing.T) {
	assert := assert.New(t)
	state, header, pairs := newTestState(t)
	service := Service{state: state}

	reply := GetStateReply{}
	assert.NoError(service.GetState(nil, &GetStateArgs{ID: header.ID()}, &reply))

	stateBytes, err := formatting.Decode(reply.Encoding, reply.Bytes)
	assert.NoError(err)
	stored := &StoredState{}
	_, err = replayvm.Codec.Unmarshal(stateBytes, stored)
	assert.NoError(err)
	assert.Equal(pairs, stored.Pairs)
}

func TestServicePutBlock(t *testing.T) {
	assert := assert.New(t)
	state := NewState(memdb.New())
	service := Service{state: state}

	header := &replayvm.Header{Height: 1, Timestamp: 1}
	headerBytes, err := header.Bytes()
	assert.NoError(err)
	headerHex, err := formatting.Encode(formatting.Hex, headerBytes)
	assert.NoError(err)

	stateBytes, err := replayvm.Codec.Marshal(replayvm.CodecVersion, &StoredState{
		Pairs: []replayvm.StoragePair{{Key: []byte("k"), Value: []byte("v")}},
	})
	assert.NoError(err)
	stateHex, err := formatting.Encode(formatting.Hex, stateBytes)
	assert.NoError(err)

	reply := PutBlockReply{}
	assert.NoError(service.PutBlock(nil, &PutBlockArgs{
		Header:   headerHex,
		State:    stateHex,
		Encoding: formatting.Hex,
	}, &reply))
	assert.True(reply.Success)

	got, err := state.GetHeader(header.ID())
	assert.NoError(err)
	assert.Equal(header.ID(), got.ID())
}
