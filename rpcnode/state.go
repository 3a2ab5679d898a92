// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpcnode

import (
	"encoding/binary"
	"errors"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/prefixdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/wrappers"

	"github.com/ava-labs/replayvm/replayvm"
)

var (
	// These are prefixes for db keys.
	// It's important to set different prefixes for each separate database objects.
	headerStatePrefix    = []byte("header")
	heightIndexPrefix    = []byte("height")
	storageStatePrefix   = []byte("storage")
	singletonStatePrefix = []byte("singleton")

	lastBlockKey = []byte{0}

	errWrongCodecVersion = errors.New("wrong codec version")

	_ State = (*state)(nil)
)

// StoredState is the codec wire form of one block's full key/value set
type StoredState struct {
	Pairs []replayvm.StoragePair `serialize:"true"`
}

// State stores headers and per-block storage images for the node to serve.
// Headers are kept by hash with a height index; the latest block is tracked
// separately so "latest" fetches need no scan.
type State interface {
	PutBlock(header *replayvm.Header, pairs []replayvm.StoragePair) error

	GetHeader(blkID ids.ID) (*replayvm.Header, error)
	GetHeaderAtHeight(height uint64) (*replayvm.Header, error)
	LastHeader() (*replayvm.Header, error)

	GetState(blkID ids.ID) ([]replayvm.StoragePair, error)
}

type state struct {
	headerDB    database.Database
	heightDB    database.Database
	storageDB   database.Database
	singletonDB database.Database
}

// NewState returns a State stored in [db]
func NewState(db database.Database) State {
	return &state{
		headerDB:    prefixdb.New(headerStatePrefix, db),
		heightDB:    prefixdb.New(heightIndexPrefix, db),
		storageDB:   prefixdb.New(storageStatePrefix, db),
		singletonDB: prefixdb.New(singletonStatePrefix, db),
	}
}

func (s *state) PutBlock(header *replayvm.Header, pairs []replayvm.StoragePair) error {
	headerBytes, err := header.Bytes()
	if err != nil {
		return err
	}
	stateBytes, err := replayvm.Codec.Marshal(replayvm.CodecVersion, &StoredState{Pairs: pairs})
	if err != nil {
		return err
	}
	blkID := header.ID()

	heightKey := make([]byte, wrappers.LongLen)
	binary.BigEndian.PutUint64(heightKey, header.Height)

	errs := wrappers.Errs{}
	errs.Add(
		s.headerDB.Put(blkID[:], headerBytes),
		s.heightDB.Put(heightKey, blkID[:]),
		s.storageDB.Put(blkID[:], stateBytes),
	)
	if errs.Errored() {
		return errs.Err
	}

	// Track the highest block as the node's latest
	last, err := s.LastHeader()
	if err == nil && last.Height >= header.Height {
		return nil
	}
	if err != nil && !errors.Is(err, replayvm.ErrBlockNotFound) {
		return err
	}
	return s.singletonDB.Put(lastBlockKey, blkID[:])
}

func (s *state) GetHeader(blkID ids.ID) (*replayvm.Header, error) {
	headerBytes, err := s.headerDB.Get(blkID[:])
	if err != nil {
		return nil, mapNotFound(err)
	}
	return replayvm.ParseHeader(headerBytes)
}

func (s *state) GetHeaderAtHeight(height uint64) (*replayvm.Header, error) {
	heightKey := make([]byte, wrappers.LongLen)
	binary.BigEndian.PutUint64(heightKey, height)

	blkIDBytes, err := s.heightDB.Get(heightKey)
	if err != nil {
		return nil, mapNotFound(err)
	}
	blkID, err := ids.ToID(blkIDBytes)
	if err != nil {
		return nil, err
	}
	return s.GetHeader(blkID)
}

func (s *state) LastHeader() (*replayvm.Header, error) {
	blkIDBytes, err := s.singletonDB.Get(lastBlockKey)
	if err != nil {
		return nil, mapNotFound(err)
	}
	blkID, err := ids.ToID(blkIDBytes)
	if err != nil {
		return nil, err
	}
	return s.GetHeader(blkID)
}

func (s *state) GetState(blkID ids.ID) ([]replayvm.StoragePair, error) {
	stateBytes, err := s.storageDB.Get(blkID[:])
	if err != nil {
		return nil, mapNotFound(err)
	}
	stored := &StoredState{}
	parsedVersion, err := replayvm.Codec.Unmarshal(stateBytes, stored)
	if err != nil {
		return nil, err
	}
	if parsedVersion != replayvm.CodecVersion {
		return nil, errWrongCodecVersion
	}
	return stored.Pairs, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return replayvm.ErrBlockNotFound
	}
	return err
}
