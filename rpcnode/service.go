// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpcnode

import (
	"fmt"
	"net/http"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/formatting"

	cjson "github.com/ava-labs/avalanchego/utils/json"

	"github.com/ava-labs/replayvm/replayvm"
)

// Name is the service name; methods are invoked as "replay.<method>"
const Name = "replay"

// Service is the chain-data API a node exposes to the harness: headers by
// reference and full state images by block hash
type Service struct {
	state State
}

// GetHeaderArgs selects a header by hash or height. With neither set, the
// node's latest header is returned.
type GetHeaderArgs struct {
	ID     *ids.ID       `json:"id"`
	Height *cjson.Uint64 `json:"height"`
}

// GetHeaderReply carries the codec bytes of the header
type GetHeaderReply struct {
	Bytes    string              `json:"bytes"`
	Encoding formatting.Encoding `json:"encoding"`
}

// GetHeader fetches the header selected by [args]
func (s *Service) GetHeader(_ *http.Request, args *GetHeaderArgs, reply *GetHeaderReply) error {
	var (
		header *replayvm.Header
		err    error
	)
	switch {
	case args.ID != nil:
		header, err = s.state.GetHeader(*args.ID)
	case args.Height != nil:
		header, err = s.state.GetHeaderAtHeight(uint64(*args.Height))
	default:
		header, err = s.state.LastHeader()
	}
	if err != nil {
		return err
	}
	headerBytes, err := header.Bytes()
	if err != nil {
		return err
	}
	reply.Bytes, err = formatting.Encode(formatting.Hex, headerBytes)
	reply.Encoding = formatting.Hex
	return err
}

// GetStateArgs selects a block's state by its hash
type GetStateArgs struct {
	ID ids.ID `json:"id"`
}

// GetStateReply carries the codec bytes of a StoredState
type GetStateReply struct {
	Bytes    string              `json:"bytes"`
	Encoding formatting.Encoding `json:"encoding"`
}

// GetState fetches the full key/value set captured at block [args.ID]
func (s *Service) GetState(_ *http.Request, args *GetStateArgs, reply *GetStateReply) error {
	pairs, err := s.state.GetState(args.ID)
	if err != nil {
		return err
	}
	stateBytes, err := replayvm.Codec.Marshal(replayvm.CodecVersion, &StoredState{Pairs: pairs})
	if err != nil {
		return err
	}
	reply.Bytes, err = formatting.Encode(formatting.Hex, stateBytes)
	reply.Encoding = formatting.Hex
	return err
}

// PutBlockArgs carries a header and its state image as codec bytes
type PutBlockArgs struct {
	Header   string              `json:"header"`
	State    string              `json:"state"`
	Encoding formatting.Encoding `json:"encoding"`
}

// PutBlockReply is the reply from PutBlock
type PutBlockReply struct {
	Success bool `json:"success"`
}

// PutBlock seeds the node with a block's header and state image. Test and
// capture tooling uses it; a production node ingests blocks elsewhere.
func (s *Service) PutBlock(_ *http.Request, args *PutBlockArgs, reply *PutBlockReply) error {
	headerBytes, err := formatting.Decode(args.Encoding, args.Header)
	if err != nil {
		return fmt.Errorf("couldn't decode header bytes: %w", err)
	}
	header, err := replayvm.ParseHeader(headerBytes)
	if err != nil {
		return fmt.Errorf("couldn't parse header: %w", err)
	}
	stateBytes, err := formatting.Decode(args.Encoding, args.State)
	if err != nil {
		return fmt.Errorf("couldn't decode state bytes: %w", err)
	}
	stored := &StoredState{}
	if _, err := replayvm.Codec.Unmarshal(stateBytes, stored); err != nil {
		return fmt.Errorf("couldn't parse state: %w", err)
	}
	if err := s.state.PutBlock(header, stored.Pairs); err != nil {
		return err
	}
	reply.Success = true
	return nil
}
