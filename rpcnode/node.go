// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpcnode

import (
	"net/http"

	"github.com/gorilla/rpc/v2"

	"github.com/ava-labs/avalanchego/database"

	cjson "github.com/ava-labs/avalanchego/utils/json"

	"github.com/ava-labs/replayvm/replayvm"
)

// Node bundles a chain-data store with the JSON-RPC handler serving it. It
// backs live-source tests and local experiments; pointing the harness at a
// real network node works the same way over the same methods.
type Node struct {
	State State

	handler http.Handler
}

// New returns a node whose state lives in [db]
func New(db database.Database) (*Node, error) {
	state := NewState(db)

	server := rpc.NewServer()
	codec := cjson.NewCodec()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")
	if err := server.RegisterService(&Service{state: state}, Name); err != nil {
		return nil, err
	}

	return &Node{
		State:   state,
		handler: server,
	}, nil
}

// Handler returns the node's JSON-RPC HTTP handler
func (n *Node) Handler() http.Handler { return n.handler }

// Seed stores a block directly, bypassing the RPC surface
func (n *Node) Seed(header *replayvm.Header, pairs []replayvm.StoragePair) error {
	return n.State.PutBlock(header, pairs)
}
