// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replayvm

import (
	"context"
	"fmt"
	"time"

	"github.com/ava-labs/avalanchego/ids"

	log "github.com/inconshreveable/log15"
)

// ChainClient is the request/response surface a live node must expose:
// fetch a header at a reference, and fetch the full key/value state at a
// block hash. The concrete implementation lives in the client package.
type ChainClient interface {
	GetHeader(ctx context.Context, ref BlockReference) (*Header, error)
	GetState(ctx context.Context, blkID ids.ID) ([]StoragePair, error)
}

// StateSource produces the overlay and the matching header a replay runs
// against. The header always describes the same block whose state was
// fetched; the two are resolved together, never independently.
type StateSource interface {
	Resolve(ctx context.Context) (*Header, *Overlay, error)

	// At returns the source's own block reference, if it carries one
	At() BlockReference

	fmt.Stringer
}

var (
	_ StateSource = (*LiveSource)(nil)
	_ StateSource = (*SnapshotSource)(nil)
)

// LiveSource resolves state by querying a running node. The fetch is pinned:
// the header is resolved first, then the state is fetched at that header's
// hash, so both describe the same block even if the chain advances mid-fetch.
type LiveSource struct {
	// Client performs the actual fetches
	Client ChainClient

	// URI is the node's endpoint, kept for logging and diagnostics
	URI string

	// Reference is the block to fetch at. Zero means the node's latest.
	Reference BlockReference

	// Timeout bounds each fetch; expiry reports ErrSourceUnreachable
	Timeout time.Duration
}

// DefaultFetchTimeout bounds live fetches when no timeout is configured
const DefaultFetchTimeout = 30 * time.Second

func (s *LiveSource) At() BlockReference { return s.Reference }

func (s *LiveSource) String() string {
	return fmt.Sprintf("live{uri: %s, at: %s}", s.URI, s.Reference)
}

// Resolve fetches the header and full state from the node
func (s *LiveSource) Resolve(ctx context.Context) (*Header, *Overlay, error) {
	timeout := s.Timeout
	if timeout == 0 {
		timeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	header, err := s.Client.GetHeader(ctx, s.Reference)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't fetch header at %s: %w", s.Reference, err)
	}
	log.Info("fetched header from live source",
		"uri", s.URI,
		"height", header.Height,
		"block", header.ID(),
	)

	pairs, err := s.Client.GetState(ctx, header.ID())
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't fetch state at %s: %w", header.ID(), err)
	}
	log.Info("fetched state from live source", "keys", len(pairs))
	return header, NewOverlayFromPairs(pairs), nil
}

// SnapshotSource resolves state from a previously captured image on disk
type SnapshotSource struct {
	Path string
}

// At returns the zero reference: a snapshot's reference is the header
// embedded in the image, known only after the image is loaded.
func (s *SnapshotSource) At() BlockReference { return BlockReference{} }

func (s *SnapshotSource) String() string {
	return fmt.Sprintf("snapshot{path: %s}", s.Path)
}

// Resolve loads the image and returns its embedded header and state
func (s *SnapshotSource) Resolve(context.Context) (*Header, *Overlay, error) {
	header, overlay, err := ReadSnapshot(s.Path)
	if err != nil {
		return nil, nil, err
	}
	log.Info("loaded snapshot",
		"path", s.Path,
		"height", header.Height,
		"keys", overlay.Len(),
	)
	return header, overlay, nil
}
