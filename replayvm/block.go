// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replayvm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
)

var errBadReference = errors.New("block reference is neither a height nor a hash")

// BlockReference pins a replay to one point in the chain's history, either by
// block hash or by height. The zero value means "latest" and is only honored
// by sources that can resolve it themselves.
type BlockReference struct {
	Hash   *ids.ID
	Height *uint64
}

// RefFromHash returns a reference pinned to the block with hash [id]
func RefFromHash(id ids.ID) BlockReference {
	return BlockReference{Hash: &id}
}

// RefFromHeight returns a reference pinned to the block at [height]
func RefFromHeight(height uint64) BlockReference {
	return BlockReference{Height: &height}
}

// ParseReference parses a CLI-supplied block reference. A decimal number is a
// height; anything else must be a block hash in its string representation.
func ParseReference(s string) (BlockReference, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return BlockReference{}, errBadReference
	}
	if height, err := strconv.ParseUint(s, 10, 64); err == nil {
		return RefFromHeight(height), nil
	}
	id, err := ids.FromString(s)
	if err != nil {
		return BlockReference{}, fmt.Errorf("%w: %q", errBadReference, s)
	}
	return RefFromHash(id), nil
}

// IsZero returns true iff the reference carries neither a hash nor a height
func (r BlockReference) IsZero() bool {
	return r.Hash == nil && r.Height == nil
}

// Matches reports whether [r] and [other] could describe the same block.
// References of different kinds can't be compared, so they never match.
func (r BlockReference) Matches(other BlockReference) bool {
	switch {
	case r.Hash != nil && other.Hash != nil:
		return *r.Hash == *other.Hash
	case r.Height != nil && other.Height != nil:
		return *r.Height == *other.Height
	default:
		return false
	}
}

// MatchesHeader reports whether [r] could describe the block with header [h]
func (r BlockReference) MatchesHeader(h *Header) bool {
	switch {
	case r.Hash != nil:
		return *r.Hash == h.ID()
	case r.Height != nil:
		return *r.Height == h.Height
	default:
		return false
	}
}

func (r BlockReference) String() string {
	switch {
	case r.Hash != nil:
		return r.Hash.String()
	case r.Height != nil:
		return strconv.FormatUint(*r.Height, 10)
	default:
		return "latest"
	}
}

// Header describes the block whose state a replay runs against. Its codec
// bytes double as the encoded argument passed to the invoked entry point.
type Header struct {
	ParentID  ids.ID `serialize:"true" json:"parentID"`
	Height    uint64 `serialize:"true" json:"height"`
	Timestamp int64  `serialize:"true" json:"timestamp"`
	StateRoot ids.ID `serialize:"true" json:"stateRoot"`
}

// Bytes returns the codec representation of [h]
func (h *Header) Bytes() ([]byte, error) {
	return Codec.Marshal(CodecVersion, h)
}

// ID returns the hash of the header's codec bytes
func (h *Header) ID() ids.ID {
	bytes, err := h.Bytes()
	if err != nil {
		// Header is a plain value struct; the codec cannot fail on it.
		panic(err)
	}
	return ids.ID(hashing.ComputeHash256Array(bytes))
}

// ParseHeader parses the codec representation of a header
func ParseHeader(bytes []byte) (*Header, error) {
	header := &Header{}
	parsedVersion, err := Codec.Unmarshal(bytes, header)
	if err != nil {
		return nil, err
	}
	if parsedVersion != CodecVersion {
		return nil, errWrongCodecVersion
	}
	return header, nil
}

var errWrongCodecVersion = errors.New("wrong codec version")
