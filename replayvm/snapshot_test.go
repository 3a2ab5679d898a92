// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replayvm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/stretchr/testify/assert"
)

func newTestHeader() *Header {
	return &Header{
		ParentID:  ids.ID{1},
		Height:    5,
		Timestamp: 1700000000,
		StateRoot: ids.ID{2},
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "state.snap")

	header := newTestHeader()
	overlay := NewOverlay()
	overlay.Set([]byte("a"), []byte{1})
	overlay.Set([]byte("b"), []byte{2})
	overlay.Set(CodeKey, []byte("code"))

	assert.NoError(WriteSnapshot(path, header, overlay))

	gotHeader, gotOverlay, err := ReadSnapshot(path)
	assert.NoError(err)
	assert.Equal(header, gotHeader)
	assert.Equal(overlay.Pairs(), gotOverlay.Pairs())
}

// Resolving the same snapshot repeatedly yields byte-identical overlays and
// headers, and capturing equal states yields byte-identical files
func TestSnapshotDeterministic(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	first := filepath.Join(dir, "first.snap")
	second := filepath.Join(dir, "second.snap")

	header := newTestHeader()
	overlay := NewOverlay()
	overlay.Set([]byte("z"), []byte{26})
	overlay.Set([]byte("a"), []byte{1})

	assert.NoError(WriteSnapshot(first, header, overlay))
	assert.NoError(WriteSnapshot(second, header, overlay))

	firstBytes, err := os.ReadFile(first)
	assert.NoError(err)
	secondBytes, err := os.ReadFile(second)
	assert.NoError(err)
	assert.Equal(firstBytes, secondBytes)

	headerA, overlayA, err := ReadSnapshot(first)
	assert.NoError(err)
	headerB, overlayB, err := ReadSnapshot(first)
	assert.NoError(err)
	assert.Equal(headerA, headerB)
	assert.Equal(overlayA.Pairs(), overlayB.Pairs())
}

func TestSnapshotCorrupt(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "bad.snap")

	assert.NoError(os.WriteFile(path, []byte("this is not a snapshot"), 0o644))
	_, _, err := ReadSnapshot(path)
	assert.ErrorIs(err, ErrCorruptSnapshot)
}

func TestSnapshotMissingFile(t *testing.T) {
	assert := assert.New(t)
	_, _, err := ReadSnapshot(filepath.Join(t.TempDir(), "does-not-exist.snap"))
	assert.ErrorIs(err, ErrCorruptSnapshot)
}
