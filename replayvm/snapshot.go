// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replayvm

import (
	"fmt"
	"os"
)

// snapshotImage is the on-disk form of a captured state: the header and the
// full key/value set fetched together at one live resolution. The image is
// self-contained; replaying from it needs no network access.
type snapshotImage struct {
	Header Header        `serialize:"true"`
	Pairs  []StoragePair `serialize:"true"`
}

// WriteSnapshot captures [header] and [overlay] into a file at [path]. Pairs
// are written in sorted key order, so capturing equal states yields
// byte-identical files. This writes source state only; the harness never
// persists post-execution state.
func WriteSnapshot(path string, header *Header, overlay *Overlay) error {
	image := &snapshotImage{
		Header: *header,
		Pairs:  overlay.Pairs(),
	}
	bytes, err := Codec.Marshal(CodecVersion, image)
	if err != nil {
		return fmt.Errorf("couldn't serialize snapshot: %w", err)
	}
	if err := os.WriteFile(path, bytes, 0o644); err != nil {
		return fmt.Errorf("couldn't write snapshot to %s: %w", path, err)
	}
	return nil
}

// ReadSnapshot loads a previously captured image from [path]. Any read,
// decode, or codec-version failure is reported as ErrCorruptSnapshot.
func ReadSnapshot(path string) (*Header, *Overlay, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrCorruptSnapshot, err)
	}
	image := &snapshotImage{}
	parsedVersion, err := Codec.Unmarshal(bytes, image)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrCorruptSnapshot, err)
	}
	if parsedVersion != CodecVersion {
		return nil, nil, fmt.Errorf("%w: %s", ErrCorruptSnapshot, errWrongCodecVersion)
	}
	header := image.Header
	return &header, NewOverlayFromPairs(image.Pairs), nil
}
