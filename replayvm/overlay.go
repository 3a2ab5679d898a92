// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replayvm

import (
	"bytes"
	"sort"
)

// CodeKey is the one reserved storage key: its value is the executable
// program blob. Every other key is opaque payload.
var CodeKey = []byte(":code")

// StoragePair is one key/value entry of the chain's storage
type StoragePair struct {
	Key   []byte `serialize:"true"`
	Value []byte `serialize:"true"`
}

// Overlay is the in-memory scratch copy of chain storage that one replay
// reads from and writes into. It is created fresh per replay, mutated by at
// most one flow of control, and discarded when the replay ends.
//
// The overlay additionally remembers the value the reserved code key held
// before the first substitution, so the driver can compare the original and
// the candidate program.
type Overlay struct {
	kv map[string][]byte

	originalCode    []byte
	hadOriginalCode bool
	codeSubstituted bool
}

// NewOverlay returns an empty overlay
func NewOverlay() *Overlay {
	return &Overlay{kv: make(map[string][]byte)}
}

// NewOverlayFromPairs returns an overlay pre-loaded with [pairs]
func NewOverlayFromPairs(pairs []StoragePair) *Overlay {
	o := &Overlay{kv: make(map[string][]byte, len(pairs))}
	for _, pair := range pairs {
		o.kv[string(pair.Key)] = copyBytes(pair.Value)
	}
	return o
}

// Get returns the value stored under [key]. The returned slice is a copy; the
// caller may retain it past the overlay's lifetime.
func (o *Overlay) Get(key []byte) ([]byte, bool) {
	value, ok := o.kv[string(key)]
	if !ok {
		return nil, false
	}
	return copyBytes(value), true
}

// Set stores [value] under [key]. Last write wins.
func (o *Overlay) Set(key []byte, value []byte) {
	o.kv[string(key)] = copyBytes(value)
}

// Len returns the number of keys in the overlay
func (o *Overlay) Len() int {
	return len(o.kv)
}

// Pairs returns every key/value entry, sorted by key so that repeated calls
// on equal overlays yield byte-identical results.
func (o *Overlay) Pairs() []StoragePair {
	pairs := make([]StoragePair, 0, len(o.kv))
	for key, value := range o.kv {
		pairs = append(pairs, StoragePair{
			Key:   []byte(key),
			Value: copyBytes(value),
		})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return bytes.Compare(pairs[i].Key, pairs[j].Key) < 0
	})
	return pairs
}

// Code returns the program blob currently installed under the reserved key
func (o *Overlay) Code() ([]byte, bool) {
	return o.Get(CodeKey)
}

// SetCode installs [blob] under the reserved key. The value the key held
// before the first SetCode call is saved for later comparison; installing the
// same blob again is a no-op beyond the overwrite itself.
func (o *Overlay) SetCode(blob []byte) {
	if !o.codeSubstituted {
		o.originalCode, o.hadOriginalCode = o.Get(CodeKey)
		o.codeSubstituted = true
	}
	o.Set(CodeKey, blob)
}

// OriginalCode returns the value the reserved key held before the first
// substitution. ok is false if the state had no code, or if no substitution
// happened at all.
func (o *Overlay) OriginalCode() ([]byte, bool) {
	if !o.codeSubstituted || !o.hadOriginalCode {
		return nil, false
	}
	return copyBytes(o.originalCode), true
}

// Substituted returns true iff SetCode has been called on this overlay
func (o *Overlay) Substituted() bool {
	return o.codeSubstituted
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
