// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replayvm

import (
	"crypto/rand"
	"time"

	"github.com/ava-labs/avalanchego/utils/hashing"
)

// Request describes one entry-point invocation: which entry point to call,
// the encoded argument bytes, and the weight budget the execution may spend.
type Request struct {
	EntryPoint  string
	Args        []byte
	WeightLimit uint64
}

// Outcome is the successful result of an invocation. Failures are returned
// as errors from Invoke and are never retried: replay is deterministic, a
// retry would reproduce the identical failure.
type Outcome struct {
	Result     []byte
	WeightUsed uint64
}

// Engine executes program blobs against an overlay. Two backends exist: the
// sandboxed interpreter, which runs exactly the bytes installed under the
// reserved code key, and the native dispatcher, which trusts a statically
// linked runtime to match the on-chain code.
//
// Engines must not retain references into the overlay past the call.
type Engine interface {
	// ReadVersion decodes the version a program blob declares about itself
	ReadVersion(code []byte) (*RuntimeVersion, error)

	// Invoke calls [req.EntryPoint] against [overlay] with the capabilities
	// in [host], enforcing [req.WeightLimit].
	Invoke(overlay *Overlay, req Request, host Host) (*Outcome, error)
}

// Host is the fixed capability surface executed code may call into: storage
// access scoped to the replay's overlay, a clock, and randomness.
type Host interface {
	StorageGet(key []byte) ([]byte, bool)
	StorageSet(key []byte, value []byte)

	// Clock returns unix seconds
	Clock() int64

	// Random returns 32 fresh bytes
	Random() []byte
}

// NewDeterministicHost returns the host the driver uses for replay: storage
// backed by [overlay], the clock pinned to [now] (the replayed header's
// timestamp), and randomness derived from a hash chain seeded by [now], so
// that repeated replays of the same block observe identical capability
// responses.
func NewDeterministicHost(overlay *Overlay, now int64) Host {
	seed := make([]byte, 8)
	for i := 0; i < 8; i++ {
		seed[i] = byte(now >> (8 * (7 - i)))
	}
	return &deterministicHost{
		overlay: overlay,
		now:     now,
		state:   hashing.ComputeHash256(seed),
	}
}

type deterministicHost struct {
	overlay *Overlay
	now     int64
	state   []byte
}

func (h *deterministicHost) StorageGet(key []byte) ([]byte, bool) { return h.overlay.Get(key) }
func (h *deterministicHost) StorageSet(key, value []byte)         { h.overlay.Set(key, value) }
func (h *deterministicHost) Clock() int64                         { return h.now }

func (h *deterministicHost) Random() []byte {
	h.state = hashing.ComputeHash256(h.state)
	return copyBytes(h.state)
}

// NewSystemHost returns a host with the process clock and OS randomness.
// Replays driven through it are not reproducible; it exists for operators who
// want live-like capability responses.
func NewSystemHost(overlay *Overlay) Host {
	return &systemHost{overlay: overlay}
}

type systemHost struct {
	overlay *Overlay
}

func (h *systemHost) StorageGet(key []byte) ([]byte, bool) { return h.overlay.Get(key) }
func (h *systemHost) StorageSet(key, value []byte)         { h.overlay.Set(key, value) }
func (h *systemHost) Clock() int64                         { return time.Now().Unix() }

func (h *systemHost) Random() []byte {
	out := make([]byte, 32)
	if _, err := rand.Read(out); err != nil {
		panic(err)
	}
	return out
}

// Per-operation weight charges, shared by both backends so that a budget
// means the same thing regardless of how the code runs.
const (
	weightBase    = 1
	weightStorage = 10
	weightClock   = 5
	weightRandom  = 5
)

// weightMeter tracks spend against a budget
type weightMeter struct {
	limit uint64
	used  uint64
}

func (m *weightMeter) charge(n uint64) error {
	if m.used+n > m.limit {
		m.used = m.limit
		return ErrResourceExhausted
	}
	m.used += n
	return nil
}

// meteredHost charges the shared per-operation weights for every capability
// call. The native backend relies on it entirely for budget enforcement; the
// sandbox additionally charges per instruction.
type meteredHost struct {
	host  Host
	meter *weightMeter

	// err records the first exhaustion so the engine can surface it even if
	// the dispatched code swallows the panic-free failure path
	err error
}

func (h *meteredHost) StorageGet(key []byte) ([]byte, bool) {
	if !h.pay(weightStorage) {
		return nil, false
	}
	return h.host.StorageGet(key)
}

func (h *meteredHost) StorageSet(key, value []byte) {
	if h.pay(weightStorage) {
		h.host.StorageSet(key, value)
	}
}

func (h *meteredHost) Clock() int64 {
	if !h.pay(weightClock) {
		return 0
	}
	return h.host.Clock()
}

func (h *meteredHost) Random() []byte {
	if !h.pay(weightRandom) {
		return make([]byte, 32)
	}
	return h.host.Random()
}

func (h *meteredHost) pay(n uint64) bool {
	if h.err != nil {
		return false
	}
	if err := h.meter.charge(n); err != nil {
		h.err = err
		return false
	}
	return true
}
