// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replayvm

import (
	"fmt"
	"sync"
)

var _ Engine = (*NativeEngine)(nil)

// Dispatcher is a statically linked runtime implementation: Go code compiled
// into this binary that claims to match the on-chain program. Dispatch must
// return ErrEntryPointNotFound (possibly wrapped) for entry points it does
// not implement.
type Dispatcher interface {
	// SpecName reports the runtime spec name this dispatcher answers for
	SpecName() string

	// Dispatch runs [entryPoint] with [args], touching state only through [host]
	Dispatch(host Host, entryPoint string, args []byte) ([]byte, error)
}

// NativeEngine dispatches directly to a linked-in runtime instead of
// interpreting the installed blob. Use it only when the local build is
// trusted to match the on-chain code bit for bit; the version check is the
// operator's safety net, not the engine's.
type NativeEngine struct {
	dispatcher Dispatcher
}

// NewNativeEngine returns a native backend over [dispatcher]
func NewNativeEngine(dispatcher Dispatcher) *NativeEngine {
	return &NativeEngine{dispatcher: dispatcher}
}

// ReadVersion decodes the version from [code]. Version metadata lives in the
// blob container, so reading it is identical across backends.
func (e *NativeEngine) ReadVersion(code []byte) (*RuntimeVersion, error) {
	program, err := ParseProgram(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrVersionDecode, err)
	}
	return &program.Version, nil
}

// Invoke dispatches [req.EntryPoint] to the linked-in runtime. The weight
// budget is enforced by metering the host capability calls the dispatched
// code makes.
func (e *NativeEngine) Invoke(overlay *Overlay, req Request, host Host) (*Outcome, error) {
	meter := &weightMeter{limit: req.WeightLimit}
	if err := meter.charge(weightBase); err != nil {
		return nil, err
	}
	metered := &meteredHost{host: host, meter: meter}

	result, err := e.dispatcher.Dispatch(metered, req.EntryPoint, req.Args)
	if metered.err != nil {
		// Exhaustion beats whatever the dispatched code returned: a partial
		// result computed on a blown budget must not escape.
		return nil, metered.err
	}
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Result:     result,
		WeightUsed: meter.used,
	}, nil
}

// Linked-in dispatchers register themselves by spec name, the way VM
// factories register with a node. The CLI looks the dispatcher up by the
// spec name the resolved state's code declares.
var (
	dispatchersLock sync.RWMutex
	dispatchers     = make(map[string]Dispatcher)
)

// RegisterDispatcher makes [d] available for native execution
func RegisterDispatcher(d Dispatcher) {
	dispatchersLock.Lock()
	defer dispatchersLock.Unlock()
	dispatchers[d.SpecName()] = d
}

// GetDispatcher returns the dispatcher registered for [specName]
func GetDispatcher(specName string) (Dispatcher, error) {
	dispatchersLock.RLock()
	defer dispatchersLock.RUnlock()
	d, ok := dispatchers[specName]
	if !ok {
		return nil, fmt.Errorf("no native runtime linked in for spec %q", specName)
	}
	return d, nil
}
