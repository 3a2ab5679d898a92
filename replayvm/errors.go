// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replayvm

import "errors"

// BlockNotFoundText is the wire text of ErrBlockNotFound. A serving node
// reports it verbatim in its RPC error message and the client matches on it
// to rebuild the typed error; the constant keeps the two sides in lockstep.
const BlockNotFoundText = "block not found"

// Fatal replay errors. The driver wraps these with the stage that produced
// them; callers match with errors.Is.
var (
	ErrAmbiguousReference = errors.New("no usable block reference")
	ErrSourceUnreachable  = errors.New("state source unreachable")
	ErrBlockNotFound      = errors.New(BlockNotFoundText)
	ErrCorruptSnapshot    = errors.New("corrupt snapshot")
	ErrEntryPointNotFound = errors.New("entry point not found")
	ErrResourceExhausted  = errors.New("weight limit exhausted")
	ErrTrap               = errors.New("execution trapped")
)

// ErrVersionDecode is advisory. Version decoding feeds the compatibility
// report only; a failure degrades the report, it never aborts a replay.
var ErrVersionDecode = errors.New("cannot decode runtime version")
