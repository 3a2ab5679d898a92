// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replayvm

import (
	"encoding/binary"
	"fmt"
)

var _ Engine = (*SandboxEngine)(nil)

// SandboxEngine interprets the program blob currently installed in the
// overlay. It is the default backend: it executes exactly the bytes present
// in state, not a possibly-divergent local build, and every host interaction
// goes through the narrow Host surface.
type SandboxEngine struct{}

// NewSandboxEngine returns a sandboxed interpreter backend
func NewSandboxEngine() *SandboxEngine {
	return &SandboxEngine{}
}

// ReadVersion decodes a program container and returns its declared version
func (e *SandboxEngine) ReadVersion(code []byte) (*RuntimeVersion, error) {
	program, err := ParseProgram(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrVersionDecode, err)
	}
	return &program.Version, nil
}

// Invoke runs [req.EntryPoint] from the code installed in [overlay]
func (e *SandboxEngine) Invoke(overlay *Overlay, req Request, host Host) (*Outcome, error) {
	code, ok := overlay.Code()
	if !ok {
		return nil, fmt.Errorf("%w: no code installed in state", ErrEntryPointNotFound)
	}
	program, err := ParseProgram(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTrap, err)
	}
	body, ok := program.Entry(req.EntryPoint)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEntryPointNotFound, req.EntryPoint)
	}

	interp := &interpreter{
		code:  body,
		args:  req.Args,
		host:  host,
		meter: &weightMeter{limit: req.WeightLimit},
	}
	result, err := interp.run()
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Result:     result,
		WeightUsed: interp.meter.used,
	}, nil
}

// interpreter executes one bytecode body over a stack of byte strings
type interpreter struct {
	code  []byte
	args  []byte
	host  Host
	meter *weightMeter

	pc    int
	stack [][]byte
}

func (in *interpreter) run() ([]byte, error) {
	for in.pc < len(in.code) {
		opcode := in.code[in.pc]
		in.pc++

		switch opcode {
		case OpPush:
			if err := in.meter.charge(weightBase); err != nil {
				return nil, err
			}
			literal, err := in.readLiteral()
			if err != nil {
				return nil, err
			}
			in.push(literal)

		case OpArg:
			if err := in.meter.charge(weightBase); err != nil {
				return nil, err
			}
			in.push(copyBytes(in.args))

		case OpGet:
			if err := in.meter.charge(weightStorage); err != nil {
				return nil, err
			}
			key, err := in.pop()
			if err != nil {
				return nil, err
			}
			value, _ := in.host.StorageGet(key)
			in.push(value)

		case OpSet:
			if err := in.meter.charge(weightStorage); err != nil {
				return nil, err
			}
			value, err := in.pop()
			if err != nil {
				return nil, err
			}
			key, err := in.pop()
			if err != nil {
				return nil, err
			}
			in.host.StorageSet(key, value)

		case OpTime:
			if err := in.meter.charge(weightClock); err != nil {
				return nil, err
			}
			now := make([]byte, 8)
			binary.BigEndian.PutUint64(now, uint64(in.host.Clock()))
			in.push(now)

		case OpRandom:
			if err := in.meter.charge(weightRandom); err != nil {
				return nil, err
			}
			in.push(in.host.Random())

		case OpCat:
			if err := in.meter.charge(weightBase); err != nil {
				return nil, err
			}
			b, err := in.pop()
			if err != nil {
				return nil, err
			}
			a, err := in.pop()
			if err != nil {
				return nil, err
			}
			in.push(append(a, b...))

		case OpReturn:
			if err := in.meter.charge(weightBase); err != nil {
				return nil, err
			}
			return in.pop()

		case OpAbort:
			return nil, fmt.Errorf("%w: aborted by program at offset %d", ErrTrap, in.pc-1)

		default:
			return nil, fmt.Errorf("%w: invalid opcode %#02x at offset %d", ErrTrap, opcode, in.pc-1)
		}
	}
	return nil, fmt.Errorf("%w: code ended without returning", ErrTrap)
}

// readLiteral consumes an OpPush operand at the current pc
func (in *interpreter) readLiteral() ([]byte, error) {
	if in.pc+2 > len(in.code) {
		return nil, fmt.Errorf("%w: truncated push length at offset %d", ErrTrap, in.pc)
	}
	length := int(binary.BigEndian.Uint16(in.code[in.pc:]))
	in.pc += 2
	if in.pc+length > len(in.code) {
		return nil, fmt.Errorf("%w: truncated push literal at offset %d", ErrTrap, in.pc)
	}
	literal := copyBytes(in.code[in.pc : in.pc+length])
	in.pc += length
	return literal, nil
}

func (in *interpreter) push(value []byte) {
	in.stack = append(in.stack, value)
}

func (in *interpreter) pop() ([]byte, error) {
	if len(in.stack) == 0 {
		return nil, fmt.Errorf("%w: stack underflow at offset %d", ErrTrap, in.pc-1)
	}
	top := in.stack[len(in.stack)-1]
	in.stack = in.stack[:len(in.stack)-1]
	return top, nil
}
