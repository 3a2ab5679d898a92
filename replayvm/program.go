// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package replayvm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/utils/wrappers"
)

// Program is the container format of an executable blob: the version the
// program declares about itself plus one bytecode body per entry point. The
// container is codec-encoded; the bodies are raw bytecode for the sandbox
// interpreter.
type Program struct {
	Version RuntimeVersion `serialize:"true"`
	Entries []ProgramEntry `serialize:"true"`
}

// ProgramEntry is one named entry point and its bytecode
type ProgramEntry struct {
	Name string `serialize:"true"`
	Code []byte `serialize:"true"`
}

var errEmptyProgram = errors.New("empty program blob")

// ParseProgram parses the codec representation of a program container
func ParseProgram(blob []byte) (*Program, error) {
	if len(blob) == 0 {
		return nil, errEmptyProgram
	}
	program := &Program{}
	parsedVersion, err := Codec.Unmarshal(blob, program)
	if err != nil {
		return nil, err
	}
	if parsedVersion != CodecVersion {
		return nil, errWrongCodecVersion
	}
	return program, nil
}

// Bytes returns the codec representation of [p]
func (p *Program) Bytes() ([]byte, error) {
	return Codec.Marshal(CodecVersion, p)
}

// Entry returns the bytecode of the entry point named [name]
func (p *Program) Entry(name string) ([]byte, bool) {
	for _, entry := range p.Entries {
		if entry.Name == name {
			return entry.Code, true
		}
	}
	return nil, false
}

// Bytecode operates on a stack of byte strings. Every instruction is one
// opcode byte followed by its operands; OpPush carries a 2-byte big-endian
// length and that many literal bytes.
const (
	// OpPush pushes the literal operand
	OpPush byte = iota
	// OpArg pushes the invocation's encoded argument bytes
	OpArg
	// OpGet pops a key and pushes the stored value (empty if absent)
	OpGet
	// OpSet pops a value, pops a key, and stores value under key
	OpSet
	// OpTime pushes the host clock as 8 big-endian bytes of unix seconds
	OpTime
	// OpRandom pushes 32 bytes of host randomness
	OpRandom
	// OpCat pops b, pops a, pushes a||b
	OpCat
	// OpReturn pops the result and halts successfully
	OpReturn
	// OpAbort signals a deliberate abort by the program
	OpAbort
)

// pushOverhead is the size of an OpPush instruction without its literal
const pushOverhead = 1 + wrappers.ShortLen

// Assembler builds bytecode bodies. It is how tests and local runtime builds
// produce program blobs; real candidates come out of an external builder.
type Assembler struct {
	code []byte
}

// Push appends an instruction pushing [data]
func (a *Assembler) Push(data []byte) *Assembler {
	if len(data) > 0xffff {
		panic(fmt.Sprintf("push literal too long: %d bytes", len(data)))
	}
	instr := make([]byte, pushOverhead+len(data))
	instr[0] = OpPush
	binary.BigEndian.PutUint16(instr[1:], uint16(len(data)))
	copy(instr[pushOverhead:], data)
	a.code = append(a.code, instr...)
	return a
}

func (a *Assembler) Arg() *Assembler    { return a.op(OpArg) }
func (a *Assembler) Get() *Assembler    { return a.op(OpGet) }
func (a *Assembler) Set() *Assembler    { return a.op(OpSet) }
func (a *Assembler) Time() *Assembler   { return a.op(OpTime) }
func (a *Assembler) Random() *Assembler { return a.op(OpRandom) }
func (a *Assembler) Cat() *Assembler    { return a.op(OpCat) }
func (a *Assembler) Return() *Assembler { return a.op(OpReturn) }
func (a *Assembler) Abort() *Assembler  { return a.op(OpAbort) }

func (a *Assembler) op(opcode byte) *Assembler {
	a.code = append(a.code, opcode)
	return a
}

// Bytes returns the assembled bytecode
func (a *Assembler) Bytes() []byte {
	out := make([]byte, len(a.code))
	copy(out, a.code)
	return out
}
