package vm

import (
	"encoding/binary"

	"github.com/fernlang/fern/pkg/bytecode"
)

// Module loading. A module's bytecode is position-independent: symbol
// references are indices into the module's own symbol table. Loading copies
// the code into a fresh data-buffer, then rewrites every relocatable
// instruction in place — the module-local index becomes an intern-arena
// offset and the opcode becomes its resolved variant. After the scan the
// buffer is ordinary executable bytecode.

// LoadModule installs a precompiled module and returns a bytecode function
// whose start offset is 0 within the module's buffer. The caller must root
// the returned function (push it or Protect it) before allocating again.
// Returns an error cell if the module cannot be installed.
func (c *Context) LoadModule(m *bytecode.Module) *Value {
	if len(m.Code) > ScratchBufferSize {
		return c.makeStringError(ErrInvalidSyntax, "module bytecode exceeds buffer size")
	}

	buffer := c.Protect(c.MakeDataBuffer())
	defer buffer.Release()
	if buffer.Value() == c.oom {
		return c.oom
	}

	zero := c.Protect(c.MakeInteger(0))
	defer zero.Release()

	pair := c.Protect(c.MakeCons(zero.Value(), buffer.Value()))
	defer pair.Release()

	fn := c.Protect(c.MakeBytecodeFunction(pair.Value()))
	defer fn.Release()
	if fn.Value() == c.oom {
		return c.oom
	}

	data := buffer.Value().Buffer().Data[:]
	copy(data, m.Code)

	// Rewrite relocatable instructions. PushLambda bodies are walked
	// linearly, so a depth counter pairs each with its closing Ret; the scan
	// ends at the outermost Ret.
	depth := 0
	pc := 0
	for {
		size := bytecode.InstructionLen(data, pc)
		if size == 0 || pc+size > len(data) {
			return c.makeStringError(ErrInvalidSyntax, "truncated module bytecode")
		}

		op := bytecode.Opcode(data[pc])
		switch {
		case op == bytecode.OpPushLambda:
			depth++

		case op == bytecode.OpRet:
			if depth == 0 {
				return fn.Value()
			}
			depth--

		case op.IsRelocatable():
			symIndex := int(binary.LittleEndian.Uint16(data[pc+1:]))
			name, err := m.Symbol(symIndex)
			if err != nil {
				return c.makeStringError(ErrInvalidSyntax, "module symbol index out of range")
			}
			binary.LittleEndian.PutUint16(data[pc+1:], c.Intern(name))
			data[pc] = byte(op.Resolved())
		}

		pc += size
	}
}

// LoadModuleBytes decodes a module from its binary form and installs it.
func (c *Context) LoadModuleBytes(data []byte) (*Value, error) {
	m, err := bytecode.DecodeModule(data)
	if err != nil {
		return nil, err
	}
	return c.LoadModule(m), nil
}
