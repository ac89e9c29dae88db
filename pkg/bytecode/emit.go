package bytecode

import "encoding/binary"

// Emitter assembles the bytecode for a single function. Offsets emitted by
// jump and lambda instructions are relative to the function start, which the
// emitter treats as offset 0; the assembled code is position-independent
// within whatever buffer it ends up in.
type Emitter struct {
	code []byte
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{code: make([]byte, 0, 64)}
}

// Emit appends a bare opcode.
func (e *Emitter) Emit(op Opcode) int {
	offset := len(e.code)
	e.code = append(e.code, byte(op))
	return offset
}

// EmitU8 appends an opcode with a one-byte operand.
func (e *Emitter) EmitU8(op Opcode, operand uint8) int {
	offset := len(e.code)
	e.code = append(e.code, byte(op), operand)
	return offset
}

// EmitU16 appends an opcode with a two-byte operand.
func (e *Emitter) EmitU16(op Opcode, operand uint16) int {
	offset := len(e.code)
	e.code = append(e.code, byte(op))
	e.code = binary.LittleEndian.AppendUint16(e.code, operand)
	return offset
}

// EmitI32 appends an opcode with a four-byte signed operand.
func (e *Emitter) EmitI32(op Opcode, operand int32) int {
	offset := len(e.code)
	e.code = append(e.code, byte(op))
	e.code = binary.LittleEndian.AppendUint32(e.code, uint32(operand))
	return offset
}

// EmitString appends an OpPushString instruction with inline bytes.
// The string must fit in a one-byte length.
func (e *Emitter) EmitString(s string) int {
	if len(s) > 0xFF {
		panic("Emitter.EmitString: string too long for inline encoding")
	}
	offset := len(e.code)
	e.code = append(e.code, byte(OpPushString), byte(len(s)))
	e.code = append(e.code, s...)
	return offset
}

// EmitJump appends a u16-operand jump with a placeholder offset and returns
// the placeholder position for later patching.
func (e *Emitter) EmitJump(op Opcode) int {
	e.code = append(e.code, byte(op), 0xFF, 0xFF)
	return len(e.code) - 2
}

// PatchJump rewrites a placeholder from EmitJump to target the current
// offset. The stored offset is relative to the function start.
func (e *Emitter) PatchJump(placeholder int) {
	binary.LittleEndian.PutUint16(e.code[placeholder:], uint16(len(e.code)))
}

// PatchJumpTo rewrites a placeholder from EmitJump to a specific offset.
func (e *Emitter) PatchJumpTo(placeholder, target int) {
	binary.LittleEndian.PutUint16(e.code[placeholder:], uint16(target))
}

// CurrentOffset returns the offset the next instruction will be emitted at.
func (e *Emitter) CurrentOffset() int {
	return len(e.code)
}

// Code returns the assembled bytecode.
func (e *Emitter) Code() []byte {
	return e.code
}
