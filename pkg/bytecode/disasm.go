package bytecode

import (
	"encoding/binary"
	"fmt"
	"io"
)

// SymbolNamer resolves a u16 symbol operand to a printable name. The runtime
// passes a lookup into its intern arena; the CLI passes a module's symbol
// table. A nil namer prints raw offsets.
type SymbolNamer func(offset uint16) string

// Disassemble writes a listing of one function to w, starting at start and
// ending at the function's outermost OpRet. OpPushLambda operands are end
// offsets, so nested lambda bodies are walked linearly; a depth counter pairs
// each OpPushLambda with the OpRet that closes it.
func Disassemble(w io.Writer, code []byte, start int, names SymbolNamer) error {
	symName := func(off uint16) string {
		if names == nil {
			return fmt.Sprintf("@%d", off)
		}
		return names(off)
	}

	depth := 0
	for pc := start; pc < len(code); {
		op := Opcode(code[pc])
		size := InstructionLen(code, pc)
		if size == 0 || pc+size > len(code) {
			return fmt.Errorf("truncated instruction %s at offset %d", op, pc-start)
		}

		operands := code[pc+1 : pc+size]
		var detail string

		switch op {
		case OpFatal:
			fmt.Fprintf(w, "%04d: %s\n", pc-start, op)
			return nil

		case OpPushSymbol, OpLoadVar, OpLexicalDef:
			detail = fmt.Sprintf("(%s)", symName(binary.LittleEndian.Uint16(operands)))

		case OpPushSymbolReloc, OpLoadVarReloc, OpLexicalDefReloc:
			detail = fmt.Sprintf("(%d)", binary.LittleEndian.Uint16(operands))

		case OpPushLambda, OpJump, OpJumpIfFalse:
			detail = fmt.Sprintf("(%d)", binary.LittleEndian.Uint16(operands))

		case OpPushInteger:
			detail = fmt.Sprintf("(%d)", int32(binary.LittleEndian.Uint32(operands)))

		case OpPushString:
			detail = fmt.Sprintf("(%q)", string(operands[1:]))

		case OpPushSmallInteger, OpPushList, OpFuncall, OpTailCall,
			OpSmallJump, OpSmallJumpIfFalse:
			detail = fmt.Sprintf("(%d)", operands[0])
		}

		fmt.Fprintf(w, "%04d: %s%s\n", pc-start, op, detail)

		switch op {
		case OpPushLambda:
			depth++
		case OpRet:
			if depth == 0 {
				return nil
			}
			depth--
		}

		pc += size
	}

	return fmt.Errorf("function starting at %d has no terminating RET", start)
}
