package vm

import (
	"encoding/binary"

	"github.com/fernlang/fern/pkg/bytecode"
)

// The stack machine. Instructions are variable-length records in a
// data-buffer: a one-byte opcode followed by little-endian operands. The
// program counter is a byte offset into the buffer; all jump targets are
// relative to the executing function's start offset, so one buffer can hold
// many concatenated, position-independent functions.

// execute runs bytecode from startOffset until the function's Ret.
// Entered through Funcall, which has already established the call frame.
func (c *Context) execute(codeBuffer *Value, startOffset int) {
	pc := startOffset
	code := &codeBuffer.Buffer().Data

	// A recursive tail call never returns normally, so any lexical frames
	// opened since function entry must be unwound by hand before the restart
	// jump — the LexicalFramePop instructions after the call site will never
	// execute.
	nestedScope := 0
	unwindLexicalScope := func() {
		for ; nestedScope > 0; nestedScope-- {
			c.lexicalFramePop()
		}
	}

	readU8 := func() uint8 {
		v := code[pc]
		pc++
		return v
	}
	readU16 := func() uint16 {
		v := binary.LittleEndian.Uint16(code[pc:])
		pc += 2
		return v
	}
	readI32 := func() int32 {
		v := int32(binary.LittleEndian.Uint32(code[pc:]))
		pc += 4
		return v
	}

	// tailCall restarts the current function in place when the callee is the
	// running function itself with a matching argc: the positional arguments
	// are overwritten and the pc rewound, with no stack growth. Any other
	// callee goes through the ordinary funcall path. Returns true when the
	// caller should continue from the rewound pc.
	tailCall := func(argc int) bool {
		fn := c.Protect(c.Op(0))
		defer fn.Release()

		if fn.Value() == c.this && argc == c.currentArgc {
			c.PopOp() // function

			args := make([]*Value, argc) // args[0] is the last argument
			for i := 0; i < argc; i++ {
				args[i] = c.Op(i)
			}
			for i := 0; i < 2*argc; i++ {
				c.PopOp() // new arguments, then the previous ones
			}
			for i := argc - 1; i >= 0; i-- {
				c.PushOp(args[i])
			}

			unwindLexicalScope()
			pc = startOffset
			return true
		}

		c.PopOp()
		c.Funcall(fn.Value(), argc)
		return false
	}

	funcall := func(argc int) {
		fn := c.Protect(c.Op(0))
		c.PopOp()
		c.Funcall(fn.Value(), argc)
		fn.Release()
	}

	for {
		op := bytecode.Opcode(code[pc])
		pc++

		switch op {
		case bytecode.OpJumpIfFalse:
			offset := readU16()
			if !c.IsBooleanTrue(c.Op(0)) {
				pc = startOffset + int(offset)
			}
			c.PopOp()

		case bytecode.OpJump:
			pc = startOffset + int(readU16())

		case bytecode.OpSmallJumpIfFalse:
			offset := readU8()
			if !c.IsBooleanTrue(c.Op(0)) {
				pc = startOffset + int(offset)
			}
			c.PopOp()

		case bytecode.OpSmallJump:
			pc = startOffset + int(readU8())

		case bytecode.OpLoadVar:
			sym := c.makeSymbolStable(readU16())
			if sym.IsError() {
				c.PushOp(sym)
			} else {
				c.PushOp(c.getVar(sym))
			}

		case bytecode.OpDup:
			c.PushOp(c.Op(0))

		case bytecode.OpNot:
			input := c.Op(0)
			c.PopOp()
			if c.IsBooleanTrue(input) {
				c.PushOp(c.MakeInteger(0))
			} else {
				c.PushOp(c.MakeInteger(1))
			}

		case bytecode.OpPushNil:
			c.PushOp(c.Nil())

		case bytecode.OpPushInteger:
			c.PushOp(c.MakeInteger(readI32()))

		case bytecode.OpPush0:
			c.PushOp(c.MakeInteger(0))

		case bytecode.OpPush1:
			c.PushOp(c.MakeInteger(1))

		case bytecode.OpPush2:
			c.PushOp(c.MakeInteger(2))

		case bytecode.OpPushSmallInteger:
			c.PushOp(c.MakeInteger(int32(readU8())))

		case bytecode.OpPushSymbol:
			c.PushOp(c.makeSymbolStable(readU16()))

		case bytecode.OpPushString:
			length := int(readU8())
			s := string(code[pc : pc+length])
			pc += length
			c.PushOp(c.MakeString(s))

		case bytecode.OpTailCall:
			if tailCall(int(readU8())) {
				continue
			}

		case bytecode.OpTailCall1:
			if tailCall(1) {
				continue
			}

		case bytecode.OpTailCall2:
			if tailCall(2) {
				continue
			}

		case bytecode.OpTailCall3:
			if tailCall(3) {
				continue
			}

		case bytecode.OpFuncall:
			funcall(int(readU8()))

		case bytecode.OpFuncall1:
			funcall(1)

		case bytecode.OpFuncall2:
			funcall(2)

		case bytecode.OpFuncall3:
			funcall(3)

		case bytecode.OpArg:
			argNum := c.Op(0)
			c.PopOp()
			if argNum.typ == TypeInteger {
				c.PushOp(c.Arg(int(argNum.Integer())))
			} else {
				c.PushOp(c.MakeError(ErrInvalidArgumentType, c.Nil()))
			}

		case bytecode.OpArg0:
			c.PushOp(c.Arg(0))

		case bytecode.OpArg1:
			c.PushOp(c.Arg(1))

		case bytecode.OpArg2:
			c.PushOp(c.Arg(2))

		case bytecode.OpMakePair:
			cons := c.MakeCons(c.Op(1), c.Op(0))
			c.PopOp()
			c.PopOp()
			c.PushOp(cons)

		case bytecode.OpFirst:
			arg := c.Op(0)
			c.PopOp()
			if arg.typ == TypeCons {
				c.PushOp(c.car(arg))
			} else {
				c.PushOp(c.MakeError(ErrInvalidArgumentType, c.Nil()))
			}

		case bytecode.OpRest:
			arg := c.Op(0)
			c.PopOp()
			if arg.typ == TypeCons {
				c.PushOp(c.cdr(arg))
			} else {
				c.PushOp(c.MakeError(ErrInvalidArgumentType, c.Nil()))
			}

		case bytecode.OpPop:
			c.PopOp()

		case bytecode.OpEarlyRet, bytecode.OpRet:
			return

		case bytecode.OpPushLambda:
			end := readU16()
			// pc now addresses the lambda body; that is the new function's
			// start offset.
			offset := c.MakeInteger(int32(pc))
			if offset.typ != TypeInteger {
				c.PushOp(offset)
			} else {
				c.PushOp(offset)
				pair := c.MakeCons(offset, codeBuffer)
				c.PopOp()
				if pair.typ != TypeCons {
					c.PushOp(pair)
				} else {
					c.PushOp(pair)
					fn := c.MakeBytecodeFunction(pair)
					c.PopOp()
					c.PushOp(fn)
				}
			}
			pc = startOffset + int(end)

		case bytecode.OpPushList:
			count := int(readU8())
			lat := c.Protect(c.MakeList(count))
			for i := 0; i < count; i++ {
				c.SetListElement(lat.Value(), i, c.Op((count-1)-i))
			}
			for i := 0; i < count; i++ {
				c.PopOp()
			}
			c.PushOp(lat.Value())
			lat.Release()

		case bytecode.OpPushThis:
			c.PushOp(c.This())

		case bytecode.OpLexicalDef:
			sym := c.Protect(c.makeSymbolStable(readU16()))
			pair := c.MakeCons(sym.Value(), c.Op(0))
			sym.Release()
			c.PopOp()      // value
			c.PushOp(pair) // root the pair
			c.lexicalFrameStore(pair)
			c.PopOp()

		case bytecode.OpLexicalFramePush:
			c.lexicalFramePush()
			nestedScope++

		case bytecode.OpLexicalFramePop:
			c.lexicalFramePop()
			nestedScope--

		case bytecode.OpLexicalVarLoad:
			sym := c.Op(0)
			c.PopOp()
			c.PushOp(c.lexicalLookup(sym))

		default:
			c.platform.Fatal("vm: fatal instruction")
		}
	}
}

// lexicalLookup searches only the lexical-binding chain for a symbol.
func (c *Context) lexicalLookup(symbol *Value) *Value {
	if symbol.typ != TypeSymbol {
		return c.MakeError(ErrInvalidArgumentType, c.Nil())
	}
	for stack := c.lexicalBindings; stack != c.nilv; stack = c.cdr(stack) {
		for bindings := c.car(stack); bindings != c.nilv; bindings = c.cdr(bindings) {
			kvp := c.car(bindings)
			if c.car(kvp).SymbolOffset() == symbol.SymbolOffset() {
				return c.cdr(kvp)
			}
		}
	}
	return c.makeStringError(ErrUndefinedVariableAccess,
		"[var: "+c.SymbolName(symbol)+"]")
}
