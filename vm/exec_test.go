package vm

import (
	"testing"

	"github.com/fernlang/fern/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Bytecode VM tests
// ---------------------------------------------------------------------------

// loadFunction installs a hand-assembled module and returns its function,
// rooted on the operand stack for the duration of the test.
func loadFunction(t *testing.T, c *Context, m *bytecode.Module) *Value {
	t.Helper()
	fn := c.LoadModule(m)
	if fn.IsError() {
		t.Fatalf("loading module: %s", c.Format(fn))
	}
	c.PushOp(fn)
	return fn
}

// callFunction invokes fn with the given integer arguments and returns the
// result, popping everything it pushed.
func callFunction(t *testing.T, c *Context, fn *Value, args ...int32) *Value {
	t.Helper()
	for _, a := range args {
		c.PushOp(c.MakeInteger(a))
	}
	c.Funcall(fn, len(args))
	result := c.Op0()
	c.PopOp()
	return result
}

func TestVMPushConstants(t *testing.T) {
	c := testContext(t)

	e := bytecode.NewEmitter()
	e.Emit(bytecode.OpPush1)
	e.Emit(bytecode.OpPush2)
	e.EmitU8(bytecode.OpPushSmallInteger, 40)
	e.EmitI32(bytecode.OpPushInteger, -100000)
	e.Emit(bytecode.OpPop)
	e.Emit(bytecode.OpPop)
	e.Emit(bytecode.OpPop)
	e.Emit(bytecode.OpRet)

	fn := loadFunction(t, c, &bytecode.Module{Code: e.Code()})
	result := callFunction(t, c, fn)
	if result.Type() != TypeInteger || result.Integer() != 1 {
		t.Errorf("result = %s, want 1", c.Format(result))
	}
	c.PopOp() // fn
}

func TestVMMakePairFirstRest(t *testing.T) {
	c := testContext(t)

	e := bytecode.NewEmitter()
	e.Emit(bytecode.OpPush1)
	e.Emit(bytecode.OpPush2)
	e.Emit(bytecode.OpMakePair)
	e.Emit(bytecode.OpRet)

	fn := loadFunction(t, c, &bytecode.Module{Code: e.Code()})
	result := c.Protect(callFunction(t, c, fn))
	if got := c.Format(result.Value()); got != "'(1 . 2)" {
		t.Errorf("MakePair result = %q, want %q", got, "'(1 . 2)")
	}
	result.Release()
	c.PopOp() // fn

	e = bytecode.NewEmitter()
	e.Emit(bytecode.OpArg0)
	e.Emit(bytecode.OpFirst)
	e.Emit(bytecode.OpRet)
	fn = loadFunction(t, c, &bytecode.Module{Code: e.Code()})
	c.PushOp(evalString(t, c, "'(7 8 9)"))
	c.Funcall(fn, 1)
	if got := c.Op0(); got.Type() != TypeInteger || got.Integer() != 7 {
		t.Errorf("First = %s, want 7", c.Format(got))
	}
	c.PopOp() // result
	c.PopOp() // fn
}

func TestVMPushListAndSymbols(t *testing.T) {
	c := testContext(t)

	e := bytecode.NewEmitter()
	e.EmitU16(bytecode.OpPushSymbolReloc, 0) // "alpha"
	e.Emit(bytecode.OpPush1)
	e.Emit(bytecode.OpPush2)
	e.EmitU8(bytecode.OpPushList, 3)
	e.Emit(bytecode.OpRet)

	fn := loadFunction(t, c, &bytecode.Module{
		Symbols: []string{"alpha"},
		Code:    e.Code(),
	})
	result := c.Protect(callFunction(t, c, fn))
	if got := c.Format(result.Value()); got != "'(alpha 1 2)" {
		t.Errorf("PushList result = %q, want %q", got, "'(alpha 1 2)")
	}
	result.Release()
	c.PopOp() // fn
}

func TestVMPushString(t *testing.T) {
	c := testContext(t)

	e := bytecode.NewEmitter()
	e.EmitString("hello")
	e.Emit(bytecode.OpRet)

	fn := loadFunction(t, c, &bytecode.Module{Code: e.Code()})
	result := callFunction(t, c, fn)
	if result.Type() != TypeString || c.StringValue(result) != "hello" {
		t.Errorf("PushString result = %s", c.Format(result))
	}
	c.PopOp() // fn
}

func TestVMLoadVarAndFuncall(t *testing.T) {
	c := testContext(t)

	// (- 7 3) via the global subtraction primitive.
	e := bytecode.NewEmitter()
	e.EmitU8(bytecode.OpPushSmallInteger, 7)
	e.EmitU8(bytecode.OpPushSmallInteger, 3)
	e.EmitU16(bytecode.OpLoadVarReloc, 0) // "-"
	e.Emit(bytecode.OpFuncall2)
	e.Emit(bytecode.OpRet)

	fn := loadFunction(t, c, &bytecode.Module{
		Symbols: []string{"-"},
		Code:    e.Code(),
	})
	result := callFunction(t, c, fn)
	if result.Type() != TypeInteger || result.Integer() != 4 {
		t.Errorf("(- 7 3) via VM = %s, want 4", c.Format(result))
	}
	c.PopOp() // fn
}

func TestVMJumps(t *testing.T) {
	c := testContext(t)

	// if arg0 then 10 else 20, with long jumps.
	e := bytecode.NewEmitter()
	e.Emit(bytecode.OpArg0)
	falseJump := e.EmitJump(bytecode.OpJumpIfFalse)
	e.EmitU8(bytecode.OpPushSmallInteger, 10)
	endJump := e.EmitJump(bytecode.OpJump)
	e.PatchJump(falseJump)
	e.EmitU8(bytecode.OpPushSmallInteger, 20)
	e.PatchJump(endJump)
	e.Emit(bytecode.OpRet)

	fn := loadFunction(t, c, &bytecode.Module{Code: e.Code()})
	if got := callFunction(t, c, fn, 1); got.Integer() != 10 {
		t.Errorf("true branch = %s, want 10", c.Format(got))
	}
	if got := callFunction(t, c, fn, 0); got.Integer() != 20 {
		t.Errorf("false branch = %s, want 20", c.Format(got))
	}
	c.PopOp() // fn
}

func TestVMLexicalFrames(t *testing.T) {
	c := testContext(t)

	// Open a frame, bind x = 11, read it back with LexicalVarLoad.
	e := bytecode.NewEmitter()
	e.Emit(bytecode.OpLexicalFramePush)
	e.EmitU8(bytecode.OpPushSmallInteger, 11)
	e.EmitU16(bytecode.OpLexicalDefReloc, 0) // "x"
	e.EmitU16(bytecode.OpPushSymbolReloc, 0)
	e.Emit(bytecode.OpLexicalVarLoad)
	e.Emit(bytecode.OpLexicalFramePop)
	e.Emit(bytecode.OpRet)

	fn := loadFunction(t, c, &bytecode.Module{
		Symbols: []string{"x"},
		Code:    e.Code(),
	})
	result := callFunction(t, c, fn)
	if result.Type() != TypeInteger || result.Integer() != 11 {
		t.Errorf("LexicalVarLoad = %s, want 11", c.Format(result))
	}
	c.PopOp() // fn
}

func TestVMPushLambda(t *testing.T) {
	c := testContext(t)

	// ((lambda arg0) 5)
	e := bytecode.NewEmitter()
	e.EmitU8(bytecode.OpPushSmallInteger, 5)
	lambda := e.EmitJump(bytecode.OpPushLambda)
	e.Emit(bytecode.OpArg0)
	e.Emit(bytecode.OpRet)
	e.PatchJump(lambda)
	e.Emit(bytecode.OpFuncall1)
	e.Emit(bytecode.OpRet)

	fn := loadFunction(t, c, &bytecode.Module{Code: e.Code()})
	result := callFunction(t, c, fn)
	if result.Type() != TypeInteger || result.Integer() != 5 {
		t.Errorf("lambda call = %s, want 5", c.Format(result))
	}
	c.PopOp() // fn
}

// buildCountdown assembles: f(n) = n == 0 ? 0 : f(n - 1), recursing through
// TailCall1 against PushThis.
func buildCountdown() *bytecode.Module {
	e := bytecode.NewEmitter()
	e.Emit(bytecode.OpArg0)
	base := e.EmitJump(bytecode.OpJumpIfFalse)
	e.Emit(bytecode.OpArg0)
	e.Emit(bytecode.OpPush1)
	e.EmitU16(bytecode.OpLoadVarReloc, 0) // "-"
	e.Emit(bytecode.OpFuncall2)
	e.Emit(bytecode.OpPushThis)
	e.Emit(bytecode.OpTailCall1)
	end := e.EmitJump(bytecode.OpJump)
	e.PatchJump(base)
	e.Emit(bytecode.OpPush0)
	e.Emit(bytecode.OpEarlyRet)
	e.PatchJump(end)
	e.Emit(bytecode.OpRet)

	return &bytecode.Module{Symbols: []string{"-"}, Code: e.Code()}
}

func TestVMTailCallDeepRecursion(t *testing.T) {
	c := testContext(t)

	fn := loadFunction(t, c, buildCountdown())

	// Far deeper than the operand stack; only survivable with the
	// self-recursion restart.
	result := callFunction(t, c, fn, 10000)
	if result.Type() != TypeInteger || result.Integer() != 0 {
		t.Errorf("countdown(10000) = %s, want 0", c.Format(result))
	}
	c.PopOp() // fn
}

// buildSum assembles: f(n, acc) = n == 0 ? acc : f(n-1, acc+n), recursing
// through the generic two-argument TailCall.
func buildSum() *bytecode.Module {
	e := bytecode.NewEmitter()
	e.Emit(bytecode.OpArg0)
	base := e.EmitJump(bytecode.OpJumpIfFalse)
	e.Emit(bytecode.OpArg0)
	e.Emit(bytecode.OpPush1)
	e.EmitU16(bytecode.OpLoadVarReloc, 0) // "-"
	e.Emit(bytecode.OpFuncall2)
	e.Emit(bytecode.OpArg1)
	e.Emit(bytecode.OpArg0)
	e.EmitU16(bytecode.OpLoadVarReloc, 1) // "+"
	e.Emit(bytecode.OpFuncall2)
	e.Emit(bytecode.OpPushThis)
	e.EmitU8(bytecode.OpTailCall, 2)
	end := e.EmitJump(bytecode.OpJump)
	e.PatchJump(base)
	e.Emit(bytecode.OpArg1)
	e.Emit(bytecode.OpEarlyRet)
	e.PatchJump(end)
	e.Emit(bytecode.OpRet)

	return &bytecode.Module{Symbols: []string{"-", "+"}, Code: e.Code()}
}

func TestVMGenericTailCallOverwritesArgsInPlace(t *testing.T) {
	c := testContext(t)

	fn := loadFunction(t, c, buildSum())

	depth := c.StackDepth()
	result := callFunction(t, c, fn, 10000, 0)
	if result.Type() != TypeInteger || result.Integer() != 50005000 {
		t.Errorf("sum(10000) = %s, want 50005000", c.Format(result))
	}
	if c.StackDepth() != depth {
		t.Errorf("stack depth changed: %d -> %d", depth, c.StackDepth())
	}
	c.PopOp() // fn
}

func TestVMTailCallToOtherFunctionFallsBack(t *testing.T) {
	c := testContext(t)

	// TailCall whose target is an ordinary primitive, not `this`.
	e := bytecode.NewEmitter()
	e.EmitU8(bytecode.OpPushSmallInteger, 9)
	e.EmitU8(bytecode.OpPushSmallInteger, 4)
	e.EmitU16(bytecode.OpLoadVarReloc, 0) // "-"
	e.EmitU8(bytecode.OpTailCall, 2)
	e.Emit(bytecode.OpRet)

	fn := loadFunction(t, c, &bytecode.Module{
		Symbols: []string{"-"},
		Code:    e.Code(),
	})
	result := callFunction(t, c, fn)
	if result.Type() != TypeInteger || result.Integer() != 5 {
		t.Errorf("tail call fallback = %s, want 5", c.Format(result))
	}
	c.PopOp() // fn
}

func TestVMArgOpcode(t *testing.T) {
	c := testContext(t)

	e := bytecode.NewEmitter()
	e.Emit(bytecode.OpPush1)
	e.Emit(bytecode.OpArg)
	e.Emit(bytecode.OpRet)

	fn := loadFunction(t, c, &bytecode.Module{Code: e.Code()})
	result := callFunction(t, c, fn, 30, 40, 50)
	if result.Type() != TypeInteger || result.Integer() != 40 {
		t.Errorf("Arg(1) = %s, want 40", c.Format(result))
	}
	c.PopOp() // fn
}

func TestVMNotAndDup(t *testing.T) {
	c := testContext(t)

	e := bytecode.NewEmitter()
	e.Emit(bytecode.OpPush0)
	e.Emit(bytecode.OpNot)
	e.Emit(bytecode.OpDup)
	e.Emit(bytecode.OpPop)
	e.Emit(bytecode.OpRet)

	fn := loadFunction(t, c, &bytecode.Module{Code: e.Code()})
	result := callFunction(t, c, fn)
	if result.Type() != TypeInteger || result.Integer() != 1 {
		t.Errorf("Not(0) = %s, want 1", c.Format(result))
	}
	c.PopOp() // fn
}
