package vm

import "io"

// OperandStackDepth bounds the operand stack. A couple of slots are seeded
// with nil at init so the first few entries can be read without size checks.
const OperandStackDepth = 497

// IntegralConstant is one entry of a host-provided constant table. Constants
// shadow-fall-through globals lookup: a symbol not bound lexically or
// globally resolves here before reporting undefined.
type IntegralConstant struct {
	Name  string
	Value int32
}

// Context is one runtime instance. All state lives here; the runtime has no
// package-level mutable state. A Context is not safe for concurrent use:
// evaluation, allocation, and collection all run on the caller's goroutine.
type Context struct {
	platform Platform

	pool    *Pool
	interns []byte
	internPos int

	stack []*Value

	argsBreakLoc int
	currentArgc  int
	this         *Value

	nilv         *Value
	oom          *Value
	stringBuffer *Value
	globalsTree  *Value

	lexicalBindings *Value
	macros          *Value

	constants []IntegralConstant

	protectedHead *Protected

	entryCount int

	// console receives diagnostic output (the disassemble built-in).
	console io.Writer

	// quoteSym is the intern offset of "'", bound at init for the macro
	// expander and reader sugar.
	quoteSym uint16
}

// SetConsole directs diagnostic output (the `disassemble` built-in) to w.
func (c *Context) SetConsole(w io.Writer) {
	c.console = w
}

// NewContext performs one-time setup against the given host platform and
// returns a ready runtime with the built-in library installed.
func NewContext(platform Platform) *Context {
	return newContextWithSizes(platform, PoolSize, InternTableSize)
}

func newContextWithSizes(platform Platform, poolSize, internSize int) *Context {
	c := &Context{
		platform: platform,
		pool:     newPool(poolSize),
		interns:  make([]byte, internSize),
		stack:    make([]*Value, 0, OperandStackDepth),
		console:  io.Discard,
	}

	c.nilv = c.pool.Alloc()
	c.nilv.typ = TypeNil

	c.globalsTree = c.nilv
	c.this = c.nilv
	c.lexicalBindings = c.nilv
	c.stringBuffer = c.nilv
	c.macros = c.nilv

	c.oom = c.pool.Alloc()
	c.oom.typ = TypeError
	c.oom.num = int32(ErrOutOfMemory)
	c.oom.a = c.pool.Compress(c.nilv)

	// Seed the stack so Op(0)/Op(1) are safe before any pushes.
	c.PushOp(c.Nil())
	c.PushOp(c.Nil())

	if c.pool.Decompress(c.pool.Compress(c.nilv)) != c.nilv {
		c.platform.Fatal("pointer compression test failed")
	}

	c.quoteSym = c.Intern("'")

	c.SetVar("*platform*", c.MakeUserData(platform))

	c.installBuiltins()

	return c
}

// Nil returns the nil singleton.
func (c *Context) Nil() *Value {
	return c.nilv
}

// OOM returns the out-of-memory sentinel, the cell every constructor
// returns on allocation failure. Callers compare against it to distinguish
// exhaustion from ordinary error values.
func (c *Context) OOM() *Value {
	return c.oom
}

// Platform returns the host collaborator.
func (c *Context) Platform() Platform {
	return c.platform
}

// ---------------------------------------------------------------------------
// Operand stack
// ---------------------------------------------------------------------------

// PushOp pushes a cell onto the operand stack. The stack is the sole medium
// for passing values between reader, evaluator, VM, and built-ins, and is a
// GC root.
func (c *Context) PushOp(v *Value) {
	if len(c.stack) == cap(c.stack) {
		c.platform.Fatal("operand stack overflow")
	}
	c.stack = append(c.stack, v)
}

// PopOp removes the top of the operand stack.
func (c *Context) PopOp() {
	c.stack = c.stack[:len(c.stack)-1]
}

// Op returns the stack entry at the given offset from the top (0 is the
// top). Out-of-range reads return nil, matching the seeded under-indexing
// convention.
func (c *Context) Op(offset int) *Value {
	if offset >= len(c.stack) {
		return c.Nil()
	}
	return c.stack[len(c.stack)-1-offset]
}

// Op0 returns the top of the stack.
func (c *Context) Op0() *Value {
	return c.stack[len(c.stack)-1]
}

// Op1 returns the entry below the top.
func (c *Context) Op1() *Value {
	return c.stack[len(c.stack)-2]
}

// InsertOp inserts a cell offset entries below the top of the stack.
func (c *Context) InsertOp(offset int, v *Value) {
	if len(c.stack) == cap(c.stack) {
		c.platform.Fatal("operand stack overflow")
	}
	pos := len(c.stack) - offset
	c.stack = append(c.stack, nil)
	copy(c.stack[pos+1:], c.stack[pos:])
	c.stack[pos] = v
}

// StackDepth returns the current operand stack depth.
func (c *Context) StackDepth() int {
	return len(c.stack)
}

// ---------------------------------------------------------------------------
// Call frame
// ---------------------------------------------------------------------------

// Arg returns the n-th positional argument of the current call frame.
func (c *Context) Arg(n int) *Value {
	br := c.argsBreakLoc
	argc := c.currentArgc
	if br >= (argc-1)-n {
		return c.stack[br-((argc-1)-n)]
	}
	return c.Nil()
}

// Argc returns the argument count of the current call frame.
func (c *Context) Argc() int {
	return c.currentArgc
}

// This returns the currently-executing function, tracked for tail-call
// self-detection and the `this` built-in.
func (c *Context) This() *Value {
	return c.this
}

// ---------------------------------------------------------------------------
// Lexical frames
// ---------------------------------------------------------------------------

func (c *Context) lexicalFramePush() {
	c.lexicalBindings = c.MakeCons(c.Nil(), c.lexicalBindings)
}

func (c *Context) lexicalFramePop() {
	c.lexicalBindings = c.cdr(c.lexicalBindings)
}

func (c *Context) lexicalFrameStore(kvp *Value) {
	c.setCar(c.lexicalBindings, c.MakeCons(kvp, c.car(c.lexicalBindings)))
}

// ---------------------------------------------------------------------------
// Embedder API
// ---------------------------------------------------------------------------

// SetConstants registers a host-provided table of (name, integer) pairs that
// globals lookup falls through to before reporting an undefined variable.
func (c *Context) SetConstants(constants []IntegralConstant) {
	c.constants = constants
}

// SetVar binds a top-level variable by name.
func (c *Context) SetVar(name string, v *Value) {
	p := c.Protect(v)
	defer p.Release()
	sym := c.Protect(c.MakeSymbol(name))
	defer sym.Release()
	c.setVar(sym.Value(), v)
}

// GetVar looks a variable up by name through the full lookup chain (lexical
// frames, globals tree, constant table). Returns an error cell on a miss.
func (c *Context) GetVar(name string) *Value {
	return c.getVar(c.MakeSymbol(name))
}

// Unbind removes a top-level binding.
func (c *Context) Unbind(name string) {
	c.globalsTreeErase(c.MakeSymbol(name))
}

// IsExecuting reports whether the interpreter is somewhere on the call
// stack; native functions may reenter Eval, so an entry counter tracks
// nesting depth.
func (c *Context) IsExecuting() bool {
	return c.entryCount > 0
}

// DoString reads every top-level form from source, evaluating each in
// order, and returns the value of the last one. On an evaluation error the
// onError callback (if non-nil) receives the error cell and reading stops.
func (c *Context) DoString(source string, onError func(*Value)) *Value {
	c.entryCount++
	defer func() { c.entryCount-- }()

	result := c.Protect(c.Nil())
	defer result.Release()

	i := 0
	for {
		i += c.Read(source[min(i, len(source)):])
		readerResult := c.Op0()
		if readerResult == c.Nil() {
			c.PopOp()
			break
		}
		c.Eval(readerResult)
		exprResult := c.Op0()
		result.Set(exprResult)
		c.PopOp() // expression result
		c.PopOp() // reader result

		if exprResult.IsError() {
			c.PushOp(exprResult)
			if onError != nil {
				onError(exprResult)
			}
			c.PopOp()
			break
		}
	}

	return result.Value()
}

// Globals invokes fn with the name of every bound global and constant. Used
// by the `env` built-in and the REPL completer.
func (c *Context) Globals(fn func(name string)) {
	c.globalsTreeTraverse(c.globalsTree, func(kvp, _ *Value) {
		fn(c.SymbolName(c.car(kvp)))
	})
	for _, k := range c.constants {
		fn(k.Name)
	}
}
