package vm

// Constructors, one per cell variant. All follow the same pattern: request a
// slot from the pool — alloc already runs one GC pass and retries on
// exhaustion — and on failure return the shared OOM sentinel without a
// second collection.

func (c *Context) allocValue() *Value {
	if v := c.pool.Alloc(); v != nil {
		return v
	}
	c.RunGC()
	if v := c.pool.Alloc(); v != nil {
		return v
	}
	return nil
}

// MakeFunction allocates a native-function cell wrapping a host callable.
func (c *Context) MakeFunction(impl NativeFn) *Value {
	if v := c.allocValue(); v != nil {
		v.typ = TypeFunction
		v.mode = FuncModeNative
		v.native = impl
		return v
	}
	return c.oom
}

// makeLispFunction captures the current lexical-binding chain together with
// an expression list.
func (c *Context) makeLispFunction(code *Value) *Value {
	if v := c.allocValue(); v != nil {
		v.typ = TypeFunction
		v.mode = FuncModeLisp
		v.a = c.pool.Compress(code)
		v.b = c.pool.Compress(c.lexicalBindings)
		return v
	}
	return c.oom
}

// MakeBytecodeFunction captures the current lexical-binding chain together
// with a (start-offset . data-buffer) pair.
func (c *Context) MakeBytecodeFunction(bytecode *Value) *Value {
	if v := c.allocValue(); v != nil {
		v.typ = TypeFunction
		v.mode = FuncModeBytecode
		v.a = c.pool.Compress(bytecode)
		v.b = c.pool.Compress(c.lexicalBindings)
		return v
	}
	return c.oom
}

// MakeCons allocates a pair. The arguments are stored before any further
// allocation, so they need no protection for this call alone — but a caller
// holding them across other allocations must root them.
func (c *Context) MakeCons(car, cdr *Value) *Value {
	if v := c.allocValue(); v != nil {
		v.typ = TypeCons
		v.a = c.pool.Compress(car)
		v.b = c.pool.Compress(cdr)
		return v
	}
	return c.oom
}

// MakeInteger allocates a 32-bit integer cell.
func (c *Context) MakeInteger(value int32) *Value {
	if v := c.allocValue(); v != nil {
		v.typ = TypeInteger
		v.num = value
		return v
	}
	return c.oom
}

// MakeList builds an n-element nil-filled list. The intermediate head rides
// the operand stack between allocations to stay reachable.
func (c *Context) MakeList(length int) *Value {
	if length <= 0 {
		return c.Nil()
	}
	head := c.MakeCons(c.Nil(), c.Nil())
	for length--; length > 0; length-- {
		c.PushOp(head)
		cell := c.MakeCons(c.Nil(), head)
		c.PopOp()
		head = cell
	}
	return head
}

// MakeError allocates an error cell with a code and a context value
// (typically the offending expression; nil when no better context exists,
// in which case eval fills it in during bubble-up).
func (c *Context) MakeError(code ErrorCode, context *Value) *Value {
	if v := c.allocValue(); v != nil {
		v.typ = TypeError
		v.num = int32(code)
		v.a = c.pool.Compress(context)
		return v
	}
	return c.oom
}

// MakeSymbol allocates a symbol cell, interning the name.
func (c *Context) MakeSymbol(name string) *Value {
	if v := c.allocValue(); v != nil {
		v.typ = TypeSymbol
		v.mode = SymModeInterned
		v.sym = c.Intern(name)
		return v
	}
	return c.oom
}

// makeSymbolStable allocates a symbol cell from an offset already known to
// lie in the intern arena, skipping the intern scan.
func (c *Context) makeSymbolStable(offset uint16) *Value {
	if v := c.allocValue(); v != nil {
		v.typ = TypeSymbol
		v.mode = SymModeStable
		v.sym = offset
		return v
	}
	return c.oom
}

// MakeUserData allocates a cell carrying an opaque host value.
func (c *Context) MakeUserData(obj any) *Value {
	if v := c.allocValue(); v != nil {
		v.typ = TypeUserData
		v.ud = obj
		return v
	}
	return c.oom
}

// MakeDataBuffer allocates a cell owning a fresh host scratch buffer. If the
// host is out of buffers, one collection pass reclaims any unreferenced
// data-buffer cells (and their buffers) first.
func (c *Context) MakeDataBuffer() *Value {
	if c.platform.ScratchBuffersRemaining() == 0 {
		c.RunGC()
	}

	if v := c.allocValue(); v != nil {
		v.typ = TypeDataBuffer
		v.buf = c.platform.MakeScratchBuffer()
		return v
	}
	return c.oom
}

// MakeString allocates a string cell. Strings pack into a shared buffer:
// the context tracks the most recent string buffer, and if the new string
// fits in its unused tail the string is appended there and the cell records
// its byte offset; otherwise a fresh data-buffer is acquired.
func (c *Context) MakeString(s string) *Value {
	var existing *Value
	free := 0

	if c.stringBuffer != c.nilv {
		buffer := c.stringBuffer
		data := &buffer.Buffer().Data
		for i := ScratchBufferSize - 1; i > 0; i-- {
			if data[i] == 0 {
				free++
			} else {
				break
			}
		}
		if free > len(s)+1 { // +1 keeps a null terminator between neighbors
			existing = buffer
		} else {
			c.stringBuffer = c.nilv
		}
	}

	if existing != nil {
		offset := (ScratchBufferSize - free) + 1
		copy(existing.Buffer().Data[offset:], s)

		if v := c.allocValue(); v != nil {
			v.typ = TypeString
			v.a = c.pool.Compress(existing)
			v.num = int32(offset)
			return v
		}
		return c.oom
	}

	buffer := c.MakeDataBuffer()
	if buffer == c.oom {
		return c.oom
	}

	p := c.Protect(buffer)
	defer p.Release()
	c.stringBuffer = buffer

	data := &buffer.Buffer().Data
	for i := range data {
		data[i] = 0
	}
	copy(data[:], s)

	if v := c.allocValue(); v != nil {
		v.typ = TypeString
		v.a = c.pool.Compress(buffer)
		v.num = 0
		return v
	}
	return c.oom
}

// makeStringError builds an error cell whose context is a freshly allocated
// string, keeping the string rooted across the error allocation.
func (c *Context) makeStringError(code ErrorCode, msg string) *Value {
	s := c.MakeString(msg)
	c.PushOp(s)
	err := c.MakeError(code, s)
	c.PopOp()
	return err
}

// ---------------------------------------------------------------------------
// Payload access
// ---------------------------------------------------------------------------

func (c *Context) car(v *Value) *Value  { return c.pool.Decompress(v.a) }
func (c *Context) cdr(v *Value) *Value  { return c.pool.Decompress(v.b) }
func (c *Context) setCar(v, x *Value)   { v.a = c.pool.Compress(x) }
func (c *Context) setCdr(v, x *Value)   { v.b = c.pool.Compress(x) }

// Car returns a pair's first element.
// Panics if the cell is not a cons.
func (c *Context) Car(v *Value) *Value {
	if v.typ != TypeCons {
		panic("Context.Car: not a cons")
	}
	return c.car(v)
}

// Cdr returns a pair's second element.
// Panics if the cell is not a cons.
func (c *Context) Cdr(v *Value) *Value {
	if v.typ != TypeCons {
		panic("Context.Cdr: not a cons")
	}
	return c.cdr(v)
}

// SetCar overwrites a pair's first element.
func (c *Context) SetCar(v, x *Value) {
	if v.typ != TypeCons {
		panic("Context.SetCar: not a cons")
	}
	c.setCar(v, x)
}

// SetCdr overwrites a pair's second element.
func (c *Context) SetCdr(v, x *Value) {
	if v.typ != TypeCons {
		panic("Context.SetCdr: not a cons")
	}
	c.setCdr(v, x)
}

// StringValue reads a string cell's bytes out of its shared buffer, up to
// the null terminator.
func (c *Context) StringValue(v *Value) string {
	if v.typ != TypeString {
		panic("Context.StringValue: not a string")
	}
	data := &c.pool.Decompress(v.a).Buffer().Data
	start := int(v.num)
	end := start
	for end < ScratchBufferSize && data[end] != 0 {
		end++
	}
	return string(data[start:end])
}

// ErrorContext returns an error cell's context value.
func (c *Context) ErrorContext(v *Value) *Value {
	if v.typ != TypeError {
		panic("Context.ErrorContext: not an error")
	}
	return c.pool.Decompress(v.a)
}

// lispCode returns an interpreted function's expression list.
func (c *Context) lispCode(fn *Value) *Value {
	return c.pool.Decompress(fn.a)
}

// capturedBindings returns the lexical chain a function closed over.
func (c *Context) capturedBindings(fn *Value) *Value {
	return c.pool.Decompress(fn.b)
}

// bytecodeOffset returns a bytecode function's start offset cell.
func (c *Context) bytecodeOffset(fn *Value) *Value {
	return c.car(c.pool.Decompress(fn.a))
}

// bytecodeBuffer returns a bytecode function's data-buffer cell.
func (c *Context) bytecodeBuffer(fn *Value) *Value {
	return c.cdr(c.pool.Decompress(fn.a))
}
