package vm

import (
	"strings"

	"github.com/fernlang/fern/pkg/bytecode"
)

// The built-in library, installed as global bindings at init. Every built-in
// is a native function: it reads its arguments off the top of the operand
// stack and returns one cell.

func expectArgc(c *Context, argc, want int) *Value {
	if argc != want {
		return c.MakeError(ErrInvalidArgc, c.Nil())
	}
	return nil
}

func expectOp(c *Context, offset int, t Type) *Value {
	if v := c.Op(offset); v.typ != t {
		if v.IsError() {
			return v // pass an incoming error on unchanged
		}
		return c.MakeError(ErrInvalidArgumentType, v)
	}
	return nil
}

// ValuesEqual implements `equal`: numeric equality on integers, structural
// equality on pairs, pointer identity on symbol names, byte equality on
// strings, equality of the held host value on user data, and cell identity
// otherwise. Error values never compare equal, not even to themselves.
func (c *Context) ValuesEqual(a, b *Value) bool {
	if a.typ != b.typ {
		return false
	}

	switch a.typ {
	case TypeInteger:
		return a.num == b.num

	case TypeCons:
		for {
			if !c.ValuesEqual(c.car(a), c.car(b)) {
				return false
			}
			a = c.cdr(a)
			b = c.cdr(b)
			if a.typ != TypeCons || b.typ != TypeCons {
				return c.ValuesEqual(a, b)
			}
		}

	case TypeSymbol:
		return a.sym == b.sym

	case TypeString:
		return c.StringValue(a) == c.StringValue(b)

	case TypeUserData:
		return a.ud == b.ud

	case TypeError:
		return false

	default:
		return a == b
	}
}

func (c *Context) installBuiltins() {
	c.SetVar("set", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := expectArgc(c, argc, 2); err != nil {
			return err
		}
		if err := expectOp(c, 1, TypeSymbol); err != nil {
			return err
		}
		return c.setVar(c.Op1(), c.Op0())
	}))

	c.SetVar("cons", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := expectArgc(c, argc, 2); err != nil {
			return err
		}
		// An error argument propagates instead of being consed into data.
		if car := c.Op1(); car.IsError() {
			return car
		}
		if cdr := c.Op0(); cdr.IsError() {
			return cdr
		}
		return c.MakeCons(c.Op1(), c.Op0())
	}))

	c.SetVar("car", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := expectArgc(c, argc, 1); err != nil {
			return err
		}
		if err := expectOp(c, 0, TypeCons); err != nil {
			return err
		}
		return c.car(c.Op0())
	}))

	c.SetVar("cdr", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := expectArgc(c, argc, 1); err != nil {
			return err
		}
		if err := expectOp(c, 0, TypeCons); err != nil {
			return err
		}
		return c.cdr(c.Op0())
	}))

	c.SetVar("list", c.MakeFunction(func(c *Context, argc int) *Value {
		lat := c.MakeList(argc)
		for i := 0; i < argc; i++ {
			val := c.Op((argc - 1) - i)
			if val.IsError() {
				return val
			}
			c.SetListElement(lat, i, val)
		}
		return lat
	}))

	c.SetVar("arg", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := expectArgc(c, argc, 1); err != nil {
			return err
		}
		if err := expectOp(c, 0, TypeInteger); err != nil {
			return err
		}
		return c.Arg(int(c.Op0().Integer()))
	}))

	// progn could be defined at the language level, but arguments are
	// evaluated left-to-right anyway, so the last one is already the answer.
	c.SetVar("progn", c.MakeFunction(func(c *Context, argc int) *Value {
		return c.Op0()
	}))

	c.SetVar("any-true", c.MakeFunction(func(c *Context, argc int) *Value {
		for i := 0; i < argc; i++ {
			if c.IsBooleanTrue(c.Op(i)) {
				return c.Op(i)
			}
		}
		return c.Nil()
	}))

	c.SetVar("all-true", c.MakeFunction(func(c *Context, argc int) *Value {
		for i := 0; i < argc; i++ {
			if !c.IsBooleanTrue(c.Op(i)) {
				return c.Nil()
			}
		}
		return c.MakeInteger(1)
	}))

	c.SetVar("not", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := expectArgc(c, argc, 1); err != nil {
			return err
		}
		if c.IsBooleanTrue(c.Op0()) {
			return c.MakeInteger(0)
		}
		return c.MakeInteger(1)
	}))

	c.SetVar("equal", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := expectArgc(c, argc, 2); err != nil {
			return err
		}
		if c.ValuesEqual(c.Op0(), c.Op1()) {
			return c.MakeInteger(1)
		}
		return c.MakeInteger(0)
	}))

	c.SetVar("apply", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := expectArgc(c, argc, 2); err != nil {
			return err
		}
		if err := expectOp(c, 0, TypeCons); err != nil {
			return err
		}
		if err := expectOp(c, 1, TypeFunction); err != nil {
			return err
		}

		lat := c.Op0()
		fn := c.Op1()

		applyArgc := 0
		for lat != c.nilv {
			if lat.typ != TypeCons {
				return c.MakeError(ErrInvalidArgumentType, lat)
			}
			applyArgc++
			c.PushOp(c.car(lat))
			lat = c.cdr(lat)
		}

		c.Funcall(fn, applyArgc)

		result := c.Op0()
		c.PopOp()
		return result
	}))

	c.SetVar("fill", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := expectArgc(c, argc, 2); err != nil {
			return err
		}
		if err := expectOp(c, 1, TypeInteger); err != nil {
			return err
		}

		count := int(c.Op1().Integer())
		result := c.MakeList(count)
		for i := 0; i < count; i++ {
			c.SetListElement(result, i, c.Op0())
		}
		return result
	}))

	c.SetVar("gen", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := expectArgc(c, argc, 2); err != nil {
			return err
		}
		if err := expectOp(c, 1, TypeInteger); err != nil {
			return err
		}

		count := int(c.Op1().Integer())
		result := c.MakeList(count)
		fn := c.Op0()
		c.PushOp(result)
		for i := 0; i < count; i++ {
			c.PushOp(c.MakeInteger(int32(i)))
			c.Funcall(fn, 1)
			c.SetListElement(result, i, c.Op0())
			c.PopOp() // result from funcall
		}
		c.PopOp() // result
		return result
	}))

	c.SetVar("length", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := expectArgc(c, argc, 1); err != nil {
			return err
		}
		if c.Op0().typ == TypeNil {
			return c.MakeInteger(0)
		}
		if err := expectOp(c, 0, TypeCons); err != nil {
			return err
		}
		return c.MakeInteger(int32(c.Length(c.Op0())))
	}))

	c.SetVar("<", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := numericArgs(c, argc, 2); err != nil {
			return err
		}
		return boolInteger(c, c.Op1().Integer() < c.Op0().Integer())
	}))

	c.SetVar(">", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := numericArgs(c, argc, 2); err != nil {
			return err
		}
		return boolInteger(c, c.Op1().Integer() > c.Op0().Integer())
	}))

	c.SetVar("+", c.MakeFunction(func(c *Context, argc int) *Value {
		var accum int32
		for i := 0; i < argc; i++ {
			if err := expectOp(c, i, TypeInteger); err != nil {
				return err
			}
			accum += c.Op(i).Integer()
		}
		return c.MakeInteger(accum)
	}))

	c.SetVar("-", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := numericArgs(c, argc, 2); err != nil {
			return err
		}
		return c.MakeInteger(c.Op1().Integer() - c.Op0().Integer())
	}))

	c.SetVar("*", c.MakeFunction(func(c *Context, argc int) *Value {
		accum := int32(1)
		for i := 0; i < argc; i++ {
			if err := expectOp(c, i, TypeInteger); err != nil {
				return err
			}
			accum *= c.Op(i).Integer()
		}
		return c.MakeInteger(accum)
	}))

	c.SetVar("/", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := numericArgs(c, argc, 2); err != nil {
			return err
		}
		if c.Op0().Integer() == 0 {
			return c.MakeError(ErrInvalidArgumentType, c.Op0())
		}
		return c.MakeInteger(c.Op1().Integer() / c.Op0().Integer())
	}))

	c.SetVar("interp-stat", c.MakeFunction(func(c *Context, argc int) *Value {
		lat := c.newListBuilder()

		makeStat := func(name string, value int) *Value {
			cell := c.MakeCons(c.Nil(), c.Nil())
			if cell == c.oom {
				return cell
			}
			c.PushOp(cell)
			c.setCar(cell, c.MakeSymbol(name))
			c.setCdr(cell, c.MakeInteger(int32(value)))
			c.PopOp()
			return cell
		}

		lat.pushFront(makeStat("vars", c.GlobalsCount()))
		lat.pushFront(makeStat("stk", c.StackDepth()))
		lat.pushFront(makeStat("internb", c.InternedBytes()))
		lat.pushFront(makeStat("free", c.FreeCells()))

		databuffers := 0
		c.pool.Live(func(v *Value) {
			if v.typ == TypeDataBuffer {
				databuffers++
			}
		})
		lat.pushFront(makeStat("sbr", databuffers))

		return lat.result()
	}))

	c.SetVar("range", c.MakeFunction(func(c *Context, argc int) *Value {
		start, end := 0, 0
		incr := 1

		switch argc {
		case 1:
			if err := expectOp(c, 0, TypeInteger); err != nil {
				return err
			}
			end = int(c.Op0().Integer())

		case 2:
			if err := numericArgs(c, argc, 2); err != nil {
				return err
			}
			start = int(c.Op1().Integer())
			end = int(c.Op0().Integer())

		case 3:
			if err := numericArgs(c, argc, 3); err != nil {
				return err
			}
			start = int(c.Op(2).Integer())
			end = int(c.Op1().Integer())
			incr = int(c.Op0().Integer())

		default:
			return c.MakeError(ErrInvalidArgc, c.Nil())
		}

		if incr == 0 {
			return c.Nil()
		}

		lat := c.newListBuilder()
		for i := start; i < end; i += incr {
			lat.pushBack(c.MakeInteger(int32(i)))
		}
		return lat.result()
	}))

	c.SetVar("unbind", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := expectArgc(c, argc, 1); err != nil {
			return err
		}
		if err := expectOp(c, 0, TypeSymbol); err != nil {
			return err
		}
		c.globalsTreeErase(c.Op0())
		return c.Nil()
	}))

	c.SetVar("symbol", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := expectArgc(c, argc, 1); err != nil {
			return err
		}
		if err := expectOp(c, 0, TypeString); err != nil {
			return err
		}
		return c.MakeSymbol(c.StringValue(c.Op0()))
	}))

	c.SetVar("type", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := expectArgc(c, argc, 1); err != nil {
			return err
		}
		return c.MakeSymbol(c.Op0().typ.String())
	}))

	c.SetVar("string", c.MakeFunction(func(c *Context, argc int) *Value {
		var b strings.Builder
		for i := argc - 1; i > -1; i-- {
			val := c.Op(i)
			if val.typ == TypeString {
				b.WriteString(c.StringValue(val))
			} else {
				c.formatImpl(&b, val, 0)
			}
		}
		return c.MakeString(b.String())
	}))

	c.SetVar("bound", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := expectArgc(c, argc, 1); err != nil {
			return err
		}
		if err := expectOp(c, 0, TypeSymbol); err != nil {
			return err
		}
		found := c.globalsTreeFind(c.Op0())
		return boolInteger(c, found != c.nilv && !found.IsError())
	}))

	c.SetVar("filter", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := expectArgc(c, argc, 2); err != nil {
			return err
		}
		if err := expectOp(c, 0, TypeCons); err != nil {
			return err
		}
		if err := expectOp(c, 1, TypeFunction); err != nil {
			return err
		}

		fn := c.Op1()
		result := c.MakeCons(c.Nil(), c.Nil())
		prev := result
		current := result

		c.foreach(c.Op0(), func(val *Value) {
			c.PushOp(result) // keep the chain rooted across the call

			c.PushOp(val)
			c.Funcall(fn, 1)

			if c.IsBooleanTrue(c.Op0()) {
				c.setCar(current, val)
				next := c.MakeCons(c.Nil(), c.Nil())
				if next == c.oom {
					current = result
					c.PopOp()
					c.PopOp()
					return
				}
				c.setCdr(current, next)
				prev = current
				current = next
			}
			c.PopOp() // funcall result
			c.PopOp() // rooted chain
		})

		if current == result {
			return c.Nil()
		}

		c.setCdr(prev, c.Nil())
		return result
	}))

	c.SetVar("map", c.MakeFunction(func(c *Context, argc int) *Value {
		if argc < 2 {
			return c.Nil()
		}
		if c.Op(argc-1).typ != TypeFunction && c.Op(argc-1).typ != TypeCons {
			return c.MakeError(ErrInvalidArgumentType, c.Nil())
		}

		const maxInputs = 6
		if argc-1 > maxInputs {
			return c.MakeError(ErrInvalidArgc, c.Nil())
		}

		inputs := make([]*Value, 0, maxInputs)
		for i := 0; i < argc-1; i++ {
			if err := expectOp(c, i, TypeCons); err != nil {
				return err
			}
			inputs = append(inputs, c.Op(i))
		}

		length := c.Length(inputs[0])
		if length == 0 {
			return c.Nil()
		}
		for _, l := range inputs {
			if c.Length(l) != length {
				return c.Nil()
			}
		}

		fn := c.Op(argc - 1)

		result := c.MakeList(length)
		c.PushOp(result)

		// Length returned non-zero, so each chain is already known to be a
		// well-formed list.
		for index := 0; index < length; index++ {
			for i := len(inputs) - 1; i >= 0; i-- {
				c.PushOp(c.car(inputs[i]))
				inputs[i] = c.cdr(inputs[i])
			}
			c.Funcall(fn, len(inputs))

			c.SetListElement(result, index, c.Op0())
			c.PopOp()
		}

		c.PopOp() // the protected result list
		return result
	}))

	c.SetVar("reverse", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := expectArgc(c, argc, 1); err != nil {
			return err
		}
		if err := expectOp(c, 0, TypeCons); err != nil {
			return err
		}

		result := c.Nil()
		c.foreach(c.Op0(), func(car *Value) {
			c.PushOp(result)
			result = c.MakeCons(car, result)
			c.PopOp()
		})
		return result
	}))

	c.SetVar("select", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := expectArgc(c, argc, 2); err != nil {
			return err
		}
		if err := expectOp(c, 0, TypeCons); err != nil {
			return err
		}
		if err := expectOp(c, 1, TypeCons); err != nil {
			return err
		}

		length := c.Length(c.Op0())
		if length == 0 || length != c.Length(c.Op1()) {
			return c.Nil()
		}

		inputList := c.Op1()
		selectionList := c.Op0()

		result := c.Nil()
		for i := length - 1; i > -1; i-- {
			if c.IsBooleanTrue(c.ListElement(selectionList, i)) {
				c.PushOp(result)
				result = c.MakeCons(c.ListElement(inputList, i), result)
				c.PopOp()
			}
		}
		return result
	}))

	c.SetVar("gc", c.MakeFunction(func(c *Context, argc int) *Value {
		return c.MakeInteger(int32(c.RunGC()))
	}))

	c.SetVar("get", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := expectArgc(c, argc, 2); err != nil {
			return err
		}
		if err := expectOp(c, 1, TypeCons); err != nil {
			return err
		}
		if err := expectOp(c, 0, TypeInteger); err != nil {
			return err
		}
		return c.ListElement(c.Op1(), int(c.Op0().Integer()))
	}))

	c.SetVar("read", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := expectArgc(c, argc, 1); err != nil {
			return err
		}
		if err := expectOp(c, 0, TypeString); err != nil {
			return err
		}
		c.Read(c.StringValue(c.Op0()))
		result := c.Op0()
		c.PopOp()
		return result
	}))

	c.SetVar("eval", c.MakeFunction(func(c *Context, argc int) *Value {
		if argc < 1 {
			return c.MakeError(ErrInvalidArgc, c.Nil())
		}
		c.Eval(c.Op(0))
		result := c.Op0()
		c.PopOp()
		return result
	}))

	c.SetVar("globals", c.MakeFunction(func(c *Context, argc int) *Value {
		return c.globalsTree
	}))

	c.SetVar("this", c.MakeFunction(func(c *Context, argc int) *Value {
		return c.this
	}))

	// Works because native functions do not reassign the current frame's
	// argc.
	c.SetVar("argc", c.MakeFunction(func(c *Context, argc int) *Value {
		return c.MakeInteger(int32(c.currentArgc))
	}))

	c.SetVar("env", c.MakeFunction(func(c *Context, argc int) *Value {
		var names []string
		c.Globals(func(name string) {
			names = append(names, name)
		})

		lat := c.newListBuilder()
		for _, name := range names {
			lat.pushBack(c.MakeSymbol(name))
		}
		return lat.result()
	}))

	c.SetVar("disassemble", c.MakeFunction(func(c *Context, argc int) *Value {
		if err := expectArgc(c, argc, 1); err != nil {
			return err
		}
		if err := expectOp(c, 0, TypeFunction); err != nil {
			return err
		}

		fn := c.Op0()
		switch fn.mode {
		case FuncModeBytecode:
			data := c.bytecodeBuffer(fn).Buffer().Data[:]
			start := int(c.bytecodeOffset(fn).Integer())
			bytecode.Disassemble(c.console, data, start, c.SymbolFromOffset)

		case FuncModeLisp:
			c.console.Write([]byte(c.Format(c.lispCode(fn)) + "\n"))
		}
		return c.Nil()
	}))
}

func numericArgs(c *Context, argc, want int) *Value {
	if err := expectArgc(c, argc, want); err != nil {
		return err
	}
	for i := 0; i < want; i++ {
		if err := expectOp(c, i, TypeInteger); err != nil {
			return err
		}
	}
	return nil
}

func boolInteger(c *Context, b bool) *Value {
	if b {
		return c.MakeInteger(1)
	}
	return c.MakeInteger(0)
}
