package vm

// The tree-walking evaluator. Eval and Funcall share their calling
// convention — and the operand stack, value pool, and collector — with the
// bytecode VM, so interpreted, bytecode, and native functions can call each
// other freely.

// IsBooleanTrue implements the language's truth rule: any integer other
// than 0 is true, and any non-integer value other than nil is true.
func (c *Context) IsBooleanTrue(v *Value) bool {
	if v.typ == TypeInteger {
		return v.num != 0
	}
	return v != c.nilv
}

// getVar resolves a symbol: the special argument symbols first, then the
// lexical-binding chain, then the globals tree, then the host constant
// table.
func (c *Context) getVar(symbol *Value) *Value {
	name := c.SymbolName(symbol)

	if len(name) > 0 && name[0] == '$' {
		if len(name) > 1 && name[1] == 'V' {
			// $V: all arguments of the current call frame as a list.
			lat := c.newListBuilder()
			for i := c.currentArgc - 1; i > -1; i-- {
				lat.pushFront(c.Arg(i))
			}
			return lat.result()
		}
		argn := 0
		for i := 1; i < len(name); i++ {
			argn = argn*10 + int(name[i]-'0')
		}
		return c.Arg(argn)
	}

	if c.lexicalBindings != c.nilv {
		for stack := c.lexicalBindings; stack != c.nilv; stack = c.cdr(stack) {
			for bindings := c.car(stack); bindings != c.nilv; bindings = c.cdr(bindings) {
				kvp := c.car(bindings)
				if c.car(kvp).SymbolOffset() == symbol.SymbolOffset() {
					return c.cdr(kvp)
				}
			}
		}
	}

	found := c.globalsTreeFind(symbol)
	if !found.IsError() {
		return found
	}

	for _, k := range c.constants {
		if k.Name == name {
			return c.MakeInteger(k.Value)
		}
	}
	return found
}

// isParamList reports whether a lambda's first form can serve as a named
// parameter list: nil, or a proper list containing only symbols.
func (c *Context) isParamList(v *Value) bool {
	for v != c.nilv {
		if v.typ != TypeCons || c.car(v).typ != TypeSymbol {
			return false
		}
		v = c.cdr(v)
	}
	return true
}

// setVar assigns through the lexical chain if the symbol is bound there,
// otherwise inserts into the globals tree.
func (c *Context) setVar(symbol, val *Value) *Value {
	if c.lexicalBindings != c.nilv {
		for stack := c.lexicalBindings; stack != c.nilv; stack = c.cdr(stack) {
			for bindings := c.car(stack); bindings != c.nilv; bindings = c.cdr(bindings) {
				kvp := c.car(bindings)
				if c.car(kvp).SymbolOffset() == symbol.SymbolOffset() {
					c.setCdr(kvp, val)
					return c.Nil()
				}
			}
		}
	}

	c.globalsTreeInsert(symbol, val)
	return c.Nil()
}

func (c *Context) evalIf(code *Value) {
	if code.typ != TypeCons {
		c.PushOp(c.MakeError(ErrMismatchedParentheses, c.Nil()))
		return
	}

	cond := c.car(code)

	trueBranch := c.Nil()
	falseBranch := c.Nil()

	if c.cdr(code).typ == TypeCons {
		trueBranch = c.car(c.cdr(code))
		if c.cdr(c.cdr(code)).typ == TypeCons {
			falseBranch = c.car(c.cdr(c.cdr(code)))
		}
	}

	c.Eval(cond)
	if c.IsBooleanTrue(c.Op0()) {
		c.Eval(trueBranch)
	} else {
		c.Eval(falseBranch)
	}

	result := c.Op0()
	c.PopOp() // branch result
	c.PopOp() // condition
	c.PushOp(result)
}

func (c *Context) evalLambda(code *Value) {
	c.PushOp(c.makeLispFunction(code))
}

func (c *Context) evalQuasiquote(code *Value) {
	builder := c.newListBuilder()

	for code.typ == TypeCons {
		if c.car(code).typ == TypeSymbol && c.SymbolName(c.car(code)) == "," {
			code = c.cdr(code)

			if code.typ != TypeCons {
				builder.result()
				c.PushOp(c.makeStringError(ErrInvalidSyntax, "extraneous unquote"))
				return
			}

			if c.car(code).typ == TypeSymbol && c.SymbolName(c.car(code)) == "@" {
				code = c.cdr(code) // skip over the splice marker
				if code.typ != TypeCons {
					builder.result()
					c.PushOp(c.makeStringError(ErrInvalidSyntax, "extraneous unquote"))
					return
				}

				c.Eval(c.car(code))
				result := c.Op0()

				if c.IsList(result) {
					// Splice the evaluated list into the enclosing one.
					for result != c.nilv {
						builder.pushBack(c.car(result))
						result = c.cdr(result)
					}
				} else {
					builder.pushBack(result)
				}

				c.PopOp() // result
			} else {
				c.Eval(c.car(code))
				result := c.Op0()
				c.PopOp()

				builder.pushBack(result)
			}
		} else {
			if c.car(code).typ == TypeCons && c.IsList(c.car(code)) {
				// Unquotes may appear in nested lists.
				c.evalQuasiquote(c.car(code))
				builder.pushBack(c.Op0())
				c.PopOp()
			} else {
				builder.pushBack(c.car(code))
			}
		}

		code = c.cdr(code)
	}

	c.PushOp(builder.result())
}

func (c *Context) evalLet(code *Value) {
	if code.typ != TypeCons {
		c.PushOp(c.MakeError(ErrMismatchedParentheses, c.Nil()))
		return
	}

	bindings := c.car(code)

	result := c.Protect(c.Nil())
	defer result.Release()

	// The frame is opened before the binding values are evaluated — the same
	// order the VM's LexicalFramePush/LexicalDef sequence uses — so a lambda
	// bound here captures a chain through which it can reach itself.
	prevBindings := c.lexicalBindings
	c.lexicalFramePush()
	if c.lexicalBindings.IsError() {
		err := c.lexicalBindings
		c.lexicalBindings = prevBindings
		c.PushOp(err)
		return
	}

	errored := false
	c.foreach(bindings, func(val *Value) {
		if errored {
			return
		}
		if val.typ != TypeCons {
			errored = true
			return
		}
		sym := c.car(val)
		bind := c.cdr(val)
		if sym.typ != TypeSymbol || bind.typ != TypeCons {
			errored = true
			return
		}

		// Binding values evaluate eagerly, before the body.
		c.Eval(c.car(bind))
		kvp := c.MakeCons(sym, c.Op0())
		c.PopOp()
		c.PushOp(kvp)
		c.lexicalFrameStore(kvp)
		c.PopOp()
	})

	if errored {
		c.lexicalFramePop()
		c.PushOp(c.MakeError(ErrMismatchedParentheses, c.Nil()))
		return
	}

	c.foreach(c.cdr(code), func(val *Value) {
		c.Eval(val)
		result.Set(c.Op0())
		c.PopOp()
	})

	c.lexicalFramePop()

	c.PushOp(result.Value())
}

func (c *Context) evalMacro(code *Value) {
	if code.typ != TypeCons {
		c.PushOp(c.MakeError(ErrInvalidSyntax, code))
		return
	}
	if c.car(code).typ == TypeSymbol {
		c.macros = c.MakeCons(code, c.macros)
		c.PushOp(c.Nil())
	} else {
		c.PushOp(c.MakeError(ErrInvalidSyntax, code))
	}
}

// Eval evaluates one form, leaving the result on the operand stack.
// Symbols resolve through getVar; a cons whose head is a special-form
// symbol dispatches there; any other cons is a function call with strict
// left-to-right argument evaluation; everything else self-evaluates.
func (c *Context) Eval(code *Value) {
	c.entryCount++
	defer func() { c.entryCount-- }()

	// Root the form for the duration, in case the caller didn't bother.
	c.PushOp(code)

	if code.typ == TypeSymbol {
		c.PopOp()
		c.PushOp(c.getVar(code))
		return
	}

	if code.typ != TypeCons {
		return // self-evaluating; already on the stack
	}

	if form := c.car(code); form.typ == TypeSymbol {
		special := true
		switch c.SymbolName(form) {
		case "if":
			c.evalIf(c.cdr(code))
		case "lambda":
			c.evalLambda(c.cdr(code))
		case "'", "quote":
			c.PopOp() // code
			c.PushOp(c.cdr(code))
			return
		case "`", "quasiquote":
			c.evalQuasiquote(c.cdr(code))
		case "let":
			c.evalLet(c.cdr(code))
		case "macro":
			c.evalMacro(c.cdr(code))
		default:
			special = false
		}
		if special {
			result := c.Op0()
			c.PopOp() // result
			c.PopOp() // code
			c.PushOp(result)
			return
		}
	}

	c.Eval(c.car(code))
	function := c.Op0() // stays on the stack, below the arguments

	argc := 0
	for argList := c.cdr(code); argList != c.nilv; argList = c.cdr(argList) {
		if argList.typ != TypeCons {
			for ; argc > 0; argc-- {
				c.PopOp()
			}
			c.PopOp() // function
			c.PopOp() // code
			c.PushOp(c.MakeError(ErrValueNotCallable, argList))
			return
		}

		c.Eval(c.car(argList))
		argc++
	}

	c.Funcall(function, argc)
	result := c.Op0()
	if result.IsError() && c.ErrorContext(result) == c.nilv {
		// Attach the nearest user-visible expression as error context.
		result.a = c.pool.Compress(code)
	}
	c.PopOp() // result
	c.PopOp() // function
	c.PopOp() // the form rooted at the top
	c.PushOp(result)
}

// Funcall applies a function to the argc arguments sitting on top of the
// operand stack (the last argument at offset 0). The arguments are
// consumed and replaced with the call's result. The caller's frame —
// `this`, the lexical chain, the argument break, and the argument count —
// is saved across the call and restored before returning.
func (c *Context) Funcall(obj *Value, argc int) {
	popArgs := func() {
		for i := 0; i < argc; i++ {
			c.PopOp()
		}
	}

	// The caller keeps the callee rooted (on the operand stack or with a
	// Protected), and the previous `this` is rooted the same way by its own
	// caller. The previous lexical chain is unreachable while the callee's
	// chain is installed, so it is protected until it is restored.
	prevThis := c.this
	savedBindings := c.Protect(c.lexicalBindings)
	defer savedBindings.Release()
	prevBindings := savedBindings.Value()
	prevBreakLoc := c.argsBreakLoc
	prevArgc := c.currentArgc

	if obj.typ != TypeFunction {
		popArgs()
		c.PushOp(c.MakeError(ErrValueNotCallable, c.Nil()))
		return
	}

	if len(c.stack) < argc {
		popArgs()
		c.PushOp(c.MakeError(ErrInvalidArgc, obj))
		return
	}

	switch obj.mode {
	case FuncModeNative:
		result := obj.native(c, argc)
		popArgs()
		c.PushOp(result)

	case FuncModeLisp:
		c.lexicalBindings = c.capturedBindings(obj)
		breakLoc := len(c.stack) - 1
		code := c.lispCode(obj)

		// A leading parameter list followed by at least one body form binds
		// arguments by name; otherwise the whole code is the body and
		// arguments are reached through $0/$1/$V.
		expressionList := code
		params := c.nilv
		hasParams := false
		if code.typ == TypeCons && c.cdr(code).typ == TypeCons && c.isParamList(c.car(code)) {
			params = c.car(code)
			expressionList = c.cdr(code)
			hasParams = true
		}

		c.argsBreakLoc = breakLoc
		c.currentArgc = argc
		c.this = obj

		if hasParams {
			// The frame lives on the chain for the body's duration; the
			// wholesale restore below unwinds it.
			c.lexicalFramePush()
			i := 0
			for p := params; p.typ == TypeCons; p = c.cdr(p) {
				arg := c.Nil()
				if i < argc {
					arg = c.Arg(i)
				}
				kvp := c.MakeCons(c.car(p), arg)
				c.PushOp(kvp)
				c.lexicalFrameStore(kvp)
				c.PopOp()
				i++
			}
		}

		c.PushOp(c.Nil()) // seed result
		for expressionList.typ == TypeCons {
			c.PopOp() // previous result
			c.argsBreakLoc = breakLoc
			c.currentArgc = argc
			c.this = obj
			c.Eval(c.car(expressionList)) // new result
			expressionList = c.cdr(expressionList)
		}
		result := c.Op0()
		c.PopOp() // result
		popArgs()
		c.PushOp(result)

	case FuncModeBytecode:
		c.argsBreakLoc = len(c.stack) - 1
		c.currentArgc = argc
		c.this = obj
		c.lexicalBindings = c.capturedBindings(obj)

		c.execute(c.bytecodeBuffer(obj), int(c.bytecodeOffset(obj).Integer()))

		result := c.Op0()
		c.PopOp()
		popArgs()
		c.PushOp(result)
	}

	c.this = prevThis
	c.lexicalBindings = prevBindings
	c.argsBreakLoc = prevBreakLoc
	c.currentArgc = prevArgc
}
