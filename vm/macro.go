package vm

// Macros are whole-list rewrites. A definition (macro NAME (PARAMS...) BODY)
// prepends (NAME . ((PARAMS...) BODY)) onto the macro list; once the reader
// finishes a list it asks the expander whether the head symbol names a
// macro. Expansion binds each parameter to the corresponding *unevaluated*
// argument — the last parameter always captures the remaining arguments as a
// list — quotes each binding, and evaluates a synthetic let:
//
//	(macro foo (a b c) ...) instantiated as (foo (+ 1 2) 5 6) becomes
//	(let ((a '(+ 1 2)) (b '5) (c '(6))) ...)
//
// The result replaces the original list, and expansion then recurses into
// every sub-list of the result so macros may expand to uses of other macros.

// macroexpandRescan walks the expansion at the top of the operand stack and
// re-expands any nested lists, replacing the stack top with the result.
func (c *Context) macroexpandRescan() {
	result := c.newListBuilder()

	lat := c.Op0()
	for ; lat.typ == TypeCons; lat = c.cdr(lat) {
		if head := c.car(lat); head.typ == TypeCons && c.IsList(head) {
			c.PushOp(head)
			c.macroexpandRescan()
			c.macroexpand()
			result.pushBack(c.Op0())
			c.PopOp()
		} else {
			result.pushBack(c.car(lat))
		}
	}

	c.PopOp()
	c.PushOp(result.result())
}

// macroexpand replaces the list at the top of the operand stack with its
// macro expansion, if the head symbol names a macro. Non-macro lists are
// left untouched.
func (c *Context) macroexpand() {
	lat := c.Op0()

	if lat.typ != TypeCons || c.car(lat).typ != TypeSymbol {
		return
	}

	for macros := c.macros; macros != c.nilv; macros = c.cdr(macros) {
		if c.car(c.car(macros)).SymbolOffset() != c.car(lat).SymbolOffset() {
			continue
		}

		suppliedArgs := c.cdr(lat)

		macro := c.cdr(c.car(macros))
		if macro.typ != TypeCons || c.cdr(macro).typ != TypeCons {
			continue // malformed definition; leave the list alone
		}
		macroArgs := c.car(macro)

		if c.Length(macroArgs) > c.Length(suppliedArgs) {
			c.PopOp()
			c.PushOp(c.makeStringError(ErrInvalidSyntax, "invalid arguments passed to macro"))
			return
		}

		quote := c.Protect(c.makeSymbolStable(c.quoteSym))
		defer quote.Release()

		builder := c.newListBuilder()
		for macroArgs != c.nilv {
			assoc := c.newListBuilder()

			if c.cdr(macroArgs) == c.nilv {
				// The final parameter captures all remaining arguments.
				assoc.pushFront(c.MakeCons(quote.Value(), suppliedArgs))
			} else {
				assoc.pushFront(c.MakeCons(quote.Value(), c.car(suppliedArgs)))
			}

			assoc.pushFront(c.car(macroArgs))
			builder.pushBack(assoc.result())

			macroArgs = c.cdr(macroArgs)
			suppliedArgs = c.cdr(suppliedArgs)
		}

		syntheticLet := c.newListBuilder()
		syntheticLet.pushFront(c.car(c.cdr(macro)))
		syntheticLet.pushFront(builder.result())

		c.evalLet(syntheticLet.result())

		result := c.Op0()
		c.PopOp() // result of evalLet
		c.PopOp() // input list
		c.PushOp(result)

		// The expansion may itself contain macro instantiations.
		c.macroexpandRescan()
		return
	}
}
