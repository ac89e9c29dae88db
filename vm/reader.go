package vm

// Recursive-descent reader. Read consumes source bytes and returns the
// number consumed; the parsed value is pushed onto the operand stack. The
// end of the input behaves like a NUL terminator.

func byteAt(code string, i int) byte {
	if i < len(code) {
		return code[i]
	}
	return 0
}

// Read parses one top-level form, leaving the result on the operand stack
// and returning the number of bytes consumed. An exhausted input leaves nil
// on the stack.
func (c *Context) Read(code string) int {
	i := 0

	c.PushOp(c.Nil())

	for {
		ch := byteAt(code, i)
		switch {
		case ch == 0:
			return i

		case ch == '(' || ch == '[':
			i++
			c.PopOp() // nil
			i += c.readList(code[i:])
			c.macroexpand()
			// list now at stack top
			return i

		case ch == ';':
			for byteAt(code, i) != 0 && code[i] != '\r' && code[i] != '\n' {
				i++
			}

		case ch == '-' && isDigit(byteAt(code, i+1)):
			i++
			c.PopOp() // nil
			i += c.readNumber(code[i:])
			if c.Op0().typ == TypeInteger {
				c.Op0().num *= -1
			}
			return i

		case isDigit(ch):
			c.PopOp() // nil
			i += c.readNumber(code[i:])
			// number now at stack top
			return i

		case ch == '\n' || ch == '\r' || ch == '\t' || ch == ' ':
			i++

		case ch == '"':
			c.PopOp() // nil
			return i + 1 + c.readString(code[i+1:])

		default:
			c.PopOp() // nil
			i += c.readSymbol(code[i:])
			// symbol now at stack top

			// Top-level quoted values outside an s-expression are wrapped as
			// (' . x) so the evaluator can recognize them.
			if top := c.Op0(); top.typ == TypeSymbol {
				name := c.SymbolName(top)
				if name == "'" || name == "`" {
					pair := c.MakeCons(top, c.Nil())
					c.PushOp(pair)
					i += c.Read(code[min(i, len(code)):])
					c.setCdr(pair, c.Op0())
					c.PopOp() // result of Read
					c.PopOp() // pair
					c.PopOp() // symbol
					c.PushOp(pair)
				}
			}
			return i
		}
	}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func (c *Context) readList(code string) int {
	i := 0

	result := c.Nil()
	c.PushOp(c.Nil())

	dottedPair := false

	for {
		switch byteAt(code, i) {
		case '\r', '\n', '\t', ' ':
			i++

		case '.':
			i++
			if dottedPair || result == c.Nil() {
				c.PopOp()
				c.PushOp(c.MakeError(ErrMismatchedParentheses, c.Nil()))
				return i
			}
			dottedPair = true
			i += c.Read(code[min(i, len(code)):])
			c.setCdr(result, c.Op0())
			c.PopOp()

		case ';':
			for byteAt(code, i) != 0 && code[i] != '\r' && code[i] != '\n' {
				i++
			}

		case ']', ')':
			i++
			return i

		case 0:
			c.PopOp()
			c.PushOp(c.MakeError(ErrMismatchedParentheses, c.Nil()))
			return i

		default:
			if dottedPair {
				c.PopOp()
				c.PushOp(c.MakeError(ErrMismatchedParentheses, c.Nil()))
				return i
			}
			i += c.Read(code[min(i, len(code)):])

			if result == c.Nil() {
				result = c.MakeCons(c.Op0(), c.Nil())
				c.PopOp() // the result from Read
				c.PopOp() // nil placeholder
				c.PushOp(result)
			} else {
				next := c.MakeCons(c.Op0(), c.Nil())
				c.PopOp()
				c.setCdr(result, next)
				result = next
			}
		}
	}
}

func (c *Context) readString(code string) int {
	i := 0
	for byteAt(code, i) != '"' {
		if byteAt(code, i) == 0 || i == ScratchBufferSize-1 {
			c.PushOp(c.MakeError(ErrMismatchedParentheses, c.Nil()))
			return i
		}
		i++
	}

	c.PushOp(c.MakeString(code[:i]))
	return i + 1 // closing quote
}

func isSymbolDelimiter(ch byte) bool {
	switch ch {
	case '[', ']', '(', ')', ' ', '\r', '\n', '\t', 0, ';':
		return true
	}
	return false
}

func (c *Context) readSymbol(code string) int {
	// The quote family reads as single-character symbols; the sugar is
	// handled structurally by the reader and evaluator, not expanded here.
	switch byteAt(code, 0) {
	case '\'', '`', ',', '@':
		c.PushOp(c.MakeSymbol(code[:1]))
		return 1
	}

	i := 0
	for !isSymbolDelimiter(byteAt(code, i)) {
		i++
	}

	if i == 0 {
		// A stray delimiter would otherwise consume no input and wedge the
		// top-level read loop.
		c.PushOp(c.MakeError(ErrInvalidSyntax, c.Nil()))
		return 1
	}

	if code[:i] == "nil" {
		c.PushOp(c.Nil())
	} else {
		c.PushOp(c.MakeSymbol(code[:i]))
	}

	return i
}

func (c *Context) readNumber(code string) int {
	i := 0
	for {
		switch byteAt(code, i) {
		case 'x', 'a', 'b', 'c', 'd', 'e', 'f',
			'0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
			i++
		default:
			goto done
		}
	}

done:
	num := code[:i]
	if len(num) > 1 && num[1] == 'x' {
		c.PushOp(c.MakeInteger(hexdec(num[2:])))
	} else {
		var result int32
		for j := 0; j < len(num); j++ {
			result = result*10 + int32(num[j]-'0')
		}
		c.PushOp(c.MakeInteger(result))
	}

	return i
}

func hexdec(hex string) int32 {
	var ret int32
	for i := 0; i < len(hex) && ret >= 0; i++ {
		var digit int32
		switch ch := hex[i]; {
		case ch >= '0' && ch <= '9':
			digit = int32(ch - '0')
		case ch >= 'a' && ch <= 'f':
			digit = int32(ch-'a') + 10
		case ch >= 'A' && ch <= 'F':
			digit = int32(ch-'A') + 10
		default:
			return ret
		}
		ret = ret<<4 | digit
	}
	return ret
}
