package vm

import (
	"strconv"
	"strings"
)

// Format renders a value the way the `string` built-in and the REPL print
// it. Top-level lists and nil are prefixed with a quote so the output reads
// back as the same value.
func (c *Context) Format(v *Value) string {
	var b strings.Builder
	c.formatImpl(&b, v, 0)
	return b.String()
}

func (c *Context) formatImpl(b *strings.Builder, v *Value, depth int) {
	switch v.typ {
	case TypeHeapNode:
		// We should never reach here.
		c.platform.Fatal("direct access to heap node")

	case TypeNil:
		if depth == 0 {
			b.WriteString("'()")
		} else {
			b.WriteString("()")
		}

	case TypeString:
		b.WriteByte('"')
		b.WriteString(c.StringValue(v))
		b.WriteByte('"')

	case TypeSymbol:
		b.WriteString(c.SymbolName(v))

	case TypeInteger:
		b.WriteString(strconv.FormatInt(int64(v.num), 10))

	case TypeCons:
		if depth == 0 {
			b.WriteByte('\'')
		}
		b.WriteByte('(')
		c.formatImpl(b, c.car(v), depth+1)
		if c.cdr(v).typ == TypeNil {
			// single-element list
		} else if c.cdr(v).typ != TypeCons {
			b.WriteString(" . ")
			c.formatImpl(b, c.cdr(v), depth+1)
		} else {
			current := v
			for {
				if c.cdr(current).typ == TypeCons {
					b.WriteByte(' ')
					c.formatImpl(b, c.car(c.cdr(current)), depth+1)
					current = c.cdr(current)
				} else if c.cdr(current) != c.nilv {
					b.WriteString(" . ")
					c.formatImpl(b, c.cdr(current), depth+1)
					break
				} else {
					break
				}
			}
		}
		b.WriteByte(')')

	case TypeFunction:
		b.WriteString("<lambda>")

	case TypeUserData:
		b.WriteString("<ud>")

	case TypeError:
		b.WriteString("[ERR: ")
		b.WriteString(v.ErrorCode().String())
		b.WriteString(" : ")
		c.formatImpl(b, c.ErrorContext(v), 0)
		b.WriteString("]")

	case TypeDataBuffer:
		b.WriteString("<sbr>")
	}
}
