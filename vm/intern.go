package vm

// InternTableSize is the byte capacity of the symbol intern arena.
const InternTableSize = 1999

// The intern arena is a contiguous byte block holding null-terminated symbol
// names, appended by a bump pointer and never moved or freed. A symbol's
// identity is its offset into this arena: two symbols spelled the same way
// always share one offset, so symbol equality (and globals-tree ordering) is
// plain offset comparison. There is no hashing; lookup is a linear scan,
// which is adequate for the arena's fixed budget.

// Intern maps a byte string to its stable arena offset, appending it on
// first sight. Arena overflow is unrecoverable and reported via the host's
// fatal handler.
func (c *Context) Intern(s string) uint16 {
	for i := 0; i < c.internPos; {
		j := i
		for c.interns[j] != 0 {
			j++
		}
		if string(c.interns[i:j]) == s {
			return uint16(i)
		}
		i = j + 1
	}

	if len(s)+1 > len(c.interns)-c.internPos {
		c.platform.Fatal("string intern table full")
	}

	result := c.internPos
	copy(c.interns[c.internPos:], s)
	c.internPos += len(s)
	c.interns[c.internPos] = 0
	c.internPos++

	return uint16(result)
}

// SymbolFromOffset returns the name stored at an arena offset.
func (c *Context) SymbolFromOffset(offset uint16) string {
	i := int(offset)
	j := i
	for j < len(c.interns) && c.interns[j] != 0 {
		j++
	}
	return string(c.interns[i:j])
}

// SymbolName returns a symbol cell's name.
func (c *Context) SymbolName(sym *Value) string {
	return c.SymbolFromOffset(sym.SymbolOffset())
}

// Interns invokes fn with every interned name, then with every registered
// constant name.
func (c *Context) Interns(fn func(name string)) {
	for i := 0; i < c.internPos; {
		j := i
		for c.interns[j] != 0 {
			j++
		}
		fn(string(c.interns[i:j]))
		i = j + 1
	}
	for _, k := range c.constants {
		fn(k.Name)
	}
}

// InternedBytes returns how much of the arena is in use.
func (c *Context) InternedBytes() int {
	return c.internPos
}
