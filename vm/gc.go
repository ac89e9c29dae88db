package vm

// Mark-and-sweep, non-moving, stop-the-world. Each cell carries its own mark
// bit, which doubles as the visited flag for cyclic structures and for the
// iterative walk down long cdr-chains.

func (c *Context) gcMarkValue(v *Value) {
	if v.marked {
		return
	}
	// The bit is set before recursing: a cell reachable from itself stops
	// the trace at the revisit instead of looping.
	v.marked = true

	switch v.typ {
	case TypeFunction:
		switch v.mode {
		case FuncModeLisp:
			c.gcMarkValue(c.lispCode(v))
			c.gcMarkValue(c.capturedBindings(v))
		case FuncModeBytecode:
			c.gcMarkValue(c.pool.Decompress(v.a))
			c.gcMarkValue(c.capturedBindings(v))
		}

	case TypeString:
		c.gcMarkValue(c.pool.Decompress(v.a))

	case TypeError:
		c.gcMarkValue(c.ErrorContext(v))

	case TypeCons:
		// Iterate the cdr-chain rather than recursing, so a long list costs
		// constant native stack.
		current := v
		for {
			c.gcMarkValue(c.car(current))
			next := c.cdr(current)
			if next.typ != TypeCons {
				c.gcMarkValue(next)
				return
			}
			if next.marked {
				return
			}
			next.marked = true
			current = next
		}
	}
}

func (c *Context) gcMark() {
	c.gcMarkValue(c.nilv)
	c.gcMarkValue(c.oom)
	c.gcMarkValue(c.lexicalBindings)
	c.gcMarkValue(c.macros)

	for _, v := range c.stack {
		c.gcMarkValue(v)
	}

	c.globalsTreeTraverse(c.globalsTree, func(kvp, node *Value) {
		node.marked = true
		c.cdr(node).marked = true
		c.gcMarkValue(kvp)
	})

	c.gcMarkValue(c.this)

	for p := c.protectedHead; p != nil; p = p.next {
		c.gcMarkValue(p.val)
	}
}

func (c *Context) finalize(v *Value) {
	// Only data-buffers hold a resource beyond their own cell: the owned
	// scratch buffer goes back to the host.
	if v.typ == TypeDataBuffer && v.buf != nil {
		v.buf.Release()
	}
}

func (c *Context) gcSweep() int {
	// If nothing reached the current string packing buffer, drop it so
	// future strings allocate a fresh one.
	if !c.stringBuffer.marked {
		c.stringBuffer = c.nilv
	}

	collected := 0

	for i := range c.pool.cells {
		v := &c.pool.cells[i]
		if !v.alive {
			continue
		}
		if v.marked {
			v.marked = false
		} else {
			c.finalize(v)
			c.pool.Free(v)
			collected++
		}
	}

	return collected
}

// RunGC traces all roots — the nil and OOM singletons, the lexical-binding
// chain, the macro table, the operand stack, the globals tree and its spine,
// the current function, and every Protected — then sweeps the pool,
// finalizing and freeing unmarked cells. Returns the number collected.
func (c *Context) RunGC() int {
	c.gcMark()
	return c.gcSweep()
}

// FreeCells returns the current free-list length; with LiveCells it always
// sums to the pool size.
func (c *Context) FreeCells() int {
	return c.pool.FreeCount()
}

// LiveCells returns the number of in-use cells.
func (c *Context) LiveCells() int {
	n := 0
	c.pool.Live(func(*Value) { n++ })
	return n
}

// Teardown finalizes every live cell. The context must not be used
// afterwards.
func (c *Context) Teardown() {
	c.pool.Live(func(v *Value) {
		c.finalize(v)
	})
	c.pool = nil
	c.stack = nil
}
