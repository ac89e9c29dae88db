package vm

// Top-level bindings form an unbalanced binary search tree built out of
// ordinary cons cells — three per binding:
//
//	((key . value) . (left-child . right-child))
//
// The key is an interned-symbol cell; ordering compares intern-arena
// offsets, not textual names. That is sufficient because any two occurrences
// of the same name share one offset, and it keeps the tree free of per-node
// overhead while interoperating with the GC (the tree is just cells). The
// tree shape depends on intern order, so it is unbalanced on purpose; no
// rebalancing is attempted.

func (c *Context) globalsTreeInsert(key, value *Value) {
	newKvp := c.Protect(c.MakeCons(key, value))
	defer newKvp.Release()

	if c.globalsTree == c.nilv {
		// The empty set of left/right children.
		c.PushOp(c.MakeCons(c.Nil(), c.Nil()))
		newTree := c.MakeCons(newKvp.Value(), c.Op0())
		c.PopOp()

		c.globalsTree = newTree
		return
	}

	// Scan for the key. If present, overwrite the existing value; otherwise
	// splice a new node at the last visited left/right slot.
	current := c.Protect(c.globalsTree)
	defer current.Release()
	prev := c.Protect(c.globalsTree)
	defer prev.Release()
	insertLeft := true

	for current.Value() != c.nilv {
		currentKey := c.car(c.car(current.Value()))

		if currentKey.SymbolOffset() == key.SymbolOffset() {
			// The key already exists; overwrite the previous value.
			c.setCdr(c.car(current.Value()), value)
			return
		}

		prev.Set(current.Value())

		if currentKey.SymbolOffset() < key.SymbolOffset() {
			insertLeft = true
			current.Set(c.car(c.cdr(current.Value())))
		} else {
			insertLeft = false
			current.Set(c.cdr(c.cdr(current.Value())))
		}
	}

	c.PushOp(c.MakeCons(c.Nil(), c.Nil()))
	newTree := c.MakeCons(newKvp.Value(), c.Op0())
	c.PopOp()

	if insertLeft {
		c.setCar(c.cdr(prev.Value()), newTree)
	} else {
		c.setCdr(c.cdr(prev.Value()), newTree)
	}
}

func (c *Context) leftSubtree(tree *Value) *Value {
	return c.car(c.cdr(tree))
}

func (c *Context) rightSubtree(tree *Value) *Value {
	return c.cdr(c.cdr(tree))
}

func (c *Context) setRightSubtree(tree, value *Value) {
	c.setCdr(c.cdr(tree), value)
}

// globalsTreeTraverse invokes callback with (kvp, node) for every binding.
// In-place Morris traversal: no allocation, so the collector can use it
// mid-cycle.
func (c *Context) globalsTreeTraverse(root *Value, callback func(kvp, node *Value)) {
	if root == c.nilv {
		return
	}

	current := root

	for current != c.nilv {
		if c.leftSubtree(current) == c.nilv {
			callback(c.car(current), current)
			current = c.rightSubtree(current)
		} else {
			prev := c.leftSubtree(current)

			for c.rightSubtree(prev) != c.nilv && c.rightSubtree(prev) != current {
				prev = c.rightSubtree(prev)
			}

			if c.rightSubtree(prev) == c.nilv {
				c.setRightSubtree(prev, current)
				current = c.leftSubtree(current)
			} else {
				c.setRightSubtree(prev, c.Nil())
				callback(c.car(current), current)
				current = c.rightSubtree(current)
			}
		}
	}
}

func (c *Context) globalsTreeErase(key *Value) {
	if c.globalsTree == c.nilv {
		return
	}

	current := c.globalsTree
	prev := current
	eraseLeft := true

	for current != c.nilv {
		currentKey := c.car(c.car(current))

		if currentKey.SymbolOffset() == key.SymbolOffset() {
			erased := c.Protect(current)
			defer erased.Release()

			if current == prev {
				c.globalsTree = c.Nil()
			} else if eraseLeft {
				c.setCar(c.cdr(prev), c.Nil())
			} else {
				c.setCdr(c.cdr(prev), c.Nil())
			}

			// Reattach every binding from the unlinked node's subtrees.
			reattach := func(kvp, _ *Value) {
				c.globalsTreeInsert(c.car(kvp), c.cdr(kvp))
			}

			if left := c.leftSubtree(erased.Value()); left != c.nilv {
				c.globalsTreeTraverse(left, reattach)
			}
			if right := c.rightSubtree(erased.Value()); right != c.nilv {
				c.globalsTreeTraverse(right, reattach)
			}

			return
		}

		prev = current

		if currentKey.SymbolOffset() < key.SymbolOffset() {
			eraseLeft = true
			current = c.car(c.cdr(current))
		} else {
			eraseLeft = false
			current = c.cdr(c.cdr(current))
		}
	}
}

// globalsTreeFind returns the bound value, or an undefined-variable error
// cell with a "[var: name]" context string on a miss.
func (c *Context) globalsTreeFind(key *Value) *Value {
	current := c.globalsTree

	for current != c.nilv {
		currentKey := c.car(c.car(current))

		if currentKey.SymbolOffset() == key.SymbolOffset() {
			return c.cdr(c.car(current))
		}

		if currentKey.SymbolOffset() < key.SymbolOffset() {
			current = c.car(c.cdr(current))
		} else {
			current = c.cdr(c.cdr(current))
		}
	}

	return c.makeStringError(ErrUndefinedVariableAccess, "[var: "+c.SymbolName(key)+"]")
}

// GlobalsCount returns the number of top-level bindings.
func (c *Context) GlobalsCount() int {
	n := 0
	c.globalsTreeTraverse(c.globalsTree, func(_, _ *Value) { n++ })
	return n
}
