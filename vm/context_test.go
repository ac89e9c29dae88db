package vm

import "testing"

func TestOperandStackBasics(t *testing.T) {
	c := testContext(t)

	depth := c.StackDepth()
	c.PushOp(c.MakeInteger(1))
	c.PushOp(c.MakeInteger(2))
	c.PushOp(c.MakeInteger(3))

	if c.Op0().Integer() != 3 || c.Op1().Integer() != 2 || c.Op(2).Integer() != 1 {
		t.Error("top-relative indexing wrong")
	}

	c.InsertOp(1, c.MakeInteger(9))
	if c.Op0().Integer() != 3 || c.Op(1).Integer() != 9 {
		t.Error("InsertOp placed value at the wrong offset")
	}

	for c.StackDepth() > depth {
		c.PopOp()
	}
}

func TestOpUnderIndexingReturnsNil(t *testing.T) {
	c := testContext(t)
	if c.Op(10000) != c.Nil() {
		t.Error("reading past the stack should produce nil")
	}
}

func TestStackSeededWithNils(t *testing.T) {
	c := testContext(t)
	// The first two slots are seeded so Op0/Op1 are safe immediately.
	if c.StackDepth() < 2 {
		t.Fatalf("stack depth at init = %d", c.StackDepth())
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	c := testContext(t)

	v := c.MakeInteger(77)
	cp := c.pool.Compress(v)
	if c.pool.Decompress(cp) != v {
		t.Error("compress/decompress lost the pointer")
	}
}

func TestProtectedListLinkage(t *testing.T) {
	c := testContext(t)

	a := c.Protect(c.Nil())
	b := c.Protect(c.Nil())
	d := c.Protect(c.Nil())

	// Release the middle node; the list must stay intact.
	b.Release()

	count := 0
	for p := c.protectedHead; p != nil; p = p.next {
		count++
	}
	if count != 2 {
		t.Errorf("protected list has %d nodes, want 2", count)
	}

	d.Release()
	a.Release()
	if c.protectedHead != nil {
		t.Error("protected list not empty after all releases")
	}
}

func TestNilSingleton(t *testing.T) {
	c := testContext(t)

	if c.Nil().Type() != TypeNil {
		t.Fatal("nil singleton has wrong tag")
	}
	if readOne(t, c, "nil") != c.Nil() {
		t.Error("nil is not a singleton")
	}
	c.RunGC()
	if c.Nil().Type() != TypeNil {
		t.Error("nil singleton collected")
	}
}
