package vm

import (
	"fmt"
	"testing"
)

func TestSetThenGet(t *testing.T) {
	c := testContext(t)

	evalString(t, c, "(set 'answer 42)")
	expectInteger(t, c, "answer", 42)

	// Overwrite.
	evalString(t, c, "(set 'answer 43)")
	expectInteger(t, c, "answer", 43)

	// Through the embedder API.
	c.SetVar("direct", c.MakeInteger(7))
	v := c.GetVar("direct")
	if v.Type() != TypeInteger || v.Integer() != 7 {
		t.Errorf("GetVar(direct) = %s", c.Format(v))
	}
}

func TestUnbindThenGet(t *testing.T) {
	c := testContext(t)

	evalString(t, c, "(set 'doomed 1)")
	evalString(t, c, "(unbind 'doomed)")

	v := c.GetVar("doomed")
	if !v.IsError() || v.ErrorCode() != ErrUndefinedVariableAccess {
		t.Errorf("after unbind, GetVar = %s", c.Format(v))
	}

	// The error carries a [var: name] hint string.
	hint := c.ErrorContext(v)
	if hint.Type() != TypeString || c.StringValue(hint) != "[var: doomed]" {
		t.Errorf("error hint = %s", c.Format(hint))
	}
}

func TestBoundBuiltin(t *testing.T) {
	c := testContext(t)

	expectInteger(t, c, "(bound 'never-bound)", 0)
	evalString(t, c, "(set 'now-bound 1)")
	expectInteger(t, c, "(bound 'now-bound)", 1)
	expectInteger(t, c, "(bound 'cons)", 1)
}

func TestManyBindings(t *testing.T) {
	c := testContext(t)

	// The intern order drives the tree shape; exercise a few dozen nodes in
	// both directions.
	for i := 0; i < 40; i++ {
		evalString(t, c, fmt.Sprintf("(set 'var-%02d %d)", i, i))
	}
	for i := 39; i >= 0; i-- {
		expectInteger(t, c, fmt.Sprintf("var-%02d", i), int32(i))
	}
}

func TestEraseReattachesSubtrees(t *testing.T) {
	c := testContext(t)

	for i := 0; i < 20; i++ {
		evalString(t, c, fmt.Sprintf("(set 'key-%02d %d)", i, i))
	}

	// Erase an interior node; every other binding must survive.
	evalString(t, c, "(unbind 'key-05)")

	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("key-%02d", i)
		v := c.GetVar(name)
		if i == 5 {
			if !v.IsError() {
				t.Errorf("%s should be unbound", name)
			}
			continue
		}
		if v.Type() != TypeInteger || v.Integer() != int32(i) {
			t.Errorf("%s = %s after erase, want %d", name, c.Format(v), i)
		}
	}
}

func TestGlobalsIteration(t *testing.T) {
	c := testContext(t)
	c.SetConstants([]IntegralConstant{{Name: "const-a", Value: 1}})

	evalString(t, c, "(set 'iter-test 9)")

	seen := map[string]bool{}
	c.Globals(func(name string) { seen[name] = true })

	for _, want := range []string{"iter-test", "cons", "const-a"} {
		if !seen[want] {
			t.Errorf("Globals never reported %q", want)
		}
	}
}

func TestGlobalsTreeIsPlainCells(t *testing.T) {
	c := testContext(t)

	// The `globals` built-in exposes the tree; its spine is ordinary pairs.
	result := evalString(t, c, "(globals)")
	if result.Type() != TypeCons {
		t.Fatalf("(globals) = %s", c.Format(result))
	}
	kvp := c.Car(result)
	if kvp.Type() != TypeCons || c.Car(kvp).Type() != TypeSymbol {
		t.Error("tree nodes should be ((key . value) . (left . right))")
	}
}
