package vm

import (
	"strings"
	"testing"

	"github.com/fernlang/fern/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Module loading and relocation
// ---------------------------------------------------------------------------

func TestLoadModuleRewritesRelocatables(t *testing.T) {
	c := testContext(t)

	fn := loadFunction(t, c, buildCountdown())
	defer c.PopOp()

	// After loading, the buffer must hold no relocatable opcodes before the
	// outermost Ret.
	data := c.bytecodeBuffer(fn).Buffer().Data[:]
	pc := 0
	depth := 0
scan:
	for {
		op := bytecode.Opcode(data[pc])
		if op.IsRelocatable() {
			t.Fatalf("relocatable opcode %s survived loading at offset %d", op, pc)
		}
		switch op {
		case bytecode.OpPushLambda:
			depth++
		case bytecode.OpRet:
			if depth == 0 {
				break scan
			}
			depth--
		}
		pc += bytecode.InstructionLen(data, pc)
	}

	// The rewritten operand is a live intern offset for the right name.
	result := callFunction(t, c, fn, 3)
	if result.Type() != TypeInteger || result.Integer() != 0 {
		t.Errorf("loaded module result = %s, want 0", c.Format(result))
	}
}

func TestLoadModuleEncodeDecodeRoundTrip(t *testing.T) {
	c := testContext(t)

	encoded, err := buildSum().Encode()
	if err != nil {
		t.Fatal(err)
	}

	fn, err := c.LoadModuleBytes(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if fn.IsError() {
		t.Fatalf("LoadModuleBytes: %s", c.Format(fn))
	}
	c.PushOp(fn)
	defer c.PopOp()

	result := callFunction(t, c, fn, 100, 0)
	if result.Type() != TypeInteger || result.Integer() != 5050 {
		t.Errorf("sum(100) from encoded module = %s, want 5050", c.Format(result))
	}
}

func TestLoadModuleSharesInternedSymbols(t *testing.T) {
	c := testContext(t)

	before := c.InternedBytes()
	fn := loadFunction(t, c, buildCountdown()) // "-" is already interned
	c.PopOp()
	_ = fn

	if c.InternedBytes() != before {
		t.Error("loading a module whose symbols are all interned should not grow the arena")
	}
}

func TestLoadModuleRejectsOversizedCode(t *testing.T) {
	c := testContext(t)

	m := &bytecode.Module{Code: make([]byte, ScratchBufferSize+1)}
	fn := c.LoadModule(m)
	if !fn.IsError() || fn.ErrorCode() != ErrInvalidSyntax {
		t.Errorf("oversized module load = %s, want invalid syntax error", c.Format(fn))
	}
}

func TestLoadModuleRejectsBadSymbolIndex(t *testing.T) {
	c := testContext(t)

	e := bytecode.NewEmitter()
	e.EmitU16(bytecode.OpLoadVarReloc, 7) // no such symbol
	e.Emit(bytecode.OpRet)

	fn := c.LoadModule(&bytecode.Module{Code: e.Code()})
	if !fn.IsError() {
		t.Errorf("bad symbol index load = %s, want error", c.Format(fn))
	}
}

func TestDisassembleLoadedModule(t *testing.T) {
	c := testContext(t)

	fn := loadFunction(t, c, buildCountdown())
	defer c.PopOp()

	var out strings.Builder
	data := c.bytecodeBuffer(fn).Buffer().Data[:]
	start := int(c.bytecodeOffset(fn).Integer())
	if err := bytecode.Disassemble(&out, data, start, c.SymbolFromOffset); err != nil {
		t.Fatal(err)
	}

	listing := out.String()
	for _, want := range []string{"ARG_0", "LOAD_VAR(-)", "TAIL_CALL_1", "RET"} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing missing %q:\n%s", want, listing)
		}
	}
}
