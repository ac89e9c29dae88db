package bytecode

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func TestEmitterBasicInstructions(t *testing.T) {
	e := NewEmitter()
	e.Emit(OpPushNil)
	e.EmitU8(OpPushSmallInteger, 7)
	e.EmitU16(OpPushSymbol, 300)
	e.EmitI32(OpPushInteger, -5)
	e.Emit(OpRet)

	code := e.Code()
	if code[0] != byte(OpPushNil) {
		t.Error("first opcode wrong")
	}
	if code[1] != byte(OpPushSmallInteger) || code[2] != 7 {
		t.Error("u8 operand wrong")
	}
	if binary.LittleEndian.Uint16(code[4:]) != 300 {
		t.Error("u16 operand wrong")
	}
	if int32(binary.LittleEndian.Uint32(code[7:])) != -5 {
		t.Error("i32 operand wrong")
	}
}

func TestEmitterJumpPatching(t *testing.T) {
	e := NewEmitter()
	e.Emit(OpPush1)
	placeholder := e.EmitJump(OpJumpIfFalse)
	e.Emit(OpPush2)
	e.PatchJump(placeholder)
	target := e.CurrentOffset()
	e.Emit(OpRet)

	code := e.Code()
	if got := int(binary.LittleEndian.Uint16(code[placeholder:])); got != target {
		t.Errorf("patched jump = %d, want %d", got, target)
	}
}

func TestEmitStringLimits(t *testing.T) {
	e := NewEmitter()
	e.EmitString("ok")
	code := e.Code()
	if code[1] != 2 || string(code[2:4]) != "ok" {
		t.Errorf("inline string encoding wrong: %v", code)
	}

	defer func() {
		if recover() == nil {
			t.Error("oversized inline string should panic")
		}
	}()
	e.EmitString(strings.Repeat("x", 300))
}

func TestModuleEncodeDecode(t *testing.T) {
	e := NewEmitter()
	e.EmitU16(OpLoadVarReloc, 1)
	e.Emit(OpRet)

	m := &Module{
		Symbols: []string{"alpha", "beta"},
		Code:    e.Code(),
	}

	data, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := DecodeModule(data)
	if err != nil {
		t.Fatal(err)
	}

	if len(decoded.Symbols) != 2 || decoded.Symbols[0] != "alpha" || decoded.Symbols[1] != "beta" {
		t.Errorf("symbols = %v", decoded.Symbols)
	}
	if !bytes.Equal(decoded.Code, m.Code) {
		t.Errorf("code = %v, want %v", decoded.Code, m.Code)
	}
}

func TestDecodeModuleTruncated(t *testing.T) {
	m := &Module{Symbols: []string{"s"}, Code: []byte{byte(OpRet)}}
	data, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}

	for cut := 1; cut < len(data); cut++ {
		if _, err := DecodeModule(data[:cut]); err == nil {
			t.Errorf("decoding %d/%d bytes should fail", cut, len(data))
		}
	}
}

func TestModuleSymbolLookup(t *testing.T) {
	m := &Module{Symbols: []string{"only"}}
	if s, err := m.Symbol(0); err != nil || s != "only" {
		t.Errorf("Symbol(0) = %q, %v", s, err)
	}
	if _, err := m.Symbol(1); err == nil {
		t.Error("out-of-range symbol index should error")
	}
}

func TestDisassembleListing(t *testing.T) {
	e := NewEmitter()
	e.EmitU8(OpPushSmallInteger, 9)
	e.EmitU16(OpLoadVar, 17)
	e.EmitString("hi")
	e.Emit(OpFuncall2)
	e.Emit(OpRet)

	var out bytes.Buffer
	err := Disassemble(&out, e.Code(), 0, func(off uint16) string { return "sym17" })
	if err != nil {
		t.Fatal(err)
	}

	listing := out.String()
	for _, want := range []string{
		"0000: PUSH_SMALL_INTEGER(9)",
		"LOAD_VAR(sym17)",
		`PUSH_STRING("hi")`,
		"FUNCALL_2",
		"RET",
	} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing missing %q:\n%s", want, listing)
		}
	}
}

func TestDisassembleStopsAtOuterRet(t *testing.T) {
	e := NewEmitter()
	lambda := e.EmitJump(OpPushLambda)
	e.Emit(OpArg0)
	e.Emit(OpRet) // closes the lambda, not the function
	e.PatchJump(lambda)
	e.Emit(OpRet)
	e.Emit(OpFatal) // never reached

	var out bytes.Buffer
	if err := Disassemble(&out, e.Code(), 0, nil); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.String(), "FATAL") {
		t.Errorf("listing ran past the outermost RET:\n%s", out.String())
	}
	if strings.Count(out.String(), "RET") != 2 {
		t.Errorf("listing should show both RETs:\n%s", out.String())
	}
}

func TestDisassembleMissingRet(t *testing.T) {
	code := []byte{byte(OpPushNil)}
	var out bytes.Buffer
	if err := Disassemble(&out, code, 0, nil); err == nil {
		t.Error("code without RET should be reported")
	}
}
