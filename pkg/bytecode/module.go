package bytecode

import (
	"encoding/binary"
	"fmt"
)

// A Module is a unit of precompiled, position-independent bytecode plus the
// symbol table its relocatable instructions index into.
//
// Binary layout (all multi-byte fields little-endian):
//
//	[symbol_count:u16] [bytecode_length:u16] [reserved:4]
//	[N null-terminated symbol strings]
//	[bytecode bytes]
type Module struct {
	Symbols []string
	Code    []byte
}

// headerLen is the fixed size of the module header.
const headerLen = 8

// Encode serializes the module to its binary form.
func (m *Module) Encode() ([]byte, error) {
	if len(m.Symbols) > 0xFFFF {
		return nil, fmt.Errorf("module has %d symbols, limit is 65535", len(m.Symbols))
	}
	if len(m.Code) > 0xFFFF {
		return nil, fmt.Errorf("module bytecode is %d bytes, limit is 65535", len(m.Code))
	}

	size := headerLen + len(m.Code)
	for _, s := range m.Symbols {
		size += len(s) + 1
	}

	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(m.Symbols)))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(m.Code)))
	buf = append(buf, 0, 0, 0, 0)

	for _, s := range m.Symbols {
		buf = append(buf, s...)
		buf = append(buf, 0)
	}

	buf = append(buf, m.Code...)
	return buf, nil
}

// DecodeModule parses a module from its binary form.
func DecodeModule(data []byte) (*Module, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("module too short: need at least %d bytes, got %d", headerLen, len(data))
	}

	symbolCount := int(binary.LittleEndian.Uint16(data[0:]))
	codeLen := int(binary.LittleEndian.Uint16(data[2:]))

	m := &Module{Symbols: make([]string, 0, symbolCount)}

	pos := headerLen
	for i := 0; i < symbolCount; i++ {
		start := pos
		for {
			if pos >= len(data) {
				return nil, fmt.Errorf("unexpected end of module reading symbol %d", i)
			}
			if data[pos] == 0 {
				break
			}
			pos++
		}
		m.Symbols = append(m.Symbols, string(data[start:pos]))
		pos++ // null terminator
	}

	if pos+codeLen > len(data) {
		return nil, fmt.Errorf("unexpected end of module reading bytecode: need %d bytes at pos %d", codeLen, pos)
	}
	m.Code = make([]byte, codeLen)
	copy(m.Code, data[pos:pos+codeLen])

	return m, nil
}

// Symbol returns the symbol at the given module-local index.
func (m *Module) Symbol(index int) (string, error) {
	if index < 0 || index >= len(m.Symbols) {
		return "", fmt.Errorf("module symbol index %d out of range (have %d)", index, len(m.Symbols))
	}
	return m.Symbols[index], nil
}
