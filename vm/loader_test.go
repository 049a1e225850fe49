package vm

import (
	"fmt"
	"testing"
)

func TestLoaderWritesWordsAtBase(t *testing.T) {
	mem := NewMemory(nil)
	bus := NewBus(mem)
	loader := NewLoader(bus)

	image := FormatWord(0x1, FormatBinary) + "\n" + FormatWord(0x2, FormatBinary) + "\n"
	err := loader.Load(image, 10)
	assert(t, err == nil, "load failed: %v", err)

	v, err := bus.Read(10)
	assert(t, err == nil && v == 1, "expected word 1 at base, got %d (err=%v)", v, err)
	v, err = bus.Read(11)
	assert(t, err == nil && v == 2, "expected word 2 at base+1, got %d (err=%v)", v, err)
}

func TestLoaderRejectsImageOutsideCodeRange(t *testing.T) {
	mem := NewMemory(nil)
	bus := NewBus(mem)
	loader := NewLoader(bus)

	image := FormatWord(0x1, FormatBinary) + "\n"
	err := loader.Load(image, DataStart)
	assert(t, err != nil, "base outside CODE range should error")
}

func TestLoaderExpandsRelocationPlaceholder(t *testing.T) {
	mem := NewMemory(nil)
	bus := NewBus(mem)
	loader := NewLoader(bus)

	// 40 tag bits (all zero, arbitrary) + a {5} placeholder filling the
	// remaining 24 bits, for a line whose total width is still 64 bits.
	line := fmt.Sprintf("%040s{5}", "0")
	err := loader.Load(line+"\n", 100)
	assert(t, err == nil, "relocation load failed: %v", err)

	v, err := bus.Read(100)
	assert(t, err == nil, "read failed: %v", err)
	assert(t, v == 105, "expected relocated address 100+5=105, got %d", v)
}

func TestLoaderRejectsMalformedBitWidth(t *testing.T) {
	mem := NewMemory(nil)
	bus := NewBus(mem)
	loader := NewLoader(bus)
	err := loader.Load("0101\n", 0)
	assert(t, err != nil, "short line should error")
}
