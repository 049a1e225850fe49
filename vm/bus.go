package vm

import "fmt"

// Register indices. R0-R3 are fixed-purpose; R4-R31 are general purpose,
// matching spec.md §3's register file and the allocator window described
// in §4.3 (reg_start=4, reg_end=15), grounded on parser_spl.py's ParserContext.
const (
	RegPC Register = 0
	RegSP Register = 1
	RegIR Register = 2
	RegST Register = 3

	NumRegisters = 32
)

type Register uint8

// Flag bits within the STATE register (R3): Zero, Positive, Negative,
// Desbordamiento (overflow), per spec.md §3's Z/P/N/D flag set.
const (
	FlagZ uint64 = 1 << 0
	FlagP uint64 = 1 << 1
	FlagN uint64 = 1 << 2
	FlagD uint64 = 1 << 3
)

// RegisterFile holds the 32 architectural registers. It carries no bus
// wires; memory access goes through Bus below.
type RegisterFile struct {
	regs [NumRegisters]uint64
}

func NewRegisterFile() *RegisterFile {
	rf := &RegisterFile{}
	rf.regs[RegSP] = StackEnd - 1
	return rf
}

func (rf *RegisterFile) Get(r Register) uint64 {
	return rf.regs[r]
}

func (rf *RegisterFile) Set(r Register, v uint64) {
	rf.regs[r] = v
}

func (rf *RegisterFile) Flags() uint64 { return rf.regs[RegST] }

func (rf *RegisterFile) SetFlag(mask uint64, on bool) {
	if on {
		rf.regs[RegST] |= mask
	} else {
		rf.regs[RegST] &^= mask
	}
}

func (rf *RegisterFile) FlagSet(mask uint64) bool {
	return rf.regs[RegST]&mask != 0
}

// RegisterName returns the display name for a register, matching
// controller/computer.py's _reg_name (0->PC, 1->SP, 2->IR, 3->ESTADO/STATE,
// else R{n}).
func RegisterName(r Register) string {
	switch r {
	case RegPC:
		return "PC"
	case RegSP:
		return "SP"
	case RegIR:
		return "IR"
	case RegST:
		return "STATE"
	default:
		return fmt.Sprintf("R%d", r)
	}
}

// Bus is the single path every memory access goes through, so modified-
// address tracking and I/O notification stay centralized in one place
// (SPEC_FULL.md §5), instead of callers poking Memory directly.
type Bus struct {
	Memory *Memory
}

func NewBus(mem *Memory) *Bus {
	return &Bus{Memory: mem}
}

func (b *Bus) Read(addr uint32) (uint64, error) {
	return b.Memory.Read(addr)
}

func (b *Bus) Write(addr uint32, value uint64) error {
	return b.Memory.Write(addr, value)
}
