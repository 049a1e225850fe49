package vm

import (
	"errors"
	"fmt"
)

// Decoded is one fetched-and-decoded instruction, the fields the executor
// needs regardless of format. Unused fields are zero for formats that don't
// carry them (e.g. R2 is unused outside RR).
type Decoded struct {
	Mnemonic string
	Format   Format
	R        Register
	R2       Register
	M        uint32 // 24-bit memory/jump operand (RM, J)
	V        int64  // sign-extended 32-bit immediate (RI)
	Raw      uint64
}

// CPU is the fetch-decode-execute engine over the register file and shared
// bus, the register/memory-segmented analog of the teacher's execInstructions
// loop in vm.go (same shape: fetch, decode, big per-mnemonic switch, flag
// bookkeeping), generalized to this spec's 6-format ISA.
type CPU struct {
	Regs    *RegisterFile
	Bus     *Bus
	Halted  bool
	trapped error // not set anywhere: Step reports PARA via Halted and failures via its error return
}

func NewCPU(regs *RegisterFile, bus *Bus) *CPU {
	return &CPU{Regs: regs, Bus: bus}
}

// Fetch reads the word at PC without advancing it.
func (c *CPU) Fetch() (uint64, error) {
	pc := uint32(c.Regs.Get(RegPC))
	word, err := c.Bus.Read(pc)
	if err != nil {
		return 0, err
	}
	return word, nil
}

// Decode splits a fetched word into its format-specific fields using the
// static ISA table from isa.go.
func (c *CPU) Decode(word uint64) (Decoded, error) {
	entry, ok := decodeFormat(word)
	if !ok {
		return Decoded{}, fmt.Errorf("%w: unrecognized opcode in word %#016x", ErrRuntime, word)
	}
	d := Decoded{Mnemonic: entry.Mnemonic, Format: entry.Format, Raw: word}
	opLen := entry.Format.OpcodeLen()
	switch entry.Format {
	case FormatN:
		// no operand fields
	case FormatRR:
		d.R = Register(field(word, opLen, 5))
		d.R2 = Register(field(word, opLen+5, 5))
	case FormatR:
		d.R = Register(field(word, opLen, 5))
	case FormatRM:
		d.R = Register(field(word, opLen, 5))
		d.M = uint32(field(word, opLen+5, 24))
	case FormatRI:
		d.R = Register(field(word, opLen, 5))
		d.V = signExtend(field(word, opLen+5, 32), 32)
	case FormatJ:
		d.M = uint32(field(word, opLen, 24))
	}
	return d, nil
}

// Step performs one fetch-decode-execute cycle. It returns (true, nil) when
// the instruction executed was PARA (program finished); an *InputNeeded
// error when execution blocked on the I/O range (the caller should retry
// Step unchanged once input is available, mirroring computer.py's poll/retry
// around CPU.execute()); or any other error as an unrecoverable failure.
func (c *CPU) Step() (done bool, err error) {
	if c.Halted {
		return true, nil
	}

	word, err := c.Fetch()
	if err != nil {
		return false, err
	}
	d, err := c.Decode(word)
	if err != nil {
		return false, err
	}

	advanced, err := c.execute(d)
	if err != nil {
		var need *InputNeeded
		if errors.As(err, &need) {
			// Leave PC untouched so the same instruction re-executes
			// (and re-reads IOAddr) once input is pushed.
			return false, err
		}
		return false, err
	}
	if !advanced {
		c.Regs.Set(RegPC, c.Regs.Get(RegPC)+1)
	}
	if d.Mnemonic == "PARA" {
		c.Halted = true
		return true, nil
	}
	return false, nil
}

// execute runs one decoded instruction. The bool return reports whether PC
// was already set by the instruction (jump/call/return) so Step knows
// whether to auto-advance it.
func (c *CPU) execute(d Decoded) (pcSet bool, err error) {
	switch d.Mnemonic {

	// ----- N format -----
	case "PARA":
		return false, nil
	case "VUELVE":
		addr, err := c.pop()
		if err != nil {
			return false, err
		}
		c.Regs.Set(RegPC, addr)
		return true, nil
	case "PROCRASTINA":
		return false, nil

	// ----- RR format -----
	case "SUMA":
		return false, c.binArith(d, func(a, b int64) int64 { return a + b })
	case "RESTA":
		return false, c.binArith(d, func(a, b int64) int64 { return a - b })
	case "MULT":
		return false, c.binArith(d, func(a, b int64) int64 { return a * b })
	case "DIVI":
		b := int64(c.Regs.Get(d.R2))
		if b == 0 {
			return false, fmt.Errorf("%w: division by zero", ErrArithmetic)
		}
		return false, c.binArith(d, func(a, b int64) int64 { return a / b })
	case "COPIA":
		c.Regs.Set(d.R, c.Regs.Get(d.R2))
		return false, nil
	case "COMP":
		c.setCompareFlags(int64(c.Regs.Get(d.R)) - int64(c.Regs.Get(d.R2)))
		return false, nil
	case "CARGAIND":
		v, err := c.Bus.Read(uint32(c.Regs.Get(d.R2)))
		if err != nil {
			return false, err
		}
		c.Regs.Set(d.R, v)
		return false, nil
	case "GUARDIND":
		return false, c.Bus.Write(uint32(c.Regs.Get(d.R2)), c.Regs.Get(d.R))

	// ----- R format -----
	case "LIMP":
		c.Regs.Set(d.R, 0)
		return false, nil
	case "INCRE":
		c.Regs.Set(d.R, c.Regs.Get(d.R)+1)
		return false, nil
	case "DECRE":
		c.Regs.Set(d.R, c.Regs.Get(d.R)-1)
		return false, nil
	case "APILA":
		return false, c.push(c.Regs.Get(d.R))
	case "DESAPILA":
		v, err := c.pop()
		if err != nil {
			return false, err
		}
		c.Regs.Set(d.R, v)
		return false, nil

	// ----- RM format -----
	case "CARGA":
		v, err := c.Bus.Read(d.M)
		if err != nil {
			return false, err
		}
		c.Regs.Set(d.R, v)
		return false, nil
	case "GUARD":
		return false, c.Bus.Write(d.M, c.Regs.Get(d.R))
	case "SIREGCERO":
		if c.Regs.Get(d.R) == 0 {
			c.Regs.Set(RegPC, uint64(d.M))
			return true, nil
		}
		return false, nil
	case "SIREGNCERO":
		if c.Regs.Get(d.R) != 0 {
			c.Regs.Set(RegPC, uint64(d.M))
			return true, nil
		}
		return false, nil

	// ----- RI format -----
	case "ICARGA":
		c.Regs.Set(d.R, uint64(d.V))
		return false, nil
	case "ISUMA":
		return false, c.immArith(d, func(a, v int64) int64 { return a + v })
	case "IRESTA":
		return false, c.immArith(d, func(a, v int64) int64 { return a - v })
	case "IMULT":
		return false, c.immArith(d, func(a, v int64) int64 { return a * v })
	case "IDIVI":
		if d.V == 0 {
			return false, fmt.Errorf("%w: division by zero", ErrArithmetic)
		}
		return false, c.immArith(d, func(a, v int64) int64 { return a / v })
	case "IAND":
		c.Regs.Set(d.R, c.Regs.Get(d.R)&uint64(d.V))
		return false, nil
	case "IOR":
		c.Regs.Set(d.R, c.Regs.Get(d.R)|uint64(d.V))
		return false, nil
	case "IXOR":
		c.Regs.Set(d.R, c.Regs.Get(d.R)^uint64(d.V))
		return false, nil
	case "ICOMP":
		c.setCompareFlags(int64(c.Regs.Get(d.R)) - d.V)
		return false, nil

	// ----- J format -----
	case "SALTA":
		c.Regs.Set(RegPC, uint64(d.M))
		return true, nil
	case "LLAMA":
		if err := c.push(c.Regs.Get(RegPC) + 1); err != nil {
			return false, err
		}
		c.Regs.Set(RegPC, uint64(d.M))
		return true, nil
	case "SICERO":
		return c.branchIf(d, c.Regs.FlagSet(FlagZ))
	case "SINCERO":
		return c.branchIf(d, !c.Regs.FlagSet(FlagZ))
	case "SIPOS", "SIMAYOR":
		return c.branchIf(d, c.Regs.FlagSet(FlagP))
	case "SINEG", "SIMENOR":
		return c.branchIf(d, c.Regs.FlagSet(FlagN))
	case "SIOVERFL":
		return c.branchIf(d, c.Regs.FlagSet(FlagD))
	case "INTERRUP":
		if err := c.push(c.Regs.Get(RegPC) + 1); err != nil {
			return false, err
		}
		c.Regs.Set(RegPC, uint64(d.M))
		return true, nil
	}

	return false, fmt.Errorf("%w: unimplemented mnemonic %s", ErrRuntime, d.Mnemonic)
}

func (c *CPU) branchIf(d Decoded, take bool) (bool, error) {
	if take {
		c.Regs.Set(RegPC, uint64(d.M))
		return true, nil
	}
	return false, nil
}

func (c *CPU) binArith(d Decoded, op func(a, b int64) int64) error {
	a := int64(c.Regs.Get(d.R))
	b := int64(c.Regs.Get(d.R2))
	result := op(a, b)
	c.Regs.Set(d.R, uint64(result))
	c.setArithFlags(a, b, result)
	return nil
}

func (c *CPU) immArith(d Decoded, op func(a, v int64) int64) error {
	a := int64(c.Regs.Get(d.R))
	result := op(a, d.V)
	c.Regs.Set(d.R, uint64(result))
	c.setArithFlags(a, d.V, result)
	return nil
}

func (c *CPU) setArithFlags(a, b, result int64) {
	overflow := (a > 0 && b > 0 && result < 0) || (a < 0 && b < 0 && result >= 0)
	c.setCompareFlags(result)
	c.Regs.SetFlag(FlagD, overflow)
}

func (c *CPU) setCompareFlags(result int64) {
	c.Regs.SetFlag(FlagZ, result == 0)
	c.Regs.SetFlag(FlagN, result < 0)
	c.Regs.SetFlag(FlagP, result > 0)
}

func (c *CPU) push(v uint64) error {
	sp := uint32(c.Regs.Get(RegSP)) - 1
	if err := c.Bus.Write(sp, v); err != nil {
		return err
	}
	c.Regs.Set(RegSP, uint64(sp))
	return nil
}

func (c *CPU) pop() (uint64, error) {
	sp := uint32(c.Regs.Get(RegSP))
	v, err := c.Bus.Read(sp)
	if err != nil {
		return 0, err
	}
	c.Regs.Set(RegSP, uint64(sp+1))
	return v, nil
}
