package vm

import (
	"errors"
	"fmt"
)

// Driver orchestrates load/run/step/stop and renders human-readable
// disassembly, the C11 entry points from spec.md §4.7. Grounded on
// controller/computer.py's Computador class (same four operations), adapted
// to the redesign's explicit-state model from spec.md §9: a Driver holds a
// reference to the Machine rather than mutating class-level globals.
type Driver struct {
	Machine *Machine
	running bool
	stepping bool
}

// Machine owns memory, the register file, the bus, and the CPU — the
// explicit aggregate spec.md §9 calls for in place of the source's
// class-level mutable globals.
type Machine struct {
	Memory *Memory
	Regs   *RegisterFile
	Bus    *Bus
	CPU    *CPU
	IO     IOBridge
}

// NewMachine wires memory, registers, bus and CPU together around the given
// I/O bridge (may be nil for a bridge-less machine used in pure compute
// tests).
func NewMachine(io IOBridge) *Machine {
	mem := NewMemory(io)
	bus := NewBus(mem)
	regs := NewRegisterFile()
	cpu := NewCPU(regs, bus)
	return &Machine{Memory: mem, Regs: regs, Bus: bus, CPU: cpu, IO: io}
}

func NewDriver(m *Machine) *Driver {
	return &Driver{Machine: m}
}

// Load validates and relocates an image into memory at base, per spec.md
// §4.7's `load(machine_code_text, base_address)`.
func (d *Driver) Load(imageText string, base uint32) error {
	loader := NewLoader(d.Machine.Bus)
	return loader.Load(imageText, base)
}

// Run sets PC to start and repeatedly fetches/decodes/executes until halted
// or an InputNeeded suspension, per spec.md §4.7/§5. On InputNeeded it
// returns the *InputNeeded error immediately: the host resumes by pushing
// input and calling Resume, which re-issues the same instruction since PC
// was left untouched.
func (d *Driver) Run(start uint32) error {
	d.Machine.Regs.Set(RegPC, uint64(start))
	d.running = true
	for d.running {
		done, err := d.Machine.CPU.Step()
		if err != nil {
			var need *InputNeeded
			if errors.As(err, &need) {
				return err
			}
			d.running = false
			return err
		}
		if done {
			d.running = false
			return nil
		}
	}
	return nil
}

// Resume continues a Run loop that previously returned InputNeeded, once the
// host has pushed input into the bridge.
func (d *Driver) Resume() error {
	d.running = true
	for d.running {
		done, err := d.Machine.CPU.Step()
		if err != nil {
			var need *InputNeeded
			if errors.As(err, &need) {
				return err
			}
			d.running = false
			return err
		}
		if done {
			d.running = false
			return nil
		}
	}
	return nil
}

// StartStepping sets PC to start and marks the driver ready for StepOnce
// calls, per spec.md §4.7's `step(start_address?)`.
func (d *Driver) StartStepping(start uint32) {
	d.Machine.Regs.Set(RegPC, uint64(start))
	d.stepping = true
}

// StepOnce advances exactly one instruction, returning a human-readable
// rendering of the instruction that ran and whether it was PARA.
func (d *Driver) StepOnce() (rendered string, halted bool, err error) {
	if !d.stepping {
		return "", false, fmt.Errorf("%w: step invoked without prior start_stepping", ErrRuntime)
	}
	word, err := d.Machine.CPU.Fetch()
	if err != nil {
		return "", false, err
	}
	decoded, err := d.Machine.CPU.Decode(word)
	if err != nil {
		return "", false, err
	}
	rendered = RenderInstruction(decoded)

	done, err := d.Machine.CPU.Step()
	if err != nil {
		return rendered, false, err
	}
	return rendered, done, nil
}

// StopStepping clears the stepping flag.
func (d *Driver) StopStepping() {
	d.stepping = false
}

// Stop clears the running flag and resets CPU observable state, per
// spec.md §4.7's `stop()`.
func (d *Driver) Stop() {
	d.running = false
	d.stepping = false
	d.Machine.CPU.Halted = false
	*d.Machine.Regs = *NewRegisterFile()
}

// RenderInstruction formats a decoded instruction the way spec.md §4.7's
// renderer does: R0->"PC", R1->"SP", R2->"IR", R3->"STATE", Rk->"Rk"; a
// GUARD with R=0 prints as "GUARD M[...]" instead of "GUARD PC, M[...]".
func RenderInstruction(d Decoded) string {
	switch d.Format {
	case FormatN:
		return d.Mnemonic
	case FormatRR:
		return fmt.Sprintf("%s %s, %s", d.Mnemonic, RegisterName(d.R), RegisterName(d.R2))
	case FormatR:
		return fmt.Sprintf("%s %s", d.Mnemonic, RegisterName(d.R))
	case FormatRM:
		if d.R == 0 && (d.Mnemonic == "GUARD") {
			return fmt.Sprintf("%s M[%d]", d.Mnemonic, d.M)
		}
		return fmt.Sprintf("%s %s, M[%d]", d.Mnemonic, RegisterName(d.R), d.M)
	case FormatRI:
		return fmt.Sprintf("%s %s, %d", d.Mnemonic, RegisterName(d.R), d.V)
	case FormatJ:
		return fmt.Sprintf("%s %d", d.Mnemonic, d.M)
	default:
		return d.Mnemonic
	}
}
