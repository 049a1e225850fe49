package vm

import "errors"

// Sentinel error kinds, one per class of failure named in the error-handling
// design: each stage wraps its own sentinel with fmt.Errorf("%w: ...", ...)
// for positional context, the same way the teacher wraps errSegmentationFault
// and errUnknownInstruction with the failing instruction in getDefaultRecoverFuncForVM.
var (
	ErrPreprocessor = errors.New("preprocessor error")
	ErrLex          = errors.New("lex error")
	ErrSyntax       = errors.New("syntax error")
	ErrAssembler    = errors.New("assembler error")
	ErrLoader       = errors.New("loader error")
	ErrOutOfRange   = errors.New("memory out of range")
	ErrArithmetic   = errors.New("arithmetic error")
	ErrRuntime      = errors.New("runtime error")
)

// InputNeeded is not a failure: it is returned by Step when execution blocks
// on an empty input queue at a memory-mapped I/O address. The driver clears
// it cooperatively by pushing input and retrying the same instruction,
// mirroring controller/terminal.py's InputNeeded exception and the driver's
// poll-then-retry loop in controller/computer.py's execute_progam.
type InputNeeded struct {
	Addr uint32
}

func (e *InputNeeded) Error() string {
	return "blocked waiting for input"
}
