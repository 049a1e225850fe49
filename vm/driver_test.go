package vm

import "testing"

// compileAssembleLoad runs the full compile -> assemble -> load pipeline and
// returns a ready-to-run Machine/Driver pair plus the assembled symbol
// table, matching the teacher's compileAndCheck helper shape in vm_test.go.
func compileAssembleLoad(t *testing.T, source string, io IOBridge) (*Driver, *Assembled) {
	t.Helper()
	assembly, err := Compile(source)
	assert(t, err == nil, "compile failed: %v", err)

	asm, err := Assemble(assembly)
	assert(t, err == nil, "assemble failed: %v", err)

	machine := NewMachine(io)
	driver := NewDriver(machine)
	err = driver.Load(WordsToImageText(asm.Words), CodeStart)
	assert(t, err == nil, "load failed: %v", err)

	return driver, asm
}

// TestEndToEndGCD is the spec's greatest-common-divisor scenario: after
// running to completion, memory[131072] holds gcd(21, 14) = 7.
func TestEndToEndGCD(t *testing.T) {
	source := "a = 21\nb = 14\nwhile a != b:\n  if a > b:\n    a = a - b\n  else:\n    b = b - a\nM[131072] = a\n"
	driver, _ := compileAssembleLoad(t, source, nil)

	err := driver.Run(CodeStart)
	assert(t, err == nil, "run failed: %v", err)

	v, err := driver.Machine.Bus.Read(131072)
	assert(t, err == nil, "read of result address failed: %v", err)
	assert(t, v == 7, "expected gcd(21,14) = 7 at M[131072], got %d", v)
	assert(t, driver.Machine.Regs.FlagSet(FlagZ), "final COMP a,b should leave Z set since a==b")
}

// TestEndToEndPrintLiteral is the spec's print scenario: print("hi")
// notifies the output sink with exactly "hi\n".
func TestEndToEndPrintLiteral(t *testing.T) {
	var notifications []string
	term := NewTerminal(4, func(rendered string) {
		notifications = append(notifications, rendered)
	})

	driver, _ := compileAssembleLoad(t, "print(\"hi\")\n", term)
	err := driver.Run(CodeStart)
	assert(t, err == nil, "run failed: %v", err)

	term.flush()
	assert(t, len(notifications) == 1, "expected one coalesced notification, got %d: %v", len(notifications), notifications)
	assert(t, notifications[0] == "hi\n", "expected notification %q, got %q", "hi\n", notifications[0])
}

// TestEndToEndStructFieldAssignment is the spec's struct scenario:
// p.x = 3; p.y = 4 yields M[p+0] = 3 and M[p+1] = 4.
func TestEndToEndStructFieldAssignment(t *testing.T) {
	source := "type Point{x, y}\nvar p : Point\np.x = 3\np.y = 4\n"
	driver, asm := compileAssembleLoad(t, source, nil)

	err := driver.Run(CodeStart)
	assert(t, err == nil, "run failed: %v", err)

	base, ok := asm.Symbols["p"]
	assert(t, ok, "expected symbol %q in the assembled image", "p")

	x, err := driver.Machine.Bus.Read(base)
	assert(t, err == nil && x == 3, "expected M[p+0]=3, got %d (err=%v)", x, err)
	y, err := driver.Machine.Bus.Read(base + 1)
	assert(t, err == nil && y == 4, "expected M[p+1]=4, got %d (err=%v)", y, err)
}

// TestEndToEndIndirect2DArray is the spec's 2-D array scenario:
// a[1][2] = 9 on a 2x3 array yields M[a+5] = 9 (row-major i*C+j).
func TestEndToEndIndirect2DArray(t *testing.T) {
	source := "var a[2][3]\ni = 1\nj = 2\na[i][j] = 9\n"
	driver, asm := compileAssembleLoad(t, source, nil)

	err := driver.Run(CodeStart)
	assert(t, err == nil, "run failed: %v", err)

	base, ok := asm.Symbols["a"]
	assert(t, ok, "expected symbol %q in the assembled image", "a")

	v, err := driver.Machine.Bus.Read(base + 5)
	assert(t, err == nil && v == 9, "expected M[a+5]=9, got %d (err=%v)", v, err)
}

// TestEndToEndInputBlocking is the spec's input-blocking scenario: a read
// from the I/O address with an empty queue suspends Run with InputNeeded;
// after a push, Resume observes the newly pushed value.
func TestEndToEndInputBlocking(t *testing.T) {
	term := NewTerminal(4, nil)
	source := "x = input()\nM[131072] = x\n"
	driver, _ := compileAssembleLoad(t, source, term)

	err := driver.Run(CodeStart)
	assert(t, isInputNeededErr(err), "expected InputNeeded before any input is pushed, got %v", err)

	term.PushInput("42")
	err = driver.Resume()
	assert(t, err == nil, "resume after push should complete, got %v", err)

	v, err := driver.Machine.Bus.Read(131072)
	assert(t, err == nil && v == 42, "expected the newly pushed value 42, got %d (err=%v)", v, err)
}

func isInputNeededErr(err error) bool {
	_, ok := err.(*InputNeeded)
	return ok
}
