package vm

import "testing"

func TestAssembleWordCountAndWidth(t *testing.T) {
	source := "start:\nICARGA R4, 5\nSUMA R4, R5\nPARA\nvals:\n.data 1 2 3\n"
	asm, err := Assemble(source)
	assert(t, err == nil, "assemble failed: %v", err)
	// 3 instruction lines + 3 .data values = 6 words (PARA already present, no auto-append).
	assert(t, len(asm.Words) == 6, "expected 6 words, got %d", len(asm.Words))
}

func TestAssembleAppendsTerminatingPara(t *testing.T) {
	asm, err := Assemble("ICARGA R4, 5\n")
	assert(t, err == nil, "assemble failed: %v", err)
	assert(t, len(asm.Words) == 2, "expected auto-appended PARA, got %d words", len(asm.Words))
	assert(t, isStopWord(asm.Words[1]), "last word should decode as PARA")
}

func TestLabelResolvesToDeclarationIndex(t *testing.T) {
	source := "SALTA target\nICARGA R4, 0\ntarget:\nICARGA R5, 1\nPARA\n"
	asm, err := Assemble(source)
	assert(t, err == nil, "assemble failed: %v", err)
	assert(t, asm.Symbols["target"] == 2, "target should bind to instruction index 2, got %d", asm.Symbols["target"])

	decoded, ok := decodeFormat(asm.Words[0])
	assert(t, ok, "failed to decode SALTA word")
	m := field(asm.Words[0], decoded.Format.OpcodeLen(), 24)
	assert(t, uint32(m) == 2, "SALTA operand should resolve to 2, got %d", m)
}

func TestDuplicateLabelIsAssemblerError(t *testing.T) {
	_, err := Assemble("dup:\nICARGA R4, 1\ndup:\nICARGA R5, 2\n")
	assert(t, err != nil, "duplicate label should error")
}

func TestDataTwosComplementFitCheck(t *testing.T) {
	_, err := Assemble(".data 99999999999999999999999999\n")
	assert(t, err != nil, "oversized .data value should error")
}

func TestResultAddrTracksFirstDataGuard(t *testing.T) {
	source := "ICARGA R4, 9\nGUARD R4, M[131072]\nPARA\n"
	asm, err := Assemble(source)
	assert(t, err == nil, "assemble failed: %v", err)
	assert(t, asm.ResultAddr == 131072, "expected result_addr 131072, got %d", asm.ResultAddr)
}

func TestGuardWithImpliedR0(t *testing.T) {
	source := "GUARD M[131072]\nPARA\n"
	asm, err := Assemble(source)
	assert(t, err == nil, "assemble failed: %v", err)
	decoded, ok := decodeFormat(asm.Words[0])
	assert(t, ok, "failed to decode GUARD word")
	r := field(asm.Words[0], decoded.Format.OpcodeLen(), 5)
	assert(t, r == 0, "GUARD M[...] should imply R=0, got %d", r)
}
