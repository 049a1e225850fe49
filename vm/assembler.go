package vm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Assembled is the output of the two-pass assembler: the 64-bit word image
// plus the observer metadata spec.md §4.4 asks for, grounded on
// model/ensamblador/assembler.py's two-pass symbol-table-then-encode design.
type Assembled struct {
	Words      []uint64
	Symbols    map[string]uint32
	ResultAddr int64 // -1 if no GUARD targeted DATA
	EntryIndex uint32
}

var memLabelRe = regexp.MustCompile(`^M\[\s*([A-Za-z_][A-Za-z0-9_]*)\s*([+-]\s*\d+)?\s*\]$`)
var memNumRe = regexp.MustCompile(`^M\[\s*(-?(?:0[xX][0-9a-fA-F]+|0[bB][01]+|\d+))\s*\]$`)

// Assemble runs the two-pass translation described in spec.md §4.4 over
// already-compiled assembly text (one instruction/label/.data directive per
// line) and produces a fixed-width 64-bit word image.
func Assemble(source string) (*Assembled, error) {
	lines := cleanLines(source)

	symbols, err := assemblePass1(lines)
	if err != nil {
		return nil, err
	}

	words, resultAddr, err := assemblePass2(lines, symbols)
	if err != nil {
		return nil, err
	}

	lastIsStop := false
	for i := len(lines) - 1; i >= 0; i-- {
		if _, ok := labelDef(lines[i]); ok || strings.HasPrefix(lines[i], ".data") {
			continue
		}
		lastIsStop = strings.EqualFold(strings.Fields(lines[i])[0], "PARA")
		break
	}
	if !lastIsStop {
		stopWord, err := encodeN("PARA")
		if err != nil {
			return nil, err
		}
		words = append(words, stopWord)
	}

	entryIndex := uint32(0)
	if idx, ok := symbols["main"]; ok {
		entryIndex = idx
	} else {
		for i, w := range words {
			if w != 0 {
				entryIndex = uint32(i)
				break
			}
		}
	}

	return &Assembled{
		Words:      words,
		Symbols:    symbols,
		ResultAddr: resultAddr,
		EntryIndex: entryIndex,
	}, nil
}

// cleanLines strips `//`/`;` comments and blank lines, preserving order.
func cleanLines(source string) []string {
	var out []string
	for _, raw := range strings.Split(source, "\n") {
		line := raw
		for _, sep := range []string{"//", ";"} {
			if i := strings.Index(line, sep); i >= 0 {
				line = line[:i]
			}
		}
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// assemblePass1 builds the symbol table: each `label:` binds the current
// virtual instruction counter (duplicate -> error); `.data` advances the
// counter by its value count; everything else advances it by one.
func assemblePass1(lines []string) (map[string]uint32, error) {
	symbols := map[string]uint32{}
	var counter uint32

	for _, line := range lines {
		if label, ok := labelDef(line); ok {
			if _, exists := symbols[label]; exists {
				return nil, fmt.Errorf("%w: duplicate label %q", ErrAssembler, label)
			}
			symbols[label] = counter
			continue
		}
		if strings.HasPrefix(line, ".data") {
			values := strings.Fields(strings.TrimPrefix(line, ".data"))
			counter += uint32(len(values))
			continue
		}
		counter++
	}
	return symbols, nil
}

// assemblePass2 rewrites label references and encodes each line, tracking
// the DATA-range `result_addr` spec.md §4.4 defines.
func assemblePass2(lines []string, symbols map[string]uint32) ([]uint64, int64, error) {
	var words []uint64
	resultAddr := int64(-1)

	for _, line := range lines {
		if _, ok := labelDef(line); ok {
			continue
		}
		if strings.HasPrefix(line, ".data") {
			values := strings.Fields(strings.TrimPrefix(line, ".data"))
			for _, v := range values {
				n, err := parseIntLiteral(v)
				if err != nil {
					return nil, 0, fmt.Errorf("%w: malformed .data value %q", ErrAssembler, v)
				}
				bits, err := toTwosComplement(n, WordBits)
				if err != nil {
					return nil, 0, err
				}
				words = append(words, bits)
			}
			continue
		}

		resolved, err := resolveOperands(line, symbols)
		if err != nil {
			return nil, 0, err
		}
		word, addr, err := encodeLine(resolved, symbols)
		if err != nil {
			return nil, 0, err
		}
		words = append(words, word)
		if addr >= 0 && resultAddr < 0 {
			if region, err := RegionOf(uint32(addr)); err == nil && region == RegionData {
				resultAddr = addr
			}
		}
	}
	return words, resultAddr, nil
}

func labelDef(line string) (string, bool) {
	if !strings.HasSuffix(line, ":") {
		return "", false
	}
	name := strings.TrimSuffix(line, ":")
	if name == "" || strings.ContainsAny(name, " \t,") {
		return "", false
	}
	return name, true
}

// resolveOperands rewrites `M[label]`/`M[label±k]` tokens into `M[<addr>]`
// and bare trailing label operands into numeric addresses, per spec.md
// §4.4 pass 2's rewriting rule.
func resolveOperands(line string, symbols map[string]uint32) (string, error) {
	fields := splitInstruction(line)
	if len(fields) == 0 {
		return line, nil
	}
	mnemonic := fields[0]
	for i := 1; i < len(fields); i++ {
		operand := strings.TrimSuffix(fields[i], ",")
		trailer := ""
		if strings.HasSuffix(fields[i], ",") {
			trailer = ","
		}
		resolved, err := resolveOperand(operand, symbols)
		if err != nil {
			return "", err
		}
		fields[i] = resolved + trailer
	}
	return mnemonic + " " + strings.Join(fields[1:], " "), nil
}

func resolveOperand(operand string, symbols map[string]uint32) (string, error) {
	if m := memLabelRe.FindStringSubmatch(operand); m != nil {
		label, offsetText := m[1], m[2]
		addr, ok := symbols[label]
		if !ok {
			return "", fmt.Errorf("%w: unresolved label %q", ErrAssembler, label)
		}
		offset := int64(0)
		if offsetText != "" {
			offsetText = strings.ReplaceAll(offsetText, " ", "")
			v, err := strconv.ParseInt(offsetText, 10, 64)
			if err != nil {
				return "", fmt.Errorf("%w: malformed offset %q", ErrAssembler, offsetText)
			}
			offset = v
		}
		return fmt.Sprintf("M[%d]", int64(addr)+offset), nil
	}
	if memNumRe.MatchString(operand) {
		return operand, nil
	}
	if isPlainLabel(operand) {
		if addr, ok := symbols[operand]; ok {
			return strconv.FormatUint(uint64(addr), 10), nil
		}
	}
	return operand, nil
}

func isPlainLabel(s string) bool {
	if s == "" {
		return false
	}
	if _, ok := isRegisterOperand(s); ok {
		return false
	}
	if _, err := parseIntLiteral(s); err == nil {
		return false
	}
	for i, c := range s {
		if i == 0 && !(c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')) {
			return false
		}
		if i > 0 && !(c == '_' || (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')) {
			return false
		}
	}
	return true
}

func splitInstruction(line string) []string {
	// Operands may be comma-separated with or without surrounding spaces;
	// normalize to "MNEM op1, op2" shaped fields first.
	parts := strings.SplitN(line, " ", 2)
	if len(parts) == 1 {
		return []string{parts[0]}
	}
	mnemonic := parts[0]
	rest := parts[1]
	var operands []string
	for _, op := range strings.Split(rest, ",") {
		op = strings.TrimSpace(op)
		if op != "" {
			operands = append(operands, op)
		}
	}
	out := []string{mnemonic}
	for i, op := range operands {
		if i < len(operands)-1 {
			op += ","
		}
		out = append(out, op)
	}
	return out
}

// encodeLine encodes one already-resolved instruction line into its 64-bit
// word, returning the address a GUARD targeted (or -1); the caller keeps it
// only when it falls in the DATA range.
func encodeLine(line string, symbols map[string]uint32) (uint64, int64, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, -1, fmt.Errorf("%w: empty instruction", ErrAssembler)
	}
	mnemonic := strings.ToUpper(fields[0])
	entry, ok := LookupMnemonic(mnemonic)
	if !ok {
		return 0, -1, fmt.Errorf("%w: unknown mnemonic %q", ErrAssembler, mnemonic)
	}
	operandText := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
	operands := splitOperands(operandText)

	var word uint64
	var err error
	addr := int64(-1)

	switch entry.Format {
	case FormatN:
		word = entry.Opcode

	case FormatRR:
		if len(operands) != 2 {
			return 0, -1, fmt.Errorf("%w: %s expects 2 register operands", ErrAssembler, mnemonic)
		}
		r1, err1 := expectRegister(operands[0])
		r2, err2 := expectRegister(operands[1])
		if err1 != nil {
			return 0, -1, err1
		}
		if err2 != nil {
			return 0, -1, err2
		}
		word = entry.Opcode
		word = setField(word, entry.Format.OpcodeLen(), 5, uint64(r1))
		word = setField(word, entry.Format.OpcodeLen()+5, 5, uint64(r2))

	case FormatR:
		if len(operands) != 1 {
			return 0, -1, fmt.Errorf("%w: %s expects 1 register operand", ErrAssembler, mnemonic)
		}
		r1, rerr := expectRegister(operands[0])
		if rerr != nil {
			return 0, -1, rerr
		}
		word = entry.Opcode
		word = setField(word, entry.Format.OpcodeLen(), 5, uint64(r1))

	case FormatRM:
		reg, m, rerr := parseRMOperands(mnemonic, operands)
		if rerr != nil {
			return 0, -1, rerr
		}
		if !fitsUnsigned(uint64(m), 24) {
			return 0, -1, fmt.Errorf("%w: address %d does not fit in 24 bits", ErrAssembler, m)
		}
		word = entry.Opcode
		word = setField(word, entry.Format.OpcodeLen(), 5, uint64(reg))
		word = setField(word, entry.Format.OpcodeLen()+5, 24, uint64(m))
		if (mnemonic == "GUARD" || mnemonic == "GUARDIND") && m >= 0 {
			addr = int64(m)
		}

	case FormatRI:
		if len(operands) != 2 {
			return 0, -1, fmt.Errorf("%w: %s expects register, value operands", ErrAssembler, mnemonic)
		}
		reg, rerr := expectRegister(operands[0])
		if rerr != nil {
			return 0, -1, rerr
		}
		v, verr := resolveImmediate(operands[1], symbols)
		if verr != nil {
			return 0, -1, verr
		}
		bits, terr := toTwosComplement(v, 32)
		if terr != nil {
			return 0, -1, terr
		}
		word = entry.Opcode
		word = setField(word, entry.Format.OpcodeLen(), 5, uint64(reg))
		word = setField(word, entry.Format.OpcodeLen()+5, 32, bits)

	case FormatJ:
		if len(operands) != 1 {
			return 0, -1, fmt.Errorf("%w: %s expects 1 address operand", ErrAssembler, mnemonic)
		}
		m, merr := strconv.ParseInt(operands[0], 10, 64)
		if merr != nil {
			return 0, -1, fmt.Errorf("%w: malformed jump target %q", ErrAssembler, operands[0])
		}
		if !fitsUnsigned(uint64(m), 24) {
			return 0, -1, fmt.Errorf("%w: jump target %d does not fit in 24 bits", ErrAssembler, m)
		}
		word = entry.Opcode
		word = setField(word, entry.Format.OpcodeLen(), 24, uint64(m))

	default:
		return 0, -1, fmt.Errorf("%w: unhandled format for %s", ErrAssembler, mnemonic)
	}

	return word, addr, err
}

func splitOperands(text string) []string {
	if text == "" {
		return nil
	}
	var out []string
	for _, op := range strings.Split(text, ",") {
		op = strings.TrimSpace(op)
		if op != "" {
			out = append(out, op)
		}
	}
	return out
}

func expectRegister(s string) (int, error) {
	r, ok := isRegisterOperand(s)
	if !ok {
		return 0, fmt.Errorf("%w: expected register operand, got %q", ErrAssembler, s)
	}
	return r, nil
}

func isRegisterOperand(s string) (int, bool) {
	switch strings.ToUpper(s) {
	case "PC":
		return 0, true
	case "SP":
		return 1, true
	case "IR":
		return 2, true
	case "STATE":
		return 3, true
	}
	if !isRegisterWord(s) {
		return 0, false
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 || n >= NumRegisters {
		return 0, false
	}
	return n, true
}

// parseRMOperands accepts either `GUARD M[addr]` (R implied 0, per spec.md
// §4.4's "GUARD with R=0 as a pure memory-target instruction" equivalence)
// or the canonical `CARGA R, M[addr]` form.
func parseRMOperands(mnemonic string, operands []string) (int, int64, error) {
	if len(operands) == 1 {
		m, err := parseMemOperand(operands[0])
		if err != nil {
			return 0, 0, err
		}
		return 0, m, nil
	}
	if len(operands) == 2 {
		reg, err := expectRegister(operands[0])
		if err != nil {
			return 0, 0, err
		}
		m, err := parseMemOperand(operands[1])
		if err != nil {
			return 0, 0, err
		}
		return reg, m, nil
	}
	if len(operands) == 3 {
		// SIREGCERO/SIREGNCERO R, M[addr] style already has 2 operands; a 3rd
		// form (reg, reg-holding-addr) is not part of the RM encoding.
		return 0, 0, fmt.Errorf("%w: %s takes at most 2 operands", ErrAssembler, mnemonic)
	}
	return 0, 0, fmt.Errorf("%w: %s expects a memory operand", ErrAssembler, mnemonic)
}

func parseMemOperand(s string) (int64, error) {
	if m := memNumRe.FindStringSubmatch(s); m != nil {
		return parseIntLiteral(m[1])
	}
	// SIREGCERO/SIREGNCERO's second operand may already be a resolved bare
	// numeric address (jump target) rather than M[...]; accept both.
	if v, err := parseIntLiteral(s); err == nil {
		return v, nil
	}
	return 0, fmt.Errorf("%w: malformed memory operand %q", ErrAssembler, s)
}

// resolveImmediate parses an RI-format value operand, which spec.md §4.4
// allows to be a bare label (resolved to its instruction index).
func resolveImmediate(s string, symbols map[string]uint32) (int64, error) {
	if v, err := parseIntLiteral(s); err == nil {
		return v, nil
	}
	if addr, ok := symbols[s]; ok {
		return int64(addr), nil
	}
	return 0, fmt.Errorf("%w: unresolved label %q", ErrAssembler, s)
}

func encodeN(mnemonic string) (uint64, error) {
	entry, ok := LookupMnemonic(mnemonic)
	if !ok {
		return 0, fmt.Errorf("%w: unknown mnemonic %q", ErrAssembler, mnemonic)
	}
	return entry.Opcode, nil
}

func isStopWord(word uint64) bool {
	entry, ok := decodeFormat(word)
	return ok && entry.Mnemonic == "PARA"
}
