package vm

import "testing"

func TestEncodeInputStringDecimal(t *testing.T) {
	assert(t, EncodeInputString("42") == 42, "decimal input should encode as its numeric value")
}

func TestEncodeInputStringText(t *testing.T) {
	v := EncodeInputString("hi")
	assert(t, byte(v) == 'h', "first byte should be 'h', got %q", byte(v))
	assert(t, byte(v>>8) == 'i', "second byte should be 'i', got %q", byte(v>>8))
}

func TestTerminalReadWordPopsQueueInOrder(t *testing.T) {
	term := NewTerminal(4, nil)
	term.PushInputValue(1)
	term.PushInputValue(2)

	v, ok := term.ReadWord()
	assert(t, ok && v == 1, "expected first pushed value 1, got %d (ok=%v)", v, ok)
	v, ok = term.ReadWord()
	assert(t, ok && v == 2, "expected second pushed value 2, got %d (ok=%v)", v, ok)
	_, ok = term.ReadWord()
	assert(t, !ok, "empty queue should report ok=false")
}

func TestTerminalCoalescesAdjacentWritesInProgramOrder(t *testing.T) {
	var got []string
	term := NewTerminal(4, func(rendered string) {
		got = append(got, rendered)
	})

	term.WriteWord(EncodeInputString("h"))
	term.WriteWord(EncodeInputString("i"))
	term.flush()

	assert(t, len(got) == 1, "adjacent writes within the coalescing window should produce one notification, got %d", len(got))
	assert(t, got[0] == "hi", "expected coalesced payload %q, got %q", "hi", got[0])
}

func TestTerminalNumericMarkerForcesDecimalRender(t *testing.T) {
	var got []string
	term := NewTerminal(4, func(rendered string) {
		got = append(got, rendered)
	})

	var marker uint64
	for _, b := range numericMarkerPrefix {
		marker = marker<<8 | uint64(b)
	}
	term.WriteWord(marker)
	term.WriteWord(7)
	term.flush()

	assert(t, len(got) == 1, "expected one notification, got %d", len(got))
	assert(t, got[0] == "7", "numeric-marker-prefixed value should render as decimal, got %q", got[0])
}

func TestRenderOutputWordNonPrintableFallsBackToDecimal(t *testing.T) {
	rendered := RenderOutputWord(0x01, false)
	assert(t, rendered == "1", "non-printable byte should render as unsigned decimal, got %q", rendered)
}
