package vm

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"
)

// nonBlockingChan is a bounded, single-producer/many-consumer queue: send
// fails instead of blocking once capacity is reached. Adapted from the
// teacher's devices.go (same name, same semantics) for the one input queue
// this spec's I/O bridge needs instead of per-device request routing.
type nonBlockingChan[T any] struct {
	channel  chan T
	count    atomic.Int32
	capacity int32
}

func newNonBlockingChan[T any](capacity int32) *nonBlockingChan[T] {
	return &nonBlockingChan[T]{channel: make(chan T, capacity), capacity: capacity}
}

func (nc *nonBlockingChan[T]) send(v T) bool {
	if nc.count.Add(1) > nc.capacity {
		nc.count.Add(-1)
		return false
	}
	nc.channel <- v
	return true
}

func (nc *nonBlockingChan[T]) tryReceive() (T, bool) {
	select {
	case v := <-nc.channel:
		nc.count.Add(-1)
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// writeCoalesceWindow is the tens-of-milliseconds window within which
// repeated writes to the I/O address are merged into one observer
// notification, matching terminal.py's threading.Timer(_FLUSH_DELAY=0.05)
// cancel/restart-on-write pattern.
const writeCoalesceWindow = 50 * time.Millisecond

// numericMarkerPrefix forces the next output value to render as unsigned
// decimal instead of text, mirroring terminal.py's 0xFF 0x4E ... 0x02 marker
// bytes detected in write_notify.
var numericMarkerPrefix = [8]byte{0xFF, 0x4E, 0, 0, 0, 0, 0, 0x02}

// OutputNotifyFunc receives each coalesced output event: rendered text (for
// printable payloads) or the decimal string (when a numeric marker preceded
// the value, or the payload isn't printable).
type OutputNotifyFunc func(rendered string)

// Terminal is the default IOBridge: a blocking-read input queue fed by
// PushInput, and a coalescing output notifier. It is the Go-idiomatic
// adaptation of controller/terminal.py's push_input/pop_input_uint64 and
// write_notify, built on the teacher's nonBlockingChan rather than Python
// threading primitives.
type Terminal struct {
	mu sync.Mutex

	input *nonBlockingChan[uint64]

	notify    OutputNotifyFunc
	timer     *time.Timer
	pending   []pendingWrite
	hasMarker bool
}

type pendingWrite struct {
	value        uint64
	forceDecimal bool
}

// NewTerminal constructs an I/O bridge with the given input queue capacity
// and output-notification callback (nil is allowed; output is then dropped
// after the coalescing window instead of delivered).
func NewTerminal(queueCapacity int32, notify OutputNotifyFunc) *Terminal {
	return &Terminal{
		input:  newNonBlockingChan[uint64](queueCapacity),
		notify: notify,
	}
}

// PushInput encodes text the same way encode_str_to_uint64 does: a decimal
// literal becomes that numeric value, otherwise the first up-to-8 UTF-8
// bytes are packed little-endian.
func (t *Terminal) PushInput(text string) {
	t.input.send(EncodeInputString(text))
}

// PushInputValue enqueues a raw word, bypassing string encoding.
func (t *Terminal) PushInputValue(v uint64) {
	t.input.send(v)
}

// EncodeInputString mirrors terminal.py's encode_str_to_uint64.
func EncodeInputString(s string) uint64 {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return uint64(n)
	}
	var buf [8]byte
	b := []byte(s)
	if len(b) > 8 {
		b = b[:8]
	}
	copy(buf[:], b)
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v
}

// ReadWord implements IOBridge.
func (t *Terminal) ReadWord() (uint64, bool) {
	return t.input.tryReceive()
}

// WriteWord implements IOBridge. Writes within writeCoalesceWindow of each
// other accumulate in t.pending and are concatenated into one notification
// payload, preserving program order (spec.md §5's "concatenate adjacent
// writes... into a single notification payload" and §8 invariant 7); a
// prior implementation discarded everything but the latest write when the
// timer was reset instead of accumulating it.
func (t *Terminal) WriteWord(value uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if isNumericMarker(value) {
		t.hasMarker = true
		return
	}

	t.pending = append(t.pending, pendingWrite{value: value, forceDecimal: t.hasMarker})
	t.hasMarker = false

	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(writeCoalesceWindow, t.flush)
}

func (t *Terminal) flush() {
	t.mu.Lock()
	batch := t.pending
	t.pending = nil
	t.mu.Unlock()

	if t.notify == nil || len(batch) == 0 {
		return
	}
	var sb strings.Builder
	for _, w := range batch {
		sb.WriteString(RenderOutputWord(w.value, w.forceDecimal))
	}
	t.notify(sb.String())
}

func isNumericMarker(v uint64) bool {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> uint(56-8*i))
	}
	return b[0] == numericMarkerPrefix[0] && b[1] == numericMarkerPrefix[1] && b[7] == numericMarkerPrefix[7]
}

// RenderOutputWord mirrors terminal.py's write_notify rendering rules: a
// forced-decimal value (following a numeric marker) or a non-printable
// payload renders as unsigned decimal; otherwise printable-ASCII/whitespace
// bytes render as text.
func RenderOutputWord(value uint64, forceDecimal bool) string {
	if forceDecimal {
		return strconv.FormatUint(value, 10)
	}
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(value >> uint(8*i))
	}
	n := 8
	for n > 0 && buf[n-1] == 0 {
		n--
	}
	text := buf[:n]
	if utf8.Valid(text) && allPrintableOrSpace(text) {
		return string(text)
	}
	return strconv.FormatUint(value, 10)
}

func allPrintableOrSpace(b []byte) bool {
	for _, r := range string(b) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
