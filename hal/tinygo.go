//go:build tinygo && baremetal

package hal

import (
	"machine"
	"runtime/interrupt"
)

// tinygoHAL wires the kernel's HAL contract onto real hardware. Only the
// pieces the scheduler actually needs (logging, tick stream, critical
// section, context-switch request) are implemented here; everything else
// -- UART framing, SPI timing, timer peripheral setup -- is the out-of-scope
// clock/interrupt HAL the spec treats as an external collaborator.
type tinygoHAL struct {
	logger uartLogger
	tick   tinygoTick
	cs     tinygoCriticalSection
	sw     tinygoContextSwitcher
}

// New returns the baremetal HAL implementation. The caller is responsible
// for having configured the UART and the periodic tick timer beforehand;
// Tick must be invoked from that timer's interrupt handler.
func New() HAL {
	machine.Serial.Configure(machine.UARTConfig{})
	return &tinygoHAL{logger: uartLogger{}}
}

func (h *tinygoHAL) Logger() Logger                   { return h.logger }
func (h *tinygoHAL) Ticks() TickSource                { return &h.tick }
func (h *tinygoHAL) CriticalSection() CriticalSection { return tinygoCriticalSection{} }
func (h *tinygoHAL) ContextSwitcher() ContextSwitcher { return &h.sw }

// Tick must be called from the periodic tick timer's interrupt handler.
func (h *tinygoHAL) Tick(n uint64) { h.tick.push(n) }

type uartLogger struct{}

func (uartLogger) WriteLineString(s string) {
	machine.Serial.Write([]byte(s))
	machine.Serial.Write([]byte{'\r', '\n'})
}

func (uartLogger) WriteLineBytes(b []byte) {
	machine.Serial.Write(b)
	machine.Serial.Write([]byte{'\r', '\n'})
}

// tinygoTick is fed directly from the timer ISR; no goroutine, no channel
// blocking allowed in interrupt context.
type tinygoTick struct {
	ch chan uint64
}

func (t *tinygoTick) Ticks() <-chan uint64 {
	if t.ch == nil {
		t.ch = make(chan uint64, 64)
	}
	return t.ch
}

func (t *tinygoTick) push(n uint64) {
	select {
	case t.ch <- n:
	default:
	}
}

// tinygoCriticalSection masks interrupts globally, matching the "shortest
// possible span" requirement of spec §5 - it is meant to be held briefly.
type tinygoCriticalSection struct{}

func (tinygoCriticalSection) Lock() (unlock func()) {
	state := interrupt.Disable()
	return func() { interrupt.Restore(state) }
}

// tinygoContextSwitcher pends the lowest-priority interrupt that performs
// the actual stack switch; on real hardware this is a PendSV-equivalent.
// The trigger mechanism is board-specific and lives in the board's own
// interrupt controller glue, not here.
type tinygoContextSwitcher struct {
	pend func()
}

// SetPendHook installs the board-specific "pend the context-switch
// interrupt" primitive.
func (s *tinygoContextSwitcher) SetPendHook(fn func()) { s.pend = fn }

func (s *tinygoContextSwitcher) RequestContextSwitch() {
	if s.pend != nil {
		s.pend()
	}
}
