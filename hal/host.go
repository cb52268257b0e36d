//go:build !tinygo

package hal

import (
	"fmt"
	"os"
	"sync"
	"time"
)

type hostHAL struct {
	logger *hostLogger
	tick   *hostTick
	cs     *hostCriticalSection
	sw     *hostContextSwitcher
	done   chan struct{}
}

// New returns a host HAL implementation: a wall-clock-driven tick source,
// a mutex-backed critical section, and a channel-backed context-switch
// request primitive. tickPeriod is the simulated hardware tick interval.
func New(tickPeriod time.Duration) HAL {
	logger := &hostLogger{w: os.Stdout}
	tick := newHostTick()
	done := make(chan struct{})
	go tick.run(tickPeriod, done)
	return &hostHAL{
		logger: logger,
		tick:   tick,
		cs:     &hostCriticalSection{},
		sw:     newHostContextSwitcher(),
		done:   done,
	}
}

// Stop halts the background tick goroutine. Intended for host simulation
// teardown only; embedded targets never call this.
func (h *hostHAL) Stop() { close(h.done) }

func (h *hostHAL) Logger() Logger                   { return h.logger }
func (h *hostHAL) Ticks() TickSource                { return h.tick }
func (h *hostHAL) CriticalSection() CriticalSection { return h.cs }
func (h *hostHAL) ContextSwitcher() ContextSwitcher { return h.sw }

type hostLogger struct {
	mu sync.Mutex
	w  *os.File
}

func (l *hostLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(b)
	l.w.Write([]byte{'\n'})
}

// hostCriticalSection emulates interrupt masking on the host with a plain
// mutex. There is no pack library that models scoped interrupt masking for
// hosted Go (the concept has no hosted-OS equivalent); see DESIGN.md.
type hostCriticalSection struct {
	mu sync.Mutex
}

func (c *hostCriticalSection) Lock() (unlock func()) {
	c.mu.Lock()
	return c.mu.Unlock
}

// hostContextSwitcher signals a dispatch loop that a reschedule decision is
// pending, the host stand-in for pending a low-priority ISR.
type hostContextSwitcher struct {
	requested chan struct{}
}

func newHostContextSwitcher() *hostContextSwitcher {
	return &hostContextSwitcher{requested: make(chan struct{}, 1)}
}

func (s *hostContextSwitcher) RequestContextSwitch() {
	select {
	case s.requested <- struct{}{}:
	default:
	}
}

// Requested returns the channel the simulation's dispatch loop selects on.
func (s *hostContextSwitcher) Requested() <-chan struct{} { return s.requested }
