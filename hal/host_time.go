//go:build !tinygo

package hal

import "time"

// hostTick drives a uint64 tick stream off a real-time ticker. The tick
// period is configurable (spec §6 configuration: tick frequency), unlike
// the teacher's hard-coded millisecond translation, but the mechanism -
// a buffered channel fed from a time.Ticker - is the same.
type hostTick struct {
	ch  chan uint64
	seq uint64
}

func newHostTick() *hostTick {
	return &hostTick{ch: make(chan uint64, 1024)}
}

func (t *hostTick) Ticks() <-chan uint64 { return t.ch }

// run drives the ticker until done is closed.
func (t *hostTick) run(period time.Duration, done <-chan struct{}) {
	tk := time.NewTicker(period)
	defer tk.Stop()
	for {
		select {
		case <-done:
			return
		case <-tk.C:
			t.seq++
			select {
			case t.ch <- t.seq:
			default:
			}
		}
	}
}
