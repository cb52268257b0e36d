package rtos

import (
	"time"

	"quartz/kernel"
)

// TicksFromDuration converts d to a tick count using cfg's configured tick
// frequency, rounding up so a timed wait never expires earlier than
// requested. The scheduler itself only ever deals in raw tick counts
// (spec §6); this is the one place package rtos translates wall-clock
// durations for callers that would rather not do the arithmetic themselves.
func TicksFromDuration(cfg kernel.Config, d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	hz := uint64(cfg.TickFrequencyHz)
	if hz == 0 {
		hz = 1000
	}
	num := uint64(d) * hz
	ticks := num / uint64(time.Second)
	if num%uint64(time.Second) != 0 {
		ticks++
	}
	if ticks == 0 {
		ticks = 1
	}
	return ticks
}

// deadlineFor is the common helper every TryXxxFor method uses to turn a
// relative duration into an absolute tick deadline against sched's current
// tick count.
func deadlineFor(sched *kernel.Scheduler, d time.Duration) uint64 {
	return sched.GetTickCount() + TicksFromDuration(sched.Config(), d)
}

// DeadlineTicks converts an absolute wall-clock deadline into the
// scheduler's tick domain, for callers outside package rtos whose own
// public API speaks time.Time rather than ticks - device drivers
// satisfying hal.SerialDriver's Read/Write(buf, minSize, deadline time.Time)
// contract, for instance.
func DeadlineTicks(sched *kernel.Scheduler, deadline time.Time) uint64 {
	return deadlineFor(sched, time.Until(deadline))
}
