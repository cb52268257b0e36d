package kernel

// Config holds the kernel's compile-time-style options (spec §6
// Configuration). There is no runtime reconfiguration: a Config is read
// once at NewScheduler and never mutated.
type Config struct {
	// TickFrequencyHz is the nominal rate of the tick source. Informational
	// for callers converting durations to tick counts; the scheduler itself
	// only ever deals in raw tick counts.
	TickFrequencyHz uint32
	// MaxPriority is the highest priority a thread may be created with.
	MaxPriority uint8
	// RoundRobinQuantum is the default tick budget refilled on each
	// round-robin rotation.
	RoundRobinQuantum uint32
	// EmplaceEnabled toggles in-place construction support on rtos queues.
	EmplaceEnabled bool
	// SignalsEnabled toggles signal delivery support.
	SignalsEnabled bool
}

// DefaultConfig returns sensible host-simulation defaults.
func DefaultConfig() Config {
	return Config{
		TickFrequencyHz:   1000,
		MaxPriority:       MaxPriority,
		RoundRobinQuantum: 10,
		EmplaceEnabled:    true,
		SignalsEnabled:    true,
	}
}
