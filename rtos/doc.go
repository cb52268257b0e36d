// Package rtos is the public synchronization and IPC surface built on top
// of package kernel's scheduler: Mutex, Semaphore, Queue/FifoQueue/RawQueue,
// Signals, and software Timers. It plays the role distortos's own
// top-level `distortos::` namespace plays over `internal::scheduler`:
// application code imports rtos, never kernel directly.
package rtos
