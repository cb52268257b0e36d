//go:build !tinygo

package hal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	hostBlockDeviceDefaultPath      = "quartz.img"
	hostBlockDeviceDefaultSizeBytes = 2 * 1024 * 1024
	hostBlockDeviceEraseBlockBytes  = 4096
	hostBlockDeviceReadBlockBytes   = 512
	hostBlockDeviceProgramBlockBytes = 512
)

// ErrWriteRequiresErase reports a program attempt that would need to flip a
// 0 bit back to 1, which flash cannot do without an intervening erase.
var ErrWriteRequiresErase = errors.New("program requires erase")

// hostBlockDevice is a file-backed stand-in for an SD/MMC card, satisfying
// hal.BlockDevice. It exists purely so the host build has something for
// examples/tests to drive through the §6 device-driver contract.
type hostBlockDevice struct {
	mu       sync.Mutex
	locked   bool
	f        *os.File
	size     uint64
	scratch  [hostBlockDeviceEraseBlockBytes]byte
}

// NewHostBlockDevice returns a file-backed BlockDevice for host testing and
// examples, reading its backing path from QUARTZ_BLOCKDEV_PATH (default
// "quartz.img").
func NewHostBlockDevice() BlockDevice { return newHostBlockDevice() }

func newHostBlockDevice() *hostBlockDevice {
	path := os.Getenv("QUARTZ_BLOCKDEV_PATH")
	if path == "" {
		path = hostBlockDeviceDefaultPath
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return &hostBlockDevice{f: nil}
	}

	size := uint64(hostBlockDeviceDefaultSizeBytes)
	if st, err := f.Stat(); err == nil && st.Size() > 0 {
		size = uint64(st.Size())
	} else if err := f.Truncate(int64(size)); err != nil {
		_ = f.Close()
		return &hostBlockDevice{f: nil}
	}

	d := &hostBlockDevice{f: f, size: size}
	for i := range d.scratch {
		d.scratch[i] = 0xFF
	}
	return d
}

func (d *hostBlockDevice) Open() error  { return nil }
func (d *hostBlockDevice) Close() error { d.mu.Lock(); defer d.mu.Unlock(); return d.f.Close() }

func (d *hostBlockDevice) Lock(ctx context.Context) error {
	d.mu.Lock()
	d.locked = true
	d.mu.Unlock()
	return nil
}

func (d *hostBlockDevice) Unlock() error {
	d.mu.Lock()
	d.locked = false
	d.mu.Unlock()
	return nil
}

func (d *hostBlockDevice) Read(address uint64, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return 0, ErrNotImplemented
	}
	if address >= d.size {
		return 0, fmt.Errorf("read at %d: %w", address, os.ErrInvalid)
	}
	max := d.size - address
	if uint64(len(buf)) > max {
		buf = buf[:max]
	}
	return d.f.ReadAt(buf, int64(address))
}

func (d *hostBlockDevice) Program(address uint64, buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return 0, ErrNotImplemented
	}
	if address >= d.size {
		return 0, fmt.Errorf("program at %d: %w", address, os.ErrInvalid)
	}
	max := d.size - address
	if uint64(len(buf)) > max {
		buf = buf[:max]
	}

	existing := make([]byte, len(buf))
	if _, err := d.f.ReadAt(existing, int64(address)); err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("program: read before write at %d: %w", address, err)
	}
	for i := range buf {
		if existing[i]&buf[i] != buf[i] {
			return 0, ErrWriteRequiresErase
		}
	}
	return d.f.WriteAt(buf, int64(address))
}

func (d *hostBlockDevice) Erase(address, size uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return ErrNotImplemented
	}
	if size == 0 {
		return nil
	}
	if address%hostBlockDeviceEraseBlockBytes != 0 || size%hostBlockDeviceEraseBlockBytes != 0 {
		return fmt.Errorf("erase address=%d size=%d: %w", address, size, os.ErrInvalid)
	}
	if address >= d.size || address+size > d.size {
		return fmt.Errorf("erase address=%d size=%d: %w", address, size, os.ErrInvalid)
	}

	for size > 0 {
		if _, err := d.f.WriteAt(d.scratch[:], int64(address)); err != nil {
			return fmt.Errorf("erase block at %d: %w", address, err)
		}
		address += hostBlockDeviceEraseBlockBytes
		size -= hostBlockDeviceEraseBlockBytes
	}
	return nil
}

// Trim on the host simulation is a no-op advisory hint: nothing needs to
// reclaim space in a plain file. Only the alignment of address and size is
// checked, as in Erase; unlike Erase, the range is not checked against the
// device size.
func (d *hostBlockDevice) Trim(address, size uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if address%hostBlockDeviceEraseBlockBytes != 0 || size%hostBlockDeviceEraseBlockBytes != 0 {
		return fmt.Errorf("trim address=%d size=%d: %w", address, size, os.ErrInvalid)
	}
	return nil
}

func (d *hostBlockDevice) Synchronize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return ErrNotImplemented
	}
	return d.f.Sync()
}

func (d *hostBlockDevice) ReadBlockSize() uint32    { return hostBlockDeviceReadBlockBytes }
func (d *hostBlockDevice) ProgramBlockSize() uint32 { return hostBlockDeviceProgramBlockBytes }
func (d *hostBlockDevice) EraseBlockSize() uint32   { return hostBlockDeviceEraseBlockBytes }

// ErasedValue is left unimplemented pending CSD/SCR parsing, matching the
// original source's documented TODO rather than inventing a value.
// TODO: parse CSD/SCR to determine whether the erased value is defined.
func (d *hostBlockDevice) ErasedValue() (uint8, bool) { return 0, false }
