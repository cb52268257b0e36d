//go:build tinygo && baremetal

package hal

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/drivers/sdcard"
)

// sdmmcBlockDevice wraps tinygo.org/x/drivers/sdcard.Device, grounding the
// §6 SD/MMC-over-SPI block-device contract in a real embedded driver
// instead of a stub, the way the original distortos SpiSdMmcCard wraps a
// low-level SPI proxy.
type sdmmcBlockDevice struct {
	mu   sync.Mutex
	card *sdcard.Device
}

// NewSDMMCBlockDevice wraps an already-configured sdcard.Device.
func NewSDMMCBlockDevice(card *sdcard.Device) BlockDevice {
	return &sdmmcBlockDevice{card: card}
}

func (d *sdmmcBlockDevice) Open() error  { return d.card.Configure() }
func (d *sdmmcBlockDevice) Close() error { return nil }

func (d *sdmmcBlockDevice) Lock(ctx context.Context) error {
	d.mu.Lock()
	return nil
}

func (d *sdmmcBlockDevice) Unlock() error {
	d.mu.Unlock()
	return nil
}

func (d *sdmmcBlockDevice) Read(address uint64, buf []byte) (int, error) {
	n, err := d.card.ReadAt(buf, int64(address))
	if err != nil {
		return n, fmt.Errorf("sdmmc read at %d: %w", address, err)
	}
	return n, nil
}

func (d *sdmmcBlockDevice) Program(address uint64, buf []byte) (int, error) {
	n, err := d.card.WriteAt(buf, int64(address))
	if err != nil {
		return n, fmt.Errorf("sdmmc program at %d: %w", address, err)
	}
	return n, nil
}

func (d *sdmmcBlockDevice) Erase(address, size uint64) error {
	bs := uint64(d.card.EraseBlockSize())
	if bs == 0 || address%bs != 0 || size%bs != 0 {
		return fmt.Errorf("sdmmc erase address=%d size=%d: %w", address, size, ErrNotImplemented)
	}
	return d.card.EraseBlocks(int64(address/bs), int64(size/bs))
}

// Trim has no SPI-mode SD/MMC command distinct from erase, so it erases the
// range through Erase.
func (d *sdmmcBlockDevice) Trim(address, size uint64) error {
	return d.Erase(address, size)
}

func (d *sdmmcBlockDevice) Synchronize() error { return nil }

func (d *sdmmcBlockDevice) ReadBlockSize() uint32    { return uint32(d.card.WriteBlockSize()) }
func (d *sdmmcBlockDevice) ProgramBlockSize() uint32 { return uint32(d.card.WriteBlockSize()) }
func (d *sdmmcBlockDevice) EraseBlockSize() uint32   { return uint32(d.card.EraseBlockSize()) }

// ErasedValue is left unimplemented pending CSD/SCR parsing, matching the
// original source's documented TODO.
// TODO: parse CSD/SCR to determine whether the erased value is defined.
func (d *sdmmcBlockDevice) ErasedValue() (uint8, bool) { return 0, false }
