// Package blockio implements L0: the single shared sector buffer and the
// absolute-to-partition-relative address translation every higher layer
// reads and writes through (spec §4.1, §3 invariant 6).
package blockio

import (
	"github.com/embedfat/fat32/errs"
	"github.com/embedfat/fat32/hardware"
)

// IO owns the one sector-sized buffer the whole driver shares. Every layer
// above this one reads a sector into Buffer, mutates it in place, and writes
// it back; nothing here ever allocates a second buffer.
type IO struct {
	dev               hardware.Device
	partitionStartLBA uint32
	Buffer            hardware.Sector
}

// New wraps a host device. The partition start is 0 until SetPartitionStart
// is called by the mount procedure (§4.1), since it isn't known until the
// first sector has been read and classified as MBR or boot sector.
func New(dev hardware.Device) *IO {
	return &IO{dev: dev}
}

// SetPartitionStart records the absolute LBA of the volume's boot sector,
// discovered during mount.
func (io *IO) SetPartitionStart(lba uint32) {
	io.partitionStartLBA = lba
}

// PartitionStart returns the absolute LBA of the volume's boot sector.
func (io *IO) PartitionStart() uint32 {
	return io.partitionStartLBA
}

// ReadAbsolute reads a host-relative (not partition-relative) sector into
// Buffer. Used during mount, before the partition offset is recorded, to read
// absolute sector 0 and, when that sector is an MBR, the partition's boot
// sector.
func (io *IO) ReadAbsolute(lba uint32) error {
	if !io.dev.ReadSector(lba, &io.Buffer) {
		return errs.New(errs.IoError)
	}
	return nil
}

// Load reads the volume-relative sector lba into Buffer.
func (io *IO) Load(lba uint32) error {
	return io.ReadAbsolute(io.partitionStartLBA + lba)
}

// Flush writes Buffer to the volume-relative sector lba.
func (io *IO) Flush(lba uint32) error {
	if !io.dev.WriteSector(io.partitionStartLBA+lba, &io.Buffer) {
		return errs.New(errs.IoError)
	}
	return nil
}
