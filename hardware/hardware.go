// Package hardware defines the block-device contract the driver core is
// given by its embedding host (spec §6). The driver never talks to storage
// any other way.
package hardware

// SectorSize is the only sector size this driver supports (§3: "bytes_per_sector
// required to equal 512 else mount fails").
const SectorSize = 512

// Sector is one 512-byte unit of storage, passed by reference so the host
// and the driver can share a single buffer without copying.
type Sector = [SectorSize]byte

// Device is the pair of callbacks the embedding host supplies (§6):
//
//	read_sector(lba, buf, ctx) -> ok: bool
//	write_sector(lba, buf, ctx) -> ok: bool
//
// ctx is implicit in Go: implementations close over whatever context they
// need (an *os.File, an in-memory image, an SPI handle, ...). Addresses are
// absolute LBAs on the underlying device; the driver adds the partition
// offset itself (§4.1).
type Device interface {
	ReadSector(lba uint32, buf *Sector) bool
	WriteSector(lba uint32, buf *Sector) bool
}
