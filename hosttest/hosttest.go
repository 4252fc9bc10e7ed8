// Package hosttest provides an in-memory hardware.Device for tests and for
// cmd/fat32ctl's file-backed mode, grounded on the teacher's
// testing.LoadDiskImage/bytesextra.NewReadWriteSeeker idiom but repurposed
// from "decompress a fixture image" to "synthesize one from scratch". Named
// hosttest, not testing, so it doesn't shadow the standard library when
// imported under its natural name.
package hosttest

import (
	"io"

	"github.com/xaionaro-go/bytesextra"

	"github.com/embedfat/fat32/hardware"
	"github.com/embedfat/fat32/internal/sectorbuf"
)

// Image is an in-memory block device backed by a single byte slice (§6's
// host callback contract: ReadSector/WriteSector against a fixed-size
// store).
type Image struct {
	seeker     io.ReadWriteSeeker
	buf        []byte
	totalBytes int64
}

// NewBlank allocates a zeroed image of totalSectors sectors.
func NewBlank(totalSectors uint32) *Image {
	return NewFromBytes(make([]byte, int64(totalSectors)*hardware.SectorSize))
}

// NewFromBytes wraps an existing byte slice (e.g. read from a disk image
// file by cmd/fat32ctl) as an Image without copying it. bytesextra writes
// through to buf in place, so Bytes() always reflects every WriteSector
// call made so far.
func NewFromBytes(buf []byte) *Image {
	return &Image{
		seeker:     bytesextra.NewReadWriteSeeker(buf),
		buf:        buf,
		totalBytes: int64(len(buf)),
	}
}

// Bytes returns the image's backing storage, reflecting every write made
// through WriteSector so far.
func (img *Image) Bytes() []byte {
	return img.buf
}

// ReadSector implements hardware.Device.
func (img *Image) ReadSector(lba uint32, buf *hardware.Sector) bool {
	offset := int64(lba) * hardware.SectorSize
	if offset+hardware.SectorSize > img.totalBytes {
		return false
	}
	if _, err := img.seeker.Seek(offset, io.SeekStart); err != nil {
		return false
	}
	_, err := io.ReadFull(img.seeker, buf[:])
	return err == nil
}

// WriteSector implements hardware.Device.
func (img *Image) WriteSector(lba uint32, buf *hardware.Sector) bool {
	offset := int64(lba) * hardware.SectorSize
	if offset+hardware.SectorSize > img.totalBytes {
		return false
	}
	if _, err := img.seeker.Seek(offset, io.SeekStart); err != nil {
		return false
	}
	_, err := img.seeker.Write(buf[:])
	return err == nil
}

// FormatOptions configures FormatBlank.
type FormatOptions struct {
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
}

// DefaultFormatOptions matches what most FAT32 formatting tools choose for
// small-to-medium cards: one reserved sector pair (boot + FSInfo) plus
// backup, two FAT mirrors, 8 sectors (4 KiB) per cluster.
func DefaultFormatOptions() FormatOptions {
	return FormatOptions{SectorsPerCluster: 8, ReservedSectors: 32, NumFATs: 2}
}

// FormatBlank writes a minimal valid FAT32 boot sector, FSInfo sector, FAT
// (both mirrors, cluster 2 reserved as the empty root directory's EOC
// marker), and a one-cluster root directory into a blank image, returning
// an Image ready to be mounted. This exists for hosttest/cmd/fat32ctl to
// synthesize fixtures without needing a pre-built image file on disk.
func FormatBlank(totalSectors uint32, opts FormatOptions) *Image {
	img := NewBlank(totalSectors)

	fatSectors := fatSectorsNeeded(totalSectors, opts)
	dataStart := uint32(opts.ReservedSectors) + uint32(opts.NumFATs)*fatSectors

	var boot hardware.Sector
	sectorbuf.NewAt(boot[:], 0x00).PutByte(0xEB) // §9: boot-sector discriminator, not 0xFA.
	sectorbuf.NewAt(boot[:], 0x01).PutByte(0x58)
	sectorbuf.NewAt(boot[:], 0x02).PutByte(0x90)
	sectorbuf.NewAt(boot[:], 0x0B).PutUint16(hardware.SectorSize)
	sectorbuf.NewAt(boot[:], 0x0D).PutByte(opts.SectorsPerCluster)
	sectorbuf.NewAt(boot[:], 0x0E).PutUint16(opts.ReservedSectors)
	sectorbuf.NewAt(boot[:], 0x10).PutByte(opts.NumFATs)
	sectorbuf.NewAt(boot[:], 0x13).PutUint16(0) // TotalSectors16 == 0 marks this FAT32.
	sectorbuf.NewAt(boot[:], 0x20).PutUint32(totalSectors)
	sectorbuf.NewAt(boot[:], 0x24).PutUint32(fatSectors)
	sectorbuf.NewAt(boot[:], 0x2C).PutUint32(2) // root directory starts at cluster 2.
	sectorbuf.NewAt(boot[:], 0x30).PutUint16(1) // FSInfo sector.
	sectorbuf.NewAt(boot[:], 0x1FE).PutUint16(0xAA55)
	img.WriteSector(0, &boot)

	var fsInfo hardware.Sector
	sectorbuf.NewAt(fsInfo[:], 0x000).PutUint32(0x41615252)
	sectorbuf.NewAt(fsInfo[:], 0x1E4).PutUint32(0x61417272)
	sectorbuf.NewAt(fsInfo[:], 0x1E8).PutUint32(0xFFFFFFFF) // unknown free count -> recalc.
	sectorbuf.NewAt(fsInfo[:], 0x1EC).PutUint32(0xFFFFFFFF)
	sectorbuf.NewAt(fsInfo[:], 0x1FE).PutUint16(0xAA55)
	img.WriteSector(1, &fsInfo)

	var fat hardware.Sector
	w := sectorbuf.NewAt(fat[:], 0)
	w.PutUint32(0x0FFFFFF8) // cluster 0: media descriptor + EOC bits.
	w.PutUint32(0x0FFFFFFF) // cluster 1: reserved, always EOC.
	w.PutUint32(0x0FFFFFFF) // cluster 2: root directory, one cluster.
	for mirror := uint32(0); mirror < uint32(opts.NumFATs); mirror++ {
		img.WriteSector(uint32(opts.ReservedSectors)+mirror*fatSectors, &fat)
	}

	var rootSector hardware.Sector
	for i := range rootSector {
		rootSector[i] = 0
	}
	img.WriteSector(dataStart, &rootSector)

	return img
}

func fatSectorsNeeded(totalSectors uint32, opts FormatOptions) uint32 {
	approxClusters := totalSectors / uint32(opts.SectorsPerCluster)
	entriesPerSector := uint32(hardware.SectorSize / 4)
	return (approxClusters + entriesPerSector - 1) / entriesPerSector
}
