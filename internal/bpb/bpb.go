// Package bpb decodes the BIOS Parameter Block of a FAT32 boot sector (spec
// §4.1) and carries the derived volume geometry of §3. It does no I/O of its
// own; callers hand it sectors already read via internal/blockio.
package bpb

import (
	"encoding/binary"

	"github.com/embedfat/fat32/errs"
)

// Offsets of the fields this driver cares about, taken directly from §4.1.
const (
	offBytesPerSector    = 0x0B
	offSectorsPerCluster = 0x0D
	offReservedSectors   = 0x0E
	offNumFATs           = 0x10
	offTotalSectors16    = 0x13
	offTotalSectors32    = 0x20
	offFATSize32         = 0x24
	offRootCluster       = 0x2C
	offFSInfoSector      = 0x30

	// VolumeLabelOffset and VolumeLabelSize locate the 11-byte, space-padded
	// volume label field in the FAT32 extended BPB.
	VolumeLabelOffset = 0x47
	VolumeLabelSize   = 11

	// MBRPartitionLBAOffset is the offset within an MBR of the starting LBA
	// field of the primary partition entry (§4.1).
	MBRPartitionLBAOffset = 0x1C6

	// BootSectorSignatureByte is the first byte of a FAT boot sector
	// ("short jump" opcode). §9 is explicit that this -- and not 0xFA -- is
	// the correct MBR-vs-boot-sector discriminator.
	BootSectorSignatureByte = 0xEB
)

// Geometry holds the read-only volume layout computed at mount (§3).
type Geometry struct {
	PartitionStartLBA uint32
	BytesPerSector    uint16
	SectorsPerCluster uint8
	FATStartLBA       uint32
	FATSectors        uint32
	FATCount          uint8
	DataStartLBA      uint32
	TotalSectors      uint32
	RootCluster       uint32
	FSInfoLBA         uint32
}

// TotalClusters returns the number of data clusters on the volume, the
// upper bound fsck needs to size its reachability bitmap and walk the FAT.
func (g Geometry) TotalClusters() uint32 {
	dataSectors := g.TotalSectors - g.DataStartLBA
	return dataSectors / uint32(g.SectorsPerCluster)
}

// IsBootSectorItself reports whether the first byte of an absolute sector 0
// marks it as a FAT boot sector rather than an MBR (§4.1, §9).
func IsBootSectorItself(sector0 []byte) bool {
	return len(sector0) > 0 && sector0[0] == BootSectorSignatureByte
}

// PartitionStartFromMBR reads the primary partition's starting LBA out of an
// MBR sector (§4.1: 32-bit field at offset 0x1C6).
func PartitionStartFromMBR(mbr []byte) uint32 {
	return binary.LittleEndian.Uint32(mbr[MBRPartitionLBAOffset : MBRPartitionLBAOffset+4])
}

// Parse decodes a FAT32 boot sector already positioned at partitionStartLBA
// and returns the derived Geometry, validating every field §4.1 requires.
func Parse(sector []byte, partitionStartLBA uint32) (Geometry, error) {
	if len(sector) < 512 {
		return Geometry{}, errs.New(errs.IoError)
	}

	bytesPerSector := binary.LittleEndian.Uint16(sector[offBytesPerSector : offBytesPerSector+2])
	if bytesPerSector != 512 {
		return Geometry{}, errs.New(errs.BytesPerSectorNot512)
	}

	sectorsPerCluster := sector[offSectorsPerCluster]
	if sectorsPerCluster == 0 {
		return Geometry{}, errs.New(errs.NotFat32)
	}

	reservedSectors := binary.LittleEndian.Uint16(sector[offReservedSectors : offReservedSectors+2])
	numFATs := sector[offNumFATs]
	totalSectors16 := binary.LittleEndian.Uint16(sector[offTotalSectors16 : offTotalSectors16+2])
	totalSectors32 := binary.LittleEndian.Uint32(sector[offTotalSectors32 : offTotalSectors32+4])
	fatSize32 := binary.LittleEndian.Uint32(sector[offFATSize32 : offFATSize32+4])
	rootCluster := binary.LittleEndian.Uint32(sector[offRootCluster : offRootCluster+4])
	fsInfoSector := binary.LittleEndian.Uint16(sector[offFSInfoSector : offFSInfoSector+2])

	if totalSectors16 != 0 {
		return Geometry{}, errs.New(errs.NotFat32)
	}
	if totalSectors32 == 0 {
		return Geometry{}, errs.New(errs.NotFat32)
	}
	if fatSize32 == 0 {
		return Geometry{}, errs.New(errs.NotFat32)
	}

	fatStartLBA := uint32(reservedSectors)
	dataStartLBA := fatStartLBA + uint32(numFATs)*fatSize32

	return Geometry{
		PartitionStartLBA: partitionStartLBA,
		BytesPerSector:    bytesPerSector,
		SectorsPerCluster: sectorsPerCluster,
		FATStartLBA:       fatStartLBA,
		FATSectors:        fatSize32,
		FATCount:          numFATs,
		DataStartLBA:      dataStartLBA,
		TotalSectors:      totalSectors32,
		RootCluster:       rootCluster,
		FSInfoLBA:         uint32(fsInfoSector),
	}, nil
}
