// Package chainfat implements L1: the FAT allocation-chain primitives and
// FSInfo hint management (spec §4.2, §4.3).
package chainfat

import (
	"encoding/binary"

	"github.com/embedfat/fat32/errs"
	"github.com/embedfat/fat32/internal/blockio"
	"github.com/embedfat/fat32/internal/bpb"
)

const (
	entriesPerSector = 128 // 512 / 4

	clusterMask = 0x0FFFFFFF

	// EOCLow and EOCHigh bound the end-of-chain sentinel range (§3).
	EOCLow  = 0x0FFFFFF8
	EOCHigh = 0x0FFFFFFF

	firstValidCluster = 2
)

// IsEOC reports whether v is an end-of-chain marker.
func IsEOC(v uint32) bool {
	masked := v & clusterMask
	return masked >= EOCLow && masked <= EOCHigh
}

// IsFree reports whether v marks a free FAT slot.
func IsFree(v uint32) bool {
	return v&clusterMask == 0
}

// Chain implements the FAT pointer primitives of §4.2 against a single
// shared sector buffer. It never caches more than one FAT sector in memory
// at a time (the sector currently loaded into io.Buffer).
type Chain struct {
	io  *blockio.IO
	geo bpb.Geometry
}

// New builds a Chain bound to the given shared buffer and volume geometry.
func New(io *blockio.IO, geo bpb.Geometry) *Chain {
	return &Chain{io: io, geo: geo}
}

// slotLocation returns the FAT sector and the byte offset within that sector
// holding cluster c's 32-bit pointer (§4.2).
func (c *Chain) slotLocation(cluster uint32) (sector uint32, byteOffset uint32) {
	offset := cluster * 4
	return c.geo.FATStartLBA + offset/512, offset % 512
}

// Follow returns the raw FAT pointer stored for cluster. Passing cluster 0
// or 1 is a programmer error and is not guarded against, per §4.2.
func (c *Chain) Follow(cluster uint32) (uint32, error) {
	sector, off := c.slotLocation(cluster)
	if err := c.io.Load(sector); err != nil {
		return 0, errs.Wrap(errs.IoError, err)
	}
	return binary.LittleEndian.Uint32(c.io.Buffer[off:off+4]) & clusterMask, nil
}

// Set writes v into cluster's slot in the primary FAT and every mirror, in
// order primary -> mirror 1 -> mirror 2 -> ..., keeping all mirrors
// byte-identical (§3 invariant 1, §4.2). Append routes through it;
// FreeChain instead writes each touched FAT sector itself, in the same
// primary-then-mirrors order.
func (c *Chain) Set(cluster uint32, v uint32) error {
	sector, off := c.slotLocation(cluster)
	relativeSector := sector - c.geo.FATStartLBA

	for mirror := uint32(0); mirror < uint32(c.geo.FATCount); mirror++ {
		mirrorSector := c.geo.FATStartLBA + mirror*c.geo.FATSectors + relativeSector
		if err := c.io.Load(mirrorSector); err != nil {
			return errs.Wrap(errs.IoError, err)
		}
		binary.LittleEndian.PutUint32(c.io.Buffer[off:off+4], v&clusterMask)
		if err := c.io.Flush(mirrorSector); err != nil {
			return errs.Wrap(errs.IoError, err)
		}
	}
	return nil
}

// FindFirstFree scans the FAT forward from startCluster/128 rounded down to
// a sector boundary, returning the first free cluster number found (§4.2).
// It wraps around to cluster 2 once if the hint-seeded scan runs off the end
// without finding one, so a stale hint near the top of the FAT doesn't miss
// free space below it.
func (c *Chain) FindFirstFree(startCluster uint32) (uint32, error) {
	totalClusters := c.geo.TotalClusters() + firstValidCluster
	if startCluster < firstValidCluster || startCluster >= totalClusters {
		startCluster = firstValidCluster
	}

	if cluster, ok, err := c.scanFrom(startCluster, totalClusters); err != nil {
		return 0, err
	} else if ok {
		return cluster, nil
	}
	if startCluster == firstValidCluster {
		return 0, errs.New(errs.DeviceFull)
	}
	if cluster, ok, err := c.scanFrom(firstValidCluster, startCluster); err != nil {
		return 0, err
	} else if ok {
		return cluster, nil
	}
	return 0, errs.New(errs.DeviceFull)
}

func (c *Chain) scanFrom(start, end uint32) (uint32, bool, error) {
	startSector := start / entriesPerSector
	totalSectors := c.geo.FATSectors

	for sectorIdx := startSector; sectorIdx < totalSectors; sectorIdx++ {
		if err := c.io.Load(c.geo.FATStartLBA + sectorIdx); err != nil {
			return 0, false, errs.Wrap(errs.IoError, err)
		}
		firstClusterInSector := sectorIdx * entriesPerSector
		for slot := uint32(0); slot < entriesPerSector; slot++ {
			cluster := firstClusterInSector + slot
			if cluster < start || cluster >= end {
				continue
			}
			v := binary.LittleEndian.Uint32(c.io.Buffer[slot*4 : slot*4+4])
			if v&clusterMask == 0 {
				return cluster, true, nil
			}
		}
	}
	return 0, false, nil
}

// FSInfo holds the two free-space hints of §3. Both may be the sentinel
// 0xFFFFFFFF, meaning "unknown; recalculate".
type FSInfo struct {
	FreeClusterCount uint32
	NextFreeCluster  uint32
}

// Unknown is the FSInfo sentinel value meaning "recalculate me" (§3).
const Unknown = 0xFFFFFFFF

const (
	fsInfoFreeCountOffset = 0x1E8
	fsInfoNextFreeOffset  = 0x1EC
)

// ReadFSInfo returns the two hints verbatim (§4.3).
func ReadFSInfo(io *blockio.IO, fsInfoLBA uint32) (FSInfo, error) {
	if err := io.Load(fsInfoLBA); err != nil {
		return FSInfo{}, errs.Wrap(errs.IoError, err)
	}
	return FSInfo{
		FreeClusterCount: binary.LittleEndian.Uint32(io.Buffer[fsInfoFreeCountOffset : fsInfoFreeCountOffset+4]),
		NextFreeCluster:  binary.LittleEndian.Uint32(io.Buffer[fsInfoNextFreeOffset : fsInfoNextFreeOffset+4]),
	}, nil
}

// WriteFSInfo patches the two fields in the FSInfo sector and flushes it
// (§4.3). The 0x41615252/0x61417272 signatures elsewhere in the sector are
// preserved because this only loads, patches two fields, and flushes --
// it never zeroes the rest of the sector.
func WriteFSInfo(io *blockio.IO, fsInfoLBA uint32, fsi FSInfo) error {
	if err := io.Load(fsInfoLBA); err != nil {
		return errs.Wrap(errs.IoError, err)
	}
	binary.LittleEndian.PutUint32(io.Buffer[fsInfoFreeCountOffset:fsInfoFreeCountOffset+4], fsi.FreeClusterCount)
	binary.LittleEndian.PutUint32(io.Buffer[fsInfoNextFreeOffset:fsInfoNextFreeOffset+4], fsi.NextFreeCluster)
	if err := io.Flush(fsInfoLBA); err != nil {
		return errs.Wrap(errs.IoError, err)
	}
	return nil
}

// Recalculate scans the entire FAT, counts free clusters and notes the
// first one found, and writes the result back to the FSInfo sector (§4.3).
func Recalculate(c *Chain, fsInfoLBA uint32) (FSInfo, error) {
	totalClusters := c.geo.TotalClusters() + firstValidCluster
	free := uint32(0)
	firstFree := uint32(Unknown)

	for sectorIdx := uint32(0); sectorIdx < c.geo.FATSectors; sectorIdx++ {
		if err := c.io.Load(c.geo.FATStartLBA + sectorIdx); err != nil {
			return FSInfo{}, errs.Wrap(errs.IoError, err)
		}
		firstClusterInSector := sectorIdx * entriesPerSector
		for slot := uint32(0); slot < entriesPerSector; slot++ {
			cluster := firstClusterInSector + slot
			if cluster < firstValidCluster || cluster >= totalClusters {
				continue
			}
			v := binary.LittleEndian.Uint32(c.io.Buffer[slot*4 : slot*4+4])
			if v&clusterMask == 0 {
				free++
				if firstFree == Unknown {
					firstFree = cluster
				}
			}
		}
	}

	fsi := FSInfo{FreeClusterCount: free, NextFreeCluster: firstFree}
	if err := WriteFSInfo(c.io, fsInfoLBA, fsi); err != nil {
		return FSInfo{}, err
	}
	return fsi, nil
}

// Append allocates a new cluster, links tailCluster to it, marks the new
// cluster end-of-chain, and returns its number (§4.2). fsi is updated
// in-memory; the caller is responsible for persisting it via WriteFSInfo
// once all the allocation work in the enclosing operation is done.
func Append(c *Chain, tailCluster uint32, fsi *FSInfo) (uint32, error) {
	hint := fsi.NextFreeCluster
	if hint == Unknown || hint < firstValidCluster {
		hint = firstValidCluster
	}

	newCluster, err := c.FindFirstFree(hint)
	if err != nil {
		return 0, err
	}

	if err := c.Set(tailCluster, newCluster); err != nil {
		return 0, err
	}
	if err := c.Set(newCluster, EOCHigh); err != nil {
		return 0, err
	}

	fsi.NextFreeCluster = newCluster
	if fsi.FreeClusterCount != Unknown && fsi.FreeClusterCount > 0 {
		fsi.FreeClusterCount--
	}
	return newCluster, nil
}

// FreeChain walks the chain starting at firstCluster, writing 0 to every
// slot, and returns the number of clusters freed (§4.2). It batches writes
// by only flushing when the walk crosses into a new FAT sector, since Set()
// would otherwise re-load/flush the same sector on every single-cluster
// step.
func FreeChain(c *Chain, firstCluster uint32) (uint32, error) {
	freed := uint32(0)
	current := firstCluster
	loadedSector := uint32(0)
	sectorLoaded := false

	flushIfLoaded := func() error {
		if sectorLoaded {
			// Primary first, then mirrors in order, matching Set()'s
			// crash-ordering guarantee (§5: "FAT mirrors are written in
			// order primary -> mirror 1 -> mirror 2").
			if err := c.io.Flush(loadedSector); err != nil {
				return errs.Wrap(errs.IoError, err)
			}
			for mirror := uint32(1); mirror < uint32(c.geo.FATCount); mirror++ {
				relative := loadedSector - c.geo.FATStartLBA
				if err := c.io.Flush(c.geo.FATStartLBA + mirror*c.geo.FATSectors + relative); err != nil {
					return errs.Wrap(errs.IoError, err)
				}
			}
		}
		return nil
	}

	for {
		if IsFree(current) {
			// Corruption: following a free slot inside a live chain. Treat as
			// end-of-chain rather than looping forever (§4.2 edge case).
			break
		}

		sector, off := c.slotLocation(current)
		if !sectorLoaded || sector != loadedSector {
			if err := flushIfLoaded(); err != nil {
				return freed, err
			}
			if err := c.io.Load(sector); err != nil {
				return freed, errs.Wrap(errs.IoError, err)
			}
			loadedSector = sector
			sectorLoaded = true
		}

		next := binary.LittleEndian.Uint32(c.io.Buffer[off:off+4]) & clusterMask
		binary.LittleEndian.PutUint32(c.io.Buffer[off:off+4], 0)
		freed++

		if IsEOC(next) || IsFree(next) {
			break
		}
		current = next
	}

	if err := flushIfLoaded(); err != nil {
		return freed, err
	}
	return freed, nil
}

// FirstSectorOfCluster translates a data cluster number into its absolute
// volume-relative starting sector (adapted from the teacher's
// getFirstSectorOfCluster/ClusterIDToBlock arithmetic).
func (c *Chain) FirstSectorOfCluster(cluster uint32) uint32 {
	return c.geo.DataStartLBA + (cluster-firstValidCluster)*uint32(c.geo.SectorsPerCluster)
}

// SectorsPerCluster exposes the geometry value callers need for cursor math.
func (c *Chain) SectorsPerCluster() uint32 {
	return uint32(c.geo.SectorsPerCluster)
}
