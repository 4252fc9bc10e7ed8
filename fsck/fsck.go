// Package fsck walks a mounted volume's FAT and directory tree and checks
// it against the invariants of spec §8: no cluster referenced by more than
// one directory entry, no referenced cluster marked free in the FAT, FAT
// mirrors agreeing with each other, and FSInfo's free-count hint matching
// what a full scan actually finds. Allocated clusters that no directory
// entry reaches are not reported.
//
// Unlike the driver itself, Check allocates freely and is not meant to run
// on the embedded target -- it is a host-side (or CI-side) diagnostic.
package fsck

import (
	"encoding/binary"
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/hashicorp/go-multierror"

	"github.com/embedfat/fat32"
	"github.com/embedfat/fat32/errs"
	"github.com/embedfat/fat32/internal/chainfat"
	"github.com/embedfat/fat32/internal/dirent"
)

// Report summarizes one Check pass.
type Report struct {
	TotalClusters      uint32
	ReachableClusters  uint32
	FreeClusters       uint32
	FSInfoFreeHint     uint32
	FSInfoHintAccurate bool
}

var (
	dotName, _    = dirent.Normalize(".")
	dotDotName, _ = dirent.Normalize("..")
)

// Check walks every reachable directory starting at the root, recording
// which data clusters are referenced by a live directory entry, then
// cross-checks that bitmap against a full FAT scan (§8's quantified
// invariants: reachability, mirror consistency, FSInfo accuracy, and
// double-reference detection). It returns every violation found in one
// pass rather than stopping at the first, via *multierror.Error.
func Check(v *fat32.Volume) (Report, error) {
	geo := v.Geometry()
	chain := v.Chain()
	totalClusters := geo.TotalClusters()

	reachable := bitmap.New(int(totalClusters))
	var result *multierror.Error

	if err := walkDirectory(v, chain, geo.RootCluster, reachable, totalClusters, &result); err != nil {
		result = multierror.Append(result, err)
	}

	var freeCount uint32
	for c := uint32(2); c < totalClusters+2; c++ {
		entry, err := chain.Follow(c)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("reading FAT entry for cluster %d: %w", c, err))
			continue
		}
		if chainfat.IsFree(entry) {
			freeCount++
			if reachable.Get(int(c - 2)) {
				result = multierror.Append(result, fmt.Errorf(
					"cluster %d is referenced by a directory entry but marked free in the FAT", c))
			}
		}
	}

	var reachableCount uint32
	for i := 0; i < int(totalClusters); i++ {
		if reachable.Get(i) {
			reachableCount++
		}
	}

	if err := checkMirrors(v); err != nil {
		result = multierror.Append(result, err)
	}

	rep := Report{
		TotalClusters:     totalClusters,
		ReachableClusters: reachableCount,
		FreeClusters:      freeCount,
	}

	free, err := v.Free()
	if err == nil {
		rep.FSInfoFreeHint = free
		rep.FSInfoHintAccurate = free == freeCount
		if !rep.FSInfoHintAccurate {
			result = multierror.Append(result, fmt.Errorf(
				"FSInfo free-cluster hint %d does not match the %d free clusters a full scan found",
				free, freeCount))
		}
	}

	return rep, result.ErrorOrNil()
}

// walkDirectory recurses through the directory tree rooted at cluster,
// marking every data cluster belonging to a live entry (file or
// subdirectory, skipping "." and "..") as reachable.
func walkDirectory(
	v *fat32.Volume, chain *chainfat.Chain, cluster uint32, reachable bitmap.Bitmap, totalClusters uint32,
	result **multierror.Error,
) error {
	scanner := dirent.NewScanner(chain, v.IO(), cluster)

	for {
		status, err := scanner.Step()
		if err != nil {
			return err
		}

		for _, e := range scanner.Entries() {
			if e.IsEndOfDirectory() {
				return nil
			}
			if e.Name[0] == dirent.DeletedMarker {
				continue
			}
			if e.Name == dotName || e.Name == dotDotName {
				continue
			}

			if err := markChain(chain, e.Cluster, reachable, totalClusters, result); err != nil {
				*result = multierror.Append(*result, err)
			}

			if e.IsDirectory() {
				if err := walkDirectory(v, chain, e.Cluster, reachable, totalClusters, result); err != nil {
					*result = multierror.Append(*result, err)
				}
			}
		}

		if status == errs.Ok {
			return nil
		}
	}
}

// markChain walks cluster's whole FAT chain, marking every cluster in it
// reachable and reporting a double-reference if one was already marked, or
// a loop if the chain revisits a cluster within itself (§8).
func markChain(
	chain *chainfat.Chain, first uint32, reachable bitmap.Bitmap, totalClusters uint32, result **multierror.Error,
) error {
	cluster := first
	seen := make(map[uint32]bool)
	for {
		if cluster < 2 || cluster >= totalClusters+2 {
			return fmt.Errorf("cluster %d referenced out of volume range", cluster)
		}
		idx := int(cluster) - 2
		if reachable.Get(idx) {
			*result = multierror.Append(*result, fmt.Errorf(
				"cluster %d is referenced by more than one directory entry", cluster))
		}
		reachable.Set(idx, true)

		if seen[cluster] {
			return fmt.Errorf("cluster chain starting at %d loops back on itself at %d", first, cluster)
		}
		seen[cluster] = true

		next, err := chain.Follow(cluster)
		if err != nil {
			return err
		}
		if chainfat.IsEOC(next) || chainfat.IsFree(next) {
			return nil
		}
		cluster = next
	}
}

// checkMirrors compares every FAT mirror against the primary FAT
// sector-by-sector (§3 invariant 1: "every FAT mirror is byte-identical to
// the primary FAT at all times").
func checkMirrors(v *fat32.Volume) error {
	g := v.Geometry()
	io := v.IO()

	if g.FATCount < 2 {
		return nil
	}

	var primary, mirror [512]byte
	for sectorIdx := uint32(0); sectorIdx < g.FATSectors; sectorIdx++ {
		if err := io.Load(g.FATStartLBA + sectorIdx); err != nil {
			return fmt.Errorf("reading primary FAT sector %d: %w", sectorIdx, err)
		}
		copy(primary[:], io.Buffer[:])

		for m := uint32(1); m < uint32(g.FATCount); m++ {
			if err := io.Load(g.FATStartLBA + m*g.FATSectors + sectorIdx); err != nil {
				return fmt.Errorf("reading FAT mirror %d sector %d: %w", m, sectorIdx, err)
			}
			copy(mirror[:], io.Buffer[:])

			if primary != mirror {
				firstDiff := -1
				for i := range primary {
					if primary[i] != mirror[i] {
						firstDiff = i
						break
					}
				}
				primaryWord := binary.LittleEndian.Uint32(primary[firstDiff/4*4 : firstDiff/4*4+4])
				mirrorWord := binary.LittleEndian.Uint32(mirror[firstDiff/4*4 : firstDiff/4*4+4])
				return fmt.Errorf(
					"FAT mirror %d diverges from the primary FAT at sector %d (primary=%#x mirror=%#x)",
					m, sectorIdx, primaryWord, mirrorWord)
			}
		}
	}
	return nil
}
