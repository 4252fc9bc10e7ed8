package fat32

import (
	"github.com/embedfat/fat32/errs"
	"github.com/embedfat/fat32/internal/dirent"
)

// Location is the path-location tuple of §4.6: enough to both read an
// entry and mutate it in place.
type Location struct {
	DataCluster     uint32
	ParentCluster   uint32
	ParentSector    uint32
	EntryIndex      int
	Entry           dirent.Entry
}

// splitComponents splits a NUL/length-bounded path on '/' boundaries,
// dropping empty components, and separately reports whether the split ended
// on a trailing slash (§4.6: "when the split yields an empty trailing
// component ... it must be a directory"). It does not allocate beyond the
// returned slice of string headers; the underlying bytes are never copied.
func splitComponents(path string) (components []string, trailingSlash bool) {
	var out []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				out = append(out, path[start:i])
			} else if i == len(path) && i > 0 && path[i-1] == '/' {
				trailingSlash = true
			}
			start = i + 1
		}
	}
	return out, trailingSlash
}

// resolve walks path component-by-component from either the root or the
// current directory, matching the attribute filter at each step, and
// returns the full Location of the final component (§4.6).
func (v *Volume) resolve(path string, filter dirent.AttrFilter) (Location, error) {
	if len(path) > MaxPathLength {
		return Location{}, errs.New(errs.FilePathTooLong)
	}

	startCluster := v.currentDirCluster
	if len(path) > 0 && path[0] == '/' {
		startCluster = v.geo.RootCluster
	}

	components, trailingSlash := splitComponents(path)
	if len(components) == 0 {
		// Bare "/" or "" resolves to the starting directory itself; there is
		// no parent-entry tuple for this case, so ParentCluster mirrors the
		// directory itself to keep Location usable by emptiness checks.
		return Location{
			DataCluster:   startCluster,
			ParentCluster: startCluster,
			EntryIndex:    -1,
		}, nil
	}

	currentCluster := startCluster
	var loc Location

	for i, component := range components {
		isLast := i == len(components)-1
		componentFilter := dirent.FilterEither
		switch {
		case isLast && trailingSlash:
			// A trailing slash pins the final component to a directory
			// regardless of the caller's own filter (§4.6).
			componentFilter = dirent.FilterDirectoryOnly
		case isLast:
			componentFilter = filter
		default:
			componentFilter = dirent.FilterDirectoryOnly
		}

		normalized, err := dirent.Normalize(component)
		if err != nil {
			return Location{}, err
		}

		found, parentSector, idx, entry, err := v.findInDirectory(currentCluster, normalized, componentFilter)
		if err != nil {
			return Location{}, err
		}
		if !found {
			return Location{}, errs.New(errs.PathNotFound)
		}

		loc = Location{
			DataCluster:   entry.Cluster,
			ParentCluster: currentCluster,
			ParentSector:  parentSector,
			EntryIndex:    idx,
			Entry:         entry,
		}
		currentCluster = entry.Cluster
	}

	return loc, nil
}

// findInDirectory scans dirCluster's entry list for a non-deleted entry
// whose normalized name matches target and whose attributes satisfy filter
// (§4.4 mode 2). It returns the sector (volume-relative) and within-sector
// index of the match, so callers can mutate the slot in place.
func (v *Volume) findInDirectory(
	dirCluster uint32, target [11]byte, filter dirent.AttrFilter,
) (found bool, sector uint32, index int, entry dirent.Entry, err error) {
	scanner := dirent.NewScanner(v.chain, v.io, dirCluster)

	for {
		pos := scanner.Position()
		status, stepErr := scanner.Step()
		if stepErr != nil {
			return false, 0, 0, dirent.Entry{}, stepErr
		}

		entries := scanner.Entries()
		currentSector := v.chain.FirstSectorOfCluster(pos.Cluster) + pos.SectorInCluster

		for i, e := range entries {
			if e.IsEndOfDirectory() {
				return false, 0, 0, dirent.Entry{}, nil
			}
			if e.Name[0] == dirent.DeletedMarker {
				continue
			}
			if e.Name == target && filter.Matches(e.Attr) {
				return true, currentSector, i, e, nil
			}
		}

		if status == errs.Ok {
			return false, 0, 0, dirent.Entry{}, nil
		}
	}
}

// Cd changes the current directory (§6 Cd opcode).
func (v *Volume) Cd(path string) error {
	loc, err := v.resolve(path, dirent.FilterDirectoryOnly)
	if err != nil {
		return err
	}
	v.currentDirCluster = loc.DataCluster
	return nil
}

// Stat resolves path and encodes its 32-byte directory entry into the
// shared buffer at offset 0, zeroing the rest (§6 Stat opcode). Resolving
// "/" itself has no backing directory entry on FAT32 (§3: "the root
// directory has no '.' or '..' entries"), so it reports a synthetic
// directory entry with cluster set to the root cluster and a zero name.
func (v *Volume) Stat(path string) error {
	loc, err := v.resolve(path, dirent.FilterEither)
	if err != nil {
		return err
	}

	for i := range v.io.Buffer {
		v.io.Buffer[i] = 0
	}

	entry := loc.Entry
	if loc.EntryIndex < 0 {
		entry = dirent.Entry{Attr: dirent.AttrDirectory, Cluster: loc.DataCluster}
	}
	entry.Encode(v.io.Buffer[0:dirent.EntrySize])
	return nil
}

func (v *Volume) isEmptyDirectory(cluster uint32) (bool, error) {
	scanner := dirent.NewScanner(v.chain, v.io, cluster)
	count := 0

	for {
		status, err := scanner.Step()
		if err != nil {
			return false, err
		}

		entries := scanner.Entries()
		for _, e := range entries {
			if e.IsEndOfDirectory() {
				return count <= 2, nil
			}
			if e.Name[0] == dirent.DeletedMarker {
				continue
			}
			count++
			if count > 2 {
				return false, nil
			}
		}

		if status == errs.Ok {
			return count <= 2, nil
		}
	}
}
