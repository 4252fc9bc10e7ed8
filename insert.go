package fat32

import (
	"github.com/embedfat/fat32/errs"
	"github.com/embedfat/fat32/internal/chainfat"
	"github.com/embedfat/fat32/internal/dirent"
)

// findFreeSlot scans parentCluster's entry list for the first free slot
// (first byte 0x00 or 0xE5). If none is found before the chain ends, it
// appends a new cluster to the parent, zeroes its first sector so every
// entry in it reads as free, and returns slot 0 of that new sector (§4.7
// step 2).
func (v *Volume) findFreeSlot(parentCluster uint32) (sector uint32, index int, err error) {
	scanner := dirent.NewScanner(v.chain, v.io, parentCluster)
	var lastCluster uint32 = parentCluster

	for {
		pos := scanner.Position()
		lastCluster = pos.Cluster
		status, stepErr := scanner.Step()
		if stepErr != nil {
			return 0, 0, stepErr
		}

		entries := scanner.Entries()
		currentSector := v.chain.FirstSectorOfCluster(pos.Cluster) + pos.SectorInCluster

		for i, e := range entries {
			if e.Name[0] == dirent.FreeMarker || e.Name[0] == dirent.DeletedMarker {
				return currentSector, i, nil
			}
		}

		if status == errs.Ok {
			break
		}
	}

	newCluster, err := chainfat.Append(v.chain, lastCluster, &v.fsi)
	if err != nil {
		return 0, 0, err
	}
	if err := v.persistFSInfo(); err != nil {
		return 0, 0, err
	}

	firstSector := v.chain.FirstSectorOfCluster(newCluster)
	for i := range v.io.Buffer {
		v.io.Buffer[i] = 0
	}
	if err := v.io.Flush(firstSector); err != nil {
		return 0, 0, err
	}
	return firstSector, 0, nil
}

// insert implements §4.7 Insert: reserve a data cluster, build the entry
// record, write it into a free parent slot, and (for directories) populate
// "." and ".." in the new cluster's first sector.
func (v *Volume) insert(
	parentCluster uint32, name [11]byte, isDir bool, when dirent.DateTime,
) error {
	slotSector, slotIndex, err := v.findFreeSlot(parentCluster)
	if err != nil {
		return err
	}

	// Append() links a new cluster onto an existing tail; a brand-new
	// object's first cluster has no predecessor to link from, so it is
	// reserved directly via FindFirstFree and marked EOC in place (§4.7
	// step 3).
	hint := v.fsi.NextFreeCluster
	if hint == chainfat.Unknown || hint < 2 {
		hint = 2
	}
	newCluster, err := v.chain.FindFirstFree(hint)
	if err != nil {
		return err
	}
	if err := v.chain.Set(newCluster, chainfat.EOCHigh); err != nil {
		return err
	}
	v.fsi.NextFreeCluster = newCluster
	if v.fsi.FreeClusterCount != chainfat.Unknown && v.fsi.FreeClusterCount > 0 {
		v.fsi.FreeClusterCount--
	}

	if isDir {
		if err := v.initDirectoryCluster(newCluster, parentCluster); err != nil {
			return err
		}
	}

	entry := dirent.Entry{
		Name:       name,
		CreateDate: when.Date(),
		CreateTime: when.Time(),
		WriteDate:  when.Date(),
		WriteTime:  when.Time(),
		AccessDate: when.Date(),
		Cluster:    newCluster,
	}
	if isDir {
		entry.Attr = dirent.AttrDirectory
	} else {
		entry.Attr = dirent.AttrArchive
	}

	if err := v.io.Load(slotSector); err != nil {
		return err
	}
	entry.Encode(v.io.Buffer[slotIndex*dirent.EntrySize : slotIndex*dirent.EntrySize+dirent.EntrySize])
	if err := v.io.Flush(slotSector); err != nil {
		return err
	}

	return v.persistFSInfo()
}

// initDirectoryCluster writes "." (pointing at itself) and ".." (pointing
// at parentCluster, or cluster 0 if parentCluster is the root) into the
// first sector of a freshly allocated directory cluster (§4.7 step 3, §9:
// root's ".." is cluster 0, never the root's own cluster number).
func (v *Volume) initDirectoryCluster(cluster, parentCluster uint32) error {
	firstSector := v.chain.FirstSectorOfCluster(cluster)
	for i := range v.io.Buffer {
		v.io.Buffer[i] = 0
	}

	dotName, _ := dirent.Normalize(".")
	dotDotName, _ := dirent.Normalize("..")

	dotParent := parentCluster
	if parentCluster == v.geo.RootCluster {
		dotParent = 0
	}

	dot := dirent.Entry{Name: dotName, Attr: dirent.AttrDirectory, Cluster: cluster}
	dotdot := dirent.Entry{Name: dotDotName, Attr: dirent.AttrDirectory, Cluster: dotParent}

	dot.Encode(v.io.Buffer[0:dirent.EntrySize])
	dotdot.Encode(v.io.Buffer[dirent.EntrySize : 2*dirent.EntrySize])

	return v.io.Flush(firstSector)
}

// Mkdir creates a directory at path (§6 Mkdir opcode, §4.7).
func (v *Volume) Mkdir(path string, when dirent.DateTime) error {
	if !v.flags.CanInsert() {
		return errs.New(errs.IncorrectOperation)
	}

	parentPath, name, err := splitParent(path)
	if err != nil {
		return err
	}

	parentLoc, err := v.resolve(parentPath, dirent.FilterDirectoryOnly)
	if err != nil {
		return err
	}

	normalized, err := dirent.Normalize(name)
	if err != nil {
		return err
	}

	if found, _, _, _, err := v.findInDirectory(parentLoc.DataCluster, normalized, dirent.FilterEither); err != nil {
		return err
	} else if found {
		return errs.New(errs.FileAlreadyExists)
	}

	return v.insert(parentLoc.DataCluster, normalized, true, when)
}

// splitParent divides a path into its parent directory path and final
// component, the way the teacher's basedriver.normalizePath/posixpath.Split
// idiom does, but working directly on the slash-delimited byte form §4.6
// specifies instead of filepath.Clean.
func splitParent(path string) (parentPath string, name string, err error) {
	if len(path) > MaxPathLength {
		return "", "", errs.New(errs.FilePathTooLong)
	}
	components, _ := splitComponents(path)
	if len(components) == 0 {
		return "", "", errs.New(errs.InvalidFilename)
	}

	name = components[len(components)-1]
	absolute := len(path) > 0 && path[0] == '/'

	parentPath = ""
	if absolute {
		parentPath = "/"
	}
	for _, c := range components[:len(components)-1] {
		parentPath += c + "/"
	}
	return parentPath, name, nil
}

// remove implements §4.7 Remove.
func (v *Volume) remove(path string, mustBeDir bool) error {
	if !v.flags.CanDelete() {
		return errs.New(errs.IncorrectOperation)
	}

	loc, err := v.resolve(path, dirent.FilterEither)
	if err != nil {
		return err
	}
	if loc.EntryIndex < 0 {
		// Resolved to "/" itself: the root directory can never be removed.
		return errs.New(errs.NotADirectory)
	}

	isDir := loc.Entry.IsDirectory()
	if mustBeDir && !isDir {
		return errs.New(errs.NotADirectory)
	}

	if isDir {
		empty, err := v.isEmptyDirectory(loc.DataCluster)
		if err != nil {
			return err
		}
		if !empty {
			return errs.New(errs.DirNotEmpty)
		}
	}

	freed, err := chainfat.FreeChain(v.chain, loc.Entry.Cluster)
	if err != nil {
		return err
	}

	if err := v.io.Load(loc.ParentSector); err != nil {
		return err
	}
	v.io.Buffer[loc.EntryIndex*dirent.EntrySize] = dirent.DeletedMarker
	if err := v.io.Flush(loc.ParentSector); err != nil {
		return err
	}

	v.fsi.NextFreeCluster = loc.Entry.Cluster
	if v.fsi.FreeClusterCount != chainfat.Unknown {
		v.fsi.FreeClusterCount += freed
	}
	return v.persistFSInfo()
}

// Rmdir removes an empty directory (§6 Rmdir opcode, §4.7).
func (v *Volume) Rmdir(path string) error {
	return v.remove(path, true)
}

// Rm deletes a file (§6 Rm opcode, §4.7).
func (v *Volume) Rm(path string) error {
	return v.remove(path, false)
}

// Mv renames/moves an entry from srcPath to dstPath without copying its
// data (supplemented feature, see SPEC_FULL.md: §6 names the Mv opcode but
// §4 never designs it).
func (v *Volume) Mv(srcPath, dstPath string) error {
	if !v.flags.CanInsert() || !v.flags.CanDelete() {
		return errs.New(errs.IncorrectOperation)
	}

	srcLoc, err := v.resolve(srcPath, dirent.FilterEither)
	if err != nil {
		return err
	}
	if srcLoc.EntryIndex < 0 {
		return errs.New(errs.NotADirectory)
	}

	dstParentPath, dstName, err := splitParent(dstPath)
	if err != nil {
		return err
	}
	dstParentLoc, err := v.resolve(dstParentPath, dirent.FilterDirectoryOnly)
	if err != nil {
		return err
	}
	normalizedDstName, err := dirent.Normalize(dstName)
	if err != nil {
		return err
	}

	if found, _, _, _, err := v.findInDirectory(dstParentLoc.DataCluster, normalizedDstName, dirent.FilterEither); err != nil {
		return err
	} else if found {
		return errs.New(errs.FileAlreadyExists)
	}

	slotSector, slotIndex, err := v.findFreeSlot(dstParentLoc.DataCluster)
	if err != nil {
		return err
	}

	moved := srcLoc.Entry
	moved.Name = normalizedDstName

	if err := v.io.Load(slotSector); err != nil {
		return err
	}
	moved.Encode(v.io.Buffer[slotIndex*dirent.EntrySize : slotIndex*dirent.EntrySize+dirent.EntrySize])
	if err := v.io.Flush(slotSector); err != nil {
		return err
	}

	if err := v.io.Load(srcLoc.ParentSector); err != nil {
		return err
	}
	v.io.Buffer[srcLoc.EntryIndex*dirent.EntrySize] = dirent.DeletedMarker
	return v.io.Flush(srcLoc.ParentSector)
}
