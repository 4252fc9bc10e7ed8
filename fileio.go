package fat32

import (
	"github.com/embedfat/fat32/errs"
	"github.com/embedfat/fat32/internal/chainfat"
	"github.com/embedfat/fat32/internal/dirent"
)

// Open resolves path and allocates a handle for it (§4.8, §6 Open opcode).
// If path does not already resolve to a file, Open creates a zero-length
// one in its place -- see SPEC_FULL.md for why: §6's closed opcode set has
// no separate "create file" entry point, so Open is the only reachable
// caller of §4.7 Insert's "create-file" half.
func (v *Volume) Open(path string, when dirent.DateTime) (int, error) {
	if !v.flags.CanRead() {
		return 0, errs.New(errs.IncorrectOperation)
	}

	// Resolved with FilterEither first so an existing directory of this name
	// is detected as NotADirectory rather than silently shadowed by a
	// newly-created file of the same name.
	loc, err := v.resolve(path, dirent.FilterEither)
	_, trailingSlash := splitComponents(path)
	if errs.CodeOf(err) == errs.PathNotFound {
		if trailingSlash {
			// A trailing slash pins the final component to a directory
			// (§4.6); a file can never satisfy that, so there is nothing
			// to silently create here.
			return 0, err
		}
		if !v.flags.CanInsert() {
			return 0, err
		}
		parentPath, name, splitErr := splitParent(path)
		if splitErr != nil {
			return 0, splitErr
		}
		parentLoc, resolveErr := v.resolve(parentPath, dirent.FilterDirectoryOnly)
		if resolveErr != nil {
			return 0, resolveErr
		}
		normalized, normErr := dirent.Normalize(name)
		if normErr != nil {
			return 0, normErr
		}
		if insertErr := v.insert(parentLoc.DataCluster, normalized, false, when); insertErr != nil {
			return 0, insertErr
		}
		loc, err = v.resolve(path, dirent.FilterEither)
	}
	if err != nil {
		return 0, err
	}
	if loc.Entry.IsDirectory() {
		return 0, errs.New(errs.NotADirectory)
	}

	slot := -1
	for i := range v.handles {
		if !v.handles[i].inUse {
			slot = i
			break
		}
	}
	if slot < 0 {
		return 0, errs.New(errs.TooManyFilesOpen)
	}

	v.handles[slot] = handle{
		inUse:          true,
		startCluster:   loc.Entry.Cluster,
		currentCluster: loc.Entry.Cluster,
		fileSize:       loc.Entry.Size,
		bytesRemaining: loc.Entry.Size,
		parentCluster:  loc.ParentCluster,
		parentSector:   loc.ParentSector,
		entryIndex:     loc.EntryIndex,
	}
	return slot, nil
}

func (v *Volume) checkHandle(idx int) (*handle, error) {
	if idx < 0 || idx >= len(v.handles) {
		return nil, errs.New(errs.InvalidFileIndex)
	}
	h := &v.handles[idx]
	if !h.inUse {
		return nil, errs.New(errs.FileNotOpen)
	}
	return h, nil
}

// Close marks a handle free (§4.8, §6 Close opcode).
func (v *Volume) Close(idx int) error {
	h, err := v.checkHandle(idx)
	if err != nil {
		return err
	}
	h.inUse = false
	return nil
}

// Read loads the handle's current sector into the shared buffer, advances
// the cursor, and reports how many of the 512 bytes just loaded are valid
// file data (§4.8, §6 Read opcode). Bytes past the valid prefix are
// zero-filled. Status is errs.Ok when this was the file's last sector,
// errs.MoreData otherwise.
func (v *Volume) Read(idx int) (int, errs.Code, error) {
	h, err := v.checkHandle(idx)
	if err != nil {
		return 0, errs.IoError, err
	}

	if h.bytesRemaining == 0 {
		for i := range v.io.Buffer {
			v.io.Buffer[i] = 0
		}
		return 0, errs.Ok, nil
	}

	sector := v.chain.FirstSectorOfCluster(h.currentCluster) + h.sectorInCluster
	if err := v.io.Load(sector); err != nil {
		return 0, errs.IoError, err
	}

	validBytes := 512
	if h.bytesRemaining < 512 {
		validBytes = int(h.bytesRemaining)
		for i := validBytes; i < 512; i++ {
			v.io.Buffer[i] = 0
		}
	}

	if h.bytesRemaining > 512 {
		h.bytesRemaining -= 512
	} else {
		h.bytesRemaining = 0
	}

	finished, advErr := v.advanceHandleCursor(h)
	if advErr != nil {
		return validBytes, errs.IoError, advErr
	}

	status := errs.MoreData
	if finished || h.bytesRemaining == 0 {
		status = errs.Ok
	}
	return validBytes, status, nil
}

// advanceHandleCursor moves a handle's (cluster, sector) position forward
// by one sector, following the chain as needed (§4.4's advancement rule,
// reused here for file cursors). It reports true once the chain has been
// exhausted (EOC reached).
func (v *Volume) advanceHandleCursor(h *handle) (bool, error) {
	if h.sectorInCluster+1 < v.chain.SectorsPerCluster() {
		h.sectorInCluster++
		return false, nil
	}

	next, err := v.chain.Follow(h.currentCluster)
	if err != nil {
		return false, err
	}
	if chainfat.IsEOC(next) || chainfat.IsFree(next) {
		return true, nil
	}
	h.currentCluster = next
	h.sectorInCluster = 0
	return false, nil
}

// Seek positions the handle's cursor at sector sectorCount of the file (§4.8,
// §6 Seek opcode). The count is taken from the file's first sector: the
// cursor is reset to the start of the file and then advanced, so it is not
// relative to where earlier Read calls left the cursor. The sentinel
// 0xFFFFFFFF means "seek to the last sector".
func (v *Volume) Seek(idx int, sectorCount uint32) error {
	h, err := v.checkHandle(idx)
	if err != nil {
		return err
	}

	totalSectors := (h.fileSize + 511) / 512
	if totalSectors == 0 {
		if sectorCount != 0 {
			return errs.New(errs.SeekPastEof)
		}
		return nil
	}

	target := sectorCount
	if sectorCount == 0xFFFFFFFF {
		target = totalSectors - 1
	}
	if target >= totalSectors {
		return errs.New(errs.SeekPastEof)
	}

	h.currentCluster = h.startCluster
	h.sectorInCluster = 0
	h.bytesRemaining = h.fileSize
	h.pendingAdvance = false

	for i := uint32(0); i < target; i++ {
		if h.bytesRemaining > 512 {
			h.bytesRemaining -= 512
		} else {
			h.bytesRemaining = 0
		}
		if _, err := v.advanceHandleCursor(h); err != nil {
			return err
		}
	}
	return nil
}

// Write consumes up to 512 bytes from the shared buffer, appending a new
// cluster whenever the handle's cursor crosses a cluster boundary (§4.8,
// SPEC_FULL.md's supplemented Write opcode). n is the number of bytes of
// Buffer() actually written; pass n < 512 only for the final call of a
// file. Status is always errs.Ok; callers drive repeated calls themselves
// and there is no separate close-of-stream signal beyond Close().
//
// The cluster append implied by filling a sector is deferred to the start
// of the write that actually needs the new cluster, not performed eagerly
// at the end of the write that filled the previous one -- a file whose size
// lands on an exact cluster boundary must not end with an allocated cluster
// holding no data.
func (v *Volume) Write(idx int, n int, when dirent.DateTime) error {
	h, err := v.checkHandle(idx)
	if err != nil {
		return err
	}
	if !v.flags.CanWrite() {
		return errs.New(errs.IncorrectOperation)
	}

	if h.pendingAdvance {
		// Append and persistFSInfo load other sectors into the shared
		// buffer, so the caller's data is set aside and restored before the
		// flush below.
		data := v.io.Buffer
		h.pendingAdvance = false
		if h.sectorInCluster+1 < v.chain.SectorsPerCluster() {
			h.sectorInCluster++
		} else {
			newCluster, err := chainfat.Append(v.chain, h.currentCluster, &v.fsi)
			if err != nil {
				return err
			}
			if err := v.persistFSInfo(); err != nil {
				return err
			}
			h.currentCluster = newCluster
			h.sectorInCluster = 0
		}
		v.io.Buffer = data
	}

	sector := v.chain.FirstSectorOfCluster(h.currentCluster) + h.sectorInCluster
	if err := v.io.Flush(sector); err != nil {
		return err
	}

	h.fileSize += uint32(n)
	h.pendingAdvance = n == 512

	return v.updateEntryOnWrite(h, when)
}

func (v *Volume) updateEntryOnWrite(h *handle, when dirent.DateTime) error {
	if err := v.io.Load(h.parentSector); err != nil {
		return err
	}
	offset := h.entryIndex * dirent.EntrySize
	entry := dirent.Decode(v.io.Buffer[offset : offset+dirent.EntrySize])
	entry.Size = h.fileSize
	entry.WriteDate = when.Date()
	entry.WriteTime = when.Time()
	entry.Encode(v.io.Buffer[offset : offset+dirent.EntrySize])
	return v.io.Flush(h.parentSector)
}
