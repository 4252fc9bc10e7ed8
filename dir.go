package fat32

import (
	"github.com/embedfat/fat32/errs"
	"github.com/embedfat/fat32/internal/dirent"
)

// Dir streams the current directory's raw entry sectors a page at a time
// (§4.4 mode 1, §6 Dir opcode). Call it with startOver=true to begin a new
// listing; the returned page lands in Buffer(). A result of errs.MoreData
// means call Dir again with startOver=false to fetch the next page; errs.Ok
// means the page just returned was the last one.
//
// Per §9's resolved ambiguity, "." and "..", where present, are included in
// the listing, matching what ordinary FAT32 tooling shows.
func (v *Volume) Dir(startOver bool) (errs.Code, error) {
	if startOver || !v.dirCursorActive {
		v.dirCursor = dirent.Cursor{Cluster: v.currentDirCluster}
		v.dirCursorActive = true
	}

	scanner := dirent.NewScanner(v.chain, v.io, v.dirCursor.Cluster)
	scanner.SeekTo(v.dirCursor)

	status, err := scanner.Step()
	if err != nil {
		v.dirCursorActive = false
		return errs.IoError, err
	}

	v.dirCursor = scanner.Position()
	if status == errs.Ok {
		v.dirCursorActive = false
	}
	return status, nil
}
