// Package fat32 is an on-disk FAT32 metadata engine for hosts with only
// block-level access to storage (spec §1). It mounts exactly one volume at
// a time and holds exactly one 512-byte sector buffer. Sector, FAT-chain and
// directory-entry work allocate nothing; path handling does allocate: each
// resolve builds a slice of path components, and splitting off a parent path
// concatenates strings.
//
// Per the redesign in spec §9, all state that the reference implementation
// kept as process-wide globals -- geometry, current directory, open-handle
// table, path scratch buffer -- is bound to a single Volume value instead,
// so multiple volumes can coexist in one process and be exercised from
// tests in parallel.
package fat32

import (
	"github.com/embedfat/fat32/hardware"
	"github.com/embedfat/fat32/internal/blockio"
	"github.com/embedfat/fat32/internal/bpb"
	"github.com/embedfat/fat32/internal/chainfat"
	"github.com/embedfat/fat32/internal/dirent"
)

// MaxOpenFiles is the number of concurrent user-visible file handles (spec
// §3: "a fixed-size table of up to N concurrent handles, N small, e.g.
// 3-4"), not counting the one reserved slot for internal directory
// traversal.
const MaxOpenFiles = 4

// MaxPathLength is the longest path this driver will resolve (§4.6).
const MaxPathLength = 128

// MountFlags gates which mutating operations a mounted Volume will permit,
// modeled on the teacher's disko.MountFlags bitmask (api.go) but trimmed to
// the distinctions this driver actually enforces.
type MountFlags uint8

const (
	MountAllowRead MountFlags = 1 << iota
	MountAllowWrite
	MountAllowInsert
	MountAllowDelete
)

// MountReadWrite is shorthand for mounting with full read/write/insert/
// delete permission.
const MountReadWrite = MountAllowRead | MountAllowWrite | MountAllowInsert | MountAllowDelete

func (f MountFlags) CanRead() bool   { return f&MountAllowRead != 0 }
func (f MountFlags) CanWrite() bool  { return f&MountAllowWrite != 0 }
func (f MountFlags) CanInsert() bool { return f&MountAllowInsert != 0 }
func (f MountFlags) CanDelete() bool { return f&MountAllowDelete != 0 }

// handle is one slot of the open-file table (§3).
type handle struct {
	inUse           bool
	startCluster    uint32
	currentCluster  uint32
	sectorInCluster uint32
	bytesRemaining  uint32
	fileSize        uint32
	// pendingAdvance defers the cluster-boundary-crossing decision from the
	// write that filled the current sector to the write that actually needs
	// the next one, so a file sized an exact multiple of the cluster size
	// never ends in an allocated-but-dataless trailing cluster.
	pendingAdvance bool
	// location of the directory entry backing this handle, so Write can
	// patch its size/write-timestamp after every write (§4.8).
	parentCluster uint32
	parentSector  uint32
	entryIndex    int
}

// Volume is the explicit handle threading geometry, the open-file table,
// and the current directory through every operation (spec §9's redesign
// note). Mutation is confined to the methods that own each piece of state;
// two Volumes never share a buffer, so two mounted images can be driven
// concurrently by independent goroutines as long as each Volume is only
// ever used by one caller at a time (spec §5: single logical requester).
type Volume struct {
	io    *blockio.IO
	geo   bpb.Geometry
	chain *chainfat.Chain
	fsi   chainfat.FSInfo

	flags MountFlags

	currentDirCluster uint32
	handles           [MaxOpenFiles]handle

	// dirCursor is the one reserved slot for internal directory traversal
	// (§3), driving the Dir opcode's StartOver/Continue streaming protocol
	// independently of the user-visible file handle table.
	dirCursorActive bool
	dirCursor       dirent.Cursor
}

// Buffer returns the single shared 512-byte sector buffer (§3 invariant 6,
// §6: "both living in the 512-byte shared buffer"). Dispatch marshals
// opcode parameters and results through it.
func (v *Volume) Buffer() *hardware.Sector {
	return &v.io.Buffer
}

// IO exposes the volume's block-I/O handle to in-module diagnostic
// packages (fsck) that need to read raw sectors the driver itself never
// has a reason to touch, such as comparing FAT mirrors byte-for-byte.
func (v *Volume) IO() *blockio.IO {
	return v.io
}

// Chain exposes the volume's FAT chain primitives to fsck.
func (v *Volume) Chain() *chainfat.Chain {
	return v.chain
}

// Mount discovers volume geometry and opens the root directory as the
// initial current directory (§4.1).
func Mount(dev hardware.Device, flags MountFlags) (*Volume, error) {
	io := blockio.New(dev)

	if err := io.ReadAbsolute(0); err != nil {
		return nil, err
	}

	var partitionStart uint32
	var bootSector [512]byte
	if bpb.IsBootSectorItself(io.Buffer[:]) {
		partitionStart = 0
		copy(bootSector[:], io.Buffer[:])
	} else {
		partitionStart = bpb.PartitionStartFromMBR(io.Buffer[:])
		if err := io.ReadAbsolute(partitionStart); err != nil {
			return nil, err
		}
		copy(bootSector[:], io.Buffer[:])
	}

	geo, err := bpb.Parse(bootSector[:], partitionStart)
	if err != nil {
		return nil, err
	}
	io.SetPartitionStart(partitionStart)

	chain := chainfat.New(io, geo)

	fsi, err := chainfat.ReadFSInfo(io, geo.FSInfoLBA)
	if err != nil {
		return nil, err
	}
	if fsi.FreeClusterCount == chainfat.Unknown {
		fsi, err = chainfat.Recalculate(chain, geo.FSInfoLBA)
		if err != nil {
			return nil, err
		}
	}

	return &Volume{
		io:                io,
		geo:               geo,
		chain:             chain,
		fsi:               fsi,
		flags:             flags,
		currentDirCluster: geo.RootCluster,
	}, nil
}

// Geometry returns the volume's read-only layout, for host inspection and
// the media/fsck packages.
func (v *Volume) Geometry() bpb.Geometry {
	return v.geo
}

// Free reports the free-cluster count hint from FSInfo (§6 Free opcode).
// Per §3, FSInfo is a hint, never truth -- callers who need an exact count
// should invoke FsInfoRecalc first (or use the fsck package).
func (v *Volume) Free() (uint32, error) {
	return v.fsi.FreeClusterCount, nil
}

// FsInfoRecalc rebuilds the FSInfo hints from a full FAT scan (§4.3, §6).
func (v *Volume) FsInfoRecalc() error {
	fsi, err := chainfat.Recalculate(v.chain, v.geo.FSInfoLBA)
	if err != nil {
		return err
	}
	v.fsi = fsi
	return nil
}

// Boot loads the raw boot sector into the shared buffer for host inspection
// (§6 Boot opcode).
func (v *Volume) Boot() error {
	return v.io.Load(0)
}

func (v *Volume) persistFSInfo() error {
	return chainfat.WriteFSInfo(v.io, v.geo.FSInfoLBA, v.fsi)
}
