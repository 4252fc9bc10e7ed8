// This file implements L4: the single opcode-dispatch entry point of §6,
// marshaling each operation's parameters and results through the shared
// buffer and the caller-visible register set.
package fat32

import (
	"encoding/binary"

	"github.com/embedfat/fat32/errs"
	"github.com/embedfat/fat32/internal/dirent"
)

// Opcode selects the operation Operate performs (§6).
type Opcode uint8

const (
	OpInit Opcode = iota
	OpBoot
	OpFree
	OpLabel
	OpFsInfoRecalc
	OpDir
	OpCd
	OpMkdir
	OpRmdir
	OpOpen
	OpClose
	OpRead
	OpWrite
	OpSeek
	OpStat
	OpRm
	OpMv
)

// Registers is the caller-visible state outside the shared buffer (§6):
// the last result code, the open-handle index (set by Open, consulted by
// Close/Read/Write; Seek takes its handle from the buffer instead), and the
// byte count of the last sector returned by Read, which Write also reads as
// the number of buffer bytes to write.
type Registers struct {
	LastResult      errs.Code
	OpenHandleIndex int
	LastSectorBytes int
}

// DirContinuation selects whether a Dir call starts a fresh listing or
// continues the one already in progress (§6's "byte 0 = StartOver | Continue").
type DirContinuation byte

const (
	DirStartOver DirContinuation = 0
	DirContinue  DirContinuation = 1
)

func readCString(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

// Operate is the single entry point of §6: `operate(state, opcode, fat_datetime)`.
// Request parameters and the reply both live in Buffer(); reg carries the
// caller-visible registers (handle index, last result, last byte count) and
// is updated in place. An unknown opcode yields IncorrectOperation without
// touching the disk (§7).
func (v *Volume) Operate(opcode Opcode, when dirent.DateTime, reg *Registers) {
	code, err := v.operate(opcode, when, reg)
	if err != nil && !code.IsError() {
		code = errs.CodeOf(err)
	}
	reg.LastResult = code
}

func (v *Volume) operate(opcode Opcode, when dirent.DateTime, reg *Registers) (errs.Code, error) {
	buf := v.Buffer()

	switch opcode {
	case OpInit:
		return errs.Ok, nil

	case OpBoot:
		if err := v.Boot(); err != nil {
			return errs.CodeOf(err), err
		}
		return errs.Ok, nil

	case OpFree:
		count, err := v.Free()
		if err != nil {
			return errs.CodeOf(err), err
		}
		binary.LittleEndian.PutUint32(buf[0:4], count)
		return errs.Ok, nil

	case OpLabel:
		if err := v.Label(); err != nil {
			return errs.CodeOf(err), err
		}
		return errs.Ok, nil

	case OpFsInfoRecalc:
		if err := v.FsInfoRecalc(); err != nil {
			return errs.CodeOf(err), err
		}
		return errs.Ok, nil

	case OpDir:
		startOver := DirContinuation(buf[0]) == DirStartOver
		status, err := v.Dir(startOver)
		if err != nil {
			return status, err
		}
		return status, nil

	case OpCd:
		path := readCString(buf[:])
		if err := v.Cd(path); err != nil {
			return errs.CodeOf(err), err
		}
		return errs.Ok, nil

	case OpMkdir:
		path := readCString(buf[:])
		if err := v.Mkdir(path, when); err != nil {
			return errs.CodeOf(err), err
		}
		return errs.Ok, nil

	case OpRmdir:
		path := readCString(buf[:])
		if err := v.Rmdir(path); err != nil {
			return errs.CodeOf(err), err
		}
		return errs.Ok, nil

	case OpOpen:
		path := readCString(buf[:])
		idx, err := v.Open(path, when)
		if err != nil {
			return errs.CodeOf(err), err
		}
		reg.OpenHandleIndex = idx
		return errs.Ok, nil

	case OpClose:
		if err := v.Close(reg.OpenHandleIndex); err != nil {
			return errs.CodeOf(err), err
		}
		return errs.Ok, nil

	case OpRead:
		n, status, err := v.Read(reg.OpenHandleIndex)
		if err != nil {
			return errs.CodeOf(err), err
		}
		reg.LastSectorBytes = n
		return status, nil

	case OpWrite:
		if err := v.Write(reg.OpenHandleIndex, reg.LastSectorBytes, when); err != nil {
			return errs.CodeOf(err), err
		}
		return errs.Ok, nil

	case OpSeek:
		handleIdx := int(binary.LittleEndian.Uint32(buf[0:4]))
		sectorCount := binary.LittleEndian.Uint32(buf[4:8])
		if err := v.Seek(handleIdx, sectorCount); err != nil {
			return errs.CodeOf(err), err
		}
		return errs.Ok, nil

	case OpStat:
		path := readCString(buf[:])
		if err := v.Stat(path); err != nil {
			return errs.CodeOf(err), err
		}
		return errs.Ok, nil

	case OpRm:
		path := readCString(buf[:])
		if err := v.Rm(path); err != nil {
			return errs.CodeOf(err), err
		}
		return errs.Ok, nil

	case OpMv:
		src := readCString(buf[:])
		dst := readCString(buf[len(src)+1:])
		if err := v.Mv(src, dst); err != nil {
			return errs.CodeOf(err), err
		}
		return errs.Ok, nil

	default:
		return errs.IncorrectOperation, errs.New(errs.IncorrectOperation)
	}
}
