// Package sectorbuf wraps the single shared 512-byte sector buffer (spec §3
// invariant 6) as a bounded io.Writer, so code that packs BPB/FSInfo/FAT
// fields into a sector in place can never grow or reallocate it.
package sectorbuf

import (
	"encoding/binary"

	"github.com/noxer/bytewriter"
)

// Writer writes sequentially into a pre-allocated, fixed-size buffer,
// refusing to write past its end instead of growing it. hosttest.FormatBlank
// uses it to pack the boot sector, FSInfo sector and first FAT sector of a
// synthesized image; the driver's own encoders in internal/bpb,
// internal/chainfat and internal/dirent use encoding/binary directly.
type Writer struct {
	bw  *bytewriter.Writer
	buf []byte
}

// NewAt returns a Writer that writes into buf starting at byte offset
// offset. Writes past len(buf) return an error instead of panicking or
// reallocating.
func NewAt(buf []byte, offset int) *Writer {
	return &Writer{bw: bytewriter.New(buf[offset:]), buf: buf}
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.bw.Write(p)
}

// PutUint16 writes a little-endian uint16 at the writer's current position.
func (w *Writer) PutUint16(v uint16) error {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	_, err := w.Write(tmp[:])
	return err
}

// PutUint32 writes a little-endian uint32 at the writer's current position.
func (w *Writer) PutUint32(v uint32) error {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	_, err := w.Write(tmp[:])
	return err
}

// PutByte writes a single byte at the writer's current position.
func (w *Writer) PutByte(v byte) error {
	_, err := w.Write([]byte{v})
	return err
}
