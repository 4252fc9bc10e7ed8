package fat32

import "github.com/embedfat/fat32/internal/bpb"

// Label reads the volume label out of the boot sector's extended BPB and
// copies it, right-trimmed of its space padding and NUL-terminated, to the
// front of the shared buffer (SPEC_FULL.md's supplemented Label opcode,
// grounded on the original driver's f_label). An all-space label yields an
// empty (single NUL byte) string, matching the original's trim loop.
func (v *Volume) Label() error {
	if err := v.io.Load(0); err != nil {
		return err
	}

	var label [bpb.VolumeLabelSize]byte
	copy(label[:], v.io.Buffer[bpb.VolumeLabelOffset:bpb.VolumeLabelOffset+bpb.VolumeLabelSize])

	end := len(label)
	for end > 0 && label[end-1] == ' ' {
		end--
	}

	copy(v.io.Buffer[:], label[:end])
	v.io.Buffer[end] = 0
	return nil
}
