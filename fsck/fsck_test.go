package fsck_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedfat/fat32"
	"github.com/embedfat/fat32/fsck"
	"github.com/embedfat/fat32/hosttest"
)

func mustMount(t *testing.T) (*fat32.Volume, *hosttest.Image) {
	t.Helper()
	img := hosttest.FormatBlank(4096, hosttest.FormatOptions{
		SectorsPerCluster: 1, ReservedSectors: 32, NumFATs: 2,
	})
	vol, err := fat32.Mount(img, fat32.MountReadWrite)
	require.NoError(t, err)
	return vol, img
}

func TestCheckCleanVolumeReportsNoErrors(t *testing.T) {
	vol, _ := mustMount(t)

	require.NoError(t, vol.Mkdir("/docs", 0))
	_, err := vol.Open("/docs/readme.txt", 0)
	require.NoError(t, err)

	report, err := fsck.Check(vol)
	require.NoError(t, err)

	assert.True(t, report.FSInfoHintAccurate)
	assert.GreaterOrEqual(t, report.ReachableClusters, uint32(2)) // docs + readme.txt
	assert.Equal(t, report.TotalClusters-report.ReachableClusters-1, report.FreeClusters)
}

func TestCheckDetectsFATMirrorDivergence(t *testing.T) {
	vol, _ := mustMount(t)
	require.NoError(t, vol.Mkdir("/docs", 0))

	geo := vol.Geometry()
	io := vol.IO()

	// Corrupt mirror 1's copy of the FAT sector holding cluster 2's entry,
	// leaving the primary untouched.
	require.NoError(t, io.Load(geo.FATStartLBA+geo.FATSectors))
	io.Buffer[0] ^= 0xFF
	require.NoError(t, io.Flush(geo.FATStartLBA+geo.FATSectors))

	_, err := fsck.Check(vol)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "diverges from the primary FAT")
}

func TestCheckDetectsDoubleReferencedCluster(t *testing.T) {
	vol, _ := mustMount(t)

	idxA, err := vol.Open("/a.txt", 0)
	require.NoError(t, err)
	require.NoError(t, vol.Close(idxA))
	idxB, err := vol.Open("/b.txt", 0)
	require.NoError(t, err)
	require.NoError(t, vol.Close(idxB))

	geo := vol.Geometry()
	io := vol.IO()
	require.NoError(t, io.Load(geo.DataStartLBA))

	// a.txt is root entry 0, b.txt is root entry 1 (32 bytes each); copy
	// a.txt's low/high cluster words onto b.txt's slot.
	copy(io.Buffer[32+0x1A:32+0x1C], io.Buffer[0x1A:0x1C])
	copy(io.Buffer[32+0x14:32+0x16], io.Buffer[0x14:0x16])
	require.NoError(t, io.Flush(geo.DataStartLBA))

	_, err = fsck.Check(vol)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "referenced by more than one directory entry")
}

func TestCheckDetectsStaleFSInfoHint(t *testing.T) {
	vol, _ := mustMount(t)
	require.NoError(t, vol.Mkdir("/docs", 0))

	geo := vol.Geometry()
	io := vol.IO()

	// Read docs's cluster number straight off the root sector, then zero its
	// FAT entry directly -- bypassing Rmdir/FreeChain entirely, so the
	// in-memory FSInfo hint (still counting docs's cluster as allocated)
	// goes stale relative to what a full scan now finds.
	require.NoError(t, io.Load(geo.DataStartLBA))
	clusterHigh := binary.LittleEndian.Uint16(io.Buffer[20:22])
	clusterLow := binary.LittleEndian.Uint16(io.Buffer[26:28])
	docsCluster := uint32(clusterHigh)<<16 | uint32(clusterLow)

	require.NoError(t, vol.Chain().Set(docsCluster, 0))

	report, err := fsck.Check(vol)
	require.Error(t, err)
	assert.False(t, report.FSInfoHintAccurate)
	assert.Contains(t, err.Error(), "does not match the")
}
