package fat32_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedfat/fat32"
	"github.com/embedfat/fat32/errs"
	"github.com/embedfat/fat32/hardware"
	"github.com/embedfat/fat32/hosttest"
	"github.com/embedfat/fat32/internal/bpb"
)

func mustMount(t *testing.T) *fat32.Volume {
	t.Helper()
	img := hosttest.FormatBlank(8192, hosttest.FormatOptions{
		SectorsPerCluster: 1, ReservedSectors: 32, NumFATs: 2,
	})
	vol, err := fat32.Mount(img, fat32.MountReadWrite)
	require.NoError(t, err)
	return vol
}

func TestMountEmptyVolume(t *testing.T) {
	vol := mustMount(t)

	free, err := vol.Free()
	require.NoError(t, err)
	assert.Greater(t, free, uint32(0))
}

func TestMkdirThenDir(t *testing.T) {
	vol := mustMount(t)

	require.NoError(t, vol.Mkdir("/docs", 0))

	status, err := vol.Dir(true)
	require.NoError(t, err)
	assert.Equal(t, errs.Ok, status)

	assert.Equal(t, byte('D'), vol.Buffer()[0])
}

func TestMkdirDuplicateNameFails(t *testing.T) {
	vol := mustMount(t)

	require.NoError(t, vol.Mkdir("/docs", 0))
	err := vol.Mkdir("/docs", 0)
	assert.Equal(t, errs.FileAlreadyExists, errs.CodeOf(err))
}

func TestCdIntoSubdirectoryAndStat(t *testing.T) {
	vol := mustMount(t)
	require.NoError(t, vol.Mkdir("/docs", 0))
	require.NoError(t, vol.Cd("/docs"))

	err := vol.Stat("/docs")
	require.NoError(t, err)
	assert.NotEqual(t, byte(0), vol.Buffer()[0])
}

func TestRmdirNonEmptyFails(t *testing.T) {
	vol := mustMount(t)
	require.NoError(t, vol.Mkdir("/docs", 0))
	require.NoError(t, vol.Mkdir("/docs/sub", 0))

	err := vol.Rmdir("/docs")
	assert.Equal(t, errs.DirNotEmpty, errs.CodeOf(err))
}

func TestRmdirEmptySucceeds(t *testing.T) {
	vol := mustMount(t)
	require.NoError(t, vol.Mkdir("/docs", 0))
	require.NoError(t, vol.Rmdir("/docs"))

	_, err := vol.Open("/docs", 0)
	// Open creates a zero-length file for any path that doesn't resolve,
	// including one that *used to* be a directory, so this now succeeds
	// as a fresh file rather than reporting PathNotFound.
	assert.NoError(t, err)
}

func TestCreateWriteReadFile(t *testing.T) {
	vol := mustMount(t)

	idx, err := vol.Open("/hello.txt", 0)
	require.NoError(t, err)

	payload := make([]byte, 12)
	copy(payload, "hello world!")
	copy(vol.Buffer()[:], payload)

	require.NoError(t, vol.Write(idx, len(payload), 0))
	require.NoError(t, vol.Close(idx))

	readIdx, err := vol.Open("/hello.txt", 0)
	require.NoError(t, err)

	n, status, err := vol.Read(readIdx)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, errs.Ok, status)
	assert.Equal(t, "hello world!", string(vol.Buffer()[:12]))

	for i := 12; i < 512; i++ {
		assert.Equal(t, byte(0), vol.Buffer()[i], "tail past file size must be zero-filled")
	}
	require.NoError(t, vol.Close(readIdx))
}

func TestOpenExistingDirectoryFails(t *testing.T) {
	vol := mustMount(t)
	require.NoError(t, vol.Mkdir("/docs", 0))

	_, err := vol.Open("/docs", 0)
	assert.Equal(t, errs.NotADirectory, errs.CodeOf(err))
}

func TestTrailingSlashRequiresDirectory(t *testing.T) {
	vol := mustMount(t)

	idx, err := vol.Open("/hello.txt", 0)
	require.NoError(t, err)
	require.NoError(t, vol.Close(idx))

	require.NoError(t, vol.Mkdir("/docs", 0))

	err = vol.Stat("/hello.txt/")
	assert.Equal(t, errs.PathNotFound, errs.CodeOf(err))

	_, err = vol.Open("/hello.txt/", 0)
	assert.Equal(t, errs.PathNotFound, errs.CodeOf(err))

	require.NoError(t, vol.Stat("/docs/"))
}

func TestSeekPastEndOfFileFails(t *testing.T) {
	vol := mustMount(t)

	idx, err := vol.Open("/small.bin", 0)
	require.NoError(t, err)

	payload := make([]byte, 12)
	copy(vol.Buffer()[:], payload)
	require.NoError(t, vol.Write(idx, 12, 0))

	err = vol.Seek(idx, 1)
	assert.Equal(t, errs.SeekPastEof, errs.CodeOf(err))
}

func TestSeekToLastSectorSentinel(t *testing.T) {
	vol := mustMount(t)

	idx, err := vol.Open("/small.bin", 0)
	require.NoError(t, err)
	copy(vol.Buffer()[:], make([]byte, 12))
	require.NoError(t, vol.Write(idx, 12, 0))

	require.NoError(t, vol.Seek(idx, 0xFFFFFFFF))

	n, status, err := vol.Read(idx)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, errs.Ok, status)
}

func TestRemoveAndRecreateFile(t *testing.T) {
	vol := mustMount(t)

	idx, err := vol.Open("/a.txt", 0)
	require.NoError(t, err)
	require.NoError(t, vol.Close(idx))

	require.NoError(t, vol.Rm("/a.txt"))

	idx2, err := vol.Open("/a.txt", 0)
	require.NoError(t, err)
	require.NoError(t, vol.Close(idx2))
}

func TestMvRenamesEntry(t *testing.T) {
	vol := mustMount(t)

	idx, err := vol.Open("/old.txt", 0)
	require.NoError(t, err)
	require.NoError(t, vol.Close(idx))

	require.NoError(t, vol.Mv("/old.txt", "/new.txt"))

	_, err = vol.Open("/old.txt", 0)
	assert.NoError(t, err) // a fresh file is created where the old one used to be.

	newIdx, err := vol.Open("/new.txt", 0)
	require.NoError(t, err)
	require.NoError(t, vol.Close(newIdx))
}

func TestRootCannotBeRemoved(t *testing.T) {
	vol := mustMount(t)
	err := vol.Rmdir("/")
	assert.Equal(t, errs.NotADirectory, errs.CodeOf(err))
}

func TestPathTooLongRejected(t *testing.T) {
	vol := mustMount(t)

	longPath := "/"
	for i := 0; i < 130; i++ {
		longPath += "a"
	}
	_, err := vol.Open(longPath, 0)
	assert.Equal(t, errs.FilePathTooLong, errs.CodeOf(err))
}

func TestTooManyFilesOpen(t *testing.T) {
	vol := mustMount(t)

	names := []string{"/f1", "/f2", "/f3", "/f4"}
	for _, n := range names {
		_, err := vol.Open(n, 0)
		require.NoError(t, err)
	}

	_, err := vol.Open("/f5", 0)
	assert.Equal(t, errs.TooManyFilesOpen, errs.CodeOf(err))
}

func TestFileSpanningMultipleClusters(t *testing.T) {
	vol := mustMount(t)

	idx, err := vol.Open("/big.bin", 0)
	require.NoError(t, err)

	// SectorsPerCluster is 1 in this fixture, so a full-sector write
	// followed by a second write forces a cluster-boundary crossing via
	// chainfat.Append.
	first := make([]byte, 512)
	for i := range first {
		first[i] = 0xAB
	}
	copy(vol.Buffer()[:], first)
	require.NoError(t, vol.Write(idx, 512, 0))

	second := make([]byte, 300)
	for i := range second {
		second[i] = 0xCD
	}
	for i := range vol.Buffer() {
		vol.Buffer()[i] = 0
	}
	copy(vol.Buffer()[:], second)
	require.NoError(t, vol.Write(idx, 300, 0))
	require.NoError(t, vol.Close(idx))

	readIdx, err := vol.Open("/big.bin", 0)
	require.NoError(t, err)

	n, status, err := vol.Read(readIdx)
	require.NoError(t, err)
	assert.Equal(t, 512, n)
	assert.Equal(t, errs.MoreData, status)
	assert.Equal(t, byte(0xAB), vol.Buffer()[0])

	n, status, err = vol.Read(readIdx)
	require.NoError(t, err)
	assert.Equal(t, 300, n)
	assert.Equal(t, errs.Ok, status)
	assert.Equal(t, byte(0xCD), vol.Buffer()[0])
	require.NoError(t, vol.Close(readIdx))
}

func bufferCString(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

func TestLabelTrimsSpacePadding(t *testing.T) {
	img := hosttest.FormatBlank(8192, hosttest.FormatOptions{
		SectorsPerCluster: 1, ReservedSectors: 32, NumFATs: 2,
	})

	var boot hardware.Sector
	require.True(t, img.ReadSector(0, &boot))
	copy(boot[bpb.VolumeLabelOffset:bpb.VolumeLabelOffset+bpb.VolumeLabelSize], "MYDISK     ")
	require.True(t, img.WriteSector(0, &boot))

	vol, err := fat32.Mount(img, fat32.MountReadWrite)
	require.NoError(t, err)

	require.NoError(t, vol.Label())
	assert.Equal(t, "MYDISK", bufferCString(vol.Buffer()[:]))
}

func TestLabelEmptyWhenAllSpaces(t *testing.T) {
	img := hosttest.FormatBlank(8192, hosttest.FormatOptions{
		SectorsPerCluster: 1, ReservedSectors: 32, NumFATs: 2,
	})

	var boot hardware.Sector
	require.True(t, img.ReadSector(0, &boot))
	copy(boot[bpb.VolumeLabelOffset:bpb.VolumeLabelOffset+bpb.VolumeLabelSize], "           ")
	require.True(t, img.WriteSector(0, &boot))

	vol, err := fat32.Mount(img, fat32.MountReadWrite)
	require.NoError(t, err)

	require.NoError(t, vol.Label())
	assert.Equal(t, "", bufferCString(vol.Buffer()[:]))
}
