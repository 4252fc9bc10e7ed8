package chainfat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedfat/fat32/hosttest"
	"github.com/embedfat/fat32/internal/blockio"
	"github.com/embedfat/fat32/internal/bpb"
	"github.com/embedfat/fat32/internal/chainfat"
)

// newTestChain formats a small blank image and returns a Chain bound to it,
// along with the io handle so tests can inspect raw sectors.
func newTestChain(t *testing.T) (*chainfat.Chain, *blockio.IO, bpb.Geometry) {
	t.Helper()
	img := hosttest.FormatBlank(4096, hosttest.FormatOptions{
		SectorsPerCluster: 1, ReservedSectors: 32, NumFATs: 2,
	})

	io := blockio.New(img)
	require.NoError(t, io.ReadAbsolute(0))

	geo, err := bpb.Parse(io.Buffer[:], 0)
	require.NoError(t, err)
	io.SetPartitionStart(0)

	return chainfat.New(io, geo), io, geo
}

func TestIsEOCAndIsFree(t *testing.T) {
	assert.True(t, chainfat.IsEOC(chainfat.EOCLow))
	assert.True(t, chainfat.IsEOC(chainfat.EOCHigh))
	assert.False(t, chainfat.IsEOC(5))
	assert.True(t, chainfat.IsFree(0))
	assert.False(t, chainfat.IsFree(5))
}

func TestFollowRootCluster(t *testing.T) {
	chain, _, _ := newTestChain(t)

	v, err := chain.Follow(2)
	require.NoError(t, err)
	assert.True(t, chainfat.IsEOC(v))
}

func TestSetWritesEveryMirror(t *testing.T) {
	chain, io, geo := newTestChain(t)

	require.NoError(t, chain.Set(3, 0x00001234))

	v, err := chain.Follow(3)
	require.NoError(t, err)
	assert.EqualValues(t, 0x00001234, v)

	for mirror := uint32(1); mirror < uint32(geo.FATCount); mirror++ {
		require.NoError(t, io.Load(geo.FATStartLBA+mirror*geo.FATSectors))
		primarySector := geo.FATStartLBA
		require.NoError(t, io.Load(primarySector))
		var primary [512]byte
		copy(primary[:], io.Buffer[:])

		require.NoError(t, io.Load(geo.FATStartLBA + mirror*geo.FATSectors))
		assert.Equal(t, primary, io.Buffer)
	}
}

func TestFindFirstFreeSkipsReserved(t *testing.T) {
	chain, _, _ := newTestChain(t)

	cluster, err := chain.FindFirstFree(2)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cluster, uint32(2))
	assert.NotEqual(t, uint32(2), cluster) // cluster 2 is the root, already EOC.
}

func TestAppendLinksAndMarksEOC(t *testing.T) {
	chain, _, _ := newTestChain(t)

	fsi := chainfat.FSInfo{FreeClusterCount: chainfat.Unknown, NextFreeCluster: chainfat.Unknown}
	newCluster, err := chainfat.Append(chain, 2, &fsi)
	require.NoError(t, err)

	linked, err := chain.Follow(2)
	require.NoError(t, err)
	assert.Equal(t, newCluster, linked)

	tail, err := chain.Follow(newCluster)
	require.NoError(t, err)
	assert.True(t, chainfat.IsEOC(tail))
}

func TestFreeChainFreesEveryLink(t *testing.T) {
	chain, _, _ := newTestChain(t)

	fsi := chainfat.FSInfo{FreeClusterCount: chainfat.Unknown, NextFreeCluster: chainfat.Unknown}
	second, err := chainfat.Append(chain, 2, &fsi)
	require.NoError(t, err)
	third, err := chainfat.Append(chain, second, &fsi)
	require.NoError(t, err)

	require.NoError(t, chain.Set(2, chainfat.EOCHigh)) // detach root from the test chain first

	freed, err := chainfat.FreeChain(chain, second)
	require.NoError(t, err)
	assert.EqualValues(t, 2, freed)

	v, err := chain.Follow(second)
	require.NoError(t, err)
	assert.True(t, chainfat.IsFree(v))

	v, err = chain.Follow(third)
	require.NoError(t, err)
	assert.True(t, chainfat.IsFree(v))
}

func TestFSInfoRoundTrip(t *testing.T) {
	_, io, geo := newTestChain(t)

	fsi := chainfat.FSInfo{FreeClusterCount: 100, NextFreeCluster: 50}
	require.NoError(t, chainfat.WriteFSInfo(io, geo.FSInfoLBA, fsi))

	readBack, err := chainfat.ReadFSInfo(io, geo.FSInfoLBA)
	require.NoError(t, err)
	assert.Equal(t, fsi, readBack)
}

func TestRecalculateCountsFreeClusters(t *testing.T) {
	chain, io, geo := newTestChain(t)

	fsi, err := chainfat.Recalculate(chain, geo.FSInfoLBA)
	require.NoError(t, err)

	total := geo.TotalClusters()
	assert.EqualValues(t, total-1, fsi.FreeClusterCount) // every cluster free except root (cluster 2).

	readBack, err := chainfat.ReadFSInfo(io, geo.FSInfoLBA)
	require.NoError(t, err)
	assert.Equal(t, fsi, readBack)
}

func TestFirstSectorOfClusterAndSectorsPerCluster(t *testing.T) {
	chain, _, geo := newTestChain(t)

	assert.EqualValues(t, geo.DataStartLBA, chain.FirstSectorOfCluster(2))
	assert.EqualValues(t, geo.SectorsPerCluster, chain.SectorsPerCluster())
}

func TestFollowReservedSlotsAreEOC(t *testing.T) {
	chain, _, _ := newTestChain(t)

	for _, cluster := range []uint32{0, 1} {
		v, err := chain.Follow(cluster)
		require.NoError(t, err)
		assert.True(t, chainfat.IsEOC(v), "reserved cluster %d should read as EOC", cluster)
	}
}
