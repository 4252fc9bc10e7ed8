package hosttest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedfat/fat32/hardware"
	"github.com/embedfat/fat32/hosttest"
	"github.com/embedfat/fat32/internal/bpb"
)

func TestReadWriteSectorRoundTrip(t *testing.T) {
	img := hosttest.NewBlank(4)

	var sector hardware.Sector
	copy(sector[:], "hello sector")
	require.True(t, img.WriteSector(2, &sector))

	var readBack hardware.Sector
	require.True(t, img.ReadSector(2, &readBack))
	assert.Equal(t, sector, readBack)
}

func TestReadWriteSectorOutOfRangeFails(t *testing.T) {
	img := hosttest.NewBlank(2)

	var sector hardware.Sector
	assert.False(t, img.WriteSector(5, &sector))
	assert.False(t, img.ReadSector(5, &sector))
}

func TestNewFromBytesWritesThrough(t *testing.T) {
	buf := make([]byte, 3*hardware.SectorSize)
	img := hosttest.NewFromBytes(buf)

	var sector hardware.Sector
	sector[0] = 0xAB
	require.True(t, img.WriteSector(1, &sector))

	assert.Equal(t, byte(0xAB), img.Bytes()[hardware.SectorSize])
}

func TestFormatBlankProducesParsableBootSector(t *testing.T) {
	img := hosttest.FormatBlank(4096, hosttest.FormatOptions{
		SectorsPerCluster: 1, ReservedSectors: 32, NumFATs: 2,
	})

	var boot hardware.Sector
	require.True(t, img.ReadSector(0, &boot))

	assert.True(t, bpb.IsBootSectorItself(boot[:]))

	geo, err := bpb.Parse(boot[:], 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, geo.RootCluster)
	assert.EqualValues(t, 2, geo.FATCount)
	assert.EqualValues(t, 32, geo.FATStartLBA)
}

func TestFormatBlankRootClusterIsEndOfChain(t *testing.T) {
	img := hosttest.FormatBlank(4096, hosttest.FormatOptions{
		SectorsPerCluster: 1, ReservedSectors: 32, NumFATs: 2,
	})

	var boot hardware.Sector
	require.True(t, img.ReadSector(0, &boot))
	geo, err := bpb.Parse(boot[:], 0)
	require.NoError(t, err)

	var fatSector hardware.Sector
	require.True(t, img.ReadSector(geo.FATStartLBA, &fatSector))
	// Cluster 2's pointer occupies the third 32-bit slot of the first FAT
	// sector.
	entry := uint32(fatSector[8]) | uint32(fatSector[9])<<8 | uint32(fatSector[10])<<16 | uint32(fatSector[11])<<24
	assert.Equal(t, uint32(0x0FFFFFFF), entry)
}

func TestDefaultFormatOptions(t *testing.T) {
	opts := hosttest.DefaultFormatOptions()
	assert.EqualValues(t, 8, opts.SectorsPerCluster)
	assert.EqualValues(t, 32, opts.ReservedSectors)
	assert.EqualValues(t, 2, opts.NumFATs)
}
