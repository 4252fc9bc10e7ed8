// Package media classifies a mounted volume's geometry against known
// flash-media capacity bands, the way the teacher's disks package classifies
// a requested image size against named floppy/disk geometries -- repurposed
// here from "pick a geometry to format" (a Non-goal of this driver) to
// "report what kind of card this probably is" for cmd/fat32ctl's info
// command.
package media

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/embedfat/fat32/internal/bpb"
)

// Preset is one row of the capacity-band table.
type Preset struct {
	Name       string `csv:"name"`
	Slug       string `csv:"slug"`
	MinBytes   uint64 `csv:"min_bytes"`
	MaxBytes   uint64 `csv:"max_bytes"`
	FormFactor string `csv:"form_factor"`
	Notes      string `csv:"notes"`
}

//go:embed presets.csv
var presetsRawCSV string

var presets []Preset
var presetsBySlug map[string]Preset

func init() {
	presetsBySlug = make(map[string]Preset)
	err := gocsv.UnmarshalToCallback(strings.NewReader(presetsRawCSV), func(row Preset) error {
		if _, exists := presetsBySlug[row.Slug]; exists {
			return fmt.Errorf("duplicate media preset slug %q", row.Slug)
		}
		presetsBySlug[row.Slug] = row
		presets = append(presets, row)
		return nil
	})
	if err != nil {
		panic(fmt.Sprintf("media: malformed embedded preset table: %v", err))
	}
}

// GetPreset looks up a capacity band by its slug ("sd", "sdhc", "sdxc", ...).
func GetPreset(slug string) (Preset, error) {
	preset, ok := presetsBySlug[slug]
	if !ok {
		return Preset{}, fmt.Errorf("no predefined media preset with slug %q", slug)
	}
	return preset, nil
}

// VolumeSizeBytes computes the total addressable byte size a mounted
// volume's geometry describes, the data region plus everything reserved
// ahead of it.
func VolumeSizeBytes(geo bpb.Geometry) uint64 {
	return uint64(geo.TotalSectors) * uint64(geo.BytesPerSector)
}

// Classify returns the capacity band whose [MinBytes, MaxBytes) range the
// volume's total size falls into. A volume formatted oversized or
// undersized relative to every known band is reported as an error rather
// than guessed at.
func Classify(geo bpb.Geometry) (Preset, error) {
	size := VolumeSizeBytes(geo)
	for _, p := range presets {
		if size >= p.MinBytes && size < p.MaxBytes {
			return p, nil
		}
	}
	return Preset{}, fmt.Errorf("volume size %d bytes does not fall within any known media capacity band", size)
}
