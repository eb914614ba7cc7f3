// Copyright the uslossd authors. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package kernel

import (
	"os"
	"strconv"
)

// Config holds the compile-time configuration constants spec.md assumes
// are supplied by the surrounding runtime (MAXPROC, MAXLINE, disk and
// terminal unit counts, disk geometry). ApplyDefaults fills any
// zero-valued field, the same way the teacher's CollectionConfig.ApplyDefaults
// backfills unset collector configuration.
type Config struct {
	MaxProcs int

	// MaxLine is the terminal line-framing boundary. Fixed by spec.md at
	// 80; callers should generally leave this at its default.
	MaxLine int

	DiskUnits int
	TermUnits int

	SectorsPerTrack int
	SectorSize      int
	DiskTracks      int
}

// DefaultConfig returns the configuration spec.md's worked examples
// assume: 32 tracks, 16 sectors/track, 512-byte sectors, one disk unit,
// one terminal unit.
func DefaultConfig() Config {
	return Config{
		MaxProcs:        50,
		MaxLine:         80,
		DiskUnits:       1,
		TermUnits:       1,
		SectorsPerTrack: 16,
		SectorSize:      512,
		DiskTracks:      32,
	}
}

// ApplyDefaults fills zero-valued fields of c from DefaultConfig,
// leaving any field the caller already set untouched.
func (c Config) ApplyDefaults() Config {
	d := DefaultConfig()
	if c.MaxProcs == 0 {
		c.MaxProcs = d.MaxProcs
	}
	if c.MaxLine == 0 {
		c.MaxLine = d.MaxLine
	}
	if c.DiskUnits == 0 {
		c.DiskUnits = d.DiskUnits
	}
	if c.TermUnits == 0 {
		c.TermUnits = d.TermUnits
	}
	if c.SectorsPerTrack == 0 {
		c.SectorsPerTrack = d.SectorsPerTrack
	}
	if c.SectorSize == 0 {
		c.SectorSize = d.SectorSize
	}
	if c.DiskTracks == 0 {
		c.DiskTracks = d.DiskTracks
	}
	return c
}

// envOverrides applies USLOSSD_* environment variable overrides on top
// of c, mirroring performance.NewManager's HOST_PROC/HOST_SYS/HOST_DEV
// environment-override pattern.
func (c Config) envOverrides() Config {
	if v, ok := intEnv("USLOSSD_DISK_UNITS"); ok {
		c.DiskUnits = v
	}
	if v, ok := intEnv("USLOSSD_TERM_UNITS"); ok {
		c.TermUnits = v
	}
	if v, ok := intEnv("USLOSSD_DISK_TRACKS"); ok {
		c.DiskTracks = v
	}
	return c
}

func intEnv(name string) (int, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// LoadConfig builds a Config from defaults, then from environment
// overrides, the order cmd/uslossd applies them in.
func LoadConfig() Config {
	return DefaultConfig().envOverrides()
}
