// Package ffmpeg wraps the ffmpeg and ffprobe binaries: argument building,
// filter graph construction, probing, snapshot extraction and progress
// parsing.
package ffmpeg

import (
	"fmt"

	"github.com/jmylchreest/reelcast/internal/util"
)

// Environment variables consulted when no explicit binary path is configured.
const (
	EnvFFmpegBinary  = "REELCAST_FFMPEG_BINARY"
	EnvFFprobeBinary = "REELCAST_FFPROBE_BINARY"
)

// Binaries holds the resolved paths of the engine executables.
type Binaries struct {
	FFmpeg  string
	FFprobe string
}

// binaryDirs are searched after the current directory and before PATH.
var binaryDirs = []string{".", "/usr/local/bin", "/opt/ffmpeg/bin"}

// FindBinaries resolves ffmpeg and ffprobe. A non-empty path must point at an
// executable; empty paths fall back to discovery.
func FindBinaries(ffmpegPath, ffprobePath string) (Binaries, error) {
	ffmpegBin, err := util.FindBinaryIn(util.BinaryLookup{
		Name:     "ffmpeg",
		Explicit: ffmpegPath,
		EnvVar:   EnvFFmpegBinary,
		Dirs:     binaryDirs,
	})
	if err != nil {
		return Binaries{}, fmt.Errorf("locating ffmpeg: %w", err)
	}

	ffprobeBin, err := util.FindBinaryIn(util.BinaryLookup{
		Name:     "ffprobe",
		Explicit: ffprobePath,
		EnvVar:   EnvFFprobeBinary,
		Dirs:     binaryDirs,
	})
	if err != nil {
		return Binaries{}, fmt.Errorf("locating ffprobe: %w", err)
	}

	return Binaries{FFmpeg: ffmpegBin, FFprobe: ffprobeBin}, nil
}
