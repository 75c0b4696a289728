package pipeline

import (
	"os"
	"path/filepath"

	"github.com/jmylchreest/reelcast/internal/style"
)

// musicExtensions are the track formats looked up, in order.
var musicExtensions = []string{".m4a", ".mp3", ".aac", ".ogg", ".flac", ".wav"}

// MusicLibrary resolves a plan's music category to a track on disk. Tracks
// are named after the category, e.g. upbeat.mp3.
type MusicLibrary struct {
	dir string
}

// NewMusicLibrary creates a library rooted at dir. An empty dir yields a
// library with no tracks.
func NewMusicLibrary(dir string) *MusicLibrary {
	return &MusicLibrary{dir: dir}
}

// Track returns the track for category, or "" when there is none.
func (l *MusicLibrary) Track(category style.MusicCategory) string {
	if l == nil || l.dir == "" || category == style.MusicNone {
		return ""
	}
	for _, ext := range musicExtensions {
		path := filepath.Join(l.dir, category.String()+ext)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
			return path
		}
	}
	return ""
}
