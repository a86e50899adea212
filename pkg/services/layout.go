package services

import (
	"path/filepath"
	"strings"

	"github.com/FosterG4/mangadex-manga-scrapper/pkg/data"
)

const (
	volumePrefix  = "Vol."
	chapterPrefix = "Ch."
)

var titleSanitizer = strings.NewReplacer(
	"<", "_",
	">", "_",
	":", "_",
	"\"", "_",
	"/", "_",
	"\\", "_",
	"|", "_",
	"?", "_",
	"*", "_",
)

// SanitizeTitle makes a manga title safe for use as a directory name.
// The sanitized form is the stable key for a manga's directory, so it
// must stay reproducible across runs.
func SanitizeTitle(title string) string {
	return strings.TrimSpace(titleSanitizer.Replace(title))
}

// Layout is the pure mapping between (title, volume, chapter) and a
// directory path. The reconciler relies on it to compute move targets
// without touching the disk.
type Layout struct {
	root string
}

func NewLayout(root string) *Layout {
	return &Layout{root: root}
}

func (l *Layout) Root() string {
	return l.root
}

func (l *Layout) MangaDir(title string) string {
	return filepath.Join(l.root, SanitizeTitle(title))
}

// ChapterDir resolves the chapter directory. Chapters without a volume
// assignment ("" or the API's none/null sentinels) live directly under
// the manga root.
func (l *Layout) ChapterDir(title, volume, chapter string) string {
	volume = data.NormalizeVolume(volume)
	if volume != "" {
		return filepath.Join(l.MangaDir(title), volumePrefix+volume, chapterPrefix+chapter)
	}
	return filepath.Join(l.MangaDir(title), chapterPrefix+chapter)
}
