package services

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/FosterG4/mangadex-manga-scrapper/pkg/data"
	"github.com/FosterG4/mangadex-manga-scrapper/pkg/sources"
)

// knownLanguageCodes are folder names left behind by early versions that
// named the manga directory after the download language.
var knownLanguageCodes = []string{"ja", "en", "es", "fr", "de", "ko", "zh", "pt", "pt-br"}

// Reconciler converges the on-disk volume/chapter layout with the
// current remote catalog. Volume reassignments become directory moves,
// never re-downloads, so already-fetched pages are preserved and a
// second run with no remote change is a no-op.
//
// Reconciliation is strictly best-effort: every failure is logged and
// swallowed, and the download proceeds as if no reconciliation happened.
type Reconciler struct {
	source sources.Source
	layout *Layout
}

func NewReconciler(source sources.Source, layout *Layout) *Reconciler {
	return &Reconciler{source: source, layout: layout}
}

// Reconcile renames a legacy manga folder to the canonical title if
// needed, then moves chapter directories whose volume assignment changed
// upstream. Returns the number of chapters moved.
func (r *Reconciler) Reconcile(mangaID, mangaTitle, language string) int {
	mangaDir := r.layout.MangaDir(mangaTitle)

	if _, err := os.Stat(mangaDir); os.IsNotExist(err) {
		r.renameLegacyDir(mangaDir)
	}
	if _, err := os.Stat(mangaDir); err != nil {
		return 0
	}
	return r.updateVolumeStructure(mangaDir, mangaTitle, mangaID, language)
}

// renameLegacyDir looks for a top-level directory that is really this
// manga under an old language-code name and renames it to mangaDir.
func (r *Reconciler) renameLegacyDir(mangaDir string) {
	entries, err := os.ReadDir(r.layout.Root())
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if len(name) > 3 && !contains(knownLanguageCodes, name) {
			continue
		}
		candidate := filepath.Join(r.layout.Root(), entry.Name())
		if !hasChapterDirs(candidate) {
			continue
		}
		log.Printf("found legacy folder %q, renaming to %q", entry.Name(), filepath.Base(mangaDir))
		if err := os.Rename(candidate, mangaDir); err != nil {
			log.Printf("could not rename legacy folder: %v", err)
			continue
		}
		return
	}
}

func (r *Reconciler) updateVolumeStructure(mangaDir, mangaTitle, mangaID, language string) int {
	local := scanLocalChapters(mangaDir)
	if len(local) == 0 {
		return 0
	}

	chapters, err := r.source.GetChapters(mangaID, language)
	if err != nil {
		log.Printf("could not update volume structure: %v", err)
		return 0
	}

	remote := make(map[string]string, len(chapters))
	for _, ch := range chapters {
		remote[ch.Number] = data.NormalizeVolume(ch.Volume)
	}

	changes := diffAssignments(local, remote)
	if len(changes) == 0 {
		return 0
	}
	log.Printf("detected %d volume assignment changes, updating structure", len(changes))

	moved := 0
	for _, change := range changes {
		if r.applyChange(mangaDir, mangaTitle, change) {
			moved++
		}
	}
	return moved
}

// scanLocalChapters walks one level for Ch.* entries and one level into
// Vol.* directories, building the locally observed volume assignment.
// Chapter numbers are the raw directory suffixes, no normalization.
func scanLocalChapters(mangaDir string) map[string]data.LocalChapter {
	local := map[string]data.LocalChapter{}
	entries, err := os.ReadDir(mangaDir)
	if err != nil {
		return local
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch {
		case strings.HasPrefix(name, chapterPrefix):
			number := strings.TrimPrefix(name, chapterPrefix)
			local[number] = data.LocalChapter{
				Number: number,
				Path:   filepath.Join(mangaDir, name),
			}
		case strings.HasPrefix(name, volumePrefix):
			volume := strings.TrimPrefix(name, volumePrefix)
			volDir := filepath.Join(mangaDir, name)
			chapterEntries, err := os.ReadDir(volDir)
			if err != nil {
				continue
			}
			for _, ch := range chapterEntries {
				if !ch.IsDir() || !strings.HasPrefix(ch.Name(), chapterPrefix) {
					continue
				}
				number := strings.TrimPrefix(ch.Name(), chapterPrefix)
				local[number] = data.LocalChapter{
					Volume: volume,
					Number: number,
					Path:   filepath.Join(volDir, ch.Name()),
				}
			}
		}
	}
	return local
}

// diffAssignments records a change for every chapter present both
// locally and remotely whose volumes disagree. Chapters only known to
// one side are left alone.
func diffAssignments(local map[string]data.LocalChapter, remote map[string]string) []data.StructureChange {
	var changes []data.StructureChange
	for number, remoteVol := range remote {
		entry, ok := local[number]
		if !ok {
			continue
		}
		if entry.Volume != remoteVol {
			changes = append(changes, data.StructureChange{
				Chapter:    number,
				FromVolume: entry.Volume,
				ToVolume:   remoteVol,
				Path:       entry.Path,
			})
		}
	}
	return changes
}

// applyChange moves one chapter directory to its new volume location.
// An existing destination wins: the move is skipped and the source left
// untouched so nothing is ever overwritten.
func (r *Reconciler) applyChange(mangaDir, mangaTitle string, change data.StructureChange) bool {
	newPath := r.layout.ChapterDir(mangaTitle, change.ToVolume, change.Chapter)

	if _, err := os.Stat(newPath); err == nil {
		log.Printf("destination %s already exists, skipping Ch.%s", newPath, change.Chapter)
		return false
	}
	if err := os.MkdirAll(filepath.Dir(newPath), 0755); err != nil {
		log.Printf("could not move Ch.%s: %v", change.Chapter, err)
		return false
	}
	if err := os.Rename(change.Path, newPath); err != nil {
		log.Printf("could not move Ch.%s: %v", change.Chapter, err)
		return false
	}
	log.Printf("moved Ch.%s: %s -> %s", change.Chapter, volumeLabel(change.FromVolume), volumeLabel(change.ToVolume))

	// Best-effort cleanup of a now-empty source volume directory.
	if change.FromVolume != "" {
		oldVolDir := filepath.Join(mangaDir, volumePrefix+change.FromVolume)
		if entries, err := os.ReadDir(oldVolDir); err == nil && len(entries) == 0 {
			_ = os.Remove(oldVolDir)
		}
	}
	return true
}

func volumeLabel(volume string) string {
	if volume == "" {
		return "root"
	}
	return volumePrefix + volume
}

// hasChapterDirs reports whether dir contains at least one Ch.* or
// Vol.* child, the signature of a manga folder.
func hasChapterDirs(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name(), chapterPrefix) || strings.HasPrefix(entry.Name(), volumePrefix) {
			return true
		}
	}
	return false
}
