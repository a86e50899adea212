package integrations

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-shiori/go-epub"

	"github.com/FosterG4/mangadex-manga-scrapper/pkg/services"
)

// chapterDir is one downloaded chapter found under a manga directory.
type chapterDir struct {
	Volume string
	Number string
	Path   string
}

// EPubBuilder packs already-downloaded chapter directories into a single
// EPUB. Page files are embedded as-is; no transcoding.
type EPubBuilder struct {
	outputDir string
}

func NewEPubBuilder(outputDir string) *EPubBuilder {
	return &EPubBuilder{outputDir: outputDir}
}

// CreateEPub compiles every chapter under mangaDir into one EPUB file
// and returns its path. Chapters are ordered by numeric volume and
// chapter number; non-numeric chapters sort last.
func (p *EPubBuilder) CreateEPub(title, mangaDir string) (string, error) {
	chapters := collectChapterDirs(mangaDir)
	if len(chapters) == 0 {
		return "", fmt.Errorf("no downloaded chapters in %s", mangaDir)
	}

	if err := os.MkdirAll(p.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	sort.Slice(chapters, func(i, j int) bool {
		vi, vj := numericKey(chapters[i].Volume), numericKey(chapters[j].Volume)
		if vi != vj {
			return vi < vj
		}
		ni, nj := numericKey(chapters[i].Number), numericKey(chapters[j].Number)
		if ni != nj {
			return ni < nj
		}
		return chapters[i].Number < chapters[j].Number
	})

	e, err := epub.NewEpub(title)
	if err != nil {
		return "", fmt.Errorf("failed to create EPub: %w", err)
	}
	e.SetAuthor("MangaDex")
	e.SetLang("en")

	for _, chapter := range chapters {
		if err := p.addChapter(e, chapter); err != nil {
			return "", fmt.Errorf("failed to add chapter %s: %w", chapter.Number, err)
		}
	}

	outputPath := filepath.Join(p.outputDir, services.SanitizeTitle(title)+".epub")
	if err := e.Write(outputPath); err != nil {
		return "", fmt.Errorf("failed to write EPub: %w", err)
	}
	return outputPath, nil
}

// addChapter embeds a chapter directory's page images as one section.
func (p *EPubBuilder) addChapter(e *epub.Epub, chapter chapterDir) error {
	entries, err := os.ReadDir(chapter.Path)
	if err != nil {
		return fmt.Errorf("failed to read chapter directory: %w", err)
	}

	var pages []string
	for _, entry := range entries {
		if !entry.IsDir() && isImageFile(entry.Name()) {
			pages = append(pages, entry.Name())
		}
	}
	if len(pages) == 0 {
		return fmt.Errorf("no images found in %s", chapter.Path)
	}
	sort.Strings(pages)

	chapterTitle := fmt.Sprintf("Chapter %s", chapter.Number)
	if chapter.Volume != "" {
		chapterTitle = fmt.Sprintf("Vol. %s, %s", chapter.Volume, chapterTitle)
	}

	var html strings.Builder
	html.WriteString(fmt.Sprintf("<h1>%s</h1>\n", chapterTitle))
	for i, page := range pages {
		internalPath, err := e.AddImage(filepath.Join(chapter.Path, page), "")
		if err != nil {
			return fmt.Errorf("failed to add image %s: %w", page, err)
		}
		html.WriteString(fmt.Sprintf(
			`<div class="page"><img src="%s" alt="Page %d" style="width:100%%;height:auto;"/></div>%s`,
			internalPath, i+1, "\n",
		))
	}

	if _, err := e.AddSection(html.String(), chapterTitle, "", ""); err != nil {
		return fmt.Errorf("failed to add section: %w", err)
	}
	return nil
}

// collectChapterDirs finds Ch.* directories in the manga root and inside
// each Vol.* directory, mirroring the download layout.
func collectChapterDirs(mangaDir string) []chapterDir {
	var chapters []chapterDir
	entries, err := os.ReadDir(mangaDir)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch {
		case strings.HasPrefix(name, "Ch."):
			chapters = append(chapters, chapterDir{
				Number: strings.TrimPrefix(name, "Ch."),
				Path:   filepath.Join(mangaDir, name),
			})
		case strings.HasPrefix(name, "Vol."):
			volume := strings.TrimPrefix(name, "Vol.")
			volDir := filepath.Join(mangaDir, name)
			chapterEntries, err := os.ReadDir(volDir)
			if err != nil {
				continue
			}
			for _, ch := range chapterEntries {
				if !ch.IsDir() || !strings.HasPrefix(ch.Name(), "Ch.") {
					continue
				}
				chapters = append(chapters, chapterDir{
					Volume: volume,
					Number: strings.TrimPrefix(ch.Name(), "Ch."),
					Path:   filepath.Join(volDir, ch.Name()),
				})
			}
		}
	}
	return chapters
}

// numericKey orders numeric labels ahead of non-numeric ones.
func numericKey(s string) float64 {
	if s == "" {
		return -1
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 1 << 30
	}
	return v
}

// isImageFile checks if a file has an image extension
func isImageFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".jpg" || ext == ".jpeg" || ext == ".png" || ext == ".gif" || ext == ".webp"
}
