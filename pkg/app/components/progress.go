package components

import (
	"fmt"
	"strings"

	"github.com/FosterG4/mangadex-manga-scrapper/pkg/app/styles"
	"github.com/FosterG4/mangadex-manga-scrapper/pkg/services"
)

// ProgressTracker renders the chapters currently being downloaded.
type ProgressTracker struct {
	downloads map[string]*services.DownloadProgress
	width     int
}

func NewProgressTracker(width int) *ProgressTracker {
	return &ProgressTracker{
		downloads: make(map[string]*services.DownloadProgress),
		width:     width,
	}
}

func (p *ProgressTracker) Update(progress services.DownloadProgress) {
	key := progress.ChapterID
	switch progress.Status {
	case "complete", "skipped":
		delete(p.downloads, key)
	default:
		prog := progress // Copy
		p.downloads[key] = &prog
	}
}

func (p *ProgressTracker) Clear() {
	p.downloads = make(map[string]*services.DownloadProgress)
}

func (p *ProgressTracker) HasActive() bool {
	return len(p.downloads) > 0
}

func (p *ProgressTracker) View() string {
	if len(p.downloads) == 0 {
		return ""
	}

	var b strings.Builder
	for _, progress := range p.downloads {
		chapterText := fmt.Sprintf("Chapter %s", progress.ChapterNumber)
		if progress.ChapterNumber == "" {
			chapterText = "Preparing"
		}
		b.WriteString(styles.TextStyle.Render(chapterText))
		b.WriteString("\n")

		statusText := progress.Status
		if progress.TotalPages > 0 {
			percentage := float64(progress.CurrentPage) / float64(progress.TotalPages) * 100
			statusText = fmt.Sprintf("%s (%d/%d pages - %.0f%%)",
				progress.Status, progress.CurrentPage, progress.TotalPages, percentage)

			b.WriteString(renderProgressBar(progress.CurrentPage, progress.TotalPages, p.width-4))
			b.WriteString("\n")
		}
		b.WriteString(styles.StatusStyle(progress.Status).Render(statusText))
		b.WriteString("\n")

		if progress.Error != nil {
			b.WriteString(styles.StatusError.Render(fmt.Sprintf("Error: %s", progress.Error)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderProgressBar(current, total, width int) string {
	if total == 0 {
		return ""
	}

	filled := int(float64(current) / float64(total) * float64(width))
	if filled > width {
		filled = width
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return styles.ProgressBarStyle.Render(bar)
}

// SimpleProgress renders a simple progress bar
func SimpleProgress(current, total, width int) string {
	return renderProgressBar(current, total, width)
}
