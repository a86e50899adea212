package services

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/FosterG4/mangadex-manga-scrapper/pkg/config"
	"github.com/FosterG4/mangadex-manga-scrapper/pkg/data"
	"github.com/FosterG4/mangadex-manga-scrapper/pkg/errors"
	"github.com/FosterG4/mangadex-manga-scrapper/pkg/sources"
)

// DownloadProgress represents the progress of a download operation
type DownloadProgress struct {
	MangaID       string
	ChapterID     string
	ChapterNumber string
	CurrentPage   int
	TotalPages    int
	Status        string // "downloading", "skipped", "complete", "error"
	Error         error
}

// ChapterResult reports where a chapter landed and whether any network
// work was needed.
type ChapterResult struct {
	Dir     string
	Pages   int
	Skipped bool
}

// Downloader fetches chapters page by page into the download directory.
// Chapters are processed sequentially; only pages within one chapter are
// downloaded concurrently, so reconciliation moves never race a write.
type Downloader struct {
	source     sources.Source
	layout     *Layout
	reconciler *Reconciler
	client     *http.Client
	cfg        config.Config
	stop       chan struct{}
	stopOnce   sync.Once

	progressMu     sync.Mutex
	progressChan   chan DownloadProgress
	progressClosed bool
	closeOnce      sync.Once
}

func NewDownloader(source sources.Source, cfg config.Config) *Downloader {
	layout := NewLayout(cfg.DownloadDir)
	return &Downloader{
		source:       source,
		layout:       layout,
		reconciler:   NewReconciler(source, layout),
		client:       &http.Client{Timeout: cfg.RequestTimeout},
		cfg:          cfg,
		stop:         make(chan struct{}),
		progressChan: make(chan DownloadProgress, 100),
	}
}

// GetProgressChannel returns the channel for receiving download progress updates
func (d *Downloader) GetProgressChannel() <-chan DownloadProgress {
	return d.progressChan
}

// DownloadManga downloads a manga's chapters, optionally narrowed to
// specific volumes or chapter numbers (exact string membership). A
// chapter that fails is counted and skipped, never aborting the run.
func (d *Downloader) DownloadManga(mangaID string, languages, volumeFilter, chapterFilter []string, dataSaver bool) (*data.DownloadStats, error) {
	if len(languages) == 0 {
		languages = []string{d.cfg.DefaultLanguage}
	}

	manga, err := d.source.GetManga(mangaID)
	if err != nil {
		return nil, fmt.Errorf("get manga %s: %w", mangaID, err)
	}
	title := manga.BestTitle()

	// Reconcile the existing tree before listing, so moved chapters are
	// found by the skip rule instead of being downloaded twice.
	if d.cfg.AutoReconcile {
		d.reconciler.Reconcile(mangaID, title, languages[0])
	}

	var chapters []data.Chapter
	for _, lang := range languages {
		list, err := d.source.GetChapters(mangaID, lang)
		if err != nil {
			return nil, fmt.Errorf("list chapters: %w", err)
		}
		chapters = append(chapters, list...)
	}
	if len(chapters) == 0 {
		return nil, fmt.Errorf("manga %s: %w", mangaID, errors.ErrNoChapters)
	}

	if len(volumeFilter) > 0 {
		chapters = filterChapters(chapters, func(ch data.Chapter) bool {
			return contains(volumeFilter, ch.Volume)
		})
	}
	if len(chapterFilter) > 0 {
		chapters = filterChapters(chapters, func(ch data.Chapter) bool {
			return contains(chapterFilter, ch.Number)
		})
	}
	if len(chapters) == 0 {
		return nil, fmt.Errorf("manga %s: %w", mangaID, errors.ErrNoChapters)
	}

	return d.downloadAll(manga.ID, title, chapters, dataSaver, 2*d.cfg.RateLimitDelay), nil
}

// DownloadChapterRange downloads chapters whose number falls inside
// [start, end]. Chapters with non-numeric numbers are excluded.
func (d *Downloader) DownloadChapterRange(mangaID string, start, end float64, language string, dataSaver bool) (*data.DownloadStats, error) {
	if start > end {
		return nil, fmt.Errorf("chapter range %g-%g: %w", start, end, errors.ErrValidation)
	}
	if language == "" {
		language = d.cfg.DefaultLanguage
	}

	manga, err := d.source.GetManga(mangaID)
	if err != nil {
		return nil, fmt.Errorf("get manga %s: %w", mangaID, err)
	}
	title := manga.BestTitle()

	chapters, err := d.source.GetChapters(mangaID, language)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	chapters = filterChapters(chapters, func(ch data.Chapter) bool {
		v, ok := ch.NumberValue()
		return ok && start <= v && v <= end
	})
	if len(chapters) == 0 {
		return nil, fmt.Errorf("manga %s: %w", mangaID, errors.ErrNoChapters)
	}

	return d.downloadAll(manga.ID, title, chapters, dataSaver, d.cfg.RateLimitDelay), nil
}

// downloadAll runs the sequential chapter loop, pausing between chapters
// to stay under the API rate limit.
func (d *Downloader) downloadAll(mangaID, title string, chapters []data.Chapter, dataSaver bool, delay time.Duration) *data.DownloadStats {
	stats := &data.DownloadStats{
		MangaTitle:    title,
		TotalChapters: len(chapters),
	}

	for _, ch := range chapters {
		select {
		case <-d.stop:
			return stats
		default:
		}

		result, err := d.DownloadChapter(ch, title, dataSaver)
		if err != nil {
			log.Printf("chapter %s: %v", ch.Number, err)
			stats.Failed++
			d.sendProgress(DownloadProgress{
				MangaID:       mangaID,
				ChapterID:     ch.ID,
				ChapterNumber: ch.Number,
				Status:        "error",
				Error:         err,
			})
			continue
		}
		if result.Skipped {
			stats.Skipped++
		} else {
			stats.Downloaded++
		}
		time.Sleep(delay)
	}
	return stats
}

// DownloadChapter fetches all pages of one chapter. A directory that
// already holds the expected number of files is considered complete and
// skipped without any network traffic. It fails only when not a single
// page could be downloaded.
func (d *Downloader) DownloadChapter(ch data.Chapter, mangaTitle string, dataSaver bool) (ChapterResult, error) {
	dir := d.layout.ChapterDir(mangaTitle, ch.Volume, ch.Number)

	if ch.Pages > 0 && countFiles(dir) == ch.Pages {
		d.sendSkipped(ch)
		return ChapterResult{Dir: dir, Pages: ch.Pages, Skipped: true}, nil
	}

	urls, err := d.source.GetPageURLs(ch.ID, dataSaver)
	if err != nil {
		return ChapterResult{}, &errors.DownloadError{Chapter: ch.Number, Err: err}
	}
	if len(urls) == 0 {
		return ChapterResult{}, &errors.DownloadError{Chapter: ch.Number, Err: errors.New("no pages returned")}
	}
	if countFiles(dir) == len(urls) {
		d.sendSkipped(ch)
		return ChapterResult{Dir: dir, Pages: len(urls), Skipped: true}, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return ChapterResult{}, &errors.DownloadError{Chapter: ch.Number, Err: err}
	}

	type pageTask struct {
		index int
		url   string
		dest  string
	}
	var tasks []pageTask
	for i, pageURL := range urls {
		dest := filepath.Join(dir, fmt.Sprintf("%03d.%s", i+1, urlExtension(pageURL)))
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		tasks = append(tasks, pageTask{index: i, url: pageURL, dest: dest})
	}
	if len(tasks) == 0 {
		d.sendSkipped(ch)
		return ChapterResult{Dir: dir, Pages: len(urls), Skipped: true}, nil
	}

	d.sendProgress(DownloadProgress{
		ChapterID:     ch.ID,
		ChapterNumber: ch.Number,
		TotalPages:    len(urls),
		Status:        "downloading",
	})

	// Page downloads run concurrently, bounded by MaxWorkers. A failed
	// page never aborts its siblings.
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		done      int
	)
	sem := make(chan struct{}, d.cfg.MaxWorkers)
	for _, task := range tasks {
		wg.Add(1)
		go func(task pageTask) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := d.downloadImage(task.url, task.dest)

			mu.Lock()
			done++
			if err == nil {
				succeeded++
			}
			current := done
			mu.Unlock()

			if err != nil {
				log.Printf("page %d of chapter %s: %v", task.index+1, ch.Number, err)
			}
			d.sendProgress(DownloadProgress{
				ChapterID:     ch.ID,
				ChapterNumber: ch.Number,
				CurrentPage:   current,
				TotalPages:    len(urls),
				Status:        "downloading",
			})
		}(task)
	}
	wg.Wait()

	if succeeded == 0 {
		return ChapterResult{}, &errors.DownloadError{
			Chapter: ch.Number,
			Total:   len(tasks),
			Err:     errors.New("all pages failed"),
		}
	}
	if succeeded < len(tasks) {
		log.Printf("chapter %s: downloaded %d/%d pages", ch.Number, succeeded, len(tasks))
	}

	d.sendProgress(DownloadProgress{
		ChapterID:     ch.ID,
		ChapterNumber: ch.Number,
		CurrentPage:   len(urls),
		TotalPages:    len(urls),
		Status:        "complete",
	})
	return ChapterResult{Dir: dir, Pages: len(urls)}, nil
}

// downloadImage fetches one page with a bounded retry loop and a fixed
// delay between attempts. The file is written next to its final name
// and renamed, so a killed process never leaves a plausible page file.
func (d *Downloader) downloadImage(pageURL, dest string) error {
	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(d.cfg.RetryDelay)
		}
		if err := d.fetchImage(pageURL, dest); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (d *Downloader) fetchImage(pageURL, dest string) error {
	req, err := http.NewRequest(http.MethodGet, pageURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch page: %s", resp.Status)
	}

	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

// sendProgress sends a progress update (non-blocking). Page goroutines
// may still be in flight when Close runs, so sends are guarded against
// the closed channel.
func (d *Downloader) sendProgress(progress DownloadProgress) {
	d.progressMu.Lock()
	defer d.progressMu.Unlock()
	if d.progressClosed {
		return
	}
	select {
	case d.progressChan <- progress:
	default:
	}
}

func (d *Downloader) sendSkipped(ch data.Chapter) {
	d.sendProgress(DownloadProgress{
		ChapterID:     ch.ID,
		ChapterNumber: ch.Number,
		Status:        "skipped",
	})
}

// Stop makes the chapter loop exit before starting the next chapter.
// Pages already in flight finish on their own; the skip rule resumes
// the rest on the next run.
func (d *Downloader) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
}

// Close releases the progress channel.
func (d *Downloader) Close() {
	d.closeOnce.Do(func() {
		d.progressMu.Lock()
		d.progressClosed = true
		d.progressMu.Unlock()
		close(d.progressChan)
	})
}

// urlExtension takes the extension from the URL's trailing path segment.
func urlExtension(pageURL string) string {
	trimmed := pageURL
	if idx := strings.Index(trimmed, "?"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	ext := strings.TrimPrefix(path.Ext(trimmed), ".")
	if ext == "" {
		ext = "jpg"
	}
	return ext
}

// countFiles counts regular files directly inside dir. A missing
// directory counts as zero. Orphaned .tmp files from a killed process
// are not pages and must not make a partial chapter look complete.
func countFiles(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		n++
	}
	return n
}

// filterChapters never mutates its input; the list may be owned by the
// Source.
func filterChapters(chapters []data.Chapter, keep func(data.Chapter) bool) []data.Chapter {
	var out []data.Chapter
	for _, ch := range chapters {
		if keep(ch) {
			out = append(out, ch)
		}
	}
	return out
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
