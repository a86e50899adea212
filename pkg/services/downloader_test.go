package services

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FosterG4/mangadex-manga-scrapper/pkg/config"
	"github.com/FosterG4/mangadex-manga-scrapper/pkg/data"
	"github.com/FosterG4/mangadex-manga-scrapper/pkg/errors"
)

func testDownloaderConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DownloadDir = t.TempDir()
	cfg.MaxWorkers = 2
	cfg.RateLimitDelay = 0
	cfg.MaxRetries = 0
	cfg.RetryDelay = 0
	cfg.AutoReconcile = false
	return cfg
}

// pageServer serves fake page images and records how many were fetched.
// Pages download concurrently, so the counter is atomic.
func pageServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var fetched int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetched, 1)
		w.Write([]byte("image-bytes"))
	}))
	t.Cleanup(srv.Close)
	return srv, &fetched
}

func TestDownloadChapterWritesPages(t *testing.T) {
	srv, fetched := pageServer(t)
	cfg := testDownloaderConfig(t)

	source := &mockSource{
		getPagesFn: func(chapterID string, dataSaver bool) ([]string, error) {
			return []string{srv.URL + "/a1.jpg", srv.URL + "/a2.png", srv.URL + "/a3.jpg"}, nil
		},
	}
	d := NewDownloader(source, cfg)
	defer d.Close()

	ch := data.Chapter{ID: "ch-1", Number: "1", Volume: "1"}
	result, err := d.DownloadChapter(ch, "Naruto", false)
	if err != nil {
		t.Fatalf("DownloadChapter failed: %v", err)
	}
	if result.Skipped {
		t.Error("expected a fresh download, not a skip")
	}
	if n := atomic.LoadInt32(fetched); n != 3 {
		t.Errorf("expected 3 page fetches, got %d", n)
	}

	dir := filepath.Join(cfg.DownloadDir, "Naruto", "Vol.1", "Ch.1")
	for _, name := range []string{"001.jpg", "002.png", "003.jpg"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected page file %s: %v", name, err)
		}
	}
	// No temp files left behind.
	entries, _ := os.ReadDir(dir)
	if len(entries) != 3 {
		t.Errorf("expected exactly 3 files, got %d", len(entries))
	}
}

func TestDownloadChapterSkipsCompleteDirWithoutNetwork(t *testing.T) {
	cfg := testDownloaderConfig(t)
	dir := filepath.Join(cfg.DownloadDir, "Naruto", "Ch.1")
	mkChapterDir(t, dir, 3)

	source := &mockSource{
		getPagesFn: func(chapterID string, dataSaver bool) ([]string, error) {
			t.Fatal("page resolver must not be called for a complete chapter")
			return nil, nil
		},
	}
	d := NewDownloader(source, cfg)
	defer d.Close()

	ch := data.Chapter{ID: "ch-1", Number: "1", Pages: 3}
	result, err := d.DownloadChapter(ch, "Naruto", false)
	if err != nil {
		t.Fatalf("DownloadChapter failed: %v", err)
	}
	if !result.Skipped {
		t.Error("expected chapter to be skipped")
	}
	if source.pageCalls != 0 {
		t.Errorf("expected 0 resolver calls, got %d", source.pageCalls)
	}
}

func TestDownloadChapterSkipsByResolverCount(t *testing.T) {
	// Without a page count in the catalog entry, completeness is judged
	// against the resolved URL list.
	cfg := testDownloaderConfig(t)
	dir := filepath.Join(cfg.DownloadDir, "Naruto", "Ch.2")
	mkChapterDir(t, dir, 2)

	source := &mockSource{
		getPagesFn: func(chapterID string, dataSaver bool) ([]string, error) {
			return []string{"http://x/1.jpg", "http://x/2.jpg"}, nil
		},
	}
	d := NewDownloader(source, cfg)
	defer d.Close()

	result, err := d.DownloadChapter(data.Chapter{ID: "ch-2", Number: "2"}, "Naruto", false)
	if err != nil {
		t.Fatalf("DownloadChapter failed: %v", err)
	}
	if !result.Skipped {
		t.Error("expected skip when the directory already holds every page")
	}
	if source.pageCalls != 1 {
		t.Errorf("expected 1 resolver call, got %d", source.pageCalls)
	}
}

func TestDownloadChapterSecondRunIsIdempotent(t *testing.T) {
	srv, fetched := pageServer(t)
	cfg := testDownloaderConfig(t)

	source := &mockSource{
		getPagesFn: func(chapterID string, dataSaver bool) ([]string, error) {
			return []string{srv.URL + "/1.jpg", srv.URL + "/2.jpg"}, nil
		},
	}
	d := NewDownloader(source, cfg)
	defer d.Close()

	ch := data.Chapter{ID: "ch-1", Number: "1"}
	if _, err := d.DownloadChapter(ch, "Naruto", false); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	first := atomic.LoadInt32(fetched)

	result, err := d.DownloadChapter(ch, "Naruto", false)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if !result.Skipped {
		t.Error("expected second run to skip")
	}
	if n := atomic.LoadInt32(fetched); n != first {
		t.Errorf("second run fetched %d extra pages", n-first)
	}
}

func TestDownloadChapterNoPages(t *testing.T) {
	cfg := testDownloaderConfig(t)
	source := &mockSource{
		getPagesFn: func(chapterID string, dataSaver bool) ([]string, error) {
			return nil, nil
		},
	}
	d := NewDownloader(source, cfg)
	defer d.Close()

	_, err := d.DownloadChapter(data.Chapter{ID: "ch-1", Number: "1"}, "Naruto", false)
	var de *errors.DownloadError
	if !errors.As(err, &de) {
		t.Fatalf("expected DownloadError, got %v", err)
	}
	// Nothing should exist on disk for a chapter with no pages.
	if _, err := os.Stat(filepath.Join(cfg.DownloadDir, "Naruto", "Ch.1")); !os.IsNotExist(err) {
		t.Error("expected no chapter directory to be created")
	}
}

func TestDownloadChapterAllPagesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testDownloaderConfig(t)
	source := &mockSource{
		getPagesFn: func(chapterID string, dataSaver bool) ([]string, error) {
			return []string{srv.URL + "/1.jpg", srv.URL + "/2.jpg"}, nil
		},
	}
	d := NewDownloader(source, cfg)
	defer d.Close()

	_, err := d.DownloadChapter(data.Chapter{ID: "ch-1", Number: "1"}, "Naruto", false)
	var de *errors.DownloadError
	if !errors.As(err, &de) {
		t.Fatalf("expected DownloadError, got %v", err)
	}

	// The directory exists but holds no plausible page files.
	entries, err := os.ReadDir(filepath.Join(cfg.DownloadDir, "Naruto", "Ch.1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no page files after total failure, got %d", len(entries))
	}
}

func TestDownloadMangaFilters(t *testing.T) {
	srv, _ := pageServer(t)
	cfg := testDownloaderConfig(t)

	manga := &data.Manga{ID: "manga-1", Title: data.LocalizedString{"en": "Naruto"}}
	chapters := []data.Chapter{
		{ID: "ch-1", Number: "1", Volume: "1"},
		{ID: "ch-2", Number: "2", Volume: "1"},
		{ID: "ch-3", Number: "3", Volume: "2"},
	}
	source := &mockSource{
		getMangaFn: func(id string) (*data.Manga, error) { return manga, nil },
		getChaptersFn: func(mangaID, language string) ([]data.Chapter, error) {
			return chapters, nil
		},
		getPagesFn: func(chapterID string, dataSaver bool) ([]string, error) {
			return []string{srv.URL + "/1.jpg"}, nil
		},
	}
	d := NewDownloader(source, cfg)
	defer d.Close()

	stats, err := d.DownloadManga("manga-1", nil, []string{"1"}, nil, false)
	if err != nil {
		t.Fatalf("DownloadManga failed: %v", err)
	}
	if stats.TotalChapters != 2 {
		t.Errorf("expected volume filter to keep 2 chapters, got %d", stats.TotalChapters)
	}
	if stats.Downloaded != 2 || stats.Failed != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.MangaTitle != "Naruto" {
		t.Errorf("unexpected title: %s", stats.MangaTitle)
	}
}

func TestDownloadMangaNoMatches(t *testing.T) {
	cfg := testDownloaderConfig(t)
	source := &mockSource{
		getMangaFn: func(id string) (*data.Manga, error) {
			return &data.Manga{ID: id, Title: data.LocalizedString{"en": "Naruto"}}, nil
		},
		getChaptersFn: func(mangaID, language string) ([]data.Chapter, error) {
			return []data.Chapter{{ID: "ch-1", Number: "1"}}, nil
		},
	}
	d := NewDownloader(source, cfg)
	defer d.Close()

	_, err := d.DownloadManga("manga-1", nil, nil, []string{"99"}, false)
	if !errors.Is(err, errors.ErrNoChapters) {
		t.Errorf("expected ErrNoChapters, got %v", err)
	}
}

func TestDownloadMangaCountsFailures(t *testing.T) {
	srv, _ := pageServer(t)
	cfg := testDownloaderConfig(t)

	source := &mockSource{
		getMangaFn: func(id string) (*data.Manga, error) {
			return &data.Manga{ID: id, Title: data.LocalizedString{"en": "Naruto"}}, nil
		},
		getChaptersFn: func(mangaID, language string) ([]data.Chapter, error) {
			return []data.Chapter{
				{ID: "ch-1", Number: "1"},
				{ID: "ch-2", Number: "2"},
			}, nil
		},
		getPagesFn: func(chapterID string, dataSaver bool) ([]string, error) {
			if chapterID == "ch-1" {
				return nil, errors.ErrServer
			}
			return []string{srv.URL + "/1.jpg"}, nil
		},
	}
	d := NewDownloader(source, cfg)
	defer d.Close()

	stats, err := d.DownloadManga("manga-1", nil, nil, nil, false)
	if err != nil {
		t.Fatalf("one failed chapter must not abort the run: %v", err)
	}
	if stats.Failed != 1 || stats.Downloaded != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestDownloadChapterRangeValidation(t *testing.T) {
	cfg := testDownloaderConfig(t)
	source := &mockSource{
		getMangaFn: func(id string) (*data.Manga, error) {
			t.Fatal("no network call expected for an invalid range")
			return nil, nil
		},
	}
	d := NewDownloader(source, cfg)
	defer d.Close()

	_, err := d.DownloadChapterRange("manga-1", 10, 5, "en", false)
	if !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestDownloadChapterRangeExcludesNonNumeric(t *testing.T) {
	srv, _ := pageServer(t)
	cfg := testDownloaderConfig(t)

	source := &mockSource{
		getMangaFn: func(id string) (*data.Manga, error) {
			return &data.Manga{ID: id, Title: data.LocalizedString{"en": "Naruto"}}, nil
		},
		getChaptersFn: func(mangaID, language string) ([]data.Chapter, error) {
			return []data.Chapter{
				{ID: "ch-1", Number: "1"},
				{ID: "ch-x", Number: "extra"},
				{ID: "ch-2", Number: "10.5"},
				{ID: "ch-3", Number: "11"},
			}, nil
		},
		getPagesFn: func(chapterID string, dataSaver bool) ([]string, error) {
			return []string{srv.URL + "/1.jpg"}, nil
		},
	}
	d := NewDownloader(source, cfg)
	defer d.Close()

	stats, err := d.DownloadChapterRange("manga-1", 1, 10.5, "en", false)
	if err != nil {
		t.Fatalf("DownloadChapterRange failed: %v", err)
	}
	if stats.TotalChapters != 2 {
		t.Errorf("expected chapters 1 and 10.5 only, got %d", stats.TotalChapters)
	}
}

func TestDownloadChapterIgnoresTempFiles(t *testing.T) {
	srv, fetched := pageServer(t)
	cfg := testDownloaderConfig(t)

	// A killed process can leave a crash-orphaned temp file next to the
	// real pages. It must not make the chapter look complete.
	dir := filepath.Join(cfg.DownloadDir, "Naruto", "Ch.1")
	mkChapterDir(t, dir, 0)
	for _, name := range []string{"001.jpg", "002.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("img"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "003.jpg.tmp"), []byte("partial"), 0644); err != nil {
		t.Fatal(err)
	}

	source := &mockSource{
		getPagesFn: func(chapterID string, dataSaver bool) ([]string, error) {
			return []string{srv.URL + "/1.jpg", srv.URL + "/2.jpg", srv.URL + "/3.jpg"}, nil
		},
	}
	d := NewDownloader(source, cfg)
	defer d.Close()

	result, err := d.DownloadChapter(data.Chapter{ID: "ch-1", Number: "1", Pages: 3}, "Naruto", false)
	if err != nil {
		t.Fatalf("DownloadChapter failed: %v", err)
	}
	if result.Skipped {
		t.Error("expected the missing page to be downloaded, not a skip")
	}
	if n := atomic.LoadInt32(fetched); n != 1 {
		t.Errorf("expected only the missing page to be fetched, got %d", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "003.jpg")); err != nil {
		t.Errorf("expected 003.jpg to exist after the run: %v", err)
	}
}

func TestCloseDuringInFlightDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	cfg := testDownloaderConfig(t)
	source := &mockSource{
		getPagesFn: func(chapterID string, dataSaver bool) ([]string, error) {
			return []string{srv.URL + "/1.jpg", srv.URL + "/2.jpg"}, nil
		},
	}
	d := NewDownloader(source, cfg)

	done := make(chan error, 1)
	go func() {
		_, err := d.DownloadChapter(data.Chapter{ID: "ch-1", Number: "1"}, "Naruto", false)
		done <- err
	}()

	// Closing while page goroutines are still sending progress must not
	// panic the in-flight download.
	time.Sleep(10 * time.Millisecond)
	d.Close()

	if err := <-done; err != nil {
		t.Fatalf("download failed after close: %v", err)
	}
}

func TestStopEndsRunBeforeNextChapter(t *testing.T) {
	srv, _ := pageServer(t)
	cfg := testDownloaderConfig(t)

	var d *Downloader
	source := &mockSource{
		getMangaFn: func(id string) (*data.Manga, error) {
			return &data.Manga{ID: id, Title: data.LocalizedString{"en": "Naruto"}}, nil
		},
		getChaptersFn: func(mangaID, language string) ([]data.Chapter, error) {
			return []data.Chapter{
				{ID: "ch-1", Number: "1"},
				{ID: "ch-2", Number: "2"},
			}, nil
		},
		getPagesFn: func(chapterID string, dataSaver bool) ([]string, error) {
			// A stop issued mid-run takes effect before the next chapter.
			d.Stop()
			return []string{srv.URL + "/1.jpg"}, nil
		},
	}
	d = NewDownloader(source, cfg)
	defer d.Close()

	stats, err := d.DownloadManga("manga-1", nil, nil, nil, false)
	if err != nil {
		t.Fatalf("DownloadManga failed: %v", err)
	}
	if source.pageCalls != 1 {
		t.Errorf("expected the second chapter to never start, got %d resolver calls", source.pageCalls)
	}
	if stats.Downloaded != 1 {
		t.Errorf("expected 1 downloaded chapter, got %+v", stats)
	}
}

func TestFilterChaptersDoesNotMutateInput(t *testing.T) {
	input := []data.Chapter{
		{ID: "ch-1", Number: "1"},
		{ID: "ch-2", Number: "2"},
		{ID: "ch-3", Number: "3"},
	}
	snapshot := append([]data.Chapter(nil), input...)

	filtered := filterChapters(input, func(ch data.Chapter) bool {
		return ch.Number == "2"
	})

	if len(filtered) != 1 || filtered[0].ID != "ch-2" {
		t.Fatalf("unexpected filter result: %+v", filtered)
	}
	if !reflect.DeepEqual(input, snapshot) {
		t.Errorf("input slice was mutated: %+v", input)
	}
}

func TestUrlExtension(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://x/data/abc/p1.png", "png"},
		{"https://x/data/abc/p1.jpg?token=123", "jpg"},
		{"https://x/data/abc/page", "jpg"},
	}
	for _, tc := range cases {
		if got := urlExtension(tc.url); got != tc.want {
			t.Errorf("urlExtension(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestCountFiles(t *testing.T) {
	dir := t.TempDir()
	if countFiles(filepath.Join(dir, "missing")) != 0 {
		t.Error("missing dir should count as 0")
	}
	for i := 0; i < 3; i++ {
		os.WriteFile(filepath.Join(dir, fmt.Sprintf("%03d.jpg", i+1)), []byte("x"), 0644)
	}
	os.MkdirAll(filepath.Join(dir, "sub"), 0755)
	if got := countFiles(dir); got != 3 {
		t.Errorf("expected 3 files, got %d", got)
	}
}
