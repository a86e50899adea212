package sources

import (
	"github.com/FosterG4/mangadex-manga-scrapper/pkg/data"
)

// Source is the remote catalog the downloader consumes: manga metadata,
// the flat chapter list, and per-chapter page URLs.
type Source interface {
	Search(title string, limit int) ([]data.Manga, error)
	GetManga(id string) (*data.Manga, error)

	// GetChapters returns the chapter list for one translated language.
	GetChapters(mangaID, language string) ([]data.Chapter, error)

	// GetPageURLs resolves the ordered page image URLs of a chapter.
	// The order defines the on-disk page index. dataSaver selects the
	// reduced-bandwidth variant.
	GetPageURLs(chapterID string, dataSaver bool) ([]string, error)
}
