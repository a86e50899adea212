package data

import (
	"sort"
	"strconv"
	"strings"
)

// LocalizedString holds a translation map keyed by language code.
type LocalizedString map[string]string

func (l LocalizedString) Get(lang string) string {
	return l[lang]
}

type Manga struct {
	ID            string
	Title         LocalizedString
	Description   LocalizedString
	Year          int
	Status        string
	ContentRating string
}

// BestTitle picks a display title, preferring English, then Japanese,
// then romanized Japanese, then any available translation.
func (m *Manga) BestTitle() string {
	for _, lang := range []string{"en", "ja", "ja-ro"} {
		if t := m.Title.Get(lang); t != "" {
			return t
		}
	}
	langs := make([]string, 0, len(m.Title))
	for lang := range m.Title {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		if t := m.Title[lang]; t != "" {
			return t
		}
	}
	id := m.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "Manga_" + id
}

// Chapter is one entry of a manga's chapter list. Number stays a string
// ("10.5", "extra"); use NumberValue for numeric comparisons.
type Chapter struct {
	ID       string
	Volume   string
	Number   string
	Language string
	Others   []string
	Pages    int
}

// NumberValue parses the chapter number as a float. The second return is
// false for non-numeric chapters ("extra", "oneshot").
func (c Chapter) NumberValue() (float64, bool) {
	v, err := strconv.ParseFloat(c.Number, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// NormalizeVolume maps the API's unassigned-volume sentinels to "".
func NormalizeVolume(volume string) string {
	switch strings.ToLower(volume) {
	case "", "none", "null":
		return ""
	}
	return volume
}

// LocalChapter is a chapter directory observed on disk. Volume is ""
// when the chapter lives directly under the manga root.
type LocalChapter struct {
	Volume string
	Number string
	Path   string
}

// StructureChange records one chapter whose local volume placement no
// longer matches the remote catalog. Computed fresh on every
// reconciliation run and discarded after being applied.
type StructureChange struct {
	Chapter    string
	FromVolume string
	ToVolume   string
	Path       string
}

// DownloadStats accumulates per-chapter outcomes over one run.
type DownloadStats struct {
	MangaTitle    string
	TotalChapters int
	Downloaded    int
	Failed        int
	Skipped       int
}
