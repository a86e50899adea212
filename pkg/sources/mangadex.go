package sources

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/FosterG4/mangadex-manga-scrapper/pkg/config"
	"github.com/FosterG4/mangadex-manga-scrapper/pkg/data"
	"github.com/FosterG4/mangadex-manga-scrapper/pkg/utils"
)

// defaultContentRatings is applied to searches so results match what the
// site shows to a logged-out user.
var defaultContentRatings = []string{"safe", "suggestive", "erotica"}

type mangaAttributes struct {
	Title         map[string]string `json:"title"`
	Description   map[string]string `json:"description"`
	Year          int               `json:"year"`
	Status        string            `json:"status"`
	ContentRating string            `json:"contentRating"`
}

type mangaWire struct {
	ID         string          `json:"id"`
	Attributes mangaAttributes `json:"attributes"`
}

func (m *mangaWire) toManga() *data.Manga {
	return &data.Manga{
		ID:            m.ID,
		Title:         data.LocalizedString(m.Attributes.Title),
		Description:   data.LocalizedString(m.Attributes.Description),
		Year:          m.Attributes.Year,
		Status:        m.Attributes.Status,
		ContentRating: m.Attributes.ContentRating,
	}
}

// aggregate wire format: volumes and chapters arrive as maps keyed by
// their number, but the API serializes an empty set as [] instead of {}.
type aggregateChapter struct {
	Chapter string   `json:"chapter"`
	ID      string   `json:"id"`
	Others  []string `json:"others"`
	Count   int      `json:"count"`
}

type aggregateVolume struct {
	Volume   string                      `json:"volume"`
	Chapters map[string]aggregateChapter `json:"chapters"`
}

type MangaDex struct {
	api *utils.API
}

func NewMangaDex(cfg config.Config) *MangaDex {
	return &MangaDex{api: utils.NewAPI(cfg)}
}

func (m *MangaDex) Search(title string, limit int) ([]data.Manga, error) {
	params := url.Values{}
	params.Set("title", title)
	params.Set("limit", strconv.Itoa(limit))
	for _, rating := range defaultContentRatings {
		params.Add("contentRating[]", rating)
	}

	var result struct {
		Data []mangaWire `json:"data"`
	}
	if err := m.api.Get("/manga", params, &result); err != nil {
		return nil, err
	}
	out := make([]data.Manga, len(result.Data))
	for i := range result.Data {
		out[i] = *result.Data[i].toManga()
	}
	return out, nil
}

func (m *MangaDex) GetManga(id string) (*data.Manga, error) {
	var result struct {
		Data mangaWire `json:"data"`
	}
	if err := m.api.Get("/manga/"+id, nil, &result); err != nil {
		return nil, err
	}
	return result.Data.toManga(), nil
}

// GetChapters flattens the aggregate endpoint into the chapter list. The
// volume number is taken from the enclosing volume entry, so unassigned
// chapters carry the API's "none" sentinel.
func (m *MangaDex) GetChapters(mangaID, language string) ([]data.Chapter, error) {
	params := url.Values{}
	if language != "" {
		params.Add("translatedLanguage[]", language)
	}

	var result struct {
		Volumes json.RawMessage `json:"volumes"`
	}
	if err := m.api.Get(fmt.Sprintf("/manga/%s/aggregate", mangaID), params, &result); err != nil {
		return nil, err
	}

	volumes := map[string]aggregateVolume{}
	if len(result.Volumes) > 0 {
		// An empty aggregate is serialized as []; treat it as no volumes.
		if err := json.Unmarshal(result.Volumes, &volumes); err != nil {
			volumes = map[string]aggregateVolume{}
		}
	}

	var chapters []data.Chapter
	for _, vol := range volumes {
		for _, ch := range vol.Chapters {
			chapters = append(chapters, data.Chapter{
				ID:       ch.ID,
				Volume:   vol.Volume,
				Number:   ch.Chapter,
				Language: language,
				Others:   ch.Others,
				Pages:    ch.Count,
			})
		}
	}
	return chapters, nil
}

func (m *MangaDex) GetPageURLs(chapterID string, dataSaver bool) ([]string, error) {
	var server struct {
		BaseURL string `json:"baseUrl"`
		Chapter struct {
			Hash      string   `json:"hash"`
			Data      []string `json:"data"`
			DataSaver []string `json:"dataSaver"`
		} `json:"chapter"`
	}
	if err := m.api.Get("/at-home/server/"+chapterID, nil, &server); err != nil {
		return nil, err
	}

	quality, files := "data", server.Chapter.Data
	if dataSaver {
		quality, files = "data-saver", server.Chapter.DataSaver
	}

	pages := make([]string, len(files))
	for i, file := range files {
		pages[i] = fmt.Sprintf("%s/%s/%s/%s", server.BaseURL, quality, server.Chapter.Hash, file)
	}
	return pages, nil
}
