package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/FosterG4/mangadex-manga-scrapper/pkg/app"
	"github.com/FosterG4/mangadex-manga-scrapper/pkg/data"
	"github.com/FosterG4/mangadex-manga-scrapper/pkg/services"
	"github.com/FosterG4/mangadex-manga-scrapper/pkg/sources"
)

var downloadCmd = &cobra.Command{
	Use:   "download [manga-id]",
	Short: "Download manga chapters",
	Long:  "Download chapters of a manga by its MangaDex UUID",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		mangaID := args[0]
		languages, _ := cmd.Flags().GetStringSlice("language")
		volumes, _ := cmd.Flags().GetStringSlice("volumes")
		chapters, _ := cmd.Flags().GetStringSlice("chapters")
		rangeFlag, _ := cmd.Flags().GetString("range")
		dataSaver, _ := cmd.Flags().GetBool("data-saver")
		noReconcile, _ := cmd.Flags().GetBool("no-reconcile")
		plain, _ := cmd.Flags().GetBool("plain")

		if noReconcile {
			cfg.AutoReconcile = false
		}

		source := sources.NewMangaDex(cfg)
		downloader := services.NewDownloader(source, cfg)

		start := func() (*data.DownloadStats, error) {
			if rangeFlag != "" {
				from, to, err := parseChapterRange(rangeFlag)
				if err != nil {
					return nil, err
				}
				language := cfg.DefaultLanguage
				if len(languages) > 0 {
					language = languages[0]
				}
				return downloader.DownloadChapterRange(mangaID, from, to, language, dataSaver)
			}
			return downloader.DownloadManga(mangaID, languages, volumes, chapters, dataSaver)
		}

		var stats *data.DownloadStats
		var err error
		if plain {
			go func() {
				for progress := range downloader.GetProgressChannel() {
					switch progress.Status {
					case "skipped":
						fmt.Printf("  Chapter %s: already downloaded\n", progress.ChapterNumber)
					case "error":
						fmt.Printf("  Chapter %s: %s\n", progress.ChapterNumber, progress.Error)
					case "downloading":
						if progress.TotalPages > 0 {
							fmt.Printf("  Chapter %s: %d/%d pages\n", progress.ChapterNumber, progress.CurrentPage, progress.TotalPages)
						}
					}
				}
			}()
			stats, err = start()
			downloader.Close()
		} else {
			stats, err = app.Run(mangaID, start, downloader.Stop, downloader.GetProgressChannel())
			downloader.Close()
		}
		if err != nil {
			cobra.CheckErr(fmt.Errorf("download failed: %w", err))
		}
		if stats == nil {
			// Force-quit before the downloader finished.
			return
		}

		fmt.Printf("\n✅ %s: %d downloaded, %d skipped, %d failed (%d chapters)\n",
			stats.MangaTitle, stats.Downloaded, stats.Skipped, stats.Failed, stats.TotalChapters)
	},
}

// parseChapterRange reads a "from-to" pair of chapter numbers, e.g. "1-10"
// or "10.5-12".
func parseChapterRange(s string) (float64, float64, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid range %q, expected from-to (e.g. 1-10)", s)
	}
	from, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range start %q", parts[0])
	}
	to, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range end %q", parts[1])
	}
	return from, to, nil
}

func init() {
	downloadCmd.Flags().StringSliceP("language", "l", nil, "Language codes (e.g. en, ja, es)")
	downloadCmd.Flags().StringSlice("volumes", nil, "Only download these volume numbers")
	downloadCmd.Flags().StringSliceP("chapters", "c", nil, "Only download these chapter numbers")
	downloadCmd.Flags().String("range", "", "Chapter range (e.g. 1-10)")
	downloadCmd.Flags().Bool("data-saver", false, "Download compressed data-saver images")
	downloadCmd.Flags().Bool("no-reconcile", false, "Skip the volume structure update before downloading")
	downloadCmd.Flags().Bool("plain", false, "Print progress as plain text instead of the interactive view")
	rootCmd.AddCommand(downloadCmd)
}
