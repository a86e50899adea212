package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/FosterG4/mangadex-manga-scrapper/pkg/integrations"
	"github.com/FosterG4/mangadex-manga-scrapper/pkg/services"
)

var exportCmd = &cobra.Command{
	Use:   "export [manga-title]",
	Short: "Export a downloaded manga as EPUB",
	Long:  "Bundle the downloaded chapters of a manga into a single EPUB file",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		title := strings.Join(args, " ")
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = cfg.DownloadDir
		}

		mangaDir := filepath.Join(cfg.DownloadDir, services.SanitizeTitle(title))
		builder := integrations.NewEPubBuilder(output)

		path, err := builder.CreateEPub(title, mangaDir)
		if err != nil {
			cobra.CheckErr(fmt.Errorf("EPUB generation failed: %w", err))
		}

		fmt.Printf("📖 EPUB created: %s\n", path)
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "Output directory (defaults to the download directory)")
	rootCmd.AddCommand(exportCmd)
}
