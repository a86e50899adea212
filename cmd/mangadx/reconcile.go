package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/FosterG4/mangadex-manga-scrapper/pkg/services"
	"github.com/FosterG4/mangadex-manga-scrapper/pkg/sources"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [manga-id]",
	Short: "Update the local folder structure",
	Long:  "Move already-downloaded chapters into the volume folders MangaDex currently reports",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		mangaID := args[0]
		language, _ := cmd.Flags().GetString("language")
		if language == "" {
			language = cfg.DefaultLanguage
		}

		source := sources.NewMangaDex(cfg)
		manga, err := source.GetManga(mangaID)
		if err != nil {
			cobra.CheckErr(fmt.Errorf("reconcile failed: %w", err))
		}
		title := manga.BestTitle()

		reconciler := services.NewReconciler(source, services.NewLayout(cfg.DownloadDir))
		moved := reconciler.Reconcile(mangaID, title, language)

		if moved == 0 {
			fmt.Printf("✅ '%s' already matches the current volume structure\n", title)
			return
		}
		fmt.Printf("✅ Moved %d chapter(s) of '%s'\n", moved, title)
	},
}

func init() {
	reconcileCmd.Flags().StringP("language", "l", "", "Language code used to list chapters")
	rootCmd.AddCommand(reconcileCmd)
}
