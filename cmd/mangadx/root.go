package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/FosterG4/mangadex-manga-scrapper/pkg/config"
)

// cfg is built once before any command runs and handed to constructors.
var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "mangadx",
	Short: "Download manga from MangaDex",
	Long:  "Search MangaDex and download manga chapters into a local folder tree",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		if err := config.LoadEnvFile(envFile); err != nil {
			return err
		}
		c, err := config.FromEnv()
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("env-file", ".env", "Path to an optional .env file")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
