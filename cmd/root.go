package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "survey-scheduler",
	Short: "Survey lifecycle scheduler",
	Long:  "Drives survey publish/close windows and recurrence, and delivers lifecycle events.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Local development loads secrets from .env; deployed environments
	// inject real environment variables and have no such file.
	_ = godotenv.Load()

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(migrateCmd)
}
