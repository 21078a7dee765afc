package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor  bool
	envFiles []string
)

var rootCmd = &cobra.Command{
	Use:   "ingestd",
	Short: "PDF ingestion and retrieval service for study companions",
	Long: `ingestd turns companion attachments (PDFs) into embedded, searchable chunks.

Run "ingestd serve" to start the HTTP API and the ingestion worker; the other
commands talk to a running server.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv file(s) to load before reading config (default .env)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(companionCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		fmt.Fprintln(os.Stderr, "run 'ingestd --help' for usage")
		os.Exit(1)
	}
}
