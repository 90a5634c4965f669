// Package main provides the entry point for the catalogd pipeline daemon and
// its one-shot maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "catalogd",
	Short: "Security catalog pipeline daemon",
	Long:  "catalogd continuously fetches the vendor security catalog archive, ingests its contents into Postgres, and republishes the catalog as small per-group archives.",
}

var cfgFile string

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to YAML config file (environment variables take precedence)")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
