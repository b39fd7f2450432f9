// Package cli implements the mtran command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mtran",
	Short: "mtran: offline neural machine translation",
	Long: `mtran serves neural machine translation over HTTP.
Models are downloaded once per language pair and run locally.
Pairs without a direct model are translated through English.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// version is reported by --version and GET /version.
var version = "dev"

// Execute runs the root command. Called from main.go.
func Execute(v string) {
	version = v
	rootCmd.Version = v

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
