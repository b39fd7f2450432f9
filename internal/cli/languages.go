package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	languagesCmd.Flags().BoolVar(&languagesPairs, "pairs", false, "List direct language pairs")
	rootCmd.AddCommand(languagesCmd)
}

var languagesPairs bool

var languagesCmd = &cobra.Command{
	Use:     "languages",
	Aliases: []string{"langs"},
	Short:   "List languages offered by the model records",
	RunE:    runLanguages,
}

func runLanguages(cmd *cobra.Command, args []string) error {
	d, err := openDaemon(cmd.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	out := cmd.OutOrStdout()
	if !languagesPairs {
		fmt.Fprintln(out, strings.Join(d.Records.Languages(), " "))
		return nil
	}
	for _, p := range d.Records.Pairs() {
		fmt.Fprintf(out, "%s -> %s\n", p.From, p.To)
	}
	return nil
}
