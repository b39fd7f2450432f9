package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tutu-network/mtran/internal/domain"
)

func init() {
	modelsCmd.AddCommand(modelsListCmd, modelsRmCmd)
	rootCmd.AddCommand(modelsCmd)
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage downloaded model files",
}

var modelsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List installed model files",
	RunE:    runModelsList,
}

var modelsRmCmd = &cobra.Command{
	Use:   "rm FROM TO",
	Short: "Remove the model files of a language pair",
	Args:  cobra.ExactArgs(2),
	RunE:  runModelsRm,
}

func runModelsList(cmd *cobra.Command, args []string) error {
	mgr, closeFn, err := openRecords()
	if err != nil {
		return err
	}
	defer closeFn()

	files, err := mgr.Installed()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No models installed. Run 'mtran pull <from> <to>' to get started.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PAIR\tTYPE\tVERSION\tSIZE\tINSTALLED")
	for _, f := range files {
		fmt.Fprintf(w, "%s -> %s\t%s\t%s\t%s\t%s\n",
			f.From, f.To,
			f.FileType,
			f.Version,
			humanize.Bytes(uint64(f.SizeBytes)),
			humanize.Time(f.InstalledAt),
		)
	}
	return w.Flush()
}

func runModelsRm(cmd *cobra.Command, args []string) error {
	from, to := domain.NormalizeLanguage(args[0]), domain.NormalizeLanguage(args[1])

	mgr, closeFn, err := openRecords()
	if err != nil {
		return err
	}
	defer closeFn()

	if err := mgr.Remove(from, to); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s -> %s\n", from, to)
	return nil
}
