package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tutu-network/mtran/internal/domain"
)

func init() {
	translateCmd.Flags().StringVarP(&translateFrom, "from", "f", domain.LangAuto, "Source language, or auto")
	translateCmd.Flags().StringVarP(&translateTo, "to", "t", "", "Target language")
	translateCmd.Flags().BoolVar(&translateHTML, "html", false, "Treat input as HTML")
	translateCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(translateCmd)
}

var (
	translateFrom string
	translateTo   string
	translateHTML bool
)

var translateCmd = &cobra.Command{
	Use:   "translate [TEXT...]",
	Short: "Translate text locally",
	Long: `Translate text without starting the server. Text is taken from the
arguments, or from stdin when none are given.`,
	Example: `  mtran translate --to de "Hello world"
  cat page.html | mtran translate --from en --to ja --html`,
	RunE: runTranslate,
}

func runTranslate(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !stdinIsPiped() {
		return errors.New("no text given: pass it as arguments or on stdin")
	}
	text, err := inputText(args, os.Stdin)
	if err != nil {
		return err
	}

	d, err := openDaemon(cmd.Context())
	if err != nil {
		return err
	}
	defer d.Close()

	from, to := domain.NormalizeLanguage(translateFrom), domain.NormalizeLanguage(translateTo)
	result, err := d.Router.Translate(cmd.Context(), from, to, text, translateHTML)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), result)
	return nil
}
