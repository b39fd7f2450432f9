package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	detectCmd.Flags().Float64Var(&detectMinConfidence, "min-confidence", -1, "Report confidence and reject guesses below it")
	detectCmd.Flags().BoolVar(&detectSegments, "segments", false, "Split mixed-language text into segments")
	rootCmd.AddCommand(detectCmd)
}

var (
	detectMinConfidence float64
	detectSegments      bool
)

var detectCmd = &cobra.Command{
	Use:   "detect [TEXT...]",
	Short: "Detect the language of text",
	RunE:  runDetect,
}

func runDetect(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !stdinIsPiped() {
		return errors.New("no text given: pass it as arguments or on stdin")
	}
	text, err := inputText(args, os.Stdin)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	det, err := newDetector(cfg)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	switch {
	case detectSegments:
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LANG\tCONFIDENCE\tSPAN\tTEXT")
		for _, seg := range det.DetectMultipleLanguages(text) {
			fmt.Fprintf(w, "%s\t%.2f\t%d-%d\t%q\n", seg.Language, seg.Confidence, seg.Start, seg.End, seg.Text)
		}
		return w.Flush()
	case detectMinConfidence >= 0:
		d := det.DetectLanguageWithConfidence(text, detectMinConfidence)
		if d.Language == "" {
			fmt.Fprintf(out, "(below threshold)\t%.2f\n", d.Confidence)
			return nil
		}
		fmt.Fprintf(out, "%s\t%.2f\n", d.Language, d.Confidence)
	default:
		fmt.Fprintln(out, det.DetectLanguage(text))
	}
	return nil
}
