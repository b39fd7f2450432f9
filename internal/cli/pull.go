package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tutu-network/mtran/internal/daemon"
	"github.com/tutu-network/mtran/internal/domain"
	"github.com/tutu-network/mtran/internal/infra/records"
	"github.com/tutu-network/mtran/internal/infra/sqlite"
	"github.com/tutu-network/mtran/internal/logging"
)

func init() {
	rootCmd.AddCommand(pullCmd)
}

var pullCmd = &cobra.Command{
	Use:   "pull FROM TO",
	Short: "Download the models for a language pair",
	Long: `Download the latest model files for a direct language pair. When no
direct model exists and neither language is English, both legs of the
English pivot are downloaded.`,
	Example: `  mtran pull en de
  mtran pull fr ja`,
	Args: cobra.ExactArgs(2),
	RunE: runPull,
}

func runPull(cmd *cobra.Command, args []string) error {
	from, to := domain.NormalizeLanguage(args[0]), domain.NormalizeLanguage(args[1])

	mgr, closeFn, err := openRecords()
	if err != nil {
		return err
	}
	defer closeFn()
	if err := mgr.Init(cmd.Context()); err != nil {
		return err
	}

	legs := []domain.LanguagePair{{From: from, To: to}}
	if !mgr.HasDirectPair(from, to) && from != domain.LangEnglish && to != domain.LangEnglish {
		legs = []domain.LanguagePair{{From: from, To: domain.LangEnglish}, {From: domain.LangEnglish, To: to}}
		fmt.Fprintf(os.Stderr, "No direct model for %s -> %s, pulling via English\n", from, to)
	}

	for _, leg := range legs {
		fmt.Fprintf(os.Stderr, "Pulling %s -> %s...\n", leg.From, leg.To)
		files, err := mgr.EnsureDownloaded(cmd.Context(), leg.From, leg.To)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s ready (%d files)\n", leg.From, leg.To, len(files))
	}
	return nil
}

// openRecords builds a records manager without the rest of the daemon.
func openRecords() (*records.Manager, func(), error) {
	cfg, err := loadConfig(true)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Console, nil)
	if err != nil {
		return nil, nil, err
	}
	db, err := sqlite.Open(daemon.Home())
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	opts := records.Options{
		ConfigDir:       daemon.Home(),
		ModelDir:        cfg.Models.Dir,
		RecordsURL:      cfg.Models.RecordsURL,
		AttachmentsURL:  cfg.Models.AttachmentsURL,
		Offline:         cfg.Models.Offline,
		DownloadTimeout: cfg.Models.DownloadTimeout,
		Logger:          logger,
	}
	if logging.IsTerminal(os.Stderr) {
		opts.Progress = newProgressBar().callback
	}
	return records.NewManager(opts, db), func() { db.Close() }, nil
}
