package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tutu-network/mtran/internal/app/detect"
	"github.com/tutu-network/mtran/internal/daemon"
	"github.com/tutu-network/mtran/internal/infra/langid"
	"github.com/tutu-network/mtran/internal/logging"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "Use only local records and models")
}

var (
	logLevel string
	offline  bool
)

// loadConfig applies persistent flag overrides. Commands other than serve
// log warnings only unless asked otherwise.
func loadConfig(quiet bool) (daemon.Config, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if quiet {
		cfg.Logging.Level = "warn"
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if offline {
		cfg.Models.Offline = true
	}
	return cfg, nil
}

// openDaemon builds an in-process daemon with its catalog loaded.
func openDaemon(ctx context.Context) (*daemon.Daemon, error) {
	cfg, err := loadConfig(true)
	if err != nil {
		return nil, err
	}
	d, err := daemon.NewWithConfig(cfg, version)
	if err != nil {
		return nil, err
	}
	if err := d.Init(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// inputText joins args, or reads all of r when there are none.
func inputText(args []string, r io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	var b strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	first := true
	for scanner.Scan() {
		if !first {
			b.WriteByte('\n')
		}
		b.WriteString(scanner.Text())
		first = false
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return b.String(), nil
}

// stdinIsPiped reports whether stdin carries data rather than a terminal.
func stdinIsPiped() bool {
	st, err := os.Stdin.Stat()
	return err == nil && st.Mode()&os.ModeCharDevice == 0
}

// newDetector builds a standalone language detector from cfg.
func newDetector(cfg daemon.Config) (*detect.Detector, error) {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Console, nil)
	if err != nil {
		return nil, err
	}
	return detect.New(langid.Factory(langid.Options{}), detect.Options{
		ConfidenceThreshold: cfg.Detector.ConfidenceThreshold,
		MaxLanguages:        cfg.Detector.MaxLanguages,
	}, logger), nil
}
