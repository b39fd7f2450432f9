package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tutu-network/mtran/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveToken, "api-token", "", "Require this API token (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost  string
	servePort  int
	serveToken string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the translation API server",
	Long:  `Start the HTTP translation API server, by default on 0.0.0.0:8989.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	// Override config from flags
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if serveToken != "" {
		cfg.Server.APIToken = serveToken
	}

	d, err := daemon.NewWithConfig(cfg, version)
	if err != nil {
		return err
	}
	return d.Serve(context.Background())
}
