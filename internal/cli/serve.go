package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ncreasor/triago/internal/config"
	"github.com/ncreasor/triago/internal/daemon"
	"github.com/ncreasor/triago/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the triage service",
	Long: `Run the triage service in the foreground: the webhook server, the
scheduled statistics jobs and the nightly registry rebuild.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	zl := log.GetZerolog()
	select {
	case s := <-sig:
		zl.Info().Str("signal", s.String()).Msg("Signal received, shutting down")
	case <-d.Done():
		zl.Warn().Msg("Daemon stopped on its own")
	}

	return d.Stop()
}
