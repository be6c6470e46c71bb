package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luciancaetano/frost/gateway"
	"github.com/luciancaetano/frost/internal/config"
	"github.com/luciancaetano/frost/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "frost",
		Short:         "frost chat gateway",
		Long:          `frost serves authenticated chat rooms over length-prefixed JSON on TCP and WebSocket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVar(&configPath, "conf", "", "path to the YAML configuration file (env FROST_CONF)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the gateway until interrupted",
		RunE:  runServe,
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of frost",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "frost version %s\n", version)
		},
	})
	return root
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return os.Getenv("FROST_CONF")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	g, err := gateway.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := g.Start(ctx); err != nil {
		return err
	}
	log.Info("frost started", zap.String("version", version))

	<-ctx.Done()
	log.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return g.Stop(shutdownCtx)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "frost:", err)
		os.Exit(1)
	}
}
