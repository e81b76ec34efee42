package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"scout/internal/config"
	"scout/internal/engine"
	"scout/internal/logging"
)

var (
	// Global flags
	cfgPath string
	rootDir string
	verbose bool

	// Logger
	logger *zap.Logger

	cfg *config.Config
	eng *engine.Engine
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "scout",
	Short: "scout - multi-provider deep research engine",
	Long: `scout runs long-form research jobs across OpenAI, Azure, Gemini, Grok,
and Anthropic deep-research endpoints from one durable queue.

Jobs are routed to the best available provider, polled to completion,
priced against your budget, and saved as cited markdown reports.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if cfgPath == "" {
			cfgPath = config.DefaultPath()
		}
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if rootDir != "" {
			cfg.Root = rootDir
		}
		if err := logging.Initialize(cfg.Root); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}

		eng, err = engine.New(cfg)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if eng != nil {
			eng.Close()
		}
		logging.CloseAll()
		if logger != nil {
			logger.Sync()
		}
	},
}

// signalContext returns a context canceled by SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()
	return ctx, cancel
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default <root>/config.json)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "data root (default ~/.scout)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
