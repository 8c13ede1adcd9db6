package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"profitcalc/internal/calculator/bridge"
	"profitcalc/internal/calculator/factory"
	"profitcalc/internal/config"
	"profitcalc/pkg/logger"
	"profitcalc/pkg/redis"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ENTRY POINT

var (
	configPath string

	cfg      config.Config
	log      *zap.Logger
	engines  *factory.Factory
	resultDB *redis.Client
)

var rootCmd = &cobra.Command{
	Use:   "profitcalc",
	Short: "Marketplace profit and shipping calculator",
	Long: `profitcalc computes product profit and shipping cost with one of several
engines: built-in rules, a formula workbook evaluated in process, or the
same workbook driven through a native spreadsheet application.

Configuration is read from defaults, then the YAML file given with --config,
then .env and PROFIT_* environment variables.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML configuration file")

	rootCmd.AddCommand(calcCmd, batchCmd, validateCmd, templateCmd, infoCmd)
}

// setup loads the configuration and wires the logger and the engine factory.
func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.NewBuilder().WithFile(configPath).WithDotEnv(".env").WithEnv().Build()
	if err != nil {
		return err
	}

	log, err = logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(log)

	// Interrupts cancel the command context and teardown quits the
	// application, so the pool must not exit the process on its own.
	bridge.SharedPool().SetExitHook(nil)

	opts := []factory.Option{factory.WithLogger(log)}
	if cfg.ResultCache.Enabled {
		rc := cfg.ResultCache
		resultDB = redis.New(rc.Addr, rc.Password, rc.DB, rc.TTL)
		if err := resultDB.Ping(cmd.Context()); err != nil {
			log.Warn("Result cache unreachable, results will be calculated directly",
				zap.String("addr", rc.Addr), zap.Error(err))
		}
		opts = append(opts, factory.WithResultStore(resultDB))
	}
	engines = factory.New(opts...)
	return nil
}

// teardown releases everything setup acquired. It runs whether or not the
// command succeeded.
func teardown() {
	if log == nil {
		log = zap.NewNop()
	}
	if engines != nil {
		if err := engines.ClearCache(); err != nil {
			log.Warn("Failed to close engines", zap.Error(err))
		}
	}
	if err := bridge.Shutdown(); err != nil {
		log.Warn("Failed to stop spreadsheet application", zap.Error(err))
	}
	if resultDB != nil {
		_ = resultDB.Close()
		resultDB = nil
	}
	_ = log.Sync()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	teardown()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
