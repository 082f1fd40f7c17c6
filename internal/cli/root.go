// Package cli implements the command-line interface for unison-fsmonitor
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/pulsepoint/fsmonitor/internal/journal"
	"github.com/pulsepoint/fsmonitor/internal/session"
	"github.com/pulsepoint/fsmonitor/internal/supervisor"
	"github.com/pulsepoint/fsmonitor/internal/watch"
	"github.com/pulsepoint/fsmonitor/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// rootCmd runs the adapter when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "unison-fsmonitor",
	Short: "Filesystem monitor for the Unison file synchronizer",
	Long: `unison-fsmonitor speaks the Unison fswatch protocol on stdin/stdout.

Unison starts it when a profile uses -repeat watch. It watches every replica
root Unison registers and reports the subtrees that changed, so Unison only
rescans those. Logs go to stderr and, optionally, to a rotating file.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runMonitor,
}

// Execute adds all child commands to the root command and runs it
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, bd string) {
	version = v
	buildDate = bd
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildDate)
}

func init() {
	addPersistentFlags(rootCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func setupLogging(cfg *Config, stderr io.Writer) error {
	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.OutputPath = cfg.Logging.File
	logCfg.MaxSize = cfg.Logging.MaxSize
	logCfg.MaxBackups = cfg.Logging.MaxBackups
	logCfg.MaxAge = cfg.Logging.MaxAge
	logCfg.Compress = cfg.Logging.Compress
	logCfg.EnableJSON = cfg.Logging.JSON
	logCfg.Console = stderr

	if err := logger.Initialize(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if cfg.Debug || cfg.Trace {
		logger.SetDebug(true)
	}
	return nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg, cmd.ErrOrStderr()); err != nil {
		return err
	}
	defer logger.Sync()

	log := logger.Get()
	sessionID := uuid.New().String()
	sup := supervisor.New()

	backend, err := watch.New(watch.BackendType(cfg.Watcher.Backend), watch.Options{
		Supervisor:    sup,
		ReportParents: cfg.Watcher.ReportParents,
		BufferSize:    cfg.Watcher.BufferSize,
	})
	if err != nil {
		return err
	}

	sessCfg := session.Config{
		ID:         sessionID,
		Backend:    backend,
		Supervisor: sup,
		Trace:      cfg.Trace,
	}
	if cfg.Journal.Enabled {
		j, err := journal.Open(journal.NewStore(&journal.Options{Path: cfg.Journal.Path}), sessionID, backend.Name())
		if err != nil {
			// the journal is diagnostic only; the session runs without it
			log.Warn("Journal disabled", zap.Error(err))
		} else {
			sessCfg.Journal = j
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := session.New(cmd.InOrStdin(), cmd.OutOrStdout(), sessCfg)
	runErr := s.Run(ctx)
	if err := s.Close(runErr); err != nil {
		log.Warn("Session shutdown incomplete", zap.Error(err))
	}

	if runErr != nil {
		if stack := supervisor.Stack(runErr); stack != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "%v\n%s", runErr, stack)
		}
		return runErr
	}
	return nil
}
