package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pulsepoint/fsmonitor/internal/journal"
	"github.com/pulsepoint/fsmonitor/internal/watch"
	fserrors "github.com/pulsepoint/fsmonitor/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the effective adapter configuration
type Config struct {
	Debug   bool          `mapstructure:"debug" yaml:"debug"`
	Trace   bool          `mapstructure:"trace" yaml:"trace"`
	Watcher WatcherConfig `mapstructure:"watcher" yaml:"watcher"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Journal JournalConfig `mapstructure:"journal" yaml:"journal"`
}

// WatcherConfig selects and tunes the filesystem backend
type WatcherConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend"`
	ReportParents bool   `mapstructure:"report_parents" yaml:"report_parents"`
	BufferSize    int    `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// LoggingConfig configures pkg/logger. Logs never go to stdout.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
	JSON       bool   `mapstructure:"json" yaml:"json"`
}

// JournalConfig configures the diagnostic journal
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// flagKeys maps persistent flags onto configuration keys
var flagKeys = map[string]string{
	"debug":    "debug",
	"trace":    "trace",
	"backend":  "watcher.backend",
	"log-file": "logging.file",
	"journal":  "journal.enabled",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("trace", false)

	v.SetDefault("watcher.backend", string(watch.Fsnotify))
	v.SetDefault("watcher.report_parents", true)
	v.SetDefault("watcher.buffer_size", watch.DefaultBufferSize)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 7)
	v.SetDefault("logging.compress", true)
	v.SetDefault("logging.json", false)

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.path", journal.DefaultPath())
}

// addPersistentFlags declares the flags shared by every command
func addPersistentFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (default is $HOME/.pulsepoint/fsmonitor.yaml)")
	flags.Bool("debug", false, "log protocol traffic and watcher activity to stderr")
	flags.Bool("trace", false, "also dump the change trees and the wait set after every update")
	flags.String("backend", string(watch.Fsnotify), "filesystem backend (fsnotify, notify)")
	flags.String("log-file", "", "also write logs to this rotating file")
	flags.Bool("journal", false, "record sessions and replicas in the diagnostic journal")
}

// newViper creates a viper instance with defaults, the config search path
// and environment overrides (PULSEPOINT_FSMONITOR_WATCHER_BACKEND etc.)
func newViper(cfgFile string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".pulsepoint"))
		}
		v.AddConfigPath("/etc/pulsepoint/")
		v.SetConfigType("yaml")
		v.SetConfigName("fsmonitor")
	}

	v.SetEnvPrefix("PULSEPOINT_FSMONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig resolves the configuration for cmd: flags over environment
// over config file over defaults.
func loadConfig(cmd *cobra.Command) (*Config, *viper.Viper, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	v := newViper(cfgFile)

	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, nil, fserrors.NewConfigError(fmt.Sprintf("cannot bind flag --%s", flag), err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || cfgFile != "" {
			return nil, nil, fserrors.NewConfigError("cannot read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fserrors.NewConfigError("cannot decode configuration", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}
	return &cfg, v, nil
}

func (c *Config) validate() error {
	switch watch.BackendType(c.Watcher.Backend) {
	case watch.Fsnotify, watch.Notify:
	default:
		return fserrors.NewConfigError(fmt.Sprintf("unknown watcher backend %q", c.Watcher.Backend), nil)
	}
	if c.Watcher.BufferSize < 0 {
		return fserrors.NewConfigError("watcher.buffer_size must not be negative", nil)
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fserrors.NewConfigError("journal.path is required when the journal is enabled", nil)
	}
	return nil
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect fsmonitor configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

func init() {
	configCmd.AddCommand(configShowCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, v, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	configFile := v.ConfigFileUsed()
	if configFile == "" {
		configFile = "(none, using defaults)"
	}
	fmt.Fprintf(out, "# config file: %s\n", configFile)

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	_, err = out.Write(yamlData)
	return err
}
