// Package cmd implements the CLI commands for reelcast.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/reelcast/internal/config"
	"github.com/jmylchreest/reelcast/internal/observability"
	"github.com/jmylchreest/reelcast/internal/version"
)

var (
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:     "reelcast",
	Short:   "Asynchronous video processing pipeline",
	Version: version.Version,
	Long: `reelcast merges and encodes uploaded video into a finished, styled output.

Jobs are queued on Redis or the database and processed by worker pools.
When no durable queue is reachable at startup, jobs run in-process.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// PersistentPreRunE is assigned here because loadLogging reads
	// rootCmd's own flags.
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		if err := loadEnvFile(envFile); err != nil {
			return err
		}
		return initLogging()
	}

	// Logging flags are not bound to viper: a flag's default would always
	// win over env and file values. They are applied only when Changed().
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// loadEnvFile loads a dotenv file into the process environment. Variables
// already set are left alone. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// loadConfig reads defaults, the config file and REELCAST_* variables into
// the global viper instance, which already carries any bound flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWith(viper.GetViper(), cfgFile)
	if err != nil {
		return nil, err
	}
	if used := viper.ConfigFileUsed(); used != "" {
		slog.Debug("using config file", slog.String("path", used))
	}
	return cfg, nil
}

// initLogging configures the default logger.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format), only if explicitly provided
//  2. Environment variables (REELCAST_LOGGING_LEVEL, REELCAST_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults (info, json)
func initLogging() error {
	v := viper.New()
	config.SetDefaults(v)
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		_ = v.ReadInConfig()
	}

	logCfg := config.LoggingConfig{
		Level:          v.GetString("logging.level"),
		Format:         v.GetString("logging.format"),
		AddSource:      v.GetBool("logging.add_source"),
		TimeFormat:     v.GetString("logging.time_format"),
		RequestLogging: v.GetBool("logging.request_logging"),
	}

	if rootCmd.PersistentFlags().Changed("log-level") {
		logCfg.Level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		logCfg.Format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	logCfg.Level = strings.ToLower(logCfg.Level)
	logCfg.Format = strings.ToLower(logCfg.Format)
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr).
		With(slog.String("app", version.ApplicationName))
	slog.SetDefault(logger)
	observability.SetRequestLoggingEnabled(logCfg.RequestLogging)

	return nil
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
