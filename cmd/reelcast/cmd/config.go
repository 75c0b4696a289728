package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing reelcast configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the configuration in YAML format after defaults, the config file,
.env and REELCAST_* variables have been applied.

Redirect the output to create a configuration template:

  reelcast config dump > config.yaml

Environment variables use the REELCAST_ prefix and underscores for nesting.
Example: queue.redis.addr -> REELCAST_QUEUE_REDIS_ADDR`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// secretKeys are masked in dumps.
var secretKeys = map[string]bool{
	"password":   true,
	"secret_key": true,
}

// toMap converts a config struct to a map keyed by mapstructure tags, with
// durations in their string form.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = fv.String()
		case string:
			if secretKeys[key] && fv != "" {
				result[key] = "********"
			} else {
				result[key] = fv
			}
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	data, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# reelcast configuration")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# Duration format: 30s, 5m, 2h")
	fmt.Fprintln(out, "# Environment overrides: REELCAST_SERVER_PORT, REELCAST_QUEUE_BACKEND,")
	fmt.Fprintln(out, "#   REELCAST_DATABASE_DSN, REELCAST_CREDITS_LEDGER_URL, etc.")
	fmt.Fprintln(out)
	fmt.Fprint(out, string(data))
	return nil
}
