package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// configEnv names the config file when --config is not given.
const configEnv = "AIDE_CONFIG"

// Persistent flags, resolved by resolveGlobalFlags before any subcommand runs.
var (
	cfgFile  string
	logLevel string
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aide",
		Short: "aide - personal assistant agent orchestration",
		Long: `aide runs a personal assistant that plans, calls tools and
synthesizes answers through bounded agent flows. Each request runs in one of
three modes: simple, autonomous or intent.

The config file is taken from --config, then $` + configEnv + `, then
$HOME/.aide/aide.json.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: resolveGlobalFlags,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $"+configEnv+" or $HOME/.aide/aide.json)")
	flags.StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	cmd.SetVersionTemplate("{{.Name}} version {{.Version}}\n")
	return cmd
}

// resolveGlobalFlags fills --config from the environment and rejects an
// unknown --log-level before a subcommand loads its config.
func resolveGlobalFlags(cmd *cobra.Command, _ []string) error {
	if !cmd.Flags().Changed("config") {
		cfgFile = os.Getenv(configEnv)
	}
	if cmd.Flags().Changed("log-level") {
		level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(logLevel)))
		if err != nil || level == zerolog.NoLevel || level == zerolog.PanicLevel {
			return fmt.Errorf("invalid --log-level %q: want trace, debug, info, warn or error", logLevel)
		}
		logLevel = level.String()
	}
	return nil
}

// Execute runs the root command. main calls it once.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
