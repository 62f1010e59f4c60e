package cli

import (
	"fmt"

	"github.com/harun/aide/internal/config"
	"github.com/spf13/cobra"
)

var configOutput string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show, check or create the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Run interactive configuration wizard",
	Long: `Run an interactive configuration wizard to set up aide.
The wizard will guide you through API keys, the default mode and the history
backend, then write the config file.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

func init() {
	configShowCmd.Flags().StringVarP(&configOutput, "output", "o", outputJSON, "output format (json, yaml)")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	if configOutput != outputJSON && configOutput != outputYAML {
		return fmt.Errorf("unknown output format %q (json, yaml)", configOutput)
	}
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return writeStructured(cmd.OutOrStdout(), configOutput, cfg.Redacted())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out := cmd.OutOrStdout()
	errs := config.NewValidator().ValidateConfig(cfg)
	if len(errs) == 0 {
		fmt.Fprintf(out, "%s: ok\n", loader.GetConfigPath())
		return nil
	}
	for _, e := range errs {
		fmt.Fprintf(out, "  - %v\n", e)
	}
	return fmt.Errorf("%s: %d problem(s) found", loader.GetConfigPath(), len(errs))
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	base, err := loader.Load()
	if err != nil {
		base = config.DefaultConfig()
	}

	// Run wizard
	wizard := config.NewWizard(cmd.InOrStdin(), cmd.OutOrStdout())
	cfg, err := wizard.Run(base)
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Save configuration
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nConfiguration saved to: %s\n", loader.GetConfigPath())
	fmt.Fprintln(cmd.OutOrStdout(), "\nYou can now start with: aide chat")
	return nil
}
