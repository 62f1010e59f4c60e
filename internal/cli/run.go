package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/harun/aide/pkg/agent"
	"github.com/spf13/cobra"
)

var (
	runMode   string
	runUser   string
	runOutput string
)

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Run one request through the assistant",
	Long: `Run one request through the assistant and print the answer.
The conversation is persisted to the configured history backend, so later
runs for the same user see it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "", "chat mode: simple, autonomous or intent (default engine.default_mode)")
	runCmd.Flags().StringVar(&runUser, "user", defaultUser(), "user id")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", outputText, "output format (text, json, yaml)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := checkOutput(runOutput); err != nil {
		return err
	}
	if runMode != "" {
		if _, err := agent.ParseMode(runMode); err != nil {
			return err
		}
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := a.config()
	client, err := newLLMClient(cfg)
	if err != nil {
		return err
	}
	store, err := openHistory(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	cache := newAssistantCache(a.config, client)
	defer cache.Shutdown(ctx)

	assistant, err := cache.GetOrCreate(ctx, runUser, store)
	if err != nil {
		return fmt.Errorf("failed to start assistant: %w", err)
	}

	res, runErr := assistant.Run(ctx, agent.TurnRequest{
		Goal:        strings.Join(args, " "),
		Mode:        agent.Mode(runMode),
		Personality: cfg.Engine.Personality,
	})
	if res != nil {
		if err := printResult(cmd.OutOrStdout(), runOutput, res); err != nil {
			return err
		}
	}
	return runErr
}
