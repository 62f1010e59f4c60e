package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	historyUser   string
	historyLimit  int
	historyOutput string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect or clear stored conversations",
}

var historyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a user's conversation history",
	Args:  cobra.NoArgs,
	RunE:  runHistoryShow,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete a user's conversation history",
	Args:  cobra.NoArgs,
	RunE:  runHistoryClear,
}

func init() {
	historyCmd.PersistentFlags().StringVar(&historyUser, "user", defaultUser(), "user id")
	historyShowCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "show only the last n messages (0 shows all)")
	historyShowCmd.Flags().StringVarP(&historyOutput, "output", "o", outputText, "output format (text, json, yaml)")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	if err := checkOutput(historyOutput); err != nil {
		return err
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	store, err := openHistory(cmd.Context(), a.config())
	if err != nil {
		return err
	}
	defer store.Close()

	msgs, err := store.Load(cmd.Context(), historyUser, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	out := cmd.OutOrStdout()
	if historyOutput != outputText {
		return writeStructured(out, historyOutput, msgs)
	}
	if len(msgs) == 0 {
		fmt.Fprintf(out, "No history for %s.\n", historyUser)
		return nil
	}
	for _, m := range msgs {
		fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Local().Format(time.DateTime), m.Role, m.Content)
	}
	return nil
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	store, err := openHistory(cmd.Context(), a.config())
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Clear(cmd.Context(), historyUser); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "History cleared for %s.\n", historyUser)
	return nil
}
