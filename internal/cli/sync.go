package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"instarelay/internal/bot"
	"instarelay/internal/engine"
)

var syncSubscriber int64

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass and print the outcomes",
	Long:  "Runs a pass for every account of --subscriber, or for every active subscriber when the flag is omitted. New items are delivered to the subscribers' chats.",
	RunE:  syncAction,
}

func init() {
	syncCmd.Flags().Int64Var(&syncSubscriber, "subscriber", 0, "subscriber (chat) ID; all subscribers when 0")
	rootCmd.AddCommand(syncCmd)
}

func syncAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var results map[int64][]engine.Outcome
	if syncSubscriber != 0 {
		outcomes, err := a.relay.TriggerSync(ctx, syncSubscriber)
		if err != nil {
			return fmt.Errorf("sync subscriber %d: %w", syncSubscriber, err)
		}
		results = map[int64][]engine.Outcome{syncSubscriber: outcomes}
	} else {
		results = a.relay.SyncAll(ctx)
	}

	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No accounts to sync.")
		return nil
	}
	ids := make([]int64, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fmt.Fprintf(out, "subscriber %d:\n", id)
		for _, o := range results[id] {
			fmt.Fprintf(out, "  %s\n", bot.FormatOutcome(o))
		}
		fmt.Fprintf(out, "  %s\n", bot.FormatSummary(results[id]))
	}
	return nil
}
