package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"instarelay/internal/bot"
	"instarelay/internal/engine"
)

var fetchSubscriber int64

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Deliver the media of a post or story link to a subscriber",
	Args:  cobra.ExactArgs(1),
	RunE:  fetchAction,
}

func init() {
	fetchCmd.Flags().Int64Var(&fetchSubscriber, "subscriber", 0, "subscriber (chat) ID to deliver to")
	_ = fetchCmd.MarkFlagRequired("subscriber")
	rootCmd.AddCommand(fetchCmd)
}

func fetchAction(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	out, err := a.relay.TriggerLinkFetch(ctx, fetchSubscriber, args[0])
	if err != nil {
		return fmt.Errorf("fetch link: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), bot.FormatLinkOutcome(out))
	if out.Status != engine.LinkDelivered {
		return fmt.Errorf("fetch link: %s", out.Status)
	}
	return nil
}
