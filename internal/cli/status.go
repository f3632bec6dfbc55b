package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"instarelay/internal/bot"
	"instarelay/internal/model"
	"instarelay/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show subscribers, their accounts and sync progress",
	RunE:  statusAction,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	registry, err := storage.OpenRegistry(ctx, store, cfg.AdminUsers)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	watermarks, err := storage.OpenWatermarks(ctx, store)
	if err != nil {
		return fmt.Errorf("open watermarks: %w", err)
	}

	p, err := newProvider(cfg)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}

	printStatus(cmd.OutOrStdout(), registry.List(), watermarks.Snapshot(), p.IsAuthenticated())
	return nil
}

func printStatus(w io.Writer, subs []model.Subscriber, marks map[model.AccountKey]model.Watermark, authenticated bool) {
	if len(subs) == 0 {
		fmt.Fprintln(w, "No subscribers yet.")
		return
	}
	session := "none (stories off)"
	if authenticated {
		session = "active"
	}
	fmt.Fprintf(w, "Instagram session: %s\n", session)

	for _, sub := range subs {
		flags := string(sub.Role)
		if sub.Blocked {
			flags += ", blocked"
		}
		fmt.Fprintf(w, "\nsubscriber %d (%s), %d account(s)\n", sub.ID, flags, len(sub.Accounts))
		for _, acct := range sub.Accounts {
			wm, ok := marks[model.AccountKey{SubscriberID: sub.ID, Account: acct}]
			fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(bot.FormatWatermark(acct, wm, ok, authenticated), "\n", "\n    "))
		}
	}
}
