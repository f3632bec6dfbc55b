package cli

import (
	"github.com/spf13/cobra"

	"instarelay/internal/bot"
	"instarelay/internal/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Telegram bot and the scheduled checks",
	RunE:  runAction,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	b := bot.New(a.api, a.relay, a.cfg, a.log)

	sched := scheduler.New(a.relay, b, a.log)
	sched.SetTickInterval(a.cfg.SyncInterval)

	a.log.Info("starting bot", "provider", a.cfg.Provider, "interval", a.cfg.SyncInterval, "workers", a.cfg.SyncWorkers)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Run(ctx)
	}()

	b.Run(ctx)
	<-done

	a.log.Info("bot stopped")
	return nil
}
