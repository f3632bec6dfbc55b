package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"instarelay/internal/provider"
)

var loginCmd = &cobra.Command{
	Use:   "login <username> <sessionid>",
	Short: "Store an Instagram session for story access",
	Long:  "Verifies the session cookie against Instagram and saves it to SESSION_FILE, where the running bot picks it up on its next start.",
	Args:  cobra.ExactArgs(2),
	RunE:  loginAction,
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

func loginAction(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := newProvider(cfg)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}

	creds := provider.Credentials{Username: args[0], SessionID: args[1]}
	if err := p.Authenticate(cmd.Context(), creds); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s, session saved to %s\n", creds.Username, cfg.SessionFile)
	return nil
}
