package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"peerlink/internal/services/identity"
)

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the shared secret fingerprint; nodes with equal fingerprints can connect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := secret
			if s == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				s = cfg.Session.Secret
			}
			if err := identity.CheckSecret(s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint: %s\n", identity.Fingerprint(s))
			return nil
		},
	}
}
