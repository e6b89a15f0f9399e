package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"peerlink/internal/app"
	"peerlink/internal/services/identity"
)

func genconfigCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "genconfig",
		Short: "Write a default config file with a freshly generated secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = defaultConfigPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := app.Default()
			if secret == "" {
				s, err := identity.GenerateSecret()
				if err != nil {
					return err
				}
				cfg.Session.Secret = s
			}
			applyFlags(cfg)
			if err := cfg.FixupAndValidate(); err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return err
			}
			if err := app.WriteFile(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\nFingerprint: %s\n", path, identity.Fingerprint(cfg.Session.Secret))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}
