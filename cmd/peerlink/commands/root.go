package commands

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"peerlink/internal/app"
)

var (
	configPath    string
	secret        string
	dataPort      int
	discoveryPort int
	noDiscovery   bool
	apiAddr       string
)

// Execute runs the CLI with os.Args.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "peerlink",
		Short:        "LAN peer discovery and secure sessions",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.peerlink/peerlink.toml)")
	root.PersistentFlags().StringVar(&secret, "secret", "", "shared application secret (overrides the config file)")
	root.PersistentFlags().IntVar(&dataPort, "data-port", -1, "TCP port for sessions, 0 for any (overrides the config file)")
	root.PersistentFlags().IntVar(&discoveryPort, "discovery-port", 0, "UDP discovery port (overrides the config file)")
	root.PersistentFlags().BoolVar(&noDiscovery, "no-discovery", false, "disable LAN discovery")
	root.PersistentFlags().StringVar(&apiAddr, "api", "", "status API address of a running node (default from the config file)")

	root.AddCommand(
		runCmd(),
		peersCmd(),
		sessionsCmd(),
		connectCmd(),
		sendCmd(),
		genconfigCmd(),
		fingerprintCmd(),
	)
	return root
}

func defaultConfigPath() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "peerlink.toml"
	}
	return filepath.Join(dir, ".peerlink", "peerlink.toml")
}

// applyFlags layers the command line over a loaded config.
func applyFlags(cfg *app.Config) {
	if secret != "" {
		cfg.Session.Secret = secret
	}
	if dataPort >= 0 {
		cfg.Node.DataPort = dataPort
	}
	if discoveryPort > 0 {
		cfg.Discovery.Port = discoveryPort
	}
	if noDiscovery {
		cfg.Discovery.Disable = true
	}
}

// loadConfig reads --config, or the default path when it exists, and applies
// the flags. An explicit --config must exist.
func loadConfig() (*app.Config, error) {
	path := configPath
	if path == "" {
		path = defaultConfigPath()
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return app.Load(nil, applyFlags)
		}
	}
	return app.LoadFile(path, applyFlags)
}
