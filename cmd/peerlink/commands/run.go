package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"peerlink/internal/app"
	"peerlink/internal/bridge"
	"peerlink/internal/domain"
	"peerlink/internal/services/message"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a node until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			node, err := app.New(cfg, printBridge(cmd.OutOrStdout()))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Identity:    %s\nFingerprint: %s\n", node.Self(), node.Fingerprint())
			return node.Run(ctx)
		},
	}
}

// printBridge writes every node event as one line to w.
func printBridge(w io.Writer) domain.Bridge {
	return bridge.Funcs{
		PeerDiscovered: func(id domain.PeerIdentity, address string) {
			fmt.Fprintf(w, "+ peer %s at %s\n", id, address)
		},
		SessionEstablished: func(id domain.PeerIdentity) {
			fmt.Fprintf(w, "= session with %s\n", id)
		},
		Message: func(id domain.PeerIdentity, plaintext []byte) {
			m, err := message.Decode(plaintext)
			if err != nil {
				fmt.Fprintf(w, "! %s sent an unreadable message: %v\n", id, err)
				return
			}
			fmt.Fprintf(w, "[%s] %s: %s\n", id, m.Kind, m.Body)
		},
		SessionClosed: func(id domain.PeerIdentity, reason domain.CloseReason) {
			fmt.Fprintf(w, "- session with %s ended: %s\n", id, reason)
		},
	}
}
