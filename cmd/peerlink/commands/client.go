package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"peerlink/internal/app"
	"peerlink/internal/domain"
	"peerlink/internal/services/message"
	"peerlink/internal/status"
)

const requestTimeout = 15 * time.Second

// statusClient resolves the API address from --api, the config file or the
// default, in that order.
func statusClient() *status.Client {
	addr := apiAddr
	if addr == "" {
		if cfg, err := loadConfig(); err == nil {
			addr = cfg.Status.Address
		} else {
			addr = app.Default().Status.Address
		}
	}
	return status.NewClient(addr)
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), requestTimeout)
}

func peersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List live peers of a running node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			peers, err := statusClient().Peers(ctx)
			if err != nil {
				return err
			}
			if len(peers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No peers discovered.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "IDENTITY\tADDRESS\tCAPABILITIES\tLAST SEEN")
			for _, p := range peers {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Identity, p.Address,
					strings.Join(p.Capabilities.Strings(), ","), p.LastSeen.Format(time.TimeOnly))
			}
			return tw.Flush()
		},
	}
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List sessions of a running node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			sessions, err := statusClient().Sessions(ctx)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PEER\tREMOTE\tDIR\tSTATUS\tSENT\tRECEIVED\tREJECTED")
			for _, s := range sessions {
				dir := "in"
				if s.Initiator {
					dir = "out"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
					s.Peer, s.Remote, dir, s.Status, s.Sent, s.Received, s.Rejected)
			}
			return tw.Flush()
		},
	}
}

func connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <host:port>",
		Short: "Ask a running node to open a session with an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			info, err := statusClient().Connect(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s (%s)\n", info.Peer, info.Remote)
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "send <peer> <message>",
		Short: "Ask a running node to send a message to a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := message.ParseKind(kind)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			if err := statusClient().Send(ctx, domain.PeerIdentity(args[0]), k, args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sent")
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(domain.KindText), "message kind: text, clipboard or gesture")
	return cmd
}
