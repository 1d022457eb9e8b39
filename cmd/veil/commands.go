package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/veilchat/veil-go/cmd/veil/interactive"
	"github.com/veilchat/veil-go/pkg/config"
	"github.com/veilchat/veil-go/pkg/connection"
	"github.com/veilchat/veil-go/pkg/node"
	"github.com/veilchat/veil-go/pkg/store"
)

func newInitCommand(g *globalFlags) *cobra.Command {
	var (
		listen string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init --self <address>",
		Short: "Write a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(g.configFile); err == nil && !force {
				return fmt.Errorf("%s exists (use --force to overwrite)", g.configFile)
			}

			cfg := config.Default()
			cfg.SelfAddress = g.self
			cfg.Listen = listen
			if g.dataDir != "" {
				cfg.DataDir = g.dataDir
			}
			if g.logLevel != "" {
				cfg.LogLevel = g.logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if !connection.IsOnionV3(cfg.SelfAddress) {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s is not a v3 onion address\n", cfg.SelfAddress)
			}
			if err := cfg.Save(g.configFile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", g.configFile)
			fmt.Fprintf(cmd.OutOrStdout(), "Point your hidden service (port %d) at %s\n", cfg.ServicePort, cfg.Listen)
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", config.DefaultListen, "local target of the hidden service")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

// nodeFlags override the network settings of a running node.
type nodeFlags struct {
	listen      string
	protocolLog string
	metrics     string
}

func (f *nodeFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.listen, "listen", "", "listen address (overrides the config file)")
	cmd.Flags().StringVar(&f.protocolLog, "protocol-log", "", "write a protocol capture to this file")
	cmd.Flags().StringVar(&f.metrics, "metrics", "", "serve Prometheus metrics on this address")
}

func (f *nodeFlags) apply(cfg *config.Config) {
	if f.listen != "" {
		cfg.Listen = f.listen
	}
	if f.protocolLog != "" {
		cfg.ProtocolLog = f.protocolLog
	}
	if f.metrics != "" {
		cfg.MetricsAddress = f.metrics
	}
}

// startNode loads the config, applies nf and starts a node.
func startNode(ctx context.Context, cmd *cobra.Command, g *globalFlags, nf *nodeFlags, opts ...node.Option) (*node.Node, error) {
	cfg, err := g.load(cmd)
	if err != nil {
		return nil, err
	}
	if nf != nil {
		nf.apply(&cfg)
	}

	opts = append([]node.Option{node.WithLogger(newLogger(cmd.ErrOrStderr(), cfg.LogLevel))}, opts...)
	n, err := node.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := n.Start(ctx); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func newRunCommand(g *globalFlags) *cobra.Command {
	var nf nodeFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a node until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			n, err := startNode(ctx, cmd, g, &nf)
			if err != nil {
				return err
			}

			<-ctx.Done()
			fmt.Fprintln(cmd.ErrOrStderr(), "Shutting down...")
			return n.Close()
		},
	}
	nf.bind(cmd)
	return cmd
}

func newChatCommand(g *globalFlags) *cobra.Command {
	var nf nodeFlags
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sink := connection.NewChanSink()
			defer sink.Close()

			// The shell owns the terminal, so it is created before the node
			// and the node logs through it.
			chat, err := interactive.New()
			if err != nil {
				return err
			}
			n, err := startNode(ctx, cmd, g, &nf,
				node.WithSink(sink),
				node.WithLogger(newLogger(chat.Stderr(), "warn")))
			if err != nil {
				chat.Close()
				return err
			}
			defer n.Close()

			chat.Attach(n)
			go chat.Watch(ctx, sink.C())
			chat.Run(ctx, cancel)
			return nil
		},
	}
	nf.bind(cmd)
	return cmd
}

func newSendCommand(g *globalFlags) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "send <address> <text>...",
		Short: "Send one message and wait for its acknowledgement",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()

			sink := connection.NewChanSink()
			defer sink.Close()

			n, err := startNode(ctx, cmd, g, nil, node.WithSink(sink))
			if err != nil {
				return err
			}
			defer n.Close()

			peer := connection.NormalizeAddress(args[0])
			id, err := n.SendMessage(ctx, peer, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %s, waiting for acknowledgement\n", id)

			for {
				select {
				case ev := <-sink.C():
					if ev.Kind != connection.EventMessageStatusChanged || ev.Peer != peer || ev.MessageID != id {
						continue
					}
					switch ev.Status {
					case store.StatusSuccess:
						fmt.Fprintln(cmd.OutOrStdout(), "Delivered")
						return nil
					case store.StatusFailed:
						return fmt.Errorf("peer rejected message %s", id)
					}
				case <-ctx.Done():
					return fmt.Errorf("no acknowledgement for %s: %w", id, ctx.Err())
				}
			}
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 3*time.Minute, "how long to wait for connect and acknowledgement")
	return cmd
}

func newContactCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "contact",
		Aliases: []string{"contacts"},
		Short:   "Manage chats",
	}

	add := &cobra.Command{
		Use:   "add <address> [name]",
		Short: "Start a chat with a peer",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := g.openNode(cmd)
			if err != nil {
				return err
			}
			defer n.Close()

			name := ""
			if len(args) == 2 {
				name = args[1]
			}
			peer, err := n.AddChat(args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added chat %s\n", peer)
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <address>",
		Short: "Delete a chat and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := g.openNode(cmd)
			if err != nil {
				return err
			}
			defer n.Close()
			return n.RemoveChat(args[0])
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := g.openNode(cmd)
			if err != nil {
				return err
			}
			defer n.Close()

			chats, err := n.Store().Chats()
			if err != nil {
				return err
			}
			for _, c := range chats {
				_, pinned, err := n.Store().PinnedKey(c.Peer)
				if err != nil {
					return err
				}
				trust := "unpinned"
				if pinned {
					trust = "pinned"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n",
					c.Peer, c.Name, trust, c.AddedAt.Format(time.DateOnly))
			}
			return nil
		},
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}

func newHistoryCommand(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <address>",
		Short: "Print the stored messages of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := g.openNode(cmd)
			if err != nil {
				return err
			}
			defer n.Close()

			recs, err := n.Store().Messages(connection.NormalizeAddress(args[0]))
			if err != nil {
				return err
			}
			if limit > 0 && len(recs) > limit {
				recs = recs[len(recs)-limit:]
			}
			for _, r := range recs {
				dir := "<"
				if r.SelfSent {
					dir = ">"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %-7s %s\n",
					r.ID.Time().Local().Format(time.DateTime), dir, strings.ToLower(r.Status.String()), r.Body)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "only the last n messages")
	return cmd
}

func newTrustCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Inspect and reset pinned peer keys",
	}

	show := &cobra.Command{
		Use:   "show <address>",
		Short: "Print the fingerprint of a peer's pinned key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := g.openNode(cmd)
			if err != nil {
				return err
			}
			defer n.Close()

			peer := connection.NormalizeAddress(args[0])
			key, ok, err := n.Store().PinnedKey(peer)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no key pinned for %s", peer)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", peer, key.Fingerprint())
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset <address>",
		Short: "Forget a peer's pinned key",
		Long: `Forget the key pinned for a peer on first contact. The next key the
peer presents is trusted and pinned again. Only do this after confirming
out of band that the peer really changed its key.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := g.openNode(cmd)
			if err != nil {
				return err
			}
			defer n.Close()
			return n.ResetTrust(args[0])
		},
	}

	cmd.AddCommand(show, reset)
	return cmd
}
