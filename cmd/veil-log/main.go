// Command veil-log views and analyzes veil protocol capture files.
//
// Capture files are written by a node whose configuration sets
// protocolLog, or by "veil run --protocol-log <file>".
//
// Usage:
//
//	veil-log <command> [flags] <file>
//
// Examples:
//
//	# View all events
//	veil-log view capture.cbor
//
//	# View the handshake of one peer
//	veil-log view --peer 2gzyxa5i...onion --layer session capture.cbor
//
//	# Export accepted links to CSV
//	veil-log export --role acceptor --format csv -o links.csv capture.cbor
//
//	# Show statistics
//	veil-log stats capture.cbor
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/veilchat/veil-go/cmd/veil-log/commands"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "veil-log",
		Short:        "Veil protocol capture analyzer",
		SilenceUsage: true,
	}
	root.AddCommand(newViewCommand(), newExportCommand(), newFilterCommand(), newStatsCommand())
	return root
}

// selectionFlags binds the shared event criteria to cmd.
func selectionFlags(cmd *cobra.Command, sel *commands.Selection) {
	f := cmd.Flags()
	f.StringVar(&sel.ConnID, "conn-id", "", "filter by connection ID")
	f.StringVar(&sel.Peer, "peer", "", "filter by peer onion address")
	f.StringVar(&sel.Role, "role", "", "filter by local role (dialer, acceptor)")
	f.StringVar(&sel.Layer, "layer", "", "filter by layer (transport, packet, session)")
	f.StringVar(&sel.Direction, "direction", "", "filter by direction (in, out)")
	f.StringVar(&sel.Category, "category", "", "filter by category (message, control, state, error)")
	f.StringVar(&sel.Type, "type", "", "filter by packet type (e.g. Message, SetIdentity)")
	f.StringVar(&sel.MessageID, "msg-id", "", "filter packets and delivery changes by message id")
	f.StringVar(&sel.TimeStart, "time-start", "", "filter by start time (RFC3339)")
	f.StringVar(&sel.TimeEnd, "time-end", "", "filter by end time (RFC3339)")
}

func newViewCommand() *cobra.Command {
	var sel commands.Selection
	cmd := &cobra.Command{
		Use:   "view [flags] <file>",
		Short: "View a capture file in human-readable format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.RunView(args[0], sel, cmd.OutOrStdout())
		},
	}
	selectionFlags(cmd, &sel)
	return cmd
}

func newExportCommand() *cobra.Command {
	var (
		sel    commands.Selection
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export [flags] <file>",
		Short: "Export a capture file to JSONL or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.RunExport(args[0], format, output, sel, cmd.OutOrStdout())
		},
	}
	selectionFlags(cmd, &sel)
	cmd.Flags().StringVar(&format, "format", "jsonl", "output format ("+strings.Join(commands.ExportFormats(), ", ")+")")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	return cmd
}

func newFilterCommand() *cobra.Command {
	var (
		sel    commands.Selection
		output string
	)
	cmd := &cobra.Command{
		Use:   "filter -o <out> [flags] <file>",
		Short: "Write matching events to a new capture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := commands.RunFilter(args[0], output, sel)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Filtered %d events to %s\n", n, output)
			return nil
		},
	}
	selectionFlags(cmd, &sel)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (required)")
	cmd.MarkFlagRequired("output")
	return cmd
}

func newStatsCommand() *cobra.Command {
	var sel commands.Selection
	cmd := &cobra.Command{
		Use:   "stats [flags] <file>",
		Short: "Show statistics about a capture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.RunStats(args[0], sel, cmd.OutOrStdout())
		},
	}
	selectionFlags(cmd, &sel)
	return cmd
}
