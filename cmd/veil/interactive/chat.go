// Package interactive provides the interactive chat shell of the veil CLI.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/veilchat/veil-go/pkg/connection"
	"github.com/veilchat/veil-go/pkg/node"
	"github.com/veilchat/veil-go/pkg/store"
)

// sendTimeout bounds connecting, verifying and handing a message to the link.
const sendTimeout = 2 * time.Minute

// defaultHistory is the number of messages "history" prints.
const defaultHistory = 20

// Chat handles interactive mode for veil.
type Chat struct {
	node *node.Node
	rl   *readline.Instance
	out  io.Writer

	// current is the peer that plain text lines are sent to.
	current string
}

// New creates a shell on the terminal. Attach a node before Run.
func New() (*Chat, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "veil> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	c := newChat(nil, rl.Stdout())
	c.rl = rl
	return c, nil
}

// Attach sets the node the commands act on.
func (c *Chat) Attach(n *node.Node) {
	c.node = n
}

// Close releases the terminal. Run closes it on return.
func (c *Chat) Close() error {
	return c.rl.Close()
}

func newChat(n *node.Node, out io.Writer) *Chat {
	return &Chat{node: n, out: out}
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("chats"),
		readline.PcItem("add"),
		readline.PcItem("remove"),
		readline.PcItem("open"),
		readline.PcItem("msg"),
		readline.PcItem("history"),
		readline.PcItem("status"),
		readline.PcItem("trust-reset"),
		readline.PcItem("quit"),
	)
}

// Stdout returns a writer that coordinates with the readline prompt. Use
// it for log output.
func (c *Chat) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Stderr returns a writer that coordinates with the readline prompt.
func (c *Chat) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Watch prints notifications from events until ctx is done.
func (c *Chat) Watch(ctx context.Context, events <-chan connection.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.printEvent(ev)
		}
	}
}

func (c *Chat) printEvent(ev connection.Event) {
	ts := ev.Time.Format("15:04:05")
	switch ev.Kind {
	case connection.EventMessageDelivered:
		fmt.Fprintf(c.out, "[%s] <%s> %s\n", ts, shortPeer(ev.Peer), ev.Body)
	case connection.EventMessageStatusChanged:
		fmt.Fprintf(c.out, "[%s] message %s to %s: %s\n", ts, ev.MessageID, shortPeer(ev.Peer), ev.Status)
	case connection.EventVerified:
		fmt.Fprintf(c.out, "[%s] %s verified (%s)\n", ts, shortPeer(ev.Peer), ev.Role)
	case connection.EventDisconnected:
		fmt.Fprintf(c.out, "[%s] %s disconnected\n", ts, shortPeer(ev.Peer))
	}
}

// Run starts the interactive command loop.
func (c *Chat) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if c.Exec(ctx, line) {
			cancel()
			return
		}
		c.rl.SetPrompt(c.prompt())
	}
}

func (c *Chat) prompt() string {
	if c.current == "" {
		return "veil> "
	}
	return shortPeer(c.current) + "> "
}

// Exec runs one input line and reports whether the shell should exit.
// Lines that are not commands are sent to the open chat.
func (c *Chat) Exec(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}

	if !strings.HasPrefix(input, "/") && c.current != "" {
		c.send(ctx, c.current, input)
		return false
	}
	input = strings.TrimPrefix(input, "/")

	parts := strings.Fields(input)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()

	case "chats", "ls":
		c.cmdChats()

	case "add":
		c.cmdAdd(args)

	case "remove", "rm":
		c.cmdRemove(args)

	case "open", "o":
		c.cmdOpen(args)

	case "close":
		c.current = ""

	case "msg", "m":
		if len(args) < 2 {
			fmt.Fprintln(c.out, "Usage: msg <peer> <text>")
			return false
		}
		c.send(ctx, args[0], strings.Join(args[1:], " "))

	case "history", "h":
		c.cmdHistory(args)

	case "status":
		c.cmdStatus()

	case "trust-reset":
		c.cmdTrustReset(args)

	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return true

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Chat) printHelp() {
	fmt.Fprintln(c.out, `
Veil Commands:
  Chats:
    chats                     - List chats
    add <address> [name]      - Start a chat with a peer
    remove <address>          - Delete a chat and its messages
    open <address>            - Send plain lines to this chat
    close                     - Leave the open chat

  Messages:
    msg <address> <text>      - Send a message
    history [address] [n]     - Show the last n messages (default 20)

  Connections:
    status                    - Show links and verification state
    trust-reset <address>     - Forget a peer's pinned key

  General:
    help                      - Show this help
    quit                      - Exit

  With a chat open, lines starting with / are commands.`)
}

func (c *Chat) cmdChats() {
	chats, err := c.node.Store().Chats()
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if len(chats) == 0 {
		fmt.Fprintln(c.out, "No chats")
		return
	}

	m := c.node.Manager()
	fmt.Fprintf(c.out, "\nChats (%d):\n", len(chats))
	for _, ch := range chats {
		state := "offline"
		switch {
		case m.IsVerified(ch.Peer):
			state = "verified"
		case m.IsConnected(ch.Peer):
			state = "connecting"
		}
		name := ch.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(c.out, "  %s  %-12s %s\n", ch.Peer, name, state)
	}
}

func (c *Chat) cmdAdd(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: add <address> [name]")
		return
	}
	peer, err := c.node.AddChat(args[0], strings.Join(args[1:], " "))
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if !connection.IsOnionV3(peer) {
		fmt.Fprintf(c.out, "Warning: %s is not a v3 onion address\n", peer)
	}
	fmt.Fprintf(c.out, "Added chat %s\n", peer)
}

func (c *Chat) cmdRemove(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: remove <address>")
		return
	}
	peer := connection.NormalizeAddress(args[0])
	if err := c.node.RemoveChat(peer); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if c.current == peer {
		c.current = ""
	}
	fmt.Fprintf(c.out, "Removed chat %s\n", peer)
}

func (c *Chat) cmdOpen(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: open <address>")
		return
	}
	peer := connection.NormalizeAddress(args[0])
	ok, err := c.node.Store().HasChat(peer)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if !ok {
		fmt.Fprintf(c.out, "No chat with %s (use add first)\n", peer)
		return
	}
	c.current = peer
	fmt.Fprintf(c.out, "Chatting with %s\n", peer)
}

func (c *Chat) send(ctx context.Context, peer, body string) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	id, err := c.node.SendMessage(ctx, peer, body)
	if err != nil {
		fmt.Fprintf(c.out, "Send failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Sent %s\n", id)
}

func (c *Chat) cmdHistory(args []string) {
	peer := c.current
	n := defaultHistory
	for _, a := range args {
		if v, err := strconv.Atoi(a); err == nil && v > 0 {
			n = v
			continue
		}
		peer = connection.NormalizeAddress(a)
	}
	if peer == "" {
		fmt.Fprintln(c.out, "Usage: history [address] [n]")
		return
	}

	recs, err := c.node.Store().Messages(peer)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if len(recs) > n {
		recs = recs[len(recs)-n:]
	}
	for _, r := range recs {
		fmt.Fprintln(c.out, formatRecord(r))
	}
}

func formatRecord(r store.Record) string {
	who := "<" + shortPeer(r.Peer) + ">"
	if r.SelfSent {
		who = "<me>"
	}
	ts := r.ID.Time().Local().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("[%s] %s %s", ts, who, r.Body)
	if r.SelfSent && r.Status != store.StatusSuccess {
		line += " (" + strings.ToLower(r.Status.String()) + ")"
	}
	return line
}

func (c *Chat) cmdStatus() {
	m := c.node.Manager()
	fmt.Fprintf(c.out, "Self: %s\n", c.node.Self())
	if addr := c.node.ListenAddr(); addr != nil {
		fmt.Fprintf(c.out, "Listening: %s\n", addr)
	}

	peers := m.Addresses()
	fmt.Fprintf(c.out, "Links: %d\n", len(peers))
	for _, p := range peers {
		conn, ok := m.Connection(p)
		if !ok {
			continue
		}
		fmt.Fprintf(c.out, "  %s  %-8s self=%t remote=%t since %s\n",
			p, conn.Kind(), conn.SelfVerified(), conn.RemoteVerified(),
			conn.Created().Format("15:04:05"))
	}
}

func (c *Chat) cmdTrustReset(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: trust-reset <address>")
		return
	}
	if err := c.node.ResetTrust(args[0]); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "Pinned key removed; the next key the peer presents will be trusted")
}

// shortPeer abbreviates an onion address for display.
func shortPeer(addr string) string {
	if len(addr) > 16 {
		return addr[:8] + ".." + addr[len(addr)-4:]
	}
	return addr
}
