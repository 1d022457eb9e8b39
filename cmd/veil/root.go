package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/veilchat/veil-go/pkg/config"
	"github.com/veilchat/veil-go/pkg/node"
)

// globalFlags are accepted by every command.
type globalFlags struct {
	configFile string
	dataDir    string
	self       string
	logLevel   string
}

func defaultConfigFile() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "veil", "veil.yaml")
	}
	return "veil.yaml"
}

func newRootCommand() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:          "veil",
		Short:        "End-to-end encrypted messenger over Tor onion services",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configFile, "config", "c", defaultConfigFile(), "configuration file (YAML)")
	pf.StringVar(&g.dataDir, "data-dir", "", "data directory (overrides the config file)")
	pf.StringVar(&g.self, "self", "", "our onion address (overrides the config file)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newInitCommand(&g),
		newRunCommand(&g),
		newChatCommand(&g),
		newSendCommand(&g),
		newContactCommand(&g),
		newHistoryCommand(&g),
		newTrustCommand(&g),
	)
	return root
}

// load reads the config file and applies the global flag overrides.
func (g *globalFlags) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(g.configFile)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = g.dataDir
	}
	if flags.Changed("self") {
		cfg.SelfAddress = g.self
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w (config file %s)", err, g.configFile)
	}
	return cfg, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// openNode builds a node without starting it. Store-only commands use it
// to reach the database through the same configuration as a running node.
func (g *globalFlags) openNode(cmd *cobra.Command) (*node.Node, error) {
	cfg, err := g.load(cmd)
	if err != nil {
		return nil, err
	}
	return node.New(cfg, node.WithLogger(newLogger(cmd.ErrOrStderr(), cfg.LogLevel)))
}
