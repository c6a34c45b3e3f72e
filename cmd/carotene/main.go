package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/carotene/carotene.go/internal/config"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// options are the persistent flags. Non-empty values override the configuration.
type options struct {
	configPath string
	address    string
	userID     string
	token      string
	logLevel   string
	transport  string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "carotene",
		Short: "Command line client for Carotene publish/subscribe servers",
		Long: `carotene connects to a Carotene server over WebSocket, server-sent events or
HTTP polling, whichever works, and subscribes, publishes or queries presence.

Settings are read from carotene.yaml (current directory or ~/.carotene),
CAROTENE_* environment variables and the flags below, in increasing priority.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "configuration file")
	flags.StringVarP(&opts.address, "address", "a", "", "server address, ws(s):// or http(s)://")
	flags.StringVarP(&opts.userID, "user", "u", "", "user id to authenticate as")
	flags.StringVar(&opts.token, "token", "", "authentication token")
	flags.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	flags.StringVar(&opts.transport, "transport", "", "force one transport: websocket, eventsource or polling")

	cmd.AddCommand(
		subscribeCmd(opts),
		publishCmd(opts),
		presenceCmd(opts),
		versionCmd(),
	)
	return cmd
}

// load reads the configuration and applies the flags on top of it.
func (o *options) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.address != "" {
		cfg.Address = o.address
	}
	if o.userID != "" {
		cfg.UserID = o.userID
	}
	if o.token != "" {
		cfg.Token = o.token
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := applyTransport(cfg, o.transport); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func applyTransport(cfg *config.Config, transport string) error {
	t := &cfg.Transports
	switch transport {
	case "":
	case "websocket":
		t.DisableWebSocket, t.EnableEventSource, t.DisablePolling = false, false, true
	case "eventsource":
		t.DisableWebSocket, t.EnableEventSource, t.DisablePolling = true, true, true
	case "polling":
		t.DisableWebSocket, t.EnableEventSource, t.DisablePolling = true, false, false
	default:
		return fmt.Errorf("unknown transport %q", transport)
	}
	return nil
}
