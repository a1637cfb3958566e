// Command mcpgate-refresher keeps the token vault fresh. It runs as a
// single instance per vault, refreshing stored tokens ahead of expiry and
// regenerating the derived MCP client configurations.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gatewaymesh/mcpgate/pkg/auth/provider"
	"github.com/gatewaymesh/mcpgate/pkg/clientconfig"
	"github.com/gatewaymesh/mcpgate/pkg/config"
	"github.com/gatewaymesh/mcpgate/pkg/logger"
	"github.com/gatewaymesh/mcpgate/pkg/process"
	"github.com/gatewaymesh/mcpgate/pkg/refresher"
	"github.com/gatewaymesh/mcpgate/pkg/vault"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, refresher.ErrAlreadyRunning) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		interval time.Duration
		buffer   time.Duration
		once     bool
		force    bool
		noKill   bool
	)

	cmd := &cobra.Command{
		Use:   "mcpgate-refresher",
		Short: "Refresh stored gateway tokens ahead of expiry",
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, refresher.Options{
				Interval: interval,
				Buffer:   buffer,
				Once:     once,
				Force:    force,
				NoKill:   noKill,
			})
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", refresher.DefaultInterval, "Time between refresh cycles")
	cmd.Flags().DurationVar(&buffer, "buffer", refresher.DefaultBuffer, "Refresh tokens expiring within this window")
	cmd.Flags().BoolVar(&once, "once", false, "Run a single cycle and exit")
	cmd.Flags().BoolVar(&force, "force", false, "Refresh every token regardless of expiry")
	cmd.Flags().BoolVar(&noKill, "no-kill", false, "Fail instead of replacing a running instance")
	cmd.Flags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", cmd.Flags().Lookup("debug")); err != nil {
		logger.Fatalf("failed to bind debug flag: %v", err)
	}

	return cmd
}

func run(ctx context.Context, opts refresher.Options) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	v := vault.New(cfg.TokenVaultDir)
	opts.PIDFile = process.PIDFilePath(cfg.TokenVaultDir)
	opts.AgentCoreTokenURL = os.Getenv("AGENTCORE_TOKEN_URL")
	opts.AgentCoreClientID = os.Getenv("AGENTCORE_CLIENT_ID")
	opts.AgentCoreClientSecret = os.Getenv("AGENTCORE_CLIENT_SECRET")

	idp, err := provider.New(ctx, cfg)
	if err != nil {
		// Egress-only vaults can still refresh without an identity provider.
		logger.Warnf("identity provider unavailable, ingress tokens will not refresh: %v", err)
		idp = nil
	}

	gen := clientconfig.NewGenerator(v, gatewayServers())

	r := refresher.New(v, idp, gen, opts)
	if err := r.Start(ctx); err != nil {
		logger.Errorf("refresher exited: %v", err)
		return err
	}
	return nil
}

// gatewayServers reads the server list for client config generation from
// GATEWAY_SERVERS, formatted "name=url,name=url".
func gatewayServers() []clientconfig.Server {
	raw := os.Getenv("GATEWAY_SERVERS")
	if raw == "" {
		return nil
	}
	var servers []clientconfig.Server
	for _, pair := range splitNonEmpty(raw, ",") {
		if name, url, ok := cutPair(pair); ok {
			servers = append(servers, clientconfig.Server{Name: name, URL: url})
		}
	}
	return servers
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func cutPair(pair string) (string, string, bool) {
	name, url, ok := strings.Cut(pair, "=")
	if !ok || name == "" || url == "" {
		return "", "", false
	}
	return strings.TrimSpace(name), strings.TrimSpace(url), true
}
