// Package app assembles the mcpgate command tree.
package app

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gatewaymesh/mcpgate/pkg/api"
	"github.com/gatewaymesh/mcpgate/pkg/auth/provider"
	"github.com/gatewaymesh/mcpgate/pkg/auth/scopes"
	"github.com/gatewaymesh/mcpgate/pkg/auth/selfsigned"
	"github.com/gatewaymesh/mcpgate/pkg/auth/session"
	"github.com/gatewaymesh/mcpgate/pkg/config"
	"github.com/gatewaymesh/mcpgate/pkg/index"
	"github.com/gatewaymesh/mcpgate/pkg/issuer"
	"github.com/gatewaymesh/mcpgate/pkg/logger"
	"github.com/gatewaymesh/mcpgate/pkg/telemetry"
)

// NewRootCmd builds the mcpgate command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mcpgate",
		Short: "MCP gateway authentication and authorization server",
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Fatalf("failed to bind debug flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the auth server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	signer := session.NewSigner(cfg.SecretKey)
	minter := selfsigned.NewMinter(cfg.SecretKey)

	idp, err := provider.New(ctx, cfg)
	if err != nil {
		return err
	}

	resolver, err := scopes.NewResolver(cfg.ScopePolicyPath)
	if err != nil {
		return err
	}
	go func() {
		if err := resolver.Watch(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("scope policy watcher stopped: %v", err)
		}
	}()

	iss := issuer.New(minter, issuer.Policy{
		MaxLifetimeHours:     cfg.MaxTokenLifetimeHours,
		DefaultLifetimeHours: cfg.DefaultTokenLifetimeHours,
		MaxTokensPerHour:     cfg.MaxTokensPerUserPerHour,
	})

	var finder *index.Finder
	encoder, err := index.NewEncoder(index.EncoderConfig{
		Backend:   cfg.EmbeddingBackend,
		BaseURL:   cfg.EmbeddingBaseURL,
		Model:     cfg.EmbeddingModel,
		Dimension: cfg.EmbeddingDimension,
	})
	if err != nil {
		logger.Warnf("embedding backend unavailable, tool search disabled: %v", err)
	} else {
		store := index.NewStore(cfg.ToolIndexPath, cfg.ToolMetadataPath)
		finder = index.NewFinder(store, encoder)
	}

	emitter := telemetry.NewEmitter(cfg.MetricsServiceURL, cfg.MetricsAPIKey)

	srv := api.NewServer(cfg, signer, minter, idp, resolver, iss, finder, emitter)
	return srv.Serve(ctx)
}
