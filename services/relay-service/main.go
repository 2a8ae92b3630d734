package main

import (
	"context"
	"fmt"
	"os"
	_ "time/tzdata"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ashendes/payment-relay/internal/config"
	"github.com/ashendes/payment-relay/internal/notify"
	"github.com/ashendes/payment-relay/internal/provider"
	"github.com/ashendes/payment-relay/internal/reconcile"
	"github.com/ashendes/payment-relay/internal/store"
)

const serviceName = "relay-service"

var (
	version    = "dev"
	configPath string
)

func init() {
	// Initialize logger
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)
}

func main() {
	rootCmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Payment webhook relay: reconciles provider callbacks and alerts admins",
		Version:      version,
		SilenceUsage: true,
		RunE:         runServe,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default ./relay.yaml if present)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(verifyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds the wired collaborators shared by every subcommand
type app struct {
	cfg      *config.Config
	store    store.TransactionStore
	provider *provider.Client
	engine   *reconcile.Engine
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, _ := log.ParseLevel(cfg.Log.Level)
	log.SetLevel(level)
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	txStore, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}

	client := provider.NewClient(provider.Config{
		BaseURL:     cfg.Provider.BaseURL,
		SecretKey:   cfg.Provider.SecretKey,
		Currency:    cfg.Provider.Currency,
		CallbackURL: cfg.Provider.CallbackURL,
		Breaker:     cfg.BreakerSettings(),
	})

	gateway := notify.NewGateway(notify.Config{
		RelayURL:      cfg.Relay.URL,
		Recipient:     cfg.Relay.Recipient,
		Currency:      cfg.Provider.Currency,
		Location:      cfg.Location(),
		MaxConcurrent: cfg.Relay.MaxConcurrent,
	})

	engine := reconcile.NewEngine(txStore, gateway, client,
		reconcile.WithReferencePrefix(cfg.Payment.ReferencePrefix),
	)

	return &app{
		cfg:      cfg,
		store:    txStore,
		provider: client,
		engine:   engine,
	}, nil
}

func (a *app) close(ctx context.Context) {
	if err := store.Close(ctx, a.store); err != nil {
		log.WithField("error", err.Error()).Warn("Failed to close transaction store")
	}
}
