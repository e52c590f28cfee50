package cmd

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/groupgate/groupgate/internal/adapter/inbound/http"
	"github.com/groupgate/groupgate/internal/adapter/outbound/cel"
	"github.com/groupgate/groupgate/internal/adapter/outbound/gcloud"
	"github.com/groupgate/groupgate/internal/adapter/outbound/policyfile"
	"github.com/groupgate/groupgate/internal/adapter/outbound/token"
	"github.com/groupgate/groupgate/internal/config"
	"github.com/groupgate/groupgate/internal/domain/catalog"
	"github.com/groupgate/groupgate/internal/domain/provision"
	"github.com/groupgate/groupgate/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the broker server",
	Long: `Start the GroupGate broker server.

The server exposes the JSON API, health, and Prometheus metrics on
server.http_addr. When reconcile.enabled is true, all environments are
reconciled in the background every reconcile.interval.

Examples:
  # Start with config file settings
  groupgate serve

  # Start with a specific config file
  groupgate --config /path/to/groupgate.yaml serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// services bundles the wired components shared by serve and reconcile.
type services struct {
	repository  *service.PolicyRepository
	provisioner *provision.Provisioner
	catalog     *catalog.Catalog
	signer      *token.Signer
	metrics     *service.Metrics
	registry    *prometheus.Registry
}

// buildServices wires the outbound adapters and domain services from config.
func buildServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services, error) {
	directory, err := gcloud.NewDirectory(ctx, cfg.Groups.Customer)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity client: %w", err)
	}
	resources, err := gcloud.NewResourceManager(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource manager client: %w", err)
	}

	mapping, err := provision.NewGroupMapping(cfg.Groups.Domain)
	if err != nil {
		return nil, err
	}
	provisioner := provision.NewProvisioner(mapping, directory, resources, logger,
		provision.WithParallelism(cfg.Provision.Parallelism))

	store, err := policyfile.NewStore(cfg.Policy.Dir)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics := service.NewMetrics(registry)

	// Durations were validated by config.LoadConfig.
	cacheTTL, _ := time.ParseDuration(cfg.Policy.CacheTTL)
	repository := service.NewPolicyRepository(store, cacheTTL, logger, metrics)

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create expression evaluator: %w", err)
	}

	key, err := os.ReadFile(cfg.Proposal.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read proposal key: %w", err)
	}
	signer, err := token.NewSigner(bytes.TrimSpace(key))
	if err != nil {
		return nil, err
	}

	return &services{
		repository:  repository,
		provisioner: provisioner,
		catalog:     catalog.NewCatalog(repository, evaluator, provisioner, logger),
		signer:      signer,
		metrics:     metrics,
		registry:    registry,
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Server.LogLevel)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// stop() restores default signal handling so a second Ctrl+C does a
	// hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	svc, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}

	reconciler := service.NewReconciler(svc.repository, svc.provisioner, logger, svc.metrics)
	if cfg.Reconcile.Enabled {
		interval, _ := time.ParseDuration(cfg.Reconcile.Interval)
		go runReconcileLoop(ctx, reconciler, interval, logger)
		logger.Info("background reconciliation enabled", "interval", interval)
	}

	proposalTTL, _ := time.ParseDuration(cfg.Proposal.Validity)
	handler := http.NewHandler(svc.catalog, svc.signer, proposalTTL, http.NewMetrics(svc.registry), logger)
	server := http.NewServer(handler,
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithRegistry(svc.registry),
		http.WithHealthChecker(http.NewHealthChecker(svc.repository, Version)),
	)

	logger.Info("groupgate starting",
		"version", Version,
		"http_addr", cfg.Server.HTTPAddr,
		"policy_dir", cfg.Policy.Dir,
		"domain", cfg.Groups.Domain,
		"reconcile", cfg.Reconcile.Enabled,
	)

	if err := server.Start(ctx); err != nil {
		return err
	}
	logger.Info("groupgate stopped")
	return nil
}

// runReconcileLoop reconciles all environments on a fixed interval until the
// context is cancelled. Failures are logged and the loop continues.
func runReconcileLoop(ctx context.Context, reconciler *service.Reconciler, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := reconciler.ReconcileAll(ctx); err != nil {
				logger.Error("scheduled reconciliation failed", "error", err)
			}
		}
	}
}
