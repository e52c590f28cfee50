// Package service wires the broker's domain packages to the outbound
// adapters: cached policy loading and scheduled reconciliation.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/groupgate/groupgate/internal/domain/catalog"
	"github.com/groupgate/groupgate/internal/domain/policy"
	"github.com/groupgate/groupgate/internal/lazy"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

// PolicyRepository implements catalog.Source over a policy store, parsing
// documents on first use and caching the trees with a TTL. Parse failures
// are cached too, so a broken document does not hammer the store.
type PolicyRepository struct {
	store   outbound.PolicyStore
	ttl     time.Duration
	logger  *slog.Logger
	metrics *Metrics

	mu    sync.Mutex
	cache map[string]*lazy.Pessimistic[*policy.EnvironmentPolicy]
}

var _ catalog.Source = (*PolicyRepository)(nil)

// NewPolicyRepository creates a repository over store. ttl bounds how long a
// parsed tree is served before the document is re-read; metrics may be nil.
func NewPolicyRepository(store outbound.PolicyStore, ttl time.Duration, logger *slog.Logger, metrics *Metrics) *PolicyRepository {
	return &PolicyRepository{
		store:   store,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
		cache:   make(map[string]*lazy.Pessimistic[*policy.EnvironmentPolicy]),
	}
}

// Environments implements catalog.Source.
func (r *PolicyRepository) Environments(ctx context.Context) ([]outbound.EnvironmentSummary, error) {
	return r.store.ListEnvironments(ctx)
}

// Environment implements catalog.Source.
func (r *PolicyRepository) Environment(_ context.Context, name string) (*policy.EnvironmentPolicy, error) {
	return r.container(name).Get()
}

// Invalidate drops the cached tree of one environment so the next access
// re-reads the document.
func (r *PolicyRepository) Invalidate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if container, ok := r.cache[name]; ok {
		container.Reset()
	}
}

// InvalidateAll drops every cached tree.
func (r *PolicyRepository) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, container := range r.cache {
		container.Reset()
	}
}

func (r *PolicyRepository) container(name string) *lazy.Pessimistic[*policy.EnvironmentPolicy] {
	r.mu.Lock()
	defer r.mu.Unlock()
	container, ok := r.cache[name]
	if !ok {
		container = lazy.NewPessimistic(func() (*policy.EnvironmentPolicy, error) {
			return r.load(name)
		}).ReinitializeAfter(r.ttl)
		r.cache[name] = container
	}
	return container
}

// load reads and parses one environment document. It runs inside the lazy
// container, detached from any single caller's deadline.
func (r *PolicyRepository) load(name string) (*policy.EnvironmentPolicy, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	doc, err := r.store.LoadEnvironment(ctx, name)
	if err != nil {
		r.observeLoad(name, "error")
		return nil, err
	}
	env, err := policy.ParseDocument(doc.Data, policy.Metadata{
		Source:       doc.Source,
		LastModified: doc.LastModified,
	})
	if err != nil {
		r.observeLoad(name, "error")
		r.logger.Error("policy document does not parse", "environment", name, "source", doc.Source, "error", err)
		return nil, fmt.Errorf("environment %q: %w", name, err)
	}
	if env.Name() != name {
		r.observeLoad(name, "error")
		return nil, fmt.Errorf("environment document %q declares name %q", name, env.Name())
	}
	r.observeLoad(name, "ok")
	r.logger.Debug("loaded policy", "environment", name, "source", doc.Source)
	return env, nil
}

func (r *PolicyRepository) observeLoad(name, result string) {
	if r.metrics != nil {
		r.metrics.PolicyLoads.WithLabelValues(name, result).Inc()
	}
}
