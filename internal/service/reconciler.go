package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/groupgate/groupgate/internal/domain/catalog"
	"github.com/groupgate/groupgate/internal/domain/provision"
)

// defaultEnvironmentParallelism bounds how many environments reconcile
// concurrently in a full run.
const defaultEnvironmentParallelism = 2

// Reconciler drives scheduled reconciliation of all environments. Unlike the
// catalog's reconcile operation it is not subject-gated: it runs under the
// broker's own identity.
type Reconciler struct {
	source      catalog.Source
	provisioner *provision.Provisioner
	logger      *slog.Logger
	metrics     *Metrics
	parallelism int
}

// NewReconciler creates a reconciler; metrics may be nil.
func NewReconciler(source catalog.Source, provisioner *provision.Provisioner, logger *slog.Logger, metrics *Metrics) *Reconciler {
	return &Reconciler{
		source:      source,
		provisioner: provisioner,
		logger:      logger,
		metrics:     metrics,
		parallelism: defaultEnvironmentParallelism,
	}
}

// ReconcileAll reconciles every known environment. Environments reconcile
// independently; one failing environment does not stop the others, and all
// reports that could be produced are returned.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]*provision.Report, error) {
	environments, err := r.source.Environments(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]*provision.Report, len(environments))
	errs := make([]error, len(environments))
	var g errgroup.Group
	g.SetLimit(r.parallelism)
	for i, env := range environments {
		g.Go(func() error {
			reports[i], errs[i] = r.ReconcileEnvironment(ctx, env.Name)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*provision.Report, 0, len(reports))
	var firstErr error
	for i, report := range reports {
		if errs[i] != nil {
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		out = append(out, report)
	}
	return out, firstErr
}

// ReconcileEnvironment audits every provisioned group of one environment
// against policy and repairs drifted IAM bindings.
func (r *Reconciler) ReconcileEnvironment(ctx context.Context, name string) (*provision.Report, error) {
	started := time.Now()

	env, err := r.source.Environment(ctx, name)
	if err != nil {
		r.observeRun(name, "error", started)
		return nil, err
	}
	provisioned, err := r.provisioner.ProvisionedGroups(ctx, name)
	if err != nil {
		r.observeRun(name, "error", started)
		return nil, err
	}

	report := &provision.Report{
		Environment:       name,
		Incompatibilities: env.Incompatibilities(),
	}
	for _, pg := range provisioned {
		record := provision.ComplianceRecord{
			GroupID:    pg.ID,
			CloudEmail: pg.Group.Email,
		}
		group, ok := env.Group(pg.ID)
		if !ok {
			record.State = provision.Orphaned
			r.logger.Warn("orphaned group", "group", pg.ID.String(), "email", pg.Group.Email)
			report.Records = append(report.Records, record)
			continue
		}
		record.Policy = group
		if err := r.provisioner.ProvisionAccess(ctx, pg.ID, group.IAMRoleBindings()); err != nil {
			record.State = provision.Broken
			record.Err = err
			r.logger.Error("reconciliation failed", "group", pg.ID.String(), "error", err)
		} else {
			record.State = provision.Compliant
		}
		report.Records = append(report.Records, record)
	}

	r.observeRun(name, "ok", started)
	r.observeCompliance(report)
	r.logger.Info("reconciled environment",
		"environment", name,
		"groups", len(report.Records),
		"incompatibilities", len(report.Incompatibilities),
		"elapsed", time.Since(started))
	return report, nil
}

func (r *Reconciler) observeRun(name, result string, started time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.ReconcileRuns.WithLabelValues(name, result).Inc()
	r.metrics.ReconcileDuration.Observe(time.Since(started).Seconds())
}

func (r *Reconciler) observeCompliance(report *provision.Report) {
	if r.metrics == nil {
		return
	}
	counts := map[provision.ComplianceState]int{
		provision.Compliant: 0,
		provision.Orphaned:  0,
		provision.Broken:    0,
	}
	for _, record := range report.Records {
		counts[record.State]++
	}
	for state, n := range counts {
		r.metrics.GroupsByCompliance.WithLabelValues(report.Environment, string(state)).Set(float64(n))
	}
}
