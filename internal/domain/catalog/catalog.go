// Package catalog is the subject-facing surface of the broker: discovery of
// environments, systems, and JIT groups under VIEW gating, policy export and
// reconciliation for operators, and the join and approval workflows.
package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/groupgate/groupgate/internal/domain/access"
	"github.com/groupgate/groupgate/internal/domain/policy"
	"github.com/groupgate/groupgate/internal/domain/provision"
	"github.com/groupgate/groupgate/internal/errdefs"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

// Source supplies policy trees to the catalog. The repository service is the
// production implementation; it parses and caches policy documents.
type Source interface {
	// Environments returns the headers of all known environments.
	Environments(ctx context.Context) ([]outbound.EnvironmentSummary, error)

	// Environment returns the policy tree of the named environment, or
	// errdefs.ErrResourceNotFound.
	Environment(ctx context.Context, name string) (*policy.EnvironmentPolicy, error)
}

// Catalog is the entry point for all subject-facing operations. It is
// stateless and safe for concurrent use; per-subject state lives in the
// contexts it hands out.
type Catalog struct {
	source      Source
	eval        policy.ExpressionEvaluator
	provisioner *provision.Provisioner
	logger      *slog.Logger
}

// NewCatalog assembles a catalog over a policy source, an expression
// evaluator, and a provisioner.
func NewCatalog(source Source, eval policy.ExpressionEvaluator, provisioner *provision.Provisioner, logger *slog.Logger) *Catalog {
	return &Catalog{
		source:      source,
		eval:        eval,
		provisioner: provisioner,
		logger:      logger,
	}
}

// Environments lists the headers of all environments. Headers carry no
// policy content, so no VIEW check applies; gating happens on access to the
// environment itself.
func (c *Catalog) Environments(ctx context.Context) ([]outbound.EnvironmentSummary, error) {
	return c.source.Environments(ctx)
}

// Environment opens the named environment for subject. Unknown names and
// denied VIEW both surface as ErrResourceNotFound so callers cannot probe
// for existence.
func (c *Catalog) Environment(ctx context.Context, subject *access.Subject, name string) (*EnvironmentContext, error) {
	env, err := c.source.Environment(ctx, name)
	if err != nil {
		return nil, err
	}
	if !env.ACL().IsAllowed(subject, access.View) {
		return nil, fmt.Errorf("%w: environment %q", errdefs.ErrResourceNotFound, name)
	}
	return &EnvironmentContext{catalog: c, subject: subject, env: env}, nil
}

// Group resolves a group id for subject, applying the VIEW gate at every
// level of the tree. Any failed gate surfaces as ErrResourceNotFound.
func (c *Catalog) Group(ctx context.Context, subject *access.Subject, id policy.GroupID) (*GroupContext, error) {
	envCtx, err := c.Environment(ctx, subject, id.Environment)
	if err != nil {
		return nil, err
	}
	sysCtx, err := envCtx.System(id.System)
	if err != nil {
		return nil, err
	}
	return sysCtx.Group(id.Name)
}

// EnvironmentContext is one subject's view of an environment.
type EnvironmentContext struct {
	catalog *Catalog
	subject *access.Subject
	env     *policy.EnvironmentPolicy
}

// Policy returns the underlying environment policy.
func (e *EnvironmentContext) Policy() *policy.EnvironmentPolicy { return e.env }

// Systems returns the systems the subject may view, in declaration order.
func (e *EnvironmentContext) Systems() []*SystemContext {
	var out []*SystemContext
	for _, s := range e.env.Systems() {
		if s.EffectiveACL().IsAllowed(e.subject, access.View) {
			out = append(out, &SystemContext{env: e, system: s})
		}
	}
	return out
}

// System opens the named system. Unknown names and denied VIEW both surface
// as ErrResourceNotFound.
func (e *EnvironmentContext) System(name string) (*SystemContext, error) {
	s, ok := e.env.System(name)
	if !ok || !s.EffectiveACL().IsAllowed(e.subject, access.View) {
		return nil, fmt.Errorf("%w: system %q", errdefs.ErrResourceNotFound, name)
	}
	return &SystemContext{env: e, system: s}, nil
}

// CanExport reports whether the subject may export this environment's policy.
func (e *EnvironmentContext) CanExport() bool {
	return e.env.ACL().IsAllowed(e.subject, access.View|access.Export)
}

// Export serializes the environment policy document.
func (e *EnvironmentContext) Export() ([]byte, error) {
	if !e.CanExport() {
		return nil, &errdefs.AccessDeniedError{Reason: "export not permitted for this environment"}
	}
	return policy.MarshalDocument(e.env)
}

// CanReconcile reports whether the subject may reconcile this environment.
func (e *EnvironmentContext) CanReconcile() bool {
	return e.env.ACL().IsAllowed(e.subject, access.View|access.Reconcile)
}

// Reconcile audits every provisioned group of the environment against the
// current policy and repairs drifted IAM bindings. The run is best effort: a
// group whose repair fails is reported as broken, and reconciliation
// continues with the rest.
func (e *EnvironmentContext) Reconcile(ctx context.Context) (*provision.Report, error) {
	if !e.CanReconcile() {
		return nil, &errdefs.AccessDeniedError{Reason: "reconcile not permitted for this environment"}
	}

	provisioned, err := e.catalog.provisioner.ProvisionedGroups(ctx, e.env.Name())
	if err != nil {
		return nil, err
	}

	report := &provision.Report{
		Environment:       e.env.Name(),
		Incompatibilities: e.env.Incompatibilities(),
	}
	for _, pg := range provisioned {
		record := provision.ComplianceRecord{
			GroupID:    pg.ID,
			CloudEmail: pg.Group.Email,
		}
		group, ok := e.env.Group(pg.ID)
		if !ok {
			record.State = provision.Orphaned
			e.catalog.logger.Warn("orphaned group", "group", pg.ID.String(), "email", pg.Group.Email)
			report.Records = append(report.Records, record)
			continue
		}
		record.Policy = group
		if err := e.catalog.provisioner.ProvisionAccess(ctx, pg.ID, group.IAMRoleBindings()); err != nil {
			record.State = provision.Broken
			record.Err = err
			e.catalog.logger.Error("reconciliation failed", "group", pg.ID.String(), "error", err)
		} else {
			record.State = provision.Compliant
		}
		report.Records = append(report.Records, record)
	}
	return report, nil
}

// SystemContext is one subject's view of a system.
type SystemContext struct {
	env    *EnvironmentContext
	system *policy.SystemPolicy
}

// Policy returns the underlying system policy.
func (s *SystemContext) Policy() *policy.SystemPolicy { return s.system }

// Groups returns the JIT groups the subject may view, in declaration order.
func (s *SystemContext) Groups() []*GroupContext {
	var out []*GroupContext
	for _, g := range s.system.Groups() {
		if g.EffectiveACL().IsAllowed(s.env.subject, access.View) {
			out = append(out, &GroupContext{catalog: s.env.catalog, subject: s.env.subject, group: g})
		}
	}
	return out
}

// Group opens the named JIT group. Unknown names and denied VIEW both
// surface as ErrResourceNotFound.
func (s *SystemContext) Group(name string) (*GroupContext, error) {
	g, ok := s.system.Group(name)
	if !ok || !g.EffectiveACL().IsAllowed(s.env.subject, access.View) {
		return nil, fmt.Errorf("%w: group %q", errdefs.ErrResourceNotFound, name)
	}
	return &GroupContext{catalog: s.env.catalog, subject: s.env.subject, group: g}, nil
}

// GroupContext is one subject's view of a JIT group.
type GroupContext struct {
	catalog *Catalog
	subject *access.Subject
	group   *policy.GroupPolicy
}

// Policy returns the underlying group policy.
func (g *GroupContext) Policy() *policy.GroupPolicy { return g.group }

// CloudGroupEmail returns the address of the backing cloud group.
func (g *GroupContext) CloudGroupEmail() string {
	return g.catalog.provisioner.CloudGroupEmail(g.group.ID())
}

// IsProvisioned reports whether the backing cloud group exists yet.
func (g *GroupContext) IsProvisioned(ctx context.Context) (bool, error) {
	return g.catalog.provisioner.IsProvisioned(ctx, g.group.ID())
}
