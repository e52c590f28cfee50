package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/groupgate/groupgate/internal/domain/access"
	"github.com/groupgate/groupgate/internal/domain/policy"
	"github.com/groupgate/groupgate/internal/errdefs"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

// defaultParallelism bounds the per-resource IAM fan-out.
const defaultParallelism = 4

// ProvisionedMembership is the artifact a successful join or approval
// returns: a time-bounded membership in the backing cloud group.
type ProvisionedMembership struct {
	Group  policy.GroupID
	Expiry time.Time
}

// Provisioner manages the cloud side of JIT groups: group existence,
// memberships with expiry, and IAM role bindings on resources. It is safe
// for concurrent use; the injected clients are expected to be thread-safe.
type Provisioner struct {
	mapping     *GroupMapping
	groups      outbound.CloudIdentity
	resources   outbound.ResourceManager
	logger      *slog.Logger
	parallelism int
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithParallelism bounds how many resources are updated concurrently during
// IAM reconciliation.
func WithParallelism(n int) Option {
	return func(p *Provisioner) {
		if n > 0 {
			p.parallelism = n
		}
	}
}

// NewProvisioner creates a provisioner over the given clients.
func NewProvisioner(mapping *GroupMapping, groups outbound.CloudIdentity, resources outbound.ResourceManager, logger *slog.Logger, opts ...Option) *Provisioner {
	p := &Provisioner{
		mapping:     mapping,
		groups:      groups,
		resources:   resources,
		logger:      logger,
		parallelism: defaultParallelism,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Mapping returns the group identity mapping.
func (p *Provisioner) Mapping() *GroupMapping { return p.mapping }

// CloudGroupEmail returns the cloud group address for id. Pure; no I/O.
func (p *Provisioner) CloudGroupEmail(id policy.GroupID) string {
	return p.mapping.GroupEmail(id)
}

// IsProvisioned reports whether the backing cloud group exists. Not-found is
// false, not an error.
func (p *Provisioner) IsProvisioned(ctx context.Context, id policy.GroupID) (bool, error) {
	_, err := p.groups.GetGroup(ctx, p.mapping.GroupEmail(id))
	if errors.Is(err, errdefs.ErrResourceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ProvisionMembership ensures the backing group exists, adds a membership
// for user that expires at expiry, and reconciles the group's IAM bindings.
// The checksum tag is the last write.
func (p *Provisioner) ProvisionMembership(ctx context.Context, group *policy.GroupPolicy, user access.Principal, expiry time.Time) (*ProvisionedMembership, error) {
	if !expiry.After(time.Now()) {
		return nil, fmt.Errorf("%w: membership expiry must be in the future", errdefs.ErrInvalidArgument)
	}
	id := group.ID()
	email := p.mapping.GroupEmail(id)

	cloudGroup, err := p.ensureGroup(ctx, group, email)
	if err != nil {
		return nil, err
	}

	if err := p.groups.AddMembership(ctx, cloudGroup.Key, user.Email, expiry); err != nil {
		if errors.Is(err, errdefs.ErrAccessDenied) {
			p.logger.Error("membership creation denied",
				"group", id.String(), "member", user.Email, "error", err)
		}
		return nil, err
	}
	p.logger.Info("provisioned membership",
		"group", id.String(), "member", user.Email, "expiry", expiry)

	if err := p.ProvisionAccess(ctx, id, group.IAMRoleBindings()); err != nil {
		return nil, err
	}
	return &ProvisionedMembership{Group: id, Expiry: expiry}, nil
}

// ensureGroup returns the backing cloud group, creating it on first use.
// Creation races are benign: already-exists is treated as success.
func (p *Provisioner) ensureGroup(ctx context.Context, group *policy.GroupPolicy, email string) (*outbound.CloudGroup, error) {
	existing, err := p.groups.GetGroup(ctx, email)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, errdefs.ErrResourceNotFound):
		if errors.Is(err, errdefs.ErrAccessDenied) {
			p.logger.Error("group lookup denied", "group", email, "error", err)
		}
		return nil, err
	}

	profile := outbound.ProfileRestricted
	if group.IsGKEEnabled() {
		profile = outbound.ProfileGKECompatible
	}
	created, err := p.groups.CreateGroup(ctx, email, group.Description(), profile)
	switch {
	case err == nil:
		p.logger.Info("created group", "group", email, "profile", string(profile))
		return created, nil
	case errors.Is(err, errdefs.ErrAlreadyExists):
		return p.groups.GetGroup(ctx, email)
	default:
		if errors.Is(err, errdefs.ErrAccessDenied) {
			p.logger.Error("group creation denied", "group", email, "error", err)
		}
		return nil, err
	}
}

// ProvisionAccess reconciles the IAM role bindings of the group with id
// against the desired set. Per-resource policy updates run in parallel; the
// checksum tag is patched onto the group description only after every
// resource update succeeded, preserving the drift signal otherwise.
func (p *Provisioner) ProvisionAccess(ctx context.Context, id policy.GroupID, bindings []policy.IAMRoleBinding) error {
	email := p.mapping.GroupEmail(id)
	cloudGroup, err := p.groups.GetGroup(ctx, email)
	if err != nil {
		return err
	}

	userText, stored := ParseDescription(cloudGroup.Description)
	desired := ChecksumBindings(bindings)
	if stored == desired && len(bindings) > 0 {
		p.logger.Debug("bindings unchanged, skipping IAM reconciliation",
			"group", email, "checksum", fmt.Sprintf("%08x", desired))
		return nil
	}

	byResource := lo.GroupBy(bindings, func(b policy.IAMRoleBinding) policy.ResourceID {
		return b.Resource
	})

	member := "group:" + email
	var (
		mu       sync.Mutex
		failures []error
	)
	var g errgroup.Group
	g.SetLimit(p.parallelism)
	for resource, resourceBindings := range byResource {
		g.Go(func() error {
			err := p.resources.ModifyIAMPolicy(ctx, resource, func(iamPolicy *outbound.IAMPolicy) error {
				replaceMemberBindings(iamPolicy, member, resourceBindings)
				return nil
			}, fmt.Sprintf("Provisioning JIT group %s", id))
			if err != nil {
				p.logger.Error("IAM policy update failed",
					"group", email, "resource", resource.String(), "error", err)
				mu.Lock()
				failures = append(failures, fmt.Errorf("resource %s: %w", resource, err))
				mu.Unlock()
			}
			return nil
		})
	}
	// All submissions complete before the checksum decision; errors are
	// aggregated rather than short-circuited.
	_ = g.Wait()

	if err := errdefs.Aggregate(failures); err != nil {
		return err
	}

	if err := p.groups.PatchGroupDescription(ctx, cloudGroup.Key, TagDescription(userText, desired)); err != nil {
		return err
	}
	p.logger.Info("reconciled IAM bindings",
		"group", email, "resources", len(byResource), "checksum", fmt.Sprintf("%08x", desired))
	return nil
}

// replaceMemberBindings rewrites iamPolicy so the member's bindings are
// exactly the desired set for this resource: the member is removed from
// every existing binding regardless of role, then one binding per
// (role, condition) pair is appended. Conditions are distinct variants; an
// empty condition is not the same as a non-empty one.
func replaceMemberBindings(iamPolicy *outbound.IAMPolicy, member string, desired []policy.IAMRoleBinding) {
	kept := iamPolicy.Bindings[:0]
	for _, binding := range iamPolicy.Bindings {
		binding.Members = lo.Filter(binding.Members, func(m string, _ int) bool {
			return m != member
		})
		if len(binding.Members) > 0 {
			kept = append(kept, binding)
		}
	}
	iamPolicy.Bindings = kept

	sorted := make([]policy.IAMRoleBinding, len(desired))
	copy(sorted, desired)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Role != sorted[j].Role {
			return sorted[i].Role < sorted[j].Role
		}
		return sorted[i].Condition < sorted[j].Condition
	})
	for _, b := range sorted {
		newBinding := &outbound.IAMBinding{
			Role:    b.Role,
			Members: []string{member},
		}
		if b.Condition != "" {
			newBinding.Condition = &outbound.IAMCondition{
				Title:       "jit-group",
				Description: b.Description,
				Expression:  b.Condition,
			}
		}
		iamPolicy.Bindings = append(iamPolicy.Bindings, newBinding)
	}
}

// Reconcile brings an existing group's IAM bindings back in line with
// policy. A group that has not been provisioned yet is left alone; it will
// be created lazily on first membership.
func (p *Provisioner) Reconcile(ctx context.Context, group *policy.GroupPolicy) error {
	provisioned, err := p.IsProvisioned(ctx, group.ID())
	if err != nil {
		return err
	}
	if !provisioned {
		return nil
	}
	return p.ProvisionAccess(ctx, group.ID(), group.IAMRoleBindings())
}

// ProvisionedGroups enumerates the cloud groups provisioned for an
// environment by searching the directory for the environment's canonical
// address prefix. Groups whose address does not parse are skipped.
func (p *Provisioner) ProvisionedGroups(ctx context.Context, environment string) ([]ProvisionedGroup, error) {
	prefix := p.mapping.EnvironmentPrefix(environment)
	groups, err := p.groups.SearchGroupsByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var out []ProvisionedGroup
	for _, g := range groups {
		id, err := p.mapping.ParseGroupEmail(g.Email)
		if err != nil {
			p.logger.Warn("skipping group with unparsable address", "email", g.Email)
			continue
		}
		if id.Environment != environment {
			continue
		}
		out = append(out, ProvisionedGroup{ID: id, Group: g})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}
