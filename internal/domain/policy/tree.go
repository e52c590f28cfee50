package policy

import (
	"fmt"
	"time"

	"github.com/groupgate/groupgate/internal/domain/access"
	"github.com/groupgate/groupgate/internal/errdefs"
)

// Metadata describes where an environment policy came from.
type Metadata struct {
	// Source names the policy document origin (file path, bucket object, ...).
	Source string
	// LastModified is when the source was last changed, if known.
	LastModified time.Time
}

// Incompatibility is a finding a legacy policy source surfaces alongside
// normal reconciliation output: a pre-existing binding or pseudo-group that
// cannot be expressed in the current policy model.
type Incompatibility struct {
	Resource string
	Detail   string
}

// EnvironmentPolicy is the root of a policy tree. Children inherit its ACL
// and constraints.
type EnvironmentPolicy struct {
	name              string
	description       string
	metadata          Metadata
	acl               access.ACL
	constraints       map[Class][]Constraint
	systems           []*SystemPolicy
	incompatibilities []Incompatibility
}

// NewEnvironmentPolicy creates an environment with no systems.
func NewEnvironmentPolicy(name, description string, metadata Metadata, acl access.ACL, constraints map[Class][]Constraint) (*EnvironmentPolicy, error) {
	if !nameRe.MatchString(name) {
		return nil, fmt.Errorf("%w: invalid environment name %q", errdefs.ErrInvalidArgument, name)
	}
	return &EnvironmentPolicy{
		name:        name,
		description: description,
		metadata:    metadata,
		acl:         acl,
		constraints: cloneConstraintMap(constraints),
	}, nil
}

// Name returns the environment name.
func (e *EnvironmentPolicy) Name() string { return e.name }

// Description returns the environment description.
func (e *EnvironmentPolicy) Description() string { return e.description }

// Metadata returns the source metadata.
func (e *EnvironmentPolicy) Metadata() Metadata { return e.metadata }

// ACL returns the environment's own ACL.
func (e *EnvironmentPolicy) ACL() access.ACL { return e.acl }

// Constraints returns the environment's own constraints of class.
func (e *EnvironmentPolicy) Constraints(class Class) []Constraint { return e.constraints[class] }

// Systems returns the systems in declaration order.
func (e *EnvironmentPolicy) Systems() []*SystemPolicy { return e.systems }

// System returns the system named name.
func (e *EnvironmentPolicy) System(name string) (*SystemPolicy, bool) {
	for _, s := range e.systems {
		if s.name == name {
			return s, true
		}
	}
	return nil, false
}

// AddSystem links a new system into the environment. System names must be
// unique within the environment.
func (e *EnvironmentPolicy) AddSystem(name string, acl access.ACL, constraints map[Class][]Constraint) (*SystemPolicy, error) {
	if !nameRe.MatchString(name) {
		return nil, fmt.Errorf("%w: invalid system name %q", errdefs.ErrInvalidArgument, name)
	}
	if _, exists := e.System(name); exists {
		return nil, fmt.Errorf("%w: duplicate system %q", errdefs.ErrInvalidArgument, name)
	}
	s := &SystemPolicy{
		environment: e,
		name:        name,
		acl:         acl,
		constraints: cloneConstraintMap(constraints),
	}
	e.systems = append(e.systems, s)
	return s, nil
}

// Incompatibilities returns the findings a legacy source attached to this
// environment. Empty for regular policies.
func (e *EnvironmentPolicy) Incompatibilities() []Incompatibility { return e.incompatibilities }

// SetIncompatibilities attaches legacy findings to the environment.
func (e *EnvironmentPolicy) SetIncompatibilities(issues []Incompatibility) {
	e.incompatibilities = issues
}

// Group resolves a group id within this environment.
func (e *EnvironmentPolicy) Group(id GroupID) (*GroupPolicy, bool) {
	if id.Environment != e.name {
		return nil, false
	}
	s, ok := e.System(id.System)
	if !ok {
		return nil, false
	}
	return s.Group(id.Name)
}

// SystemPolicy is a mid-level grouping within an environment.
type SystemPolicy struct {
	environment *EnvironmentPolicy
	name        string
	acl         access.ACL
	constraints map[Class][]Constraint
	groups      []*GroupPolicy
}

// Name returns the system name.
func (s *SystemPolicy) Name() string { return s.name }

// Environment returns the parent environment.
func (s *SystemPolicy) Environment() *EnvironmentPolicy { return s.environment }

// ACL returns the system's own ACL.
func (s *SystemPolicy) ACL() access.ACL { return s.acl }

// Constraints returns the system's own constraints of class.
func (s *SystemPolicy) Constraints(class Class) []Constraint { return s.constraints[class] }

// Groups returns the groups in declaration order.
func (s *SystemPolicy) Groups() []*GroupPolicy { return s.groups }

// Group returns the group named name.
func (s *SystemPolicy) Group(name string) (*GroupPolicy, bool) {
	for _, g := range s.groups {
		if g.name == name {
			return g, true
		}
	}
	return nil, false
}

// EffectiveACL returns the environment ACL concatenated with the system ACL.
func (s *SystemPolicy) EffectiveACL() access.ACL {
	return s.environment.acl.Concat(s.acl)
}

// AddGroup links a new JIT group into the system. Group names must be unique
// within the system.
func (s *SystemPolicy) AddGroup(spec GroupSpec) (*GroupPolicy, error) {
	if !nameRe.MatchString(spec.Name) {
		return nil, fmt.Errorf("%w: invalid group name %q", errdefs.ErrInvalidArgument, spec.Name)
	}
	if _, exists := s.Group(spec.Name); exists {
		return nil, fmt.Errorf("%w: duplicate group %q", errdefs.ErrInvalidArgument, spec.Name)
	}
	g := &GroupPolicy{
		system:      s,
		name:        spec.Name,
		description: spec.Description,
		acl:         spec.ACL,
		constraints: cloneConstraintMap(spec.Constraints),
		privileges:  append([]Privilege(nil), spec.Privileges...),
		gkeEnabled:  spec.GKEEnabled,
	}
	s.groups = append(s.groups, g)
	return g, nil
}

// GroupSpec carries the attributes of a new JIT group.
type GroupSpec struct {
	Name        string
	Description string
	ACL         access.ACL
	Constraints map[Class][]Constraint
	Privileges  []Privilege
	GKEEnabled  bool
}

// GroupPolicy is a JIT group: a named set of privileges users may
// temporarily join.
type GroupPolicy struct {
	system      *SystemPolicy
	name        string
	description string
	acl         access.ACL
	constraints map[Class][]Constraint
	privileges  []Privilege
	gkeEnabled  bool
}

// Name returns the group name.
func (g *GroupPolicy) Name() string { return g.name }

// Description returns the group description.
func (g *GroupPolicy) Description() string { return g.description }

// System returns the parent system.
func (g *GroupPolicy) System() *SystemPolicy { return g.system }

// ACL returns the group's own ACL.
func (g *GroupPolicy) ACL() access.ACL { return g.acl }

// Constraints returns the group's own constraints of class.
func (g *GroupPolicy) Constraints(class Class) []Constraint { return g.constraints[class] }

// Privileges returns the grantable artifacts of this group.
func (g *GroupPolicy) Privileges() []Privilege { return g.privileges }

// IsGKEEnabled reports whether the backing cloud group must be created with
// the GKE-compatible access profile.
func (g *GroupPolicy) IsGKEEnabled() bool { return g.gkeEnabled }

// ID returns the stable (environment, system, name) triple.
func (g *GroupPolicy) ID() GroupID {
	return GroupID{
		Environment: g.system.environment.name,
		System:      g.system.name,
		Name:        g.name,
	}
}

// EffectiveACL concatenates the ancestor ACLs root to leaf, so a deny
// anywhere in the chain wins through entry ordering.
func (g *GroupPolicy) EffectiveACL() access.ACL {
	return g.system.EffectiveACL().Concat(g.acl)
}

// EffectiveConstraints unions the constraints of class along the root-to-leaf
// chain. A descendant constraint with the same name as an ancestor's replaces
// it in place, keeping declaration order deterministic.
func (g *GroupPolicy) EffectiveConstraints(class Class) []Constraint {
	var merged []Constraint
	for _, own := range [][]Constraint{
		g.system.environment.constraints[class],
		g.system.constraints[class],
		g.constraints[class],
	} {
		for _, c := range own {
			replaced := false
			for i, existing := range merged {
				if existing.Name() == c.Name() {
					merged[i] = c
					replaced = true
					break
				}
			}
			if !replaced {
				merged = append(merged, c)
			}
		}
	}
	return merged
}

// IAMRoleBindings filters the group's privileges down to the IAM role
// binding variant the IAM provisioner understands.
func (g *GroupPolicy) IAMRoleBindings() []IAMRoleBinding {
	var out []IAMRoleBinding
	for _, p := range g.privileges {
		if b, ok := p.(IAMRoleBinding); ok {
			out = append(out, b)
		}
	}
	return out
}

func cloneConstraintMap(in map[Class][]Constraint) map[Class][]Constraint {
	out := make(map[Class][]Constraint, len(in))
	for class, cs := range in {
		out[class] = append([]Constraint(nil), cs...)
	}
	return out
}
