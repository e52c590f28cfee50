package policy

import (
	"testing"
	"time"

	"github.com/groupgate/groupgate/internal/domain/access"
)

func mustEnv(t *testing.T, name string, acl access.ACL, constraints map[Class][]Constraint) *EnvironmentPolicy {
	t.Helper()
	env, err := NewEnvironmentPolicy(name, "test environment", Metadata{Source: "test"}, acl, constraints)
	if err != nil {
		t.Fatalf("NewEnvironmentPolicy(%q) error = %v", name, err)
	}
	return env
}

func TestTreeConstructionAndIDs(t *testing.T) {
	env := mustEnv(t, "env1", access.ACL{}, nil)
	sys, err := env.AddSystem("sys1", access.ACL{}, nil)
	if err != nil {
		t.Fatalf("AddSystem() error = %v", err)
	}
	group, err := sys.AddGroup(GroupSpec{Name: "group1", Description: "g"})
	if err != nil {
		t.Fatalf("AddGroup() error = %v", err)
	}

	if got := group.ID().String(); got != "env1.sys1.group1" {
		t.Errorf("ID() = %q, want env1.sys1.group1", got)
	}
	if group.System() != sys || sys.Environment() != env {
		t.Error("parent links not set")
	}

	found, ok := env.Group(GroupID{Environment: "env1", System: "sys1", Name: "group1"})
	if !ok || found != group {
		t.Error("Group() lookup through the environment failed")
	}
	if _, ok := env.Group(GroupID{Environment: "other", System: "sys1", Name: "group1"}); ok {
		t.Error("Group() must reject a foreign environment")
	}
}

func TestUniqueNamesWithinParent(t *testing.T) {
	env := mustEnv(t, "env1", access.ACL{}, nil)
	sys, _ := env.AddSystem("sys1", access.ACL{}, nil)

	if _, err := env.AddSystem("sys1", access.ACL{}, nil); err == nil {
		t.Error("duplicate system name must be rejected")
	}
	if _, err := sys.AddGroup(GroupSpec{Name: "g1"}); err != nil {
		t.Fatalf("AddGroup() error = %v", err)
	}
	if _, err := sys.AddGroup(GroupSpec{Name: "g1"}); err == nil {
		t.Error("duplicate group name must be rejected")
	}
	if _, err := sys.AddGroup(GroupSpec{Name: "not a name!"}); err == nil {
		t.Error("invalid group name must be rejected")
	}
}

func TestEffectiveACLConcatenatesRootToLeaf(t *testing.T) {
	user := access.EndUser("user@x.test")
	subject := access.NewSubject(user)

	env := mustEnv(t, "env1", access.ACL{Entries: []access.Entry{
		access.DenyEntry(user, access.Join),
	}}, nil)
	sys, _ := env.AddSystem("sys1", access.ACL{}, nil)
	group, _ := sys.AddGroup(GroupSpec{Name: "g1", ACL: access.ACL{Entries: []access.Entry{
		access.AllowEntry(user, access.Join | access.View),
	}}})

	eff := group.EffectiveACL()
	if eff.IsAllowed(subject, access.Join) {
		t.Error("environment deny must win over group allow")
	}
	if !eff.IsAllowed(subject, access.View) {
		t.Error("unrelated VIEW bit must survive")
	}
}

func TestEffectiveConstraintsUnionAndOverride(t *testing.T) {
	envExpiry := &ExpiryConstraint{Min: time.Hour, Max: time.Hour}
	envReason := &PredicateConstraint{ConstraintName: "reason", Expression: "true"}
	groupReason := &PredicateConstraint{ConstraintName: "reason", Expression: "input.reason != ''"}
	groupTicket := &PredicateConstraint{ConstraintName: "ticket", Expression: "true"}

	env := mustEnv(t, "env1", access.ACL{}, map[Class][]Constraint{
		ClassJoin: {envExpiry, envReason},
	})
	sys, _ := env.AddSystem("sys1", access.ACL{}, nil)
	group, _ := sys.AddGroup(GroupSpec{Name: "g1", Constraints: map[Class][]Constraint{
		ClassJoin: {groupReason, groupTicket},
	}})

	eff := group.EffectiveConstraints(ClassJoin)
	if len(eff) != 3 {
		t.Fatalf("EffectiveConstraints() returned %d constraints, want 3", len(eff))
	}
	if eff[0] != Constraint(envExpiry) {
		t.Error("ancestor constraint order must be preserved")
	}
	if eff[1] != Constraint(groupReason) {
		t.Error("descendant constraint with same name must replace ancestor's in place")
	}
	if eff[2] != Constraint(groupTicket) {
		t.Error("new descendant constraint must append")
	}
}

func TestFirstExpiryConstraint(t *testing.T) {
	exp := &ExpiryConstraint{Min: time.Minute, Max: time.Hour}
	pred := &PredicateConstraint{ConstraintName: "p", Expression: "true"}

	if _, ok := FirstExpiryConstraint([]Constraint{pred}); ok {
		t.Error("no expiry constraint expected")
	}
	other := &ExpiryConstraint{Min: time.Hour, Max: time.Hour}
	got, ok := FirstExpiryConstraint([]Constraint{pred, exp, other})
	if !ok || got != exp {
		t.Errorf("FirstExpiryConstraint() = %v, %v; want first expiry constraint", got, ok)
	}
}

func TestIAMRoleBindingsFilterUnknownPrivileges(t *testing.T) {
	binding := IAMRoleBinding{
		Resource: ResourceID{Kind: KindProject, ID: "project-1"},
		Role:     "roles/compute.viewer",
	}
	env := mustEnv(t, "env1", access.ACL{}, nil)
	sys, _ := env.AddSystem("sys1", access.ACL{}, nil)
	group, _ := sys.AddGroup(GroupSpec{Name: "g1", Privileges: []Privilege{
		binding,
		OpaquePrivilege{Type: "sshCertificate"},
	}})

	got := group.IAMRoleBindings()
	if len(got) != 1 || got[0] != binding {
		t.Errorf("IAMRoleBindings() = %v, want just %v", got, binding)
	}
}

func TestParseGroupID(t *testing.T) {
	id, err := ParseGroupID("env1.sys1.group1")
	if err != nil {
		t.Fatalf("ParseGroupID() error = %v", err)
	}
	if id != (GroupID{Environment: "env1", System: "sys1", Name: "group1"}) {
		t.Errorf("ParseGroupID() = %+v", id)
	}
	for _, bad := range []string{"", "a.b", "a.b.c.d", "a.b.", "a.b.c!"} {
		if _, err := ParseGroupID(bad); err == nil {
			t.Errorf("ParseGroupID(%q) should fail", bad)
		}
	}
}

func TestParseResourceID(t *testing.T) {
	id, err := ParseResourceID("projects/project-1")
	if err != nil {
		t.Fatalf("ParseResourceID() error = %v", err)
	}
	if id.Kind != KindProject || id.ID != "project-1" {
		t.Errorf("ParseResourceID() = %+v", id)
	}
	for _, bad := range []string{"projects", "projects/", "datasets/x", "projects/a/b"} {
		if _, err := ParseResourceID(bad); err == nil {
			t.Errorf("ParseResourceID(%q) should fail", bad)
		}
	}
}
