package policy

import (
	"errors"
	"testing"
	"time"

	"github.com/groupgate/groupgate/internal/domain/access"
	"github.com/groupgate/groupgate/internal/errdefs"
)

const sampleDocument = `
schemaVersion: 1
environment:
  name: env1
  description: Production environment
  access:
    - principal: user:admin@x.test
      allow: VIEW|EXPORT|RECONCILE
    - principal: user:banned@x.test
      deny: JOIN
  constraints:
    join:
      - type: expiry
        min: 30m
        max: 8h
  systems:
    - name: sys1
      access:
        - principal: group:sys1-users@x.test
          allow: VIEW
      groups:
        - name: group1
          description: Compute admins
          gkeEnabled: true
          access:
            - principal: user:user@x.test
              allow: JOIN|APPROVE_SELF
            - principal: user:approver1@x.test
              allow: APPROVE_OTHERS
          constraints:
            join:
              - type: expression
                name: reason
                displayName: Justification
                expression: "input.reason != ''"
                variables:
                  - type: string
                    name: reason
                    displayName: Reason for access
                    minLength: 1
                    maxLength: 200
            approve:
              - type: expression
                name: ticket
                expression: "input.ticket > 0"
                variables:
                  - type: long
                    name: ticket
                    min: 1
                    max: 999999
          privileges:
            - type: iamRoleBinding
              resource: projects/project-1
              role: roles/compute.admin
              description: Compute administration
            - type: sshCertificate
              spec:
                ca: ops-ca
`

func TestParseDocument(t *testing.T) {
	env, err := ParseDocument([]byte(sampleDocument), Metadata{Source: "test.yaml"})
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}

	if env.Name() != "env1" || env.Description() != "Production environment" {
		t.Errorf("environment header = %q, %q", env.Name(), env.Description())
	}
	if len(env.ACL().Entries) != 2 {
		t.Fatalf("environment ACL has %d entries, want 2", len(env.ACL().Entries))
	}
	if env.ACL().Entries[1].Kind != access.Deny {
		t.Error("second environment entry must be a deny")
	}

	join := env.Constraints(ClassJoin)
	if len(join) != 1 {
		t.Fatalf("environment join constraints = %d, want 1", len(join))
	}
	expiry, ok := join[0].(*ExpiryConstraint)
	if !ok || expiry.Min != 30*time.Minute || expiry.Max != 8*time.Hour {
		t.Errorf("expiry constraint = %+v", join[0])
	}

	group, ok := env.Group(GroupID{Environment: "env1", System: "sys1", Name: "group1"})
	if !ok {
		t.Fatal("group1 not found")
	}
	if !group.IsGKEEnabled() {
		t.Error("gkeEnabled not parsed")
	}
	if len(group.Constraints(ClassApprove)) != 1 {
		t.Error("approve constraints not parsed")
	}
	bindings := group.IAMRoleBindings()
	if len(bindings) != 1 || bindings[0].Role != "roles/compute.admin" {
		t.Errorf("IAMRoleBindings() = %v", bindings)
	}
	if len(group.Privileges()) != 2 {
		t.Error("unknown privilege variant must be preserved")
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	env, err := ParseDocument([]byte(sampleDocument), Metadata{Source: "test.yaml"})
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	exported, err := MarshalDocument(env)
	if err != nil {
		t.Fatalf("MarshalDocument() error = %v", err)
	}
	reparsed, err := ParseDocument(exported, Metadata{Source: "export"})
	if err != nil {
		t.Fatalf("ParseDocument(exported) error = %v", err)
	}

	// Equivalence: tree shape, ACLs, constraints, privileges.
	if reparsed.Name() != env.Name() || reparsed.Description() != env.Description() {
		t.Error("environment header changed in round trip")
	}
	if len(reparsed.ACL().Entries) != len(env.ACL().Entries) {
		t.Error("environment ACL changed in round trip")
	}
	for i, e := range env.ACL().Entries {
		if reparsed.ACL().Entries[i] != e {
			t.Errorf("ACL entry %d changed: %v vs %v", i, reparsed.ACL().Entries[i], e)
		}
	}

	g1, _ := env.Group(GroupID{Environment: "env1", System: "sys1", Name: "group1"})
	g2, ok := reparsed.Group(GroupID{Environment: "env1", System: "sys1", Name: "group1"})
	if !ok {
		t.Fatal("group lost in round trip")
	}
	if g2.IsGKEEnabled() != g1.IsGKEEnabled() || g2.Description() != g1.Description() {
		t.Error("group attributes changed in round trip")
	}
	if len(g2.EffectiveConstraints(ClassJoin)) != len(g1.EffectiveConstraints(ClassJoin)) {
		t.Error("join constraints changed in round trip")
	}
	b1, b2 := g1.IAMRoleBindings(), g2.IAMRoleBindings()
	if len(b1) != len(b2) {
		t.Fatal("bindings changed in round trip")
	}
	for i := range b1 {
		if b1[i] != b2[i] {
			t.Errorf("binding %d changed: %v vs %v", i, b1[i], b2[i])
		}
	}
}

func TestParseDocumentRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", ":\n:::"},
		{"wrong schema version", "schemaVersion: 99\nenvironment:\n  name: env1\n"},
		{"missing environment name", "schemaVersion: 1\nenvironment:\n  description: x\n"},
		{"allow and deny on one entry", `
schemaVersion: 1
environment:
  name: env1
  access:
    - principal: user:a@x.test
      allow: VIEW
      deny: JOIN
`},
		{"bad mask", `
schemaVersion: 1
environment:
  name: env1
  access:
    - principal: user:a@x.test
      allow: FLY
`},
		{"bad constraint type", `
schemaVersion: 1
environment:
  name: env1
  constraints:
    join:
      - type: lunar
`},
		{"expiry min above max", `
schemaVersion: 1
environment:
  name: env1
  constraints:
    join:
      - type: expiry
        min: 2h
        max: 1h
`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseDocument([]byte(tc.doc), Metadata{})
			if !errors.Is(err, errdefs.ErrInvalidArgument) {
				t.Errorf("ParseDocument() error = %v, want InvalidArgument", err)
			}
		})
	}
}
