// Package provision owns the cloud side of a JIT group: the deterministic
// mapping to a cloud identity group, group and membership lifecycle, and
// reconciliation of IAM role bindings with checksum-based drift detection.
package provision

import (
	"fmt"
	"strings"

	"github.com/groupgate/groupgate/internal/domain/policy"
	"github.com/groupgate/groupgate/internal/errdefs"
)

// groupEmailPrefix marks group addresses managed by the broker.
const groupEmailPrefix = "jit"

// GroupMapping maps JIT group ids to cloud group emails and back. The
// mapping is pure: "jit.<environment>.<system>.<name>@<domain>".
type GroupMapping struct {
	domain string
}

// NewGroupMapping creates a mapping for the organization's primary domain.
func NewGroupMapping(domain string) (*GroupMapping, error) {
	if domain == "" || strings.ContainsAny(domain, "@ ") {
		return nil, fmt.Errorf("%w: invalid groups domain %q", errdefs.ErrInvalidArgument, domain)
	}
	return &GroupMapping{domain: domain}, nil
}

// Domain returns the domain all managed group addresses live in.
func (m *GroupMapping) Domain() string { return m.domain }

// GroupEmail returns the cloud group email for id.
func (m *GroupMapping) GroupEmail(id policy.GroupID) string {
	return fmt.Sprintf("%s.%s.%s.%s@%s", groupEmailPrefix, id.Environment, id.System, id.Name, m.domain)
}

// EnvironmentPrefix returns the canonical email prefix of all groups in an
// environment, used for directory searches.
func (m *GroupMapping) EnvironmentPrefix(environment string) string {
	return fmt.Sprintf("%s.%s.", groupEmailPrefix, environment)
}

// ParseGroupEmail maps a cloud group email back to a JIT group id. Only
// addresses of the exact managed shape and domain are accepted.
func (m *GroupMapping) ParseGroupEmail(email string) (policy.GroupID, error) {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || domain != m.domain {
		return policy.GroupID{}, fmt.Errorf("%w: %q is not a managed group address", errdefs.ErrInvalidArgument, email)
	}
	parts := strings.Split(local, ".")
	if len(parts) != 4 || parts[0] != groupEmailPrefix {
		return policy.GroupID{}, fmt.Errorf("%w: %q is not a managed group address", errdefs.ErrInvalidArgument, email)
	}
	return policy.NewGroupID(parts[1], parts[2], parts[3])
}
