package provision

import (
	"github.com/groupgate/groupgate/internal/domain/policy"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

// ComplianceState classifies one provisioned group against the current
// policy.
type ComplianceState string

const (
	// Compliant means the group matches policy and its bindings reconciled
	// cleanly.
	Compliant ComplianceState = "compliant"
	// Orphaned means a provisioned group has no matching group in policy.
	Orphaned ComplianceState = "orphaned"
	// Broken means reconciling the group against policy failed.
	Broken ComplianceState = "broken"
)

// ComplianceRecord is the reconciliation outcome for one provisioned group.
type ComplianceRecord struct {
	State      ComplianceState
	GroupID    policy.GroupID
	CloudEmail string
	// Policy is the matching group policy; nil for orphaned groups.
	Policy *policy.GroupPolicy
	// Err is the reconciliation failure; nil unless State is Broken.
	Err error
}

// IsCompliant reports whether the record represents a healthy group.
func (r ComplianceRecord) IsCompliant() bool { return r.State == Compliant }

// Report is the outcome of reconciling one environment.
type Report struct {
	Environment string
	Records     []ComplianceRecord
	// Incompatibilities are findings a legacy policy source attached to the
	// environment, passed through untouched.
	Incompatibilities []policy.Incompatibility
}

// ProvisionedGroup pairs a cloud group with the JIT group id parsed from its
// address.
type ProvisionedGroup struct {
	ID    policy.GroupID
	Group *outbound.CloudGroup
}
