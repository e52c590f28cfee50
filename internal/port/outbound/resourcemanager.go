package outbound

import (
	"context"

	"github.com/groupgate/groupgate/internal/domain/policy"
)

// IAMCondition is an optional condition attached to an IAM binding.
type IAMCondition struct {
	Title       string
	Description string
	Expression  string
}

// IAMBinding grants a role to a set of members on a resource.
type IAMBinding struct {
	Role      string
	Members   []string
	Condition *IAMCondition
}

// IAMPolicy is the bindings of one resource, with the provider's optimistic
// concurrency etag.
type IAMPolicy struct {
	Bindings []*IAMBinding
	Etag     string
}

// ResourceManager is the capability interface for project, folder, and
// organization IAM policies.
type ResourceManager interface {
	// ModifyIAMPolicy applies transform to the resource's current policy
	// under read-modify-write semantics, retrying on optimistic-concurrency
	// conflicts. reason is recorded with the change for attribution.
	ModifyIAMPolicy(ctx context.Context, resource policy.ResourceID, transform func(*IAMPolicy) error, reason string) error
}
