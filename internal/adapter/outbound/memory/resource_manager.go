package memory

import (
	"context"
	"sync"

	"github.com/groupgate/groupgate/internal/domain/policy"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

// ResourceManager is an in-memory outbound.ResourceManager. Resources spring
// into existence with an empty policy on first access. Failures can be
// injected per resource to exercise partial-failure paths.
type ResourceManager struct {
	mu       sync.Mutex
	policies map[policy.ResourceID]*outbound.IAMPolicy
	failures map[policy.ResourceID]error
	calls    int
}

var _ outbound.ResourceManager = (*ResourceManager)(nil)

// NewResourceManager creates an empty resource manager.
func NewResourceManager() *ResourceManager {
	return &ResourceManager{
		policies: make(map[policy.ResourceID]*outbound.IAMPolicy),
		failures: make(map[policy.ResourceID]error),
	}
}

// ModifyIAMPolicy implements outbound.ResourceManager. The transform runs
// under the store lock, so concurrent modifications serialize like the real
// API's etag loop resolves them.
func (r *ResourceManager) ModifyIAMPolicy(_ context.Context, resource policy.ResourceID, transform func(*outbound.IAMPolicy) error, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if err := r.failures[resource]; err != nil {
		return err
	}
	current, ok := r.policies[resource]
	if !ok {
		current = &outbound.IAMPolicy{}
		r.policies[resource] = current
	}
	return transform(current)
}

// FailWith injects an error for all subsequent modifications of resource.
// A nil err clears the injection.
func (r *ResourceManager) FailWith(resource policy.ResourceID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, resource)
		return
	}
	r.failures[resource] = err
}

// Calls returns the number of modification attempts.
func (r *ResourceManager) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Policy returns a deep copy of the resource's current policy.
func (r *ResourceManager) Policy(resource policy.ResourceID) *outbound.IAMPolicy {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.policies[resource]
	if !ok {
		return &outbound.IAMPolicy{}
	}
	clone := &outbound.IAMPolicy{Etag: current.Etag}
	for _, b := range current.Bindings {
		nb := &outbound.IAMBinding{
			Role:    b.Role,
			Members: append([]string(nil), b.Members...),
		}
		if b.Condition != nil {
			c := *b.Condition
			nb.Condition = &c
		}
		clone.Bindings = append(clone.Bindings, nb)
	}
	return clone
}

// Members returns the members bound to role on resource.
func (r *ResourceManager) Members(resource policy.ResourceID, role string) []string {
	for _, b := range r.Policy(resource).Bindings {
		if b.Role == role {
			return b.Members
		}
	}
	return nil
}
