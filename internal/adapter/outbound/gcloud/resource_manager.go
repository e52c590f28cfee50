package gcloud

import (
	"context"
	"fmt"

	crm "google.golang.org/api/cloudresourcemanager/v3"
	"google.golang.org/api/option"

	"github.com/groupgate/groupgate/internal/domain/policy"
	"github.com/groupgate/groupgate/internal/errdefs"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

// iamPolicyVersion 3 is required for conditional bindings.
const iamPolicyVersion = 3

// setPolicyAttempts bounds the etag retry loop of one modification.
const setPolicyAttempts = 4

// ResourceManager implements outbound.ResourceManager against the Cloud
// Resource Manager v3 API for projects, folders, and organizations.
type ResourceManager struct {
	service *crm.Service
}

var _ outbound.ResourceManager = (*ResourceManager)(nil)

// NewResourceManager creates a resource manager client.
func NewResourceManager(ctx context.Context, opts ...option.ClientOption) (*ResourceManager, error) {
	service, err := crm.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create resource manager client: %w", err)
	}
	return &ResourceManager{service: service}, nil
}

// ModifyIAMPolicy implements outbound.ResourceManager with a read-modify-write
// loop that retries when a concurrent writer invalidated the etag.
func (r *ResourceManager) ModifyIAMPolicy(ctx context.Context, resource policy.ResourceID, transform func(*outbound.IAMPolicy) error, reason string) error {
	var lastErr error
	for attempt := 0; attempt < setPolicyAttempts; attempt++ {
		current, err := r.getPolicy(ctx, resource)
		if err != nil {
			return err
		}

		modified := fromAPIPolicy(current)
		if err := transform(modified); err != nil {
			return err
		}

		err = r.setPolicy(ctx, resource, toAPIPolicy(modified, current.Etag))
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return translateError(err)
		}
		lastErr = err
	}
	return fmt.Errorf("%w: IAM policy of %s kept changing concurrently (%s): %v",
		errdefs.ErrIO, resource, reason, lastErr)
}

func (r *ResourceManager) getPolicy(ctx context.Context, resource policy.ResourceID) (*crm.Policy, error) {
	req := &crm.GetIamPolicyRequest{
		Options: &crm.GetPolicyOptions{RequestedPolicyVersion: iamPolicyVersion},
	}
	var (
		apiPolicy *crm.Policy
		err       error
	)
	switch resource.Kind {
	case policy.KindProject:
		apiPolicy, err = r.service.Projects.GetIamPolicy(resource.String(), req).Context(ctx).Do()
	case policy.KindFolder:
		apiPolicy, err = r.service.Folders.GetIamPolicy(resource.String(), req).Context(ctx).Do()
	case policy.KindOrganization:
		apiPolicy, err = r.service.Organizations.GetIamPolicy(resource.String(), req).Context(ctx).Do()
	default:
		return nil, fmt.Errorf("%w: unsupported resource kind %q", errdefs.ErrInvalidArgument, resource.Kind)
	}
	if err != nil {
		return nil, translateError(err)
	}
	return apiPolicy, nil
}

func (r *ResourceManager) setPolicy(ctx context.Context, resource policy.ResourceID, apiPolicy *crm.Policy) error {
	req := &crm.SetIamPolicyRequest{Policy: apiPolicy}
	var err error
	switch resource.Kind {
	case policy.KindProject:
		_, err = r.service.Projects.SetIamPolicy(resource.String(), req).Context(ctx).Do()
	case policy.KindFolder:
		_, err = r.service.Folders.SetIamPolicy(resource.String(), req).Context(ctx).Do()
	case policy.KindOrganization:
		_, err = r.service.Organizations.SetIamPolicy(resource.String(), req).Context(ctx).Do()
	default:
		err = fmt.Errorf("%w: unsupported resource kind %q", errdefs.ErrInvalidArgument, resource.Kind)
	}
	return err
}

func fromAPIPolicy(apiPolicy *crm.Policy) *outbound.IAMPolicy {
	out := &outbound.IAMPolicy{Etag: apiPolicy.Etag}
	for _, b := range apiPolicy.Bindings {
		binding := &outbound.IAMBinding{
			Role:    b.Role,
			Members: append([]string(nil), b.Members...),
		}
		if b.Condition != nil {
			binding.Condition = &outbound.IAMCondition{
				Title:       b.Condition.Title,
				Description: b.Condition.Description,
				Expression:  b.Condition.Expression,
			}
		}
		out.Bindings = append(out.Bindings, binding)
	}
	return out
}

func toAPIPolicy(modified *outbound.IAMPolicy, etag string) *crm.Policy {
	out := &crm.Policy{
		Version: iamPolicyVersion,
		Etag:    etag,
	}
	for _, b := range modified.Bindings {
		binding := &crm.Binding{
			Role:    b.Role,
			Members: append([]string(nil), b.Members...),
		}
		if b.Condition != nil {
			binding.Condition = &crm.Expr{
				Title:       b.Condition.Title,
				Description: b.Condition.Description,
				Expression:  b.Condition.Expression,
			}
		}
		out.Bindings = append(out.Bindings, binding)
	}
	return out
}
