package gcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cloudidentity "google.golang.org/api/cloudidentity/v1"
	"google.golang.org/api/option"

	"github.com/groupgate/groupgate/internal/errdefs"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

const (
	securityLabel   = "cloudidentity.googleapis.com/groups.security"
	discussionLabel = "cloudidentity.googleapis.com/groups.discussion_forum"

	// memberRestrictionQuery locks restricted groups down to users and
	// service accounts, keeping nested groups out.
	memberRestrictionQuery = "member.type == 1 || member.type == 2"
)

// Directory implements outbound.CloudIdentity against the Cloud Identity
// Groups API.
type Directory struct {
	service  *cloudidentity.Service
	customer string
}

var _ outbound.CloudIdentity = (*Directory)(nil)

// NewDirectory creates a directory client scoped to the given customer
// ("customers/C..." or "customers/my_customer").
func NewDirectory(ctx context.Context, customer string, opts ...option.ClientOption) (*Directory, error) {
	if customer == "" {
		return nil, fmt.Errorf("%w: customer id is required", errdefs.ErrInvalidArgument)
	}
	service, err := cloudidentity.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create cloud identity client: %w", err)
	}
	return &Directory{service: service, customer: customer}, nil
}

func (d *Directory) lookup(ctx context.Context, email string) (string, error) {
	resp, err := d.service.Groups.Lookup().
		GroupKeyId(email).
		Context(ctx).
		Do()
	if err != nil {
		return "", translateError(err)
	}
	return resp.Name, nil
}

// GetGroup implements outbound.CloudIdentity.
func (d *Directory) GetGroup(ctx context.Context, email string) (*outbound.CloudGroup, error) {
	name, err := d.lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	group, err := d.service.Groups.Get(name).Context(ctx).Do()
	if err != nil {
		return nil, translateError(err)
	}
	return &outbound.CloudGroup{
		Key:         group.Name,
		Email:       group.GroupKey.Id,
		Description: group.Description,
	}, nil
}

// LookupGroup implements outbound.CloudIdentity.
func (d *Directory) LookupGroup(ctx context.Context, email string) (string, error) {
	return d.lookup(ctx, email)
}

// CreateGroup implements outbound.CloudIdentity. The group is created as a
// security group; the restricted profile additionally locks membership down
// to users and service accounts.
func (d *Directory) CreateGroup(ctx context.Context, email, description string, profile outbound.AccessProfile) (*outbound.CloudGroup, error) {
	group := &cloudidentity.Group{
		Parent:      d.customer,
		GroupKey:    &cloudidentity.EntityKey{Id: email},
		DisplayName: email,
		Description: description,
		Labels: map[string]string{
			discussionLabel: "",
			securityLabel:   "",
		},
	}
	op, err := d.service.Groups.Create(group).
		InitialGroupConfig("WITH_INITIAL_OWNER").
		Context(ctx).
		Do()
	if err != nil {
		return nil, translateError(err)
	}

	var created cloudidentity.Group
	if err := json.Unmarshal(op.Response, &created); err != nil {
		return nil, fmt.Errorf("%w: decode group creation response: %v", errdefs.ErrIO, err)
	}

	if profile == outbound.ProfileRestricted {
		if err := d.restrictMembers(ctx, created.Name); err != nil {
			return nil, err
		}
	}
	return &outbound.CloudGroup{
		Key:         created.Name,
		Email:       email,
		Description: created.Description,
	}, nil
}

func (d *Directory) restrictMembers(ctx context.Context, groupName string) error {
	settings := &cloudidentity.SecuritySettings{
		MemberRestriction: &cloudidentity.MemberRestriction{
			Query: memberRestrictionQuery,
		},
	}
	_, err := d.service.Groups.UpdateSecuritySettings(groupName+"/securitySettings", settings).
		UpdateMask("memberRestriction.query").
		Context(ctx).
		Do()
	if err != nil {
		return translateError(err)
	}
	return nil
}

// PatchGroupDescription implements outbound.CloudIdentity.
func (d *Directory) PatchGroupDescription(ctx context.Context, key, description string) error {
	_, err := d.service.Groups.Patch(key, &cloudidentity.Group{Description: description}).
		UpdateMask("description").
		Context(ctx).
		Do()
	if err != nil {
		return translateError(err)
	}
	return nil
}

// AddMembership implements outbound.CloudIdentity. An existing membership is
// refreshed in place through the expiry update path.
func (d *Directory) AddMembership(ctx context.Context, key, memberEmail string, expiry time.Time) error {
	membership := &cloudidentity.Membership{
		PreferredMemberKey: &cloudidentity.EntityKey{Id: memberEmail},
		Roles: []*cloudidentity.MembershipRole{{
			Name: "MEMBER",
			ExpiryDetail: &cloudidentity.ExpiryDetail{
				ExpireTime: expiry.UTC().Format(time.RFC3339),
			},
		}},
	}
	_, err := d.service.Groups.Memberships.Create(key, membership).Context(ctx).Do()
	if err == nil {
		return nil
	}
	translated := translateError(err)
	if !isConflict(err) {
		return translated
	}
	return d.refreshExpiry(ctx, key, memberEmail, expiry)
}

// refreshExpiry updates the expiry of an existing MEMBER role.
func (d *Directory) refreshExpiry(ctx context.Context, key, memberEmail string, expiry time.Time) error {
	name, err := d.membershipName(ctx, key, memberEmail)
	if err != nil {
		return err
	}
	req := &cloudidentity.ModifyMembershipRolesRequest{
		UpdateRolesParams: []*cloudidentity.UpdateMembershipRolesParams{{
			FieldMask: "expiryDetail.expire_time",
			MembershipRole: &cloudidentity.MembershipRole{
				Name: "MEMBER",
				ExpiryDetail: &cloudidentity.ExpiryDetail{
					ExpireTime: expiry.UTC().Format(time.RFC3339),
				},
			},
		}},
	}
	if _, err := d.service.Groups.Memberships.ModifyMembershipRoles(name, req).Context(ctx).Do(); err != nil {
		return translateError(err)
	}
	return nil
}

// AddPermanentMembership implements outbound.CloudIdentity.
func (d *Directory) AddPermanentMembership(ctx context.Context, key, memberEmail string) error {
	membership := &cloudidentity.Membership{
		PreferredMemberKey: &cloudidentity.EntityKey{Id: memberEmail},
		Roles:              []*cloudidentity.MembershipRole{{Name: "MEMBER"}},
	}
	if _, err := d.service.Groups.Memberships.Create(key, membership).Context(ctx).Do(); err != nil {
		return translateError(err)
	}
	return nil
}

func (d *Directory) membershipName(ctx context.Context, key, memberEmail string) (string, error) {
	resp, err := d.service.Groups.Memberships.Lookup(key).
		MemberKeyId(memberEmail).
		Context(ctx).
		Do()
	if err != nil {
		return "", translateError(err)
	}
	return resp.Name, nil
}

// DeleteMembership implements outbound.CloudIdentity.
func (d *Directory) DeleteMembership(ctx context.Context, key, memberEmail string) error {
	name, err := d.membershipName(ctx, key, memberEmail)
	if err != nil {
		return err
	}
	if _, err := d.service.Groups.Memberships.Delete(name).Context(ctx).Do(); err != nil {
		return translateError(err)
	}
	return nil
}

// SearchGroupsByPrefix implements outbound.CloudIdentity.
func (d *Directory) SearchGroupsByPrefix(ctx context.Context, prefix string) ([]*outbound.CloudGroup, error) {
	query := fmt.Sprintf("parent=='%s' && group_key.startsWith('%s')", d.customer, prefix)
	var out []*outbound.CloudGroup
	err := d.service.Groups.Search().
		Query(query).
		View("BASIC").
		Context(ctx).
		Pages(ctx, func(page *cloudidentity.SearchGroupsResponse) error {
			for _, g := range page.Groups {
				out = append(out, &outbound.CloudGroup{
					Key:         g.Name,
					Email:       g.GroupKey.Id,
					Description: g.Description,
				})
			}
			return nil
		})
	if err != nil {
		return nil, translateError(err)
	}
	return out, nil
}

// ListMemberships implements outbound.CloudIdentity.
func (d *Directory) ListMemberships(ctx context.Context, key string) ([]*outbound.Membership, error) {
	var out []*outbound.Membership
	err := d.service.Groups.Memberships.List(key).
		Context(ctx).
		Pages(ctx, func(page *cloudidentity.ListMembershipsResponse) error {
			for _, m := range page.Memberships {
				membership := &outbound.Membership{MemberEmail: m.PreferredMemberKey.Id}
				for _, role := range m.Roles {
					if role.Name == "MEMBER" && role.ExpiryDetail != nil {
						if t, err := time.Parse(time.RFC3339, role.ExpiryDetail.ExpireTime); err == nil {
							membership.Expiry = t
						}
					}
				}
				out = append(out, membership)
			}
			return nil
		})
	if err != nil {
		return nil, translateError(err)
	}
	return out, nil
}
