package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/groupgate/groupgate/internal/domain/access"
	"github.com/groupgate/groupgate/internal/domain/analysis"
	"github.com/groupgate/groupgate/internal/domain/policy"
	"github.com/groupgate/groupgate/internal/domain/provision"
	"github.com/groupgate/groupgate/internal/errdefs"
)

// JoinOperation is one subject's attempt to join one JIT group. The
// operation is single-use and not safe for concurrent use: callers populate
// inputs, then either Execute (self-approval) or Propose (peer approval).
type JoinOperation struct {
	catalog  *Catalog
	subject  *access.Subject
	group    *policy.GroupPolicy
	analysis *analysis.Analysis

	requiresApproval bool
}

// Join starts a join operation for the subject.
//
// The fast path applies when the effective ACL grants both JOIN and
// APPROVE_SELF: the subject satisfies the JOIN and APPROVE constraints in
// one step and membership is provisioned immediately. Otherwise the join
// must go through a proposal, and only the JOIN constraints apply to the
// requester.
func (g *GroupContext) Join() *JoinOperation {
	selfService := g.group.EffectiveACL().IsAllowed(g.subject, access.Join|access.ApproveSelf)

	op := &JoinOperation{
		catalog:          g.catalog,
		subject:          g.subject,
		group:            g.group,
		requiresApproval: !selfService,
	}
	if selfService {
		op.analysis = analysis.New(g.subject, g.group, access.Join|access.ApproveSelf, g.catalog.eval).
			ApplyConstraints(policy.ClassJoin).
			ApplyConstraints(policy.ClassApprove)
	} else {
		op.analysis = analysis.New(g.subject, g.group, access.Join, g.catalog.eval).
			ApplyConstraints(policy.ClassJoin)
	}
	return op
}

// RequiresApproval reports whether this join must go through a proposal.
func (op *JoinOperation) RequiresApproval() bool { return op.requiresApproval }

// Group returns the target group id.
func (op *JoinOperation) Group() policy.GroupID { return op.group.ID() }

// Input returns the input variables the subject must or may fill in.
func (op *JoinOperation) Input() []policy.Variable { return op.analysis.Input() }

// SetInput parses value into the input named name.
func (op *JoinOperation) SetInput(name, value string) error {
	return op.analysis.SetInput(name, value)
}

// DryRun evaluates the ACL and constraints without provisioning anything,
// so callers can preview the outcome of a join.
func (op *JoinOperation) DryRun(ctx context.Context) *analysis.Result {
	return op.analysis.Execute(ctx)
}

// Execute performs a self-approved join: it verifies the ACL and all
// applied constraints, derives the membership expiry, and provisions the
// membership. Joins that require approval cannot be executed directly.
func (op *JoinOperation) Execute(ctx context.Context) (*provision.ProvisionedMembership, error) {
	if op.requiresApproval {
		return nil, &errdefs.AccessDeniedError{Reason: "joining this group requires approval"}
	}

	result := op.analysis.Execute(ctx)
	if err := result.VerifyAccessAllowed(analysis.Default); err != nil {
		return nil, err
	}

	duration, err := op.membershipDuration()
	if err != nil {
		return nil, err
	}

	op.catalog.logger.Info("self-approved join",
		"group", op.group.ID().String(), "user", op.subject.User().Email, "duration", duration)
	return op.catalog.provisioner.ProvisionMembership(ctx, op.group, op.subject.User(), time.Now().Add(duration))
}

// Propose verifies the requester's side of the join and produces a proposal
// addressed to the principals that can approve it. expiry bounds how long
// the proposal stays actionable.
func (op *JoinOperation) Propose(ctx context.Context, expiry time.Time) (*Proposal, error) {
	if !op.requiresApproval {
		return nil, fmt.Errorf("%w: join is self-service, nothing to propose", errdefs.ErrIllegalState)
	}
	if !expiry.After(time.Now()) {
		return nil, fmt.Errorf("%w: proposal expiry must be in the future", errdefs.ErrInvalidArgument)
	}

	result := op.analysis.Execute(ctx)
	if err := result.VerifyAccessAllowed(analysis.Default); err != nil {
		return nil, err
	}

	// The requester must have selected a valid expiry before the proposal
	// is cut, so approvers never handle an incomplete request.
	if _, err := op.membershipDuration(); err != nil {
		return nil, err
	}

	recipients := make([]access.Principal, 0)
	for _, p := range op.group.EffectiveACL().AllowedPrincipals(access.ApproveOthers) {
		if p == op.subject.User() {
			continue
		}
		recipients = append(recipients, p)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: group %s", errdefs.ErrNoApproversAvailable, op.group.ID())
	}

	input := make(map[string]string)
	for _, v := range op.analysis.Input() {
		if v.IsSet() {
			input[v.Name()] = v.Raw()
		}
	}

	op.catalog.logger.Info("proposed join",
		"group", op.group.ID().String(), "user", op.subject.User().Email, "recipients", len(recipients))
	return &Proposal{
		User:       op.subject.User(),
		Group:      op.group.ID(),
		Recipients: recipients,
		Expiry:     expiry,
		Input:      input,
	}, nil
}

// membershipDuration extracts the membership lifetime from the effective
// JOIN expiry constraint's check. Expiry constraints of other classes do not
// bound memberships; a group without a JOIN expiry constraint cannot be
// joined.
func (op *JoinOperation) membershipDuration() (time.Duration, error) {
	exp, ok := policy.FirstExpiryConstraint(op.group.EffectiveConstraints(policy.ClassJoin))
	if !ok {
		return 0, fmt.Errorf("%w: %s", errdefs.ErrMissingExpiryConstraint, op.group.ID())
	}
	check, ok := op.analysis.Check(exp.Name())
	if !ok {
		return 0, fmt.Errorf("%w: %s", errdefs.ErrMissingExpiryConstraint, op.group.ID())
	}
	return exp.ExtractExpiry(check)
}
