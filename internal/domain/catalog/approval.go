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

// ApprovalOperation is one approver's attempt to complete a proposed join.
// Like JoinOperation it is single-use: the approver fills in the APPROVE
// constraint inputs, then executes.
type ApprovalOperation struct {
	catalog  *Catalog
	approver *access.Subject
	group    *policy.GroupPolicy
	proposal *Proposal
	analysis *analysis.Analysis

	// joinChecks are the requester's JOIN checks rebuilt from the proposal's
	// input snapshot; the membership expiry comes from them.
	joinChecks []*policy.Check

	onCompleted func(*provision.ProvisionedMembership)
	completed   bool
}

// Approve opens a proposal for the approver. The proposal must reference an
// existing group, must not have lapsed, and its input snapshot must still
// fill every JOIN input the current policy declares; otherwise it is
// rejected as invalid.
func (c *Catalog) Approve(ctx context.Context, approver *access.Subject, proposal *Proposal) (*ApprovalOperation, error) {
	if !proposal.Expiry.After(time.Now()) {
		return nil, fmt.Errorf("%w: proposal has lapsed", errdefs.ErrInvalidProposal)
	}

	env, err := c.source.Environment(ctx, proposal.Group.Environment)
	if err != nil {
		return nil, fmt.Errorf("%w: group %s no longer exists", errdefs.ErrInvalidProposal, proposal.Group)
	}
	group, ok := env.Group(proposal.Group)
	if !ok {
		return nil, fmt.Errorf("%w: group %s no longer exists", errdefs.ErrInvalidProposal, proposal.Group)
	}

	// Approving one's own proposal falls back to the self-approval rule:
	// it only succeeds when policy has since granted APPROVE_SELF.
	required := access.ApproveOthers
	if proposal.User == approver.User() {
		required = access.ApproveSelf
	}

	joinChecks, err := rebuildJoinChecks(group, c.eval, proposal.Input)
	if err != nil {
		return nil, err
	}

	return &ApprovalOperation{
		catalog:  c,
		approver: approver,
		group:    group,
		proposal: proposal,
		analysis: analysis.New(approver, group, required, c.eval).
			ApplyConstraints(policy.ClassApprove),
		joinChecks: joinChecks,
	}, nil
}

// rebuildJoinChecks reconstructs the requester's JOIN checks and replays the
// proposal's input snapshot into them. A snapshot that no longer fills an
// input slot invalidates the proposal.
func rebuildJoinChecks(group *policy.GroupPolicy, eval policy.ExpressionEvaluator, input map[string]string) ([]*policy.Check, error) {
	var checks []*policy.Check
	for _, c := range group.EffectiveConstraints(policy.ClassJoin) {
		checks = append(checks, c.NewCheck(eval))
	}
	for name, value := range input {
		for _, check := range checks {
			v, ok := check.Variable(name)
			if !ok {
				continue
			}
			if err := v.Set(value); err != nil {
				return nil, fmt.Errorf("%w: input %q: %v", errdefs.ErrInvalidProposal, name, err)
			}
		}
	}
	for _, check := range checks {
		for _, v := range check.Variables() {
			if !v.IsSet() {
				return nil, fmt.Errorf("%w: missing input %q", errdefs.ErrInvalidProposal, v.Name())
			}
		}
	}
	return checks, nil
}

// Proposal returns the proposal being acted on.
func (op *ApprovalOperation) Proposal() *Proposal { return op.proposal }

// Input returns the approver's input variables.
func (op *ApprovalOperation) Input() []policy.Variable { return op.analysis.Input() }

// SetInput parses value into the approver input named name.
func (op *ApprovalOperation) SetInput(name, value string) error {
	return op.analysis.SetInput(name, value)
}

// OnCompleted registers a callback fired exactly once after the membership
// has been provisioned, typically to notify the requester.
func (op *ApprovalOperation) OnCompleted(fn func(*provision.ProvisionedMembership)) {
	op.onCompleted = fn
}

// DryRun evaluates the approver's ACL and constraints without provisioning.
func (op *ApprovalOperation) DryRun(ctx context.Context) *analysis.Result {
	return op.analysis.Execute(ctx)
}

// Execute verifies the approver's side and provisions the membership for
// the requester. The expiry is the one the requester selected.
func (op *ApprovalOperation) Execute(ctx context.Context) (*provision.ProvisionedMembership, error) {
	if op.completed {
		return nil, fmt.Errorf("%w: proposal already approved", errdefs.ErrIllegalState)
	}

	result := op.analysis.Execute(ctx)
	if err := result.VerifyAccessAllowed(analysis.Default); err != nil {
		return nil, err
	}

	duration, err := op.membershipDuration()
	if err != nil {
		return nil, err
	}

	op.catalog.logger.Info("approved join",
		"group", op.group.ID().String(),
		"user", op.proposal.User.Email,
		"approver", op.approver.User().Email,
		"duration", duration)

	membership, err := op.catalog.provisioner.ProvisionMembership(ctx, op.group, op.proposal.User, time.Now().Add(duration))
	if err != nil {
		return nil, err
	}
	op.completed = true
	if op.onCompleted != nil {
		op.onCompleted(membership)
	}
	return membership, nil
}

// membershipDuration extracts the requester's selected lifetime from the
// rebuilt JOIN checks.
func (op *ApprovalOperation) membershipDuration() (time.Duration, error) {
	for _, check := range op.joinChecks {
		if exp, ok := check.Constraint().(*policy.ExpiryConstraint); ok {
			return exp.ExtractExpiry(check)
		}
	}
	return 0, fmt.Errorf("%w: %s", errdefs.ErrMissingExpiryConstraint, op.group.ID())
}
