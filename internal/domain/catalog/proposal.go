package catalog

import (
	"fmt"
	"time"

	"github.com/groupgate/groupgate/internal/domain/access"
	"github.com/groupgate/groupgate/internal/domain/policy"
	"github.com/groupgate/groupgate/internal/errdefs"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

// Proposal is a pending join that needs peer approval. It carries the
// requester's verified input snapshot and is delivered to the recipients as
// a signed token; the broker itself keeps no proposal state.
type Proposal struct {
	// User is the requester.
	User access.Principal
	// Group is the JIT group being joined.
	Group policy.GroupID
	// Recipients are the principals the proposal is addressed to.
	Recipients []access.Principal
	// Expiry is when the proposal lapses.
	Expiry time.Time
	// Input is the requester's raw input values, keyed by variable name.
	Input map[string]string
}

// Payload converts the proposal to its wire form for signing.
func (p *Proposal) Payload() outbound.ProposalPayload {
	recipients := make([]string, len(p.Recipients))
	for i, r := range p.Recipients {
		recipients[i] = r.String()
	}
	input := make(map[string]string, len(p.Input))
	for k, v := range p.Input {
		input[k] = v
	}
	return outbound.ProposalPayload{
		User:       p.User.String(),
		Group:      p.Group.String(),
		Recipients: recipients,
		Expiry:     p.Expiry,
		Input:      input,
	}
}

// ProposalFromPayload converts a verified wire payload back to a proposal.
// Malformed principals or group ids mean the token was minted by a
// different build or tampered with, and surface as ErrInvalidProposal.
func ProposalFromPayload(payload outbound.ProposalPayload) (*Proposal, error) {
	user, err := access.ParsePrincipal(payload.User)
	if err != nil {
		return nil, fmt.Errorf("%w: user: %v", errdefs.ErrInvalidProposal, err)
	}
	group, err := policy.ParseGroupID(payload.Group)
	if err != nil {
		return nil, fmt.Errorf("%w: group: %v", errdefs.ErrInvalidProposal, err)
	}
	recipients := make([]access.Principal, 0, len(payload.Recipients))
	for _, r := range payload.Recipients {
		p, err := access.ParsePrincipal(r)
		if err != nil {
			return nil, fmt.Errorf("%w: recipient: %v", errdefs.ErrInvalidProposal, err)
		}
		recipients = append(recipients, p)
	}
	input := make(map[string]string, len(payload.Input))
	for k, v := range payload.Input {
		input[k] = v
	}
	return &Proposal{
		User:       user,
		Group:      group,
		Recipients: recipients,
		Expiry:     payload.Expiry,
		Input:      input,
	}, nil
}
