package outbound

import (
	"context"
	"time"
)

// ProposalPayload is the content of a proposal token. Round-tripping through
// Sign and Verify preserves every field bit-exact.
type ProposalPayload struct {
	// User is the joining user's principal in canonical form.
	User string
	// Group is the JIT group id in "environment.system.name" form.
	Group string
	// Recipients are the principals allowed to act on the proposal.
	Recipients []string
	// Expiry is when the proposal lapses.
	Expiry time.Time
	// Input is the joining user's input snapshot, keyed by variable name.
	Input map[string]string
}

// ProposalSigner is the capability interface for the signed-token transport
// that delivers proposals to approvers. The token format is opaque to the
// core; Verify fails on tampering or expiry.
type ProposalSigner interface {
	Sign(ctx context.Context, payload ProposalPayload) (string, error)
	Verify(ctx context.Context, token string) (ProposalPayload, error)
}
