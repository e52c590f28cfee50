// Package token implements the proposal token transport as signed JWTs.
// Proposals are stateless: the token itself carries the whole payload, so the
// broker needs no proposal storage and any instance can verify a token minted
// by another.
package token

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/groupgate/groupgate/internal/errdefs"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

const (
	issuer = "groupgate"

	claimGroup      = "group"
	claimRecipients = "recipients"
	claimInput      = "input"
)

// minKeyLen guards against trivially brute-forceable HMAC keys.
const minKeyLen = 32

// Signer signs and verifies proposal payloads with HMAC-SHA256.
type Signer struct {
	key []byte
}

var _ outbound.ProposalSigner = (*Signer)(nil)

// NewSigner creates a signer over a shared secret of at least 32 bytes.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) < minKeyLen {
		return nil, fmt.Errorf("%w: signing key must be at least %d bytes", errdefs.ErrInvalidArgument, minKeyLen)
	}
	return &Signer{key: append([]byte(nil), key...)}, nil
}

// Sign implements outbound.ProposalSigner.
func (s *Signer) Sign(_ context.Context, payload outbound.ProposalPayload) (string, error) {
	tok, err := jwt.NewBuilder().
		Issuer(issuer).
		Audience([]string{issuer}).
		JwtID(uuid.NewString()).
		Subject(payload.User).
		IssuedAt(time.Now()).
		Expiration(payload.Expiry).
		Claim(claimGroup, payload.Group).
		Claim(claimRecipients, payload.Recipients).
		Claim(claimInput, payload.Input).
		Build()
	if err != nil {
		return "", fmt.Errorf("build proposal token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, s.key))
	if err != nil {
		return "", fmt.Errorf("sign proposal token: %w", err)
	}
	return string(signed), nil
}

// Verify implements outbound.ProposalSigner. Tampered or lapsed tokens are
// rejected as ErrInvalidProposal.
func (s *Signer) Verify(_ context.Context, token string) (outbound.ProposalPayload, error) {
	tok, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.HS256, s.key),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(issuer),
		jwt.WithValidate(true),
	)
	if err != nil {
		return outbound.ProposalPayload{}, fmt.Errorf("%w: %v", errdefs.ErrInvalidProposal, err)
	}

	payload := outbound.ProposalPayload{
		User:   tok.Subject(),
		Expiry: tok.Expiration(),
	}
	if v, ok := tok.Get(claimGroup); ok {
		payload.Group, _ = v.(string)
	}
	if payload.Group == "" {
		return outbound.ProposalPayload{}, fmt.Errorf("%w: missing group claim", errdefs.ErrInvalidProposal)
	}
	if v, ok := tok.Get(claimRecipients); ok {
		items, _ := v.([]any)
		for _, item := range items {
			r, ok := item.(string)
			if !ok {
				return outbound.ProposalPayload{}, fmt.Errorf("%w: malformed recipients claim", errdefs.ErrInvalidProposal)
			}
			payload.Recipients = append(payload.Recipients, r)
		}
	}
	if v, ok := tok.Get(claimInput); ok {
		entries, _ := v.(map[string]any)
		payload.Input = make(map[string]string, len(entries))
		for name, value := range entries {
			raw, ok := value.(string)
			if !ok {
				return outbound.ProposalPayload{}, fmt.Errorf("%w: malformed input claim", errdefs.ErrInvalidProposal)
			}
			payload.Input[name] = raw
		}
	}
	return payload, nil
}
