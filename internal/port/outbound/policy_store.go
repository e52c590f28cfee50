package outbound

import (
	"context"
	"time"
)

// EnvironmentSummary is the header of an environment policy: enough for a
// listing without loading the full document.
type EnvironmentSummary struct {
	Name        string
	Description string
}

// PolicyDocument is an opaque policy blob plus provenance. Parsing is the
// caller's concern.
type PolicyDocument struct {
	Name         string
	Data         []byte
	Source       string
	LastModified time.Time
}

// PolicyStore is the capability interface for the policy document source.
type PolicyStore interface {
	// ListEnvironments returns the headers of all known environments.
	ListEnvironments(ctx context.Context) ([]EnvironmentSummary, error)

	// LoadEnvironment returns the policy document for the named
	// environment, or errdefs.ErrResourceNotFound.
	LoadEnvironment(ctx context.Context, name string) (*PolicyDocument, error)
}
