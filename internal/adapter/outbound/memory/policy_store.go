package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/groupgate/groupgate/internal/errdefs"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

// PolicyStore is an in-memory outbound.PolicyStore.
type PolicyStore struct {
	mu        sync.Mutex
	documents map[string]outbound.PolicyDocument
	summaries map[string]string
}

var _ outbound.PolicyStore = (*PolicyStore)(nil)

// NewPolicyStore creates an empty store.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{
		documents: make(map[string]outbound.PolicyDocument),
		summaries: make(map[string]string),
	}
}

// Put stores or replaces the document for an environment.
func (s *PolicyStore) Put(name, description string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[name] = outbound.PolicyDocument{
		Name:         name,
		Data:         append([]byte(nil), data...),
		Source:       "memory:" + name,
		LastModified: time.Now(),
	}
	s.summaries[name] = description
}

// ListEnvironments implements outbound.PolicyStore.
func (s *PolicyStore) ListEnvironments(_ context.Context) ([]outbound.EnvironmentSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbound.EnvironmentSummary, 0, len(s.documents))
	for name := range s.documents {
		out = append(out, outbound.EnvironmentSummary{Name: name, Description: s.summaries[name]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// LoadEnvironment implements outbound.PolicyStore.
func (s *PolicyStore) LoadEnvironment(_ context.Context, name string) (*outbound.PolicyDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[name]
	if !ok {
		return nil, fmt.Errorf("%w: environment %s", errdefs.ErrResourceNotFound, name)
	}
	doc.Data = append([]byte(nil), doc.Data...)
	return &doc, nil
}
