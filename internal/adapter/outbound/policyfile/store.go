// Package policyfile loads environment policy documents from a directory,
// one <environment>.yaml (or .yml) file per environment.
package policyfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/groupgate/groupgate/internal/errdefs"
	"github.com/groupgate/groupgate/internal/port/outbound"
)

// Store implements outbound.PolicyStore over a local directory. The
// environment name is the file name without its extension; the file contents
// are handed to the caller unparsed.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir. The directory must exist.
func NewStore(dir string) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("policy directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("policy directory %s: %w: not a directory", dir, errdefs.ErrInvalidArgument)
	}
	return &Store{dir: dir}, nil
}

// header is the subset of a policy document read for listings.
type header struct {
	Environment struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"environment"`
}

// ListEnvironments returns the headers of all policy files in the directory,
// sorted by name. Files that fail to read or parse are skipped; full
// validation happens when the environment is loaded.
func (s *Store) ListEnvironments(ctx context.Context) ([]outbound.EnvironmentSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading policy directory %s: %v", errdefs.ErrIO, s.dir, err)
	}

	var summaries []outbound.EnvironmentSummary
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, ok := environmentName(entry.Name())
		if !ok {
			continue
		}

		summary := outbound.EnvironmentSummary{Name: name}
		if data, err := os.ReadFile(filepath.Join(s.dir, entry.Name())); err == nil {
			var h header
			if yaml.Unmarshal(data, &h) == nil {
				summary.Description = h.Environment.Description
			}
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Name < summaries[j].Name
	})
	return summaries, nil
}

// LoadEnvironment returns the raw policy document for the named environment.
func (s *Store) LoadEnvironment(ctx context.Context, name string) (*outbound.PolicyDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.ContainsAny(name, `/\`) || name == "" || name == "." || name == ".." {
		return nil, fmt.Errorf("%w: environment %q", errdefs.ErrResourceNotFound, name)
	}

	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(s.dir, name+ext)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", errdefs.ErrIO, path, err)
		}
		return &outbound.PolicyDocument{
			Name:         name,
			Data:         data,
			Source:       path,
			LastModified: info.ModTime(),
		}, nil
	}
	return nil, fmt.Errorf("%w: environment %q", errdefs.ErrResourceNotFound, name)
}

// environmentName maps a policy file name to its environment name. Only
// .yaml/.yml files count; hidden files are ignored.
func environmentName(filename string) (string, bool) {
	if strings.HasPrefix(filename, ".") {
		return "", false
	}
	ext := filepath.Ext(filename)
	if ext != ".yaml" && ext != ".yml" {
		return "", false
	}
	return strings.TrimSuffix(filename, ext), true
}
