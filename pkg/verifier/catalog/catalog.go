// Package catalog holds the ordered list of components a worker knows how to verify.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/opengovern/componentci/pkg/verifier/api"
)

var ErrComponentNotFound = errors.New("component not found")

type Component struct {
	Name      string `yaml:"name"`
	RemoteURL string `yaml:"remoteUrl"`
	// Branch overrides the job branch for this component when set.
	Branch string `yaml:"branch,omitempty"`
}

type Catalog struct {
	Components []Component `yaml:"components"`
}

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	seen := make(map[string]bool, len(c.Components))
	for i, comp := range c.Components {
		name := strings.TrimSpace(comp.Name)
		if name == "" {
			return fmt.Errorf("component #%d has no name", i)
		}
		if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
			return fmt.Errorf("component name %q is not a valid directory name", name)
		}
		if comp.RemoteURL == "" {
			return fmt.Errorf("component %s has no remoteUrl", name)
		}
		if seen[name] {
			return fmt.Errorf("component %s is listed twice", name)
		}
		seen[name] = true
	}
	return nil
}

func (c *Catalog) Get(name string) (Component, error) {
	for _, comp := range c.Components {
		if comp.Name == name {
			return comp, nil
		}
	}
	return Component{}, fmt.Errorf("%w: %s", ErrComponentNotFound, name)
}

// Targets returns every component as a target on branch, in catalog order.
func (c *Catalog) Targets(branch, commit string) []api.Target {
	targets := make([]api.Target, 0, len(c.Components))
	for _, comp := range c.Components {
		targets = append(targets, comp.Target(branch, commit))
	}
	return targets
}

func (comp Component) Target(branch, commit string) api.Target {
	if comp.Branch != "" {
		branch = comp.Branch
	}
	return api.Target{
		Name:      comp.Name,
		RemoteURL: comp.RemoteURL,
		Branch:    branch,
		Commit:    commit,
	}
}
