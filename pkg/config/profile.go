package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/checkengine/pkg/checkrunner"
)

// RunProfile is the YAML description of one run: the runtime values and
// the options the runner is built with.
type RunProfile struct {
	Name           string         `yaml:"name" json:"name"`
	Values         map[string]any `yaml:"values" json:"values"`
	CustomOrder    []string       `yaml:"custom_order,omitempty" json:"custom_order,omitempty"`
	ExplicitChecks []string       `yaml:"explicit_checks,omitempty" json:"explicit_checks,omitempty"`
	ExcludeChecks  []string       `yaml:"exclude_checks,omitempty" json:"exclude_checks,omitempty"`
	AllowShadowing bool           `yaml:"allow_shadowing,omitempty" json:"allow_shadowing,omitempty"`
}

// LoadRunProfile reads a run profile from path.
func LoadRunProfile(path string) (*RunProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load run profile %q: %w", path, err)
	}
	profile, err := ParseRunProfile(data)
	if err != nil {
		return nil, fmt.Errorf("parse run profile %q: %w", path, err)
	}
	return profile, nil
}

// ParseRunProfile decodes a run profile document. Unknown fields are
// rejected.
func ParseRunProfile(data []byte) (*RunProfile, error) {
	var profile RunProfile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&profile); err != nil {
		return nil, err
	}
	if profile.Values == nil {
		profile.Values = make(map[string]any)
	}
	return &profile, nil
}

// RunnerOptions translates the profile into runner options.
func (p *RunProfile) RunnerOptions() []checkrunner.Option {
	opts := []checkrunner.Option{checkrunner.WithAllowShadowing(p.AllowShadowing)}
	if len(p.CustomOrder) > 0 {
		opts = append(opts, checkrunner.WithCustomOrder(p.CustomOrder...))
	}
	if len(p.ExplicitChecks) > 0 {
		opts = append(opts, checkrunner.WithExplicitChecks(p.ExplicitChecks...))
	}
	if len(p.ExcludeChecks) > 0 {
		opts = append(opts, checkrunner.WithExcludeChecks(p.ExcludeChecks...))
	}
	return opts
}
