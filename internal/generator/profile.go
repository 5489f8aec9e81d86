package generator

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultDomain is used when neither config nor a profile names one.
const DefaultDomain = "software system design"

// Profile steers generation towards a domain.
type Profile struct {
	Domain   string   `yaml:"domain"`
	Audience string   `yaml:"audience,omitempty"`
	Focus    []string `yaml:"focus,omitempty"`
	Guidance []string `yaml:"guidance,omitempty"`
}

// LoadProfile reads a YAML profile from path.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("reading profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	if strings.TrimSpace(p.Domain) == "" {
		return Profile{}, fmt.Errorf("profile %s: domain is required", path)
	}
	return p, nil
}

// ResolveProfile loads the profile at path when set, otherwise builds one
// around domain.
func ResolveProfile(path, domain string) (Profile, error) {
	if path != "" {
		return LoadProfile(path)
	}
	if strings.TrimSpace(domain) == "" {
		domain = DefaultDomain
	}
	return Profile{Domain: domain}, nil
}
