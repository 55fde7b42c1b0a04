package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"

	"gopkg.in/yaml.v3"

	"drawer-hal/internal/drawer"
)

// PreferenceFile is the on-disk shape of the network preference file.
//
// A key missing from the file keeps the built-in value; an explicit empty
// list clears it.
type PreferenceFile struct {
	PreferredSubnets  []string `yaml:"preferred_subnets"`
	DefaultAddresses  []string `yaml:"default_addresses"`
	FallbackAddresses []string `yaml:"fallback_addresses"`
	ProbePorts        []int    `yaml:"probe_ports"`
}

// LoadPreferences reads path. A missing file yields the built-in preferences.
func LoadPreferences(path string) (drawer.NetworkPreferences, error) {
	if path == "" {
		return drawer.DefaultNetworkPreferences(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return drawer.DefaultNetworkPreferences(), nil
		}
		return drawer.NetworkPreferences{}, fmt.Errorf("failed to read preferences: %w", err)
	}
	return ParsePreferences(data)
}

// ParsePreferences decodes YAML over the built-in preferences.
func ParsePreferences(data []byte) (drawer.NetworkPreferences, error) {
	var f PreferenceFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return drawer.NetworkPreferences{}, fmt.Errorf("failed to parse preferences: %w", err)
	}
	return f.Apply(drawer.DefaultNetworkPreferences())
}

// Apply overlays the file onto base.
func (f PreferenceFile) Apply(base drawer.NetworkPreferences) (drawer.NetworkPreferences, error) {
	out := base

	if f.PreferredSubnets != nil {
		out.PreferredSubnets = make([]netip.Prefix, 0, len(f.PreferredSubnets))
		for _, s := range f.PreferredSubnets {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return drawer.NetworkPreferences{}, fmt.Errorf("preferred_subnets: %w", err)
			}
			out.PreferredSubnets = append(out.PreferredSubnets, p.Masked())
		}
	}

	var err error
	if f.DefaultAddresses != nil {
		if out.DefaultAddresses, err = parseAddrs("default_addresses", f.DefaultAddresses); err != nil {
			return drawer.NetworkPreferences{}, err
		}
	}
	if f.FallbackAddresses != nil {
		if out.FallbackAddresses, err = parseAddrs("fallback_addresses", f.FallbackAddresses); err != nil {
			return drawer.NetworkPreferences{}, err
		}
	}

	if f.ProbePorts != nil {
		if len(f.ProbePorts) == 0 {
			return drawer.NetworkPreferences{}, fmt.Errorf("probe_ports: at least one port is required")
		}
		for _, p := range f.ProbePorts {
			if p < 1 || p > 65535 {
				return drawer.NetworkPreferences{}, fmt.Errorf("probe_ports: invalid port %d (must be 1-65535)", p)
			}
		}
		out.ProbePorts = append([]int(nil), f.ProbePorts...)
	}
	return out, nil
}

func parseAddrs(key string, in []string) ([]netip.Addr, error) {
	out := make([]netip.Addr, 0, len(in))
	for _, s := range in {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if !a.Unmap().Is4() {
			return nil, fmt.Errorf("%s: %s is not an IPv4 address", key, s)
		}
		out = append(out, a.Unmap())
	}
	return out, nil
}
