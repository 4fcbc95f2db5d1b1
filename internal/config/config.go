// Package config builds the immutable DeviceConfig shared by every session
// and component, per spec.md §3.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// DeviceConfig is constructed once before the gateway starts and never
// mutated afterward; it is safe to share by reference across every session
// and component goroutine.
type DeviceConfig struct {
	Name          string `yaml:"name" default:"espgw"`
	MAC           string `yaml:"mac"`
	Version       string `yaml:"version" default:"dev"`
	Model         string `yaml:"model" default:"Generic Linux Gateway"`
	Manufacturer  string `yaml:"manufacturer" default:"espgw"`
	FriendlyName  string `yaml:"friendly_name"`
	SuggestedArea string `yaml:"suggested_area"`
}

var macPattern = regexp.MustCompile(`^([0-9A-F]{2}:){5}[0-9A-F]{2}$`)

// Load applies struct-tag defaults, then overlays an optional YAML file
// (path taken from the ESPGW_CONFIG environment variable, falling back to
// /etc/espgw/config.yaml), then overlays the caller-supplied name/mac
// (normally discovered by the entry point from the hostname and the
// interface MAC — out of scope for this package per spec.md §1).
func Load(name, mac string) (*DeviceConfig, error) {
	cfg := &DeviceConfig{}
	defaults.SetDefaults(cfg)

	path := os.Getenv("ESPGW_CONFIG")
	if path == "" {
		path = "/etc/espgw/config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if name != "" {
		cfg.Name = name
	}
	if mac != "" {
		cfg.MAC = mac
	}
	if cfg.FriendlyName == "" {
		cfg.FriendlyName = cfg.Name
	}

	cfg.MAC = NormalizeMAC(cfg.MAC)
	if cfg.MAC != "" && !macPattern.MatchString(cfg.MAC) {
		return nil, fmt.Errorf("config: mac %q is not uppercase colon-separated hex", cfg.MAC)
	}

	return cfg, nil
}

// NormalizeMAC renders any reasonable MAC spelling (lowercase, dash
// separated, no separators) as uppercase colon-separated hex, matching the
// original's formatting helper (SPEC_FULL.md §3).
func NormalizeMAC(mac string) string {
	mac = strings.ToUpper(mac)
	mac = strings.NewReplacer("-", "", ":", "", " ", "").Replace(mac)
	if len(mac) != 12 {
		return strings.ToUpper(mac)
	}
	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(mac[i : i+2])
	}
	return b.String()
}
