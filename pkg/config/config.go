package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/cuemby/dnsrest/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config is the dnsrest server configuration. Zero values fall back to the
// defaults from Default.
type Config struct {
	DNSAddr          string        `yaml:"dns_addr"`
	HTTPAddr         string        `yaml:"http_addr"`
	Upstream         []string      `yaml:"upstream"`
	TTL              uint32        `yaml:"ttl"`
	UpstreamCacheTTL time.Duration `yaml:"upstream_cache_ttl"`
	NoMonitor        bool          `yaml:"no_monitor"`

	Containerd ContainerdConfig `yaml:"containerd"`
	Log        LogConfig        `yaml:"log"`

	// Mappings are applied at start: key ("name:/web", "id:/abc") -> domains
	Mappings map[string][]string `yaml:"mappings"`

	// Static domains are applied at start: domain -> IPv4 addresses
	Static map[string][]string `yaml:"static"`
}

// ContainerdConfig selects the containerd instance and label keys
type ContainerdConfig struct {
	Socket       string `yaml:"socket"`
	Namespace    string `yaml:"namespace"`
	NameLabel    string `yaml:"name_label"`
	AddressLabel string `yaml:"address_label"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		DNSAddr:  "0.0.0.0:53",
		HTTPAddr: "0.0.0.0:8053",
		TTL:      10,
		Containerd: ContainerdConfig{
			Socket:       "/run/containerd/containerd.sock",
			Namespace:    "default",
			NameLabel:    "nerdctl/name",
			AddressLabel: "dnsrest.address",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over the defaults
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are an error.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks addresses, mapping keys and domain names
func (c *Config) Validate() error {
	if c.DNSAddr == "" {
		return fmt.Errorf("dns_addr is required")
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	if c.UpstreamCacheTTL < 0 {
		return fmt.Errorf("upstream_cache_ttl must not be negative")
	}

	for key, domains := range c.Mappings {
		kind, _, err := types.ParseKey(key)
		if err != nil {
			return fmt.Errorf("mappings: %w", err)
		}
		if kind == types.KeyKindDomain {
			return fmt.Errorf("mappings: key %q must be a name or id key", key)
		}
		for _, d := range domains {
			if _, err := types.NormalizeDomain(d); err != nil {
				return fmt.Errorf("mappings[%s]: %w", key, err)
			}
		}
	}

	for domain, ips := range c.Static {
		if _, err := types.NormalizeDomain(domain); err != nil {
			return fmt.Errorf("static: %w", err)
		}
		for _, ip := range ips {
			if err := types.ValidateIPv4(ip); err != nil {
				return fmt.Errorf("static[%s]: %w", domain, err)
			}
		}
	}
	return nil
}

// Bootstrapper receives the configured mappings and static domains
type Bootstrapper interface {
	Add(key string, names []string)
	ActivateStatic(domain, addr string)
}

// Apply loads mappings and static domains into reg in a stable order.
// The config must have passed Validate.
func (c *Config) Apply(reg Bootstrapper) {
	for _, key := range sortedKeys(c.Mappings) {
		names := make([]string, 0, len(c.Mappings[key]))
		for _, d := range c.Mappings[key] {
			name, _ := types.NormalizeDomain(d)
			names = append(names, name)
		}
		reg.Add(key, names)
	}

	for _, domain := range sortedKeys(c.Static) {
		name, _ := types.NormalizeDomain(domain)
		for _, ip := range c.Static[domain] {
			reg.ActivateStatic(name, ip)
		}
	}
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
