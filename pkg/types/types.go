package types

import (
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"
)

// Container is an immutable snapshot of a container as reported by the
// lifecycle source
type Container struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Running bool   `json:"running"`
	Addr    string `json:"addr,omitempty"` // Empty when the runtime reported no address
}

// ShortID returns the first 10 characters of the container ID
func (c Container) ShortID() string {
	if len(c.ID) > 10 {
		return c.ID[:10]
	}
	return c.ID
}

// String describes the container for log messages
func (c Container) String() string {
	return fmt.Sprintf("%s (%s)", c.Name, c.ShortID())
}

// KeyKind identifies which owner a mapping key refers to
type KeyKind string

const (
	KeyKindName   KeyKind = "name"
	KeyKindID     KeyKind = "id"
	KeyKindDomain KeyKind = "domain"
)

// keySep separates the kind from the argument, e.g. "name:/web"
const keySep = ":/"

// NameKey returns the mapping key for a container name
func NameKey(name string) string {
	return string(KeyKindName) + keySep + name
}

// IDKey returns the mapping key for a container ID
func IDKey(id string) string {
	return string(KeyKindID) + keySep + id
}

// DomainKey returns the tag used for a static domain
func DomainKey(domain string) string {
	return string(KeyKindDomain) + keySep + domain
}

// ParseKey splits a mapping key into its kind and argument
func ParseKey(key string) (KeyKind, string, error) {
	kind, arg, ok := strings.Cut(key, keySep)
	if !ok || arg == "" {
		return "", "", fmt.Errorf("invalid key %q: expected <kind>:/<arg>", key)
	}

	switch KeyKind(kind) {
	case KeyKindName, KeyKindID, KeyKindDomain:
		return KeyKind(kind), arg, nil
	default:
		return "", "", fmt.Errorf("invalid key %q: unsupported kind %q", key, kind)
	}
}

// NormalizeDomain validates a domain name and returns it lowercased without
// the trailing root dot. A leading "*" label is allowed.
func NormalizeDomain(domain string) (string, error) {
	name := strings.TrimSuffix(strings.TrimSpace(domain), ".")
	if name == "" {
		return "", fmt.Errorf("domain name is empty")
	}
	if _, ok := dns.IsDomainName(name); !ok {
		return "", fmt.Errorf("domain name parsing failed for %q", domain)
	}
	return strings.ToLower(name), nil
}

// ValidateIPv4 returns an error unless ip is a dotted IPv4 address
func ValidateIPv4(ip string) error {
	if parsed := net.ParseIP(ip); parsed == nil || parsed.To4() == nil {
		return fmt.Errorf("address parsing failed for %q", ip)
	}
	return nil
}
