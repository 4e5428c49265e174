package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cuemby/dnsrest/pkg/metrics"
	"github.com/miekg/dns"
	gocache "github.com/patrickmn/go-cache"
)

// DefaultUpstreamTimeout bounds one upstream lookup across all servers
const DefaultUpstreamTimeout = 3 * time.Second

var (
	// ErrNotFound means the upstream answered but had no A record
	ErrNotFound = errors.New("upstream: name not found")

	// ErrTimeout means no upstream answered within the timeout
	ErrTimeout = errors.New("upstream: timeout")
)

// Upstream is a recursive resolver queried for names the registry does not know
type Upstream struct {
	servers []string
	client  *dns.Client
	timeout time.Duration
	cache   *gocache.Cache // nil when caching is disabled
}

// NewUpstream creates an upstream resolver. Servers without a port use 53.
// A positive cacheTTL keeps successful answers for that long.
func NewUpstream(servers []string, timeout, cacheTTL time.Duration) *Upstream {
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}

	normalized := make([]string, 0, len(servers))
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		normalized = append(normalized, s)
	}

	u := &Upstream{
		servers: normalized,
		client:  &dns.Client{Net: "udp", Timeout: timeout},
		timeout: timeout,
	}
	if cacheTTL > 0 {
		u.cache = gocache.New(cacheTTL, 2*cacheTTL)
	}
	return u
}

// Servers returns the upstream addresses in query order
func (u *Upstream) Servers() []string {
	return append([]string(nil), u.servers...)
}

// Lookup resolves name to a single IPv4 address. Each server is tried once,
// in order, within one deadline. The error is ErrNotFound or ErrTimeout for
// the expected failure modes.
func (u *Upstream) Lookup(ctx context.Context, name string) (string, error) {
	fqdn := dns.Fqdn(strings.ToLower(name))

	if u.cache != nil {
		if addr, ok := u.cache.Get(fqdn); ok {
			metrics.UpstreamLookupsTotal.WithLabelValues("cached").Inc()
			return addr.(string), nil
		}
	}

	addr, err := u.exchange(ctx, fqdn)
	switch {
	case err == nil:
		metrics.UpstreamLookupsTotal.WithLabelValues("success").Inc()
		if u.cache != nil {
			u.cache.SetDefault(fqdn, addr)
		}
	case errors.Is(err, ErrNotFound):
		metrics.UpstreamLookupsTotal.WithLabelValues("not_found").Inc()
	case errors.Is(err, ErrTimeout):
		metrics.UpstreamLookupsTotal.WithLabelValues("timeout").Inc()
	default:
		metrics.UpstreamLookupsTotal.WithLabelValues("error").Inc()
	}
	return addr, err
}

func (u *Upstream) exchange(ctx context.Context, fqdn string) (string, error) {
	if len(u.servers) == 0 {
		return "", errors.New("upstream: no servers configured")
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	req := new(dns.Msg)
	req.SetQuestion(fqdn, dns.TypeA)
	req.RecursionDesired = true

	var lastErr error
	for _, server := range u.servers {
		resp, _, err := u.client.ExchangeContext(ctx, req, server)
		if err != nil {
			if isTimeout(err) || ctx.Err() != nil {
				lastErr = ErrTimeout
			} else {
				lastErr = fmt.Errorf("upstream %s: %w", server, err)
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}

		switch resp.Rcode {
		case dns.RcodeSuccess:
			for _, rr := range resp.Answer {
				if a, ok := rr.(*dns.A); ok {
					return a.A.String(), nil
				}
			}
			return "", ErrNotFound
		case dns.RcodeNameError:
			return "", ErrNotFound
		default:
			lastErr = fmt.Errorf("upstream %s answered %s", server, dns.RcodeToString[resp.Rcode])
		}
	}
	return "", lastErr
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
