package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/cuemby/dnsrest/pkg/log"
	"github.com/cuemby/dnsrest/pkg/metrics"
	"github.com/miekg/dns"
)

const (
	// DefaultListenAddr is the address the responder binds when none is configured
	DefaultListenAddr = "0.0.0.0:53"

	// DefaultTTL is the TTL of every answer record
	DefaultTTL = 10

	// maxPacketSize is the largest UDP datagram read
	maxPacketSize = 65535
)

// Resolver returns the addresses registered for a name
type Resolver interface {
	Resolve(name string) []string
}

// UpstreamResolver resolves names the registry does not know
type UpstreamResolver interface {
	Lookup(ctx context.Context, name string) (string, error)
}

// Config holds DNS server configuration
type Config struct {
	ListenAddr string           // Address to listen on (default: 0.0.0.0:53)
	TTL        uint32           // Answer TTL in seconds (default: 10)
	Upstream   UpstreamResolver // Optional fallback resolver
}

// Server answers A queries from the registry over UDP
type Server struct {
	resolver   Resolver
	upstream   UpstreamResolver
	listenAddr string
	ttl        uint32

	mu      sync.RWMutex
	conn    net.PacketConn
	running bool
	wg      sync.WaitGroup
}

// NewServer creates a new DNS server
func NewServer(resolver Resolver, config *Config) *Server {
	if config == nil {
		config = &Config{}
	}

	s := &Server{
		resolver:   resolver,
		upstream:   config.Upstream,
		listenAddr: config.ListenAddr,
		ttl:        config.TTL,
	}
	if s.listenAddr == "" {
		s.listenAddr = DefaultListenAddr
	}
	if s.ttl == 0 {
		s.ttl = DefaultTTL
	}
	return s
}

// Listen binds the UDP socket. Serve calls it when the socket is not bound yet.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}

	conn, err := net.ListenPacket("udp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listenAddr, err)
	}
	s.conn = conn
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Serve reads datagrams until ctx is done, answering each in its own goroutine
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("DNS server already running")
	}
	s.running = true
	conn := s.conn
	s.mu.Unlock()

	log.Logger.Info().
		Str("component", "dns").
		Str("address", conn.LocalAddr().String()).
		Msg("DNS server started")

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	err := s.readLoop(ctx, conn)
	close(stop)
	conn.Close()
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.conn = nil
	s.mu.Unlock()

	log.Logger.Info().
		Str("component", "dns").
		Msg("DNS server stopped")

	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Server) readLoop(ctx context.Context, conn net.PacketConn) error {
	for {
		buf := make([]byte, maxPacketSize)
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return err
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("failed to read datagram: %w", err)
		}

		s.wg.Add(1)
		go func(packet []byte, addr net.Addr) {
			defer s.wg.Done()

			reply, ok := s.HandlePacket(ctx, packet)
			if !ok {
				return
			}
			if _, err := conn.WriteTo(reply, addr); err != nil {
				log.Logger.Debug().
					Err(err).
					Str("component", "dns").
					Str("client", addr.String()).
					Msg("failed to write DNS response")
			}
		}(buf[:n], addr)
	}
}

// HandlePacket answers one query datagram. The second result is false when
// the packet must be dropped without a reply.
func (s *Server) HandlePacket(ctx context.Context, packet []byte) ([]byte, bool) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DNSQueryDuration)

	req := new(dns.Msg)
	if err := req.Unpack(packet); err != nil {
		log.Logger.Debug().
			Err(err).
			Str("component", "dns").
			Msg("dropping malformed packet")
		metrics.DNSQueriesTotal.WithLabelValues("", metrics.OutcomeDropped).Inc()
		return nil, false
	}
	if req.Response {
		log.Logger.Debug().
			Str("component", "dns").
			Uint16("id", req.Id).
			Msg("dropping response packet")
		metrics.DNSQueriesTotal.WithLabelValues("", metrics.OutcomeDropped).Inc()
		return nil, false
	}

	msg := new(dns.Msg)
	msg.SetReply(req)
	msg.Authoritative = true
	msg.RecursionAvailable = true

	// Only the first question is echoed by SetReply, so only it is answered
	if len(req.Question) > 0 {
		s.answer(ctx, msg, req.Question[0])
	}

	reply, err := msg.Pack()
	if err != nil {
		log.Logger.Error().
			Err(err).
			Str("component", "dns").
			Msg("failed to pack DNS response")
		return nil, false
	}
	return reply, true
}

// answer appends the A records for q to msg
func (s *Server) answer(ctx context.Context, msg *dns.Msg, q dns.Question) {
	qtype := dns.TypeToString[q.Qtype]

	if q.Qtype != dns.TypeA && q.Qtype != dns.TypeAAAA {
		log.Logger.Debug().
			Str("component", "dns").
			Str("query", q.Name).
			Str("type", qtype).
			Msg("unsupported query type")
		metrics.DNSQueriesTotal.WithLabelValues(qtype, metrics.OutcomeUnsupported).Inc()
		return
	}

	addrs, outcome := s.lookup(ctx, q.Name)
	metrics.DNSQueriesTotal.WithLabelValues(qtype, outcome).Inc()

	log.Logger.Debug().
		Str("component", "dns").
		Str("query", q.Name).
		Str("type", qtype).
		Str("outcome", outcome).
		Strs("addresses", addrs).
		Msg("DNS query answered")

	for _, addr := range addrs {
		ip := net.ParseIP(addr).To4()
		if ip == nil {
			continue
		}
		msg.Answer = append(msg.Answer, &dns.A{
			Hdr: dns.RR_Header{
				Name:   q.Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    s.ttl,
			},
			A: ip,
		})
	}
}

func (s *Server) lookup(ctx context.Context, qname string) ([]string, string) {
	name := strings.TrimSuffix(qname, ".")

	if addrs := s.resolver.Resolve(name); len(addrs) > 0 {
		return addrs, metrics.OutcomeRegistry
	}
	if s.upstream == nil {
		return nil, metrics.OutcomeMiss
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultUpstreamTimeout)
	defer cancel()

	addr, err := s.upstream.Lookup(ctx, name)
	if err != nil {
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrTimeout) {
			log.Logger.Debug().
				Err(err).
				Str("component", "dns").
				Str("query", name).
				Msg("upstream lookup failed")
		}
		return nil, metrics.OutcomeMiss
	}
	return []string{addr}, metrics.OutcomeUpstream
}

// IsRunning returns true if the DNS server is serving
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

