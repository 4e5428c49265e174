/*
Package dns provides the UDP responder that answers queries from the registry.

Every datagram is handled in its own goroutine. A and AAAA questions are looked
up in the registry first; a miss falls back to the optional upstream resolver,
which is bounded by a single three second deadline across all configured
servers. Replies are always marked authoritative with recursion available, and
carry A records only.

# Dropped Packets

Datagrams that do not parse as DNS messages, and messages that already have
the response bit set, are dropped without a reply. A lookup miss is not a
drop: the client receives a NOERROR reply with an empty answer section.

# Usage

	upstream := dns.NewUpstream([]string{"8.8.8.8"}, 0, time.Minute)
	server := dns.NewServer(reg, &dns.Config{
		ListenAddr: "0.0.0.0:53",
		Upstream:   upstream,
	})
	if err := server.Serve(ctx); err != nil {
		return err
	}

# Upstream Cache

When NewUpstream is given a positive cache TTL, successful upstream answers are
kept in memory for that long. Negative answers are never cached.
*/
package dns
