// Package metadata resolves client identity for admission checks.
package metadata

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"glaze/pkg/requestcontext"
)

// DefaultTrustedProxies are the loopback and private ranges a reverse proxy
// in front of the service normally connects from.
var DefaultTrustedProxies = []string{
	"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "::1/128", "fc00::/7",
}

var defaultResolver = MustResolver(DefaultTrustedProxies)

// Resolver finds the client address behind a chain of trusted proxies.
// Forwarding headers are only honoured when the socket peer is trusted, and
// X-Forwarded-For is walked from the right so a client cannot pick its own
// identity by prepending hops.
type Resolver struct {
	trusted []netip.Prefix
}

// NewResolver parses CIDRs (or bare addresses) of trusted proxies.
func NewResolver(cidrs []string) (*Resolver, error) {
	r := &Resolver{trusted: make([]netip.Prefix, 0, len(cidrs))}
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !strings.Contains(c, "/") {
			addr, err := netip.ParseAddr(c)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", c, err)
			}
			r.trusted = append(r.trusted, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", c, err)
		}
		r.trusted = append(r.trusted, p.Masked())
	}
	return r, nil
}

// MustResolver is NewResolver for static lists.
func MustResolver(cidrs []string) *Resolver {
	r, err := NewResolver(cidrs)
	if err != nil {
		panic(err)
	}
	return r
}

// Middleware stores the client IP and User-Agent in the request context.
// Apply it before any handler that rate limits or logs per client.
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientIP(r.Context(), res.ClientIP(r))
		ctx = requestcontext.WithUserAgent(ctx, r.Header.Get("User-Agent"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the originating client address. An untrusted peer is the
// client. Behind a trusted peer the rightmost untrusted X-Forwarded-For hop
// wins, then X-Real-IP. Values that are not IP addresses are ignored.
func (res *Resolver) ClientIP(r *http.Request) string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	peer, peerOK := parseAddr(host)
	if !peerOK {
		return "unknown"
	}
	if !res.isTrusted(peer) {
		return peer.String()
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		var leftmost netip.Addr
		for i := len(hops) - 1; i >= 0; i-- {
			addr, ok := parseAddr(hops[i])
			if !ok {
				// A malformed hop was written by the client; stop trusting the chain here.
				break
			}
			leftmost = addr
			if !res.isTrusted(addr) {
				return addr.String()
			}
		}
		if leftmost.IsValid() {
			return leftmost.String()
		}
	}
	if addr, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
		return addr.String()
	}
	return peer.String()
}

func (res *Resolver) isTrusted(addr netip.Addr) bool {
	for _, p := range res.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientMetadata is Resolver.Middleware with DefaultTrustedProxies.
func ClientMetadata(next http.Handler) http.Handler {
	return defaultResolver.Middleware(next)
}

// ClientIPFromRequest is Resolver.ClientIP with DefaultTrustedProxies.
func ClientIPFromRequest(r *http.Request) string {
	return defaultResolver.ClientIP(r)
}

func parseAddr(v string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(v))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
