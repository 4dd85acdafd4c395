package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// TrustedProxies lists the peers allowed to report the client address
// through CF-Connecting-IP or X-Forwarded-For. A nil or empty set trusts no
// one, and the socket address is the client address.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// ParseTrustedProxies accepts CIDRs ("10.0.0.0/8") or bare addresses.
func ParseTrustedProxies(entries []string) (*TrustedProxies, error) {
	t := &TrustedProxies{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			addr, err := netip.ParseAddr(e)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
			}
			t.prefixes = append(t.prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		t.prefixes = append(t.prefixes, p.Masked())
	}
	return t, nil
}

func (t *TrustedProxies) trusts(ip string) bool {
	if t == nil {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP resolves the client address of r. Forwarding headers count only
// when the socket peer is trusted; X-Forwarded-For is walked from the right
// and the first hop that is not itself a trusted proxy wins.
func (t *TrustedProxies) ClientIP(r *http.Request) string {
	peer := remoteHost(r)
	if !t.trusts(peer) {
		return peer
	}
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); validIP(ip) {
		return ip
	}
	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if !validIP(hop) {
			break
		}
		if !t.trusts(hop) {
			return hop
		}
	}
	return peer
}

type clientIPKey struct{}

// ResolveClientIP stores the client address resolved by proxies in the
// request context, where RealIP finds it.
func ResolveClientIP(proxies *TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), clientIPKey{}, proxies.ClientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RealIP returns the client address set by ResolveClientIP, or the socket
// address when the request did not pass through it. Headers are never
// consulted here.
func RealIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func validIP(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}
