package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// TrustedProxies are the networks whose X-Forwarded-For and X-Real-IP
// headers are believed. An empty set trusts no one.
type TrustedProxies []*net.IPNet

// ParseTrustedProxies parses CIDRs; a bare address is taken as a single host.
func ParseTrustedProxies(cidrs []string) (TrustedProxies, error) {
	var tp TrustedProxies
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		if !strings.Contains(cidr, "/") {
			if ip := net.ParseIP(cidr); ip != nil && ip.To4() != nil {
				cidr += "/32"
			} else {
				cidr += "/128"
			}
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", cidr, err)
		}
		tp = append(tp, ipNet)
	}
	return tp, nil
}

func (tp TrustedProxies) trusts(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range tp {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientAddr walks X-Forwarded-For from the nearest hop and returns the first
// address not owned by a trusted proxy. Headers are ignored unless the peer
// itself is trusted.
func (tp TrustedProxies) clientAddr(r *http.Request) string {
	peer := remoteHost(r)
	if !tp.trusts(net.ParseIP(peer)) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			ip := net.ParseIP(strings.TrimSpace(hops[i]))
			if ip == nil {
				break
			}
			if !tp.trusts(ip) {
				return ip.String()
			}
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return peer
}

// RealIP sets RemoteAddr to the client address resolved through trusted
// proxies, so everything downstream reads the same value from ClientIP.
func RealIP(tp TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if client := tp.clientAddr(r); client != remoteHost(r) {
				r.RemoteAddr = net.JoinHostPort(client, "0")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the request's client address without its port. Forwarding
// headers only count once RealIP has vetted them.
func ClientIP(r *http.Request) string {
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
