package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/labstack/echo/v4"
)

// TrustedProxies makes c.RealIP() honor X-Real-IP and X-Forwarded-For, but
// only for connections from the given CIDRs (TRUSTED_PROXIES). Anonymous
// ingest clients are rate limited by IP, so a spoofed header from an
// untrusted peer must not buy a fresh budget.
func TrustedProxies(e *echo.Echo, trustedCIDRs []string) {
	e.IPExtractor = buildIPExtractor(trustedCIDRs)
}

func buildIPExtractor(trustedCIDRs []string) echo.IPExtractor {
	trusted := parsePrefixes(trustedCIDRs)

	return func(req *http.Request) string {
		peer := remoteHost(req.RemoteAddr)
		if !trusted.contains(peer) {
			return peer
		}
		if ip := strings.TrimSpace(req.Header.Get(echo.HeaderXRealIP)); ip != "" {
			return ip
		}
		// Leftmost X-Forwarded-For entry is the original client.
		if xff := req.Header.Get(echo.HeaderXForwardedFor); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
		return peer
	}
}

type prefixSet []netip.Prefix

// parsePrefixes skips entries that are not valid CIDRs with a warning.
func parsePrefixes(cidrs []string) prefixSet {
	var set prefixSet
	for _, cidr := range cidrs {
		p, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			slog.Warn("ignoring invalid trusted proxy CIDR",
				slog.String("cidr", cidr),
				slog.Any("error", err),
			)
			continue
		}
		set = append(set, p.Masked())
	}
	return set
}

func (s prefixSet) contains(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// remoteHost strips the port from a RemoteAddr.
func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
