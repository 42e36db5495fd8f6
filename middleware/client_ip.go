package middleware

import (
	"net"
	"net/http"
	"strings"

	goReset "github.com/MrEthical07/goReset"
)

// ClientIP copies the request's remote address into the context with
// [goReset.WithClientIP].
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RemoteIP(r)
		if ip == "" {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(goReset.WithClientIP(r.Context(), ip)))
	})
}

// RemoteIP returns the host part of r.RemoteAddr, or "" when it is not an IP.
func RemoteIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if net.ParseIP(addr) == nil {
		return ""
	}
	return addr
}
