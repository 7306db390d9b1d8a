package pkg

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// LocalClient is what ClientIP returns for requests coming from the host itself
// or from the docker bridge gateway.
const LocalClient = "localhost"

// ClientIP returns the caller's IP, trusting X-Real-Ip and then the first
// X-Forwarded-For entry over the connection's remote address.
func ClientIP(r *http.Request) (string, error) {
	addr := r.Header.Get("X-Real-Ip")
	if addr == "" {
		addr = strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-For"), ",")[0])
	}
	if addr == "" {
		addr = r.RemoteAddr
	}

	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("client addr %q is not an ip", addr)
	}
	if IsLocalIP(ip) {
		return LocalClient, nil
	}
	return ip.String(), nil
}

// IsLocalIP reports loopback addresses and docker bridge gateways (172.x.0.1).
func IsLocalIP(ip net.IP) bool {
	if ip.IsLoopback() {
		return true
	}
	ip4 := ip.To4()
	return ip4 != nil && ip4[0] == 172 && ip4[2] == 0 && ip4[3] == 1
}
