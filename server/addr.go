package server

import (
	"fmt"
	"net"
	"strconv"
)

// splitHostPort resolves addr ("host:port") into a 4-byte IPv4 address
// and a port number suitable for unix.SockaddrInet4. An empty host
// binds to all interfaces (0.0.0.0), matching net.Listen's convention.
func splitHostPort(addr string) (ip [4]byte, port int, err error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return ip, 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}

	port, err = strconv.Atoi(portStr)
	if err != nil {
		return ip, 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	if host == "" {
		return ip, port, nil
	}

	parsed := net.ParseIP(host)
	if parsed == nil {
		resolved, err := net.ResolveIPAddr("ip4", host)
		if err != nil {
			return ip, 0, fmt.Errorf("resolve host %q: %w", host, err)
		}
		parsed = resolved.IP
	}

	v4 := parsed.To4()
	if v4 == nil {
		return ip, 0, fmt.Errorf("address %q is not IPv4", host)
	}
	copy(ip[:], v4)
	return ip, port, nil
}
