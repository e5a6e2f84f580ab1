package model

import (
	"net"
	"strconv"
)

// JoinHostPort formats a dial target, bracketing IPv6 literals.
func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
