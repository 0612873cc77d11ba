// Package hostnet probes host network resources.
package hostnet

import (
	"net"
	"strconv"
)

// UDPPortFree reports whether port can currently be bound for UDP on all
// host interfaces. The socket is released before returning, so the answer
// is advisory.
func UDPPortFree(port int) bool {
	conn, err := net.ListenPacket("udp", ":"+strconv.Itoa(port))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
