package utils

import (
	"fmt"
	"net"
)

// GetOutboundIp finds the address this host uses for outbound traffic by
// opening a UDP socket towards a public resolver. No packet is sent.
func GetOutboundIp() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, fmt.Errorf("could not determine the outbound address: %v", err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	return addr.IP, nil
}
