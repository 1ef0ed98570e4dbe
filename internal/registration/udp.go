package registration

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/hivegrid/hivegrid/internal/config"
	"github.com/hivegrid/hivegrid/utils"
)

// StatusProvider builds the probe reply for this node. Implemented by
// the node agent, which knows the local resource state.
type StatusProvider func() (*StatusInformation, error)

// UDPStatusServer answers status probes from coordinators. Run it in a
// goroutine next to the agent HTTP server.
func UDPStatusServer(provider StatusProvider) {
	hostname := config.GetString(config.API_IP, outboundIp())
	port := config.GetInt(config.LISTEN_UDP_PORT, 9876)
	address := fmt.Sprintf("%s:%d", hostname, port)

	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		log.Fatal(err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("UDP status server listening on port %d", port)
	defer udpConn.Close()

	for {
		handleUDPConnection(udpConn, provider)
	}
}

func handleUDPConnection(conn *net.UDPConn, provider StatusProvider) {
	buffer := make([]byte, 1024)

	_, addr, err := conn.ReadFromUDP(buffer)
	if err != nil {
		return
	}

	reply := []byte("")
	if info, err := provider(); err == nil {
		if payload, err := json.Marshal(info); err == nil {
			reply = payload
		}
	} else {
		log.Println(err)
	}

	if _, err = conn.WriteToUDP(reply, addr); err != nil {
		log.Println(err)
	}
}

// statusInfoRequest probes one node for its status and measures the
// round trip time for the coordinate model. Returns nil when the node is
// unreachable.
func statusInfoRequest(address string) (*StatusInformation, time.Duration) {
	remoteAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		log.Printf("Unreachable server %s", address)
		return nil, 0
	}

	udpConn, err := net.DialUDP("udp", nil, remoteAddr)
	if err != nil {
		log.Println(err)
		return nil, 0
	}
	defer udpConn.Close()

	sendingTime := time.Now()
	if _, err = udpConn.Write([]byte("A")); err != nil {
		log.Println(err)
		return nil, 0
	}

	buffer := make([]byte, 4096)
	udpConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := udpConn.ReadFromUDP(buffer)
	if err != nil {
		log.Println(err)
		return nil, 0
	}
	rtt := time.Since(sendingTime)

	var info StatusInformation
	if err := json.Unmarshal(buffer[:n], &info); err != nil {
		log.Println(err)
		return nil, 0
	}
	return &info, rtt
}

func outboundIp() string {
	ip, err := utils.GetOutboundIp()
	if err != nil {
		return "0.0.0.0"
	}
	return ip.String()
}
