package discovery

import (
	"fmt"
	"net"
	"os"

	"github.com/hashicorp/mdns"
)

const ServiceType = "_inkwell._tcp"

// Advertise publishes the server on the local network. The caller shuts the
// returned server down on exit. An empty instance uses the hostname.
func Advertise(instance string, port int) (*mdns.Server, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %w", err)
		}
		instance = host
	}

	service, err := NewService(instance, port, nil)
	if err != nil {
		return nil, err
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return server, nil
}

// NewService builds the mDNS records for an instance without serving them.
// With no ips the host's addresses are looked up.
func NewService(instance string, port int, ips []net.IP) (*mdns.MDNSService, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}
	service, err := mdns.NewMDNSService(instance, ServiceType, "", "", port, ips, []string{"Inkwell canvas", "path=/ws"})
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	return service, nil
}
