package config

import (
	"fmt"
	"net"
	"strings"
)

// stringToIPnet parses an address or a CIDR. A bare address is a single
// host network.
func stringToIPnet(s string) (*net.IPNet, error) {
	s = strings.TrimSpace(s)
	if s == "0.0.0.0/0" || s == "::/0" {
		return nil, fmt.Errorf("suspicious mask specified %q. "+
			"If you want to allow all then just omit `allowed_networks` field", s)
	}
	cidr := s
	if !strings.Contains(cidr, "/") {
		ip := net.ParseIP(cidr)
		if ip == nil {
			return nil, fmt.Errorf("wrong network address %q", s)
		}
		if ip.To4() != nil {
			cidr += "/32"
		} else {
			cidr += "/128"
		}
	}
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("wrong network group name or address %q: %w", s, err)
	}
	return ipnet, nil
}
