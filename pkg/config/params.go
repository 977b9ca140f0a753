package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

type Params map[string]string

func (p Params) GetHostPort(name string) (net.IP, uint16, error) {
	hp, ok := p[name]
	if !ok {
		return nil, 0, fmt.Errorf("missing parameter: %s", name)
	}
	return parseHostPort(name, hp)
}

func parseHostPort(name string, hp string) (net.IP, uint16, error) {
	host, portStr, err := net.SplitHostPort(hp)
	if err != nil {
		return nil, 0, fmt.Errorf("error parsing %s: %w", name, err)
	}
	var port uint64
	port, err = strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, 0, fmt.Errorf("error parsing %s: %w", name, err)
	}
	if host == "" {
		return nil, uint16(port), nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		var ips []net.IP
		ips, err = net.LookupIP(host)
		if err != nil {
			return nil, 0, fmt.Errorf("hostname lookup error in %s: %w", name, err)
		}
		if len(ips) == 0 {
			return nil, 0, fmt.Errorf("hostname did not resolve to any IP addresses in %s", name)
		}
		ip = ips[0]
	}
	return ip, uint16(port), nil
}

// GetHostPortList parses a comma separated list of host:port pairs
func (p Params) GetHostPortList(name string) ([]*net.UDPAddr, error) {
	valStr, ok := p[name]
	if !ok || strings.TrimSpace(valStr) == "" {
		return nil, nil
	}
	var addrs []*net.UDPAddr
	for _, hp := range strings.Split(valStr, ",") {
		ip, port, err := parseHostPort(name, strings.TrimSpace(hp))
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, &net.UDPAddr{IP: ip, Port: int(port)})
	}
	return addrs, nil
}

func (p Params) GetString(name string, defaultValue string) string {
	valStr, ok := p[name]
	if !ok {
		return defaultValue
	}
	return valStr
}
