package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type ByteSize float64

const (
	_           = iota
	KB ByteSize = 1 << (10 * iota)
	MB
	GB
	TB
)

var (
	bytesPattern   *regexp.Regexp = regexp.MustCompile(`(?i)^(-?\d+(?:\.\d+)?)([KMGT]B?|B)$`)
	errInvalidSize                = errors.New("wrong size format: must be a positive number with a unit of measurement like B, K, KB, M, MB, G, GB, T or TB")
)

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (ds *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	parts := bytesPattern.FindStringSubmatch(strings.TrimSpace(s))
	if len(parts) < 3 {
		return errInvalidSize
	}

	value, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || value <= 0 {
		return errInvalidSize
	}

	unit := strings.ToUpper(parts[2])
	switch unit[:1] {
	case "T", "TB":
		*ds = ByteSize(value) * TB
	case "G", "GB":
		*ds = ByteSize(value) * GB
	case "M", "MB":
		*ds = ByteSize(value) * MB
	case "K", "KB":
		*ds = ByteSize(value) * KB
	case "B":
		*ds = ByteSize(value)
	}

	return nil
}

// MarshalYAML implements the yaml.Marshaler interface.
func (ds ByteSize) MarshalYAML() (interface{}, error) {
	return fmt.Sprintf("%dB", uint64(ds)), nil
}

// Duration wraps time.Duration to be parsed from strings like `30s` or `1h`.
type Duration time.Duration

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("cannot parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements the yaml.Marshaler interface.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// String implements the fmt.Stringer interface.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// Networks is a list of IPNet entities
type Networks []*net.IPNet

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (n *Networks) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s []string
	if err := unmarshal(&s); err != nil {
		return err
	}
	networks := make(Networks, len(s))
	for i, s := range s {
		ipnet, err := stringToIPnet(s)
		if err != nil {
			return err
		}
		networks[i] = ipnet
	}
	*n = networks
	return nil
}

// MarshalYAML implements the yaml.Marshaler interface.
func (n Networks) MarshalYAML() (interface{}, error) {
	s := make([]string, len(n))
	for i, ipnet := range n {
		s[i] = ipnet.String()
	}
	return s, nil
}

// Contains checks whether passed addr is in the range of networks
func (n Networks) Contains(addr string) bool {
	if len(n) == 0 {
		return true
	}

	// addr is either host:port from the connection or a bare IP
	// reported by a reverse proxy
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		h = strings.Trim(addr, "[]")
	}

	ip := net.ParseIP(strings.TrimSpace(h))
	if ip == nil {
		return false
	}

	for _, ipnet := range n {
		if ipnet.Contains(ip) {
			return true
		}
	}

	return false
}
