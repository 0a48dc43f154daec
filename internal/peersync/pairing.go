package peersync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// PairingInfo is what a responder advertises out of band, usually as a QR
// code. It is either JSON {"ip": ..., "port": ...} or a plain "ip:port".
type PairingInfo struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// ParsePairing accepts both pairing forms. In the JSON form port may be a
// number or a numeric string; IPv6 hosts in the plain form need brackets.
func ParsePairing(s string) (PairingInfo, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PairingInfo{}, fmt.Errorf("%w: empty", ErrInvalidPairing)
	}

	if strings.HasPrefix(s, "{") {
		return parsePairingJSON(s)
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return PairingInfo{}, fmt.Errorf("%w: %v", ErrInvalidPairing, err)
	}
	port, err := parsePort(portStr)
	if err != nil {
		return PairingInfo{}, err
	}
	info := PairingInfo{IP: host, Port: port}
	return info, info.validate()
}

func parsePairingJSON(s string) (PairingInfo, error) {
	var raw struct {
		IP   string          `json:"ip"`
		Port json.RawMessage `json:"port"`
	}
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return PairingInfo{}, fmt.Errorf("%w: %v", ErrInvalidPairing, err)
	}

	portField := bytes.TrimSpace(raw.Port)
	if len(portField) == 0 {
		return PairingInfo{}, fmt.Errorf("%w: missing port", ErrInvalidPairing)
	}

	var portStr string
	if portField[0] == '"' {
		if err := json.Unmarshal(portField, &portStr); err != nil {
			return PairingInfo{}, fmt.Errorf("%w: %v", ErrInvalidPairing, err)
		}
	} else {
		portStr = string(portField)
	}

	port, err := parsePort(portStr)
	if err != nil {
		return PairingInfo{}, err
	}
	info := PairingInfo{IP: strings.Trim(raw.IP, "[]"), Port: port}
	return info, info.validate()
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: bad port %q", ErrInvalidPairing, s)
	}
	return port, nil
}

func (p PairingInfo) validate() error {
	if p.IP == "" {
		return fmt.Errorf("%w: missing ip", ErrInvalidPairing)
	}
	return nil
}

// Address returns host:port suitable for net.Dial
func (p PairingInfo) Address() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}

// String returns the JSON pairing form
func (p PairingInfo) String() string {
	data, _ := json.Marshal(p)
	return string(data)
}

// PairingFromAddr builds pairing info for a listening address. An
// unspecified host is replaced with advertise.
func PairingFromAddr(addr net.Addr, advertise string) (PairingInfo, error) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return PairingInfo{}, err
	}
	if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
		host = advertise
	}
	port, err := parsePort(portStr)
	if err != nil {
		return PairingInfo{}, err
	}
	info := PairingInfo{IP: host, Port: port}
	return info, info.validate()
}

// LocalIP returns the first non-loopback IPv4 address of this host, or an
// empty string when there is none
func LocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}
