//go:build linux

package sampler

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// tcpEstablished is the st column value for an established socket in
// /proc/net/tcp.
const tcpEstablished = "01"

func osEnumerate() ([]Conn, error) {
	var out []Conn
	for _, src := range []struct {
		path  string
		proto string
	}{
		{"/proc/net/tcp", "tcp"},
		{"/proc/net/tcp6", "tcp6"},
	} {
		conns, err := parseProcNet(src.path, src.proto)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		out = append(out, conns...)
	}
	return out, nil
}

func parseProcNet(path, proto string) ([]Conn, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Conn
	sc := bufio.NewScanner(f)
	sc.Scan() // header
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || fields[3] != tcpEstablished {
			continue
		}
		localAddr, localPort, err := parseHexAddr(fields[1])
		if err != nil {
			continue
		}
		remoteAddr, remotePort, err := parseHexAddr(fields[2])
		if err != nil {
			continue
		}
		out = append(out, Conn{
			Proto:      proto,
			LocalAddr:  localAddr,
			LocalPort:  localPort,
			RemoteAddr: remoteAddr,
			RemotePort: remotePort,
			State:      "ESTABLISHED",
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return out, nil
}

// parseHexAddr decodes a /proc/net/tcp address column: hex IP (in
// little-endian 32-bit groups) followed by ":" and a hex port.
func parseHexAddr(s string) (string, int, error) {
	ipHex, portHex, ok := strings.Cut(s, ":")
	if !ok {
		return "", 0, fmt.Errorf("malformed address %q", s)
	}
	port, err := strconv.ParseInt(portHex, 16, 32)
	if err != nil {
		return "", 0, fmt.Errorf("malformed port %q: %w", portHex, err)
	}
	raw, err := hex.DecodeString(ipHex)
	if err != nil {
		return "", 0, fmt.Errorf("malformed ip %q: %w", ipHex, err)
	}
	// Each 4-byte group is a host-order uint32; flip to network order.
	for i := 0; i+4 <= len(raw); i += 4 {
		v := binary.LittleEndian.Uint32(raw[i : i+4])
		binary.BigEndian.PutUint32(raw[i:i+4], v)
	}
	ip := net.IP(raw)
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return ip.String(), int(port), nil
}

// readNetCounters sums rx/tx bytes across all interfaces except
// loopback from /proc/net/dev.
func readNetCounters() (uint64, uint64, error) {
	f, err := os.Open("/proc/net/dev")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	var rx, tx uint64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		name, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(name) == "lo" {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 9 {
			continue
		}
		r, _ := strconv.ParseUint(fields[0], 10, 64)
		t, _ := strconv.ParseUint(fields[8], 10, 64)
		rx += r
		tx += t
	}
	return rx, tx, sc.Err()
}
