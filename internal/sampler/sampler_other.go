//go:build !linux && !windows

package sampler

import "fmt"

func osEnumerate() ([]Conn, error) {
	return nil, fmt.Errorf("connection sampling unsupported on this platform")
}

func readNetCounters() (uint64, uint64, error) {
	return 0, 0, fmt.Errorf("interface counters unsupported on this platform")
}
