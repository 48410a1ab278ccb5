//go:build !windows

package prober

import (
	"fmt"
	"os"
	"strings"
)

// CheckPrivileges verifies that the current process has the necessary
// privileges to open raw sockets. Returns nil if privileged, error
// otherwise with a helpful message.
func CheckPrivileges() error {
	if os.Geteuid() == 0 {
		return nil
	}
	if HasNetRawCapability() {
		return nil
	}
	return fmt.Errorf("sagescan requires elevated privileges for raw socket access.\n\nRun with: sudo %s", strings.Join(os.Args, " "))
}

// HasNetRawCapability checks if the current process has CAP_NET_RAW
// capability (Linux only). On non-Linux Unix systems this always returns
// false since capabilities aren't supported.
func HasNetRawCapability() bool {
	data, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return false
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "CapEff:") {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return false
			}

			var capMask uint64
			if _, err := fmt.Sscanf(fields[1], "%x", &capMask); err != nil {
				return false
			}

			const capNetRaw = 1 << 13
			return (capMask & capNetRaw) != 0
		}
	}

	return false
}
