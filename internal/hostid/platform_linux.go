//go:build linux

package hostid

import (
	"os"
	"strings"
)

var machineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// readPlatformID reads the D-Bus machine id.
func readPlatformID() (string, Source, error) {
	for _, path := range machineIDPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, SourceMachineID, nil
		}
	}
	return "", "", errNoPlatformID
}
