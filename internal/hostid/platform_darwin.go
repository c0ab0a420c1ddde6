//go:build darwin

package hostid

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// readPlatformID extracts the hardware UUID from the IORegistry.
func readPlatformID() (string, Source, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return "", "", errNoPlatformID
	}

	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "IOPlatformUUID") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		id := strings.Trim(strings.TrimSpace(parts[1]), `"`)
		if id != "" {
			return id, SourcePlatformUUID, nil
		}
	}
	return "", "", errNoPlatformID
}
