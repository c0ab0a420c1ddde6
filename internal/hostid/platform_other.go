//go:build !darwin && !linux

package hostid

func readPlatformID() (string, Source, error) {
	return "", "", errNoPlatformID
}
