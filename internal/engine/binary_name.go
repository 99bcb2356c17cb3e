//go:build !windows

package engine

// BinaryName returns the dedicated-server executable name inside
// engines/<version>/ for the current platform (spec §9 open question:
// the Windows name is implied but only used in one helper). Exported
// so internal/versions can check for and verify installed binaries
// without duplicating the platform switch.
func BinaryName() string {
	return "spring-dedicated"
}

func binaryName() string { return BinaryName() }
