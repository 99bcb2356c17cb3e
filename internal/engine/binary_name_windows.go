//go:build windows

package engine

// BinaryName returns the dedicated-server executable name inside
// engines/<version>/ for the current platform. Exported so
// internal/versions can check for and verify installed binaries
// without duplicating the platform switch.
func BinaryName() string {
	return "spring-dedicated.exe"
}

func binaryName() string { return BinaryName() }
