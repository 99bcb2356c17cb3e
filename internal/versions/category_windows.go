//go:build windows

package versions

// platformCategory is the CDN category queried for this build's engine
// binaries (spec §6.3, §4.5).
const platformCategory = "engine_windows64"
