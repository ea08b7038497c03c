// Package version provides build-time version information.
// These variables are set via ldflags at build time.
package version

var (
	// Version is the semantic version (e.g., "1.0.0")
	Version = "dev"

	// Commit is the git commit SHA
	Commit = "none"

	// Date is the build date in RFC3339 format
	Date = "unknown"
)

// Full returns the full version string for display.
func Full() string {
	if Version == "dev" {
		return "sn3 version dev (built from source)"
	}
	return "sn3 version " + Version
}

// UserAgent returns the user agent string sent to attestation providers.
func UserAgent() string {
	return "splatnet3-auth/" + Version
}
