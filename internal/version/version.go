// Package version carries the build identity stamped via ldflags.
package version

// Version is set during build via ldflags.
var Version = "dev"

// GitCommit is set during build via ldflags.
var GitCommit = "unknown"

// BuildTime is set during build via ldflags.
var BuildTime = "unknown"

// Full returns the detailed version string used by -version flags and the
// health endpoint.
func Full() string {
	out := Version
	if GitCommit != "unknown" {
		out += " (commit " + GitCommit
		if BuildTime != "unknown" {
			out += ", built " + BuildTime
		}
		out += ")"
	}
	return out
}
