// Package agentversion carries the agent's build-embedded version string,
// reported in the CONNECT frame's agentVersion field.
package agentversion

// These variables are set at build time via ldflags. Version defaults to
// "dev" for local builds.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String returns the semantic version alone, as sent on the wire.
func String() string {
	return Version
}

// Full returns the version string augmented with commit and build date,
// used in human-facing CLI output.
func Full() string {
	return Version + " (commit: " + Commit + ", built: " + Date + ")"
}
