// Package version holds the stamina-bootstrap release identifier.
package version

// Version is reported by the version subcommand and in the HTTP User-Agent.
const Version = "1.0.0"
