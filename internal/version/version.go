// Package version provides build-time version information and the
// feature-extraction schema tag.
package version

import "fmt"

// These variables are set at build time using -ldflags
var (
	// Version is the semantic version
	Version = "0.1.0"

	// BuildTime is the UTC time when the binary was built
	BuildTime = "unknown"

	// GitCommit is the git commit hash
	GitCommit = "unknown"
)

// ExtractorSchema is bumped whenever the layout or math of the per-walnut
// feature tensor changes. It is mixed into every extractor version tag, so
// bumping it invalidates all cached tensors.
const ExtractorSchema = 1

// String returns a one-line description of the build.
func String() string {
	return fmt.Sprintf("walnut-pair %s (commit %s, built %s, schema v%d)",
		Version, GitCommit, BuildTime, ExtractorSchema)
}
