// Package version holds build metadata injected with -ldflags.
package version

import "fmt"

// Name is the program name shown by "glum version" and the about command.
const Name = "glum"

var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info returns "glum <version> (<commit>, built <time>)".
func Info() string {
	return fmt.Sprintf("%s %s (%s, built %s)", Name, Version, GitCommit, BuildTime)
}
