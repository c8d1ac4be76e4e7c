// Command vigil is the scan job orchestration daemon and its CLI.
package main

import (
	"github.com/vigilsec/vigil/cmd/cli"
)

// Build information - set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
