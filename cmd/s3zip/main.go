package main

import (
	"context"

	"github.com/nishanth230499/s3-ui/internal/cmd"
)

// Set via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	cmd.Main(context.Background())
}
