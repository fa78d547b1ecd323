package main

import (
	"context"
	"os"

	"github.com/roach88/fieldsync/internal/cli"
)

// Build-time variables injected via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	os.Exit(cli.Execute(context.Background()))
}
