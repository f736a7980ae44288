package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tphakala/beatguard/cmd"
	"github.com/tphakala/beatguard/internal/buildinfo"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   = "dev"
	buildDate = ""
)

func main() {
	root := cmd.RootCommand(buildinfo.NewContext(version, buildDate))
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
