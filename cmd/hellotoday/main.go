package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hellotoday/hellotoday-client/internal/cli"
)

var Version = "dev"

func main() {
	if err := cli.NewRootCommand(Version).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
