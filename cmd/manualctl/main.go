package main

import (
	"context"
	"fmt"
	"os"

	"github.com/scottring/ParentPulse-sub002/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "manualctl:", err)
		os.Exit(1)
	}
}
