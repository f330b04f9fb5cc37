package main

import (
	"fmt"
	"os"

	"github.com/drivegate-io/drivegate/cmd/dgate-client/app"
)

func main() {
	if err := app.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
