package main

import (
	"os"

	"github.com/cobble/cobble/pkg/cli"
)

var version = "0.1.0"

func main() {
	if err := cli.ExecuteWithVersion(version); err != nil {
		os.Exit(1)
	}
}
