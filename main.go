package main

import (
	"os"

	"github.com/seismic-bv/seismic/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
