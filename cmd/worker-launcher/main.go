package main

import (
	"os"
)

// Version is set at build time with -ldflags
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
