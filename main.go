// Package main is the entry point for the netpcap command.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/netpcap/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
