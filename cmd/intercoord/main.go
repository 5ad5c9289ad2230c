// Package main is the entry point for the intercoord CLI.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "intercoord:", err)
		os.Exit(1)
	}
}
