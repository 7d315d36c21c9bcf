// Command leadfeed parses, validates and renders pipeline documents offline.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "leadfeed:", err)
		os.Exit(1)
	}
}
