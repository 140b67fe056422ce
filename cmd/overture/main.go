// cmd/overture/main.go
//
// Entry point for the overture CLI. Every subcommand works on the project in
// the current directory (or --dir) and keeps its state under .overture/.

package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Sprintf("Error: %v", err))
		os.Exit(1)
	}
}
