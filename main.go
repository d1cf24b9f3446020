// The main package for the bangumi-scanner executable.
package main

import (
	"github.com/JakeFAU/bangumi-scanner/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
