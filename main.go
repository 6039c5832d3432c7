// The main package for the einthusan-addon executable.
package main

import (
	"github.com/JakeFAU/einthusan-addon/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
