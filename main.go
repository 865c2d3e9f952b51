// The main package for the engagement executable.
package main

import (
	"github.com/JakeFAU/engagement-tracker/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
