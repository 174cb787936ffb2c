// The main package for the tabichan executable.
package main

import (
	"github.com/podtech-ai/tabichan-go/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
