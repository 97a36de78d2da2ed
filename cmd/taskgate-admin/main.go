package main

import (
	"github.com/turtacn/taskgate/cmd/cli"
)

// main delegates to the cli package so the commands can be tested in-process.
func main() {
	cli.Execute()
}
