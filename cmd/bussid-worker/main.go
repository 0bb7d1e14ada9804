package main

import (
	"fmt"
	"os"

	"bussid/cmd/bussid-worker/commands"
)

// ldflags で埋め込まれるビルド情報
var (
	version = "dev"
	commit  = "none"
)

func main() {
	commands.Version = version
	commands.Commit = commit

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
