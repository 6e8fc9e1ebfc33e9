package main

import (
	"os"

	"relaychat/cmd/relaychat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
