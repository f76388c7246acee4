package main

import (
	"os"

	"github.com/TheusHen/Rotor/cmd/rotor/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
