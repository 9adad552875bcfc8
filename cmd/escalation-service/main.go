package main

import (
	"os"

	"github.com/lomito/escalation-service/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
