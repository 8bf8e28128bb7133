package main

import (
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/kagent-dev/supportagent/cli/internal/cli/agent"
)

func main() {
	if err := agent.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
