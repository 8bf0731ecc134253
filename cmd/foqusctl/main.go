package main

import (
	"os"

	"foqus-orchestrator/cmd/foqusctl/cmd"

	log "github.com/sirupsen/logrus"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
