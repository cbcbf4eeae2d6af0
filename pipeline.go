package main

import (
	"github.com/caesium-cloud/pipeline/cmd"
	"github.com/caesium-cloud/pipeline/pkg/env"
	"github.com/caesium-cloud/pipeline/pkg/log"
)

func main() {
	if err := env.Process(); err != nil {
		log.Fatal("environment failure", "error", err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal("pipeline failure", "error", err)
	}
}
