// Package env processes the pipeline engine's environment variables,
// following the teacher's envconfig + pkg/errors wrapping convention.
package env

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"

	"github.com/caesium-cloud/pipeline/pkg/log"
)

var variables = new(Environment)

// Process the environment variables set for the pipeline engine.
func Process() error {
	if err := envconfig.Process("caesium", variables); err != nil {
		return errors.Wrap(err, "failed to process environment variables")
	}

	if err := log.SetLevelFromString(variables.LogLevel); err != nil {
		return errors.Wrap(err, "failed to set log level")
	}

	return nil
}

// Variables returns the processed environment variables.
func Variables() Environment {
	return *variables
}

// Environment defines the environment variables used by the pipeline
// engine. All are prefixed CAESIUM_ per spec.md §6 "Environment inputs
// expected by the core".
type Environment struct {
	LogLevel            string        `default:"info"`
	Port                int           `default:"8080"`
	DatabaseType        string        `default:"postgres"`
	DatabaseDSN         string        `default:"host=postgres user=postgres password=postgres dbname=pipeline port=5432 sslmode=disable"`
	WorkerCount         int           `default:"4"`
	WorkerPollInterval  time.Duration `default:"2s"`
	WorkerLeaseTTL      time.Duration `default:"5m"`
	NotifyChannelPrefix string        `default:"pipeline_run_tasks"`
	SessionSecret       string        `default:""`
}
