package main

import (
	"fmt"

	"github.com/canonizer-io/canonizer/internal/config"
	"github.com/canonizer-io/canonizer/internal/ingestion"
)

// Environment variables sizing the per-stage consumer pools.
const (
	EnvParseWorkers    = "CANONIZER_WORKERS_PARSE"
	EnvInferWorkers    = "CANONIZER_WORKERS_INFER"
	EnvMapWorkers      = "CANONIZER_WORKERS_MAP"
	EnvValidateWorkers = "CANONIZER_WORKERS_VALIDATE"
	EnvOutputWorkers   = "CANONIZER_WORKERS_OUTPUT"
)

// Default pool sizes. Parse, infer, and map work from samples and stay
// cheap; validate and output re-read the whole file and get fewer
// workers.
const (
	defaultParseWorkers    = 5
	defaultInferWorkers    = 5
	defaultMapWorkers      = 5
	defaultValidateWorkers = 3
	defaultOutputWorkers   = 3
)

// WorkerConfig sizes the consumer pool for each pipeline stage.
type WorkerConfig struct {
	ParseWorkers    int
	InferWorkers    int
	MapWorkers      int
	ValidateWorkers int
	OutputWorkers   int
}

// LoadWorkerConfig reads the per-stage worker counts from the environment
// with fallback to the defaults.
func LoadWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		ParseWorkers:    config.GetEnvInt(EnvParseWorkers, defaultParseWorkers),
		InferWorkers:    config.GetEnvInt(EnvInferWorkers, defaultInferWorkers),
		MapWorkers:      config.GetEnvInt(EnvMapWorkers, defaultMapWorkers),
		ValidateWorkers: config.GetEnvInt(EnvValidateWorkers, defaultValidateWorkers),
		OutputWorkers:   config.GetEnvInt(EnvOutputWorkers, defaultOutputWorkers),
	}
}

// For returns the pool size for a stage, or zero for an unknown stage.
func (c *WorkerConfig) For(stage ingestion.Stage) int {
	switch stage {
	case ingestion.StageParse:
		return c.ParseWorkers
	case ingestion.StageInfer:
		return c.InferWorkers
	case ingestion.StageMap:
		return c.MapWorkers
	case ingestion.StageValidate:
		return c.ValidateWorkers
	case ingestion.StageOutput:
		return c.OutputWorkers
	default:
		return 0
	}
}

// Total returns the number of consumers the worker will run.
func (c *WorkerConfig) Total() int {
	return c.ParseWorkers + c.InferWorkers + c.MapWorkers + c.ValidateWorkers + c.OutputWorkers
}

// Validate rejects non-positive pool sizes.
func (c *WorkerConfig) Validate() error {
	for _, stage := range pipelineStages {
		if n := c.For(stage); n <= 0 {
			return fmt.Errorf("worker count for stage %s must be positive, got %d", stage, n)
		}
	}

	return nil
}
