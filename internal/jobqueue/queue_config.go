package jobqueue

import (
	"os"
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	// Worker Configuration
	MaxWorkers int // Number of concurrent workers processing jobs (default: 10)

	// Retry Configuration
	MaxAttempts int           // Maximum attempts per job, first run included (default: 5)
	JobTimeout  time.Duration // Maximum time a single job can run (default: 2 minutes)

	// Scheduling Configuration
	MinPeriodicInterval time.Duration // Floor applied to periodic agent intervals (default: 1 minute)
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		// Worker settings - tune based on your server capacity and
		// the rate limits of the model providers in use
		MaxWorkers: 10,

		// Retry settings - agent responses are best effort; a handful
		// of attempts is enough before the conversation moves on
		MaxAttempts: 5,

		// Timeout settings - generation plus dispatch should complete
		// well within this window
		JobTimeout: 2 * time.Minute,

		// Anything shorter than a minute hammers the generator for no
		// conversational benefit
		MinPeriodicInterval: 1 * time.Minute,
	}
}

// ProductionQueueConfig returns a configuration optimized for production use
func ProductionQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()

	config.MaxWorkers = 20              // More workers for higher throughput
	config.JobTimeout = 5 * time.Minute // Longer timeout for slow providers

	return config
}

// DevelopmentQueueConfig returns a configuration optimized for development
func DevelopmentQueueConfig() *QueueConfig {
	config := DefaultQueueConfig()

	config.MaxWorkers = 3                        // Fewer workers to reduce resource usage
	config.MaxAttempts = 2                       // Fail faster in development
	config.JobTimeout = 30 * time.Second         // Shorter timeout for faster feedback
	config.MinPeriodicInterval = 5 * time.Second // Let periodic agents fire quickly in demos

	return config
}

// GetQueueConfig returns the appropriate configuration based on environment
func GetQueueConfig() *QueueConfig {
	switch os.Getenv("PARLEY_ENV") {
	case "production":
		return ProductionQueueConfig()
	case "development":
		return DevelopmentQueueConfig()
	}
	return DefaultQueueConfig()
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
