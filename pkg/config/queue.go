package config

import "time"

// QueueConfig contains queue and worker pool configuration.
// These values control how jobs are polled, claimed, and retried.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica/pod.
	// Each worker independently polls and processes jobs.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentJobs is the global limit of concurrent jobs being
	// processed across ALL replicas/pods. Enforced by database COUNT(*) check.
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`

	// PollInterval is the base interval for checking pending jobs.
	PollInterval Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter Duration `yaml:"poll_interval_jitter"`

	// JobTimeout is the maximum time a single job can be processed.
	// The pipeline deadline lives inside this budget.
	JobTimeout Duration `yaml:"job_timeout"`

	// GracefulShutdownTimeout is the max time to wait for active jobs
	// to complete during shutdown. Should match JobTimeout.
	GracefulShutdownTimeout Duration `yaml:"graceful_shutdown_timeout"`

	// HeartbeatInterval is how often a worker refreshes the liveness
	// marker on its running job. Must be well under OrphanThreshold.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`

	// OrphanDetectionInterval is how often to scan for orphaned jobs.
	OrphanDetectionInterval Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how long a job can go without a heartbeat
	// before it is considered orphaned.
	OrphanThreshold Duration `yaml:"orphan_threshold"`

	// MaxAttempts caps retries per job; exhaustion marks the job dead
	// and blocks the gate.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryBase is the base delay for exponential retry backoff.
	RetryBase Duration `yaml:"retry_base"`

	// RetryMax caps the computed retry delay.
	RetryMax Duration `yaml:"retry_max"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		MaxConcurrentJobs:       5,
		PollInterval:            Duration(1 * time.Second),
		PollIntervalJitter:      Duration(500 * time.Millisecond),
		JobTimeout:              Duration(5 * time.Minute),
		GracefulShutdownTimeout: Duration(5 * time.Minute),
		HeartbeatInterval:       Duration(30 * time.Second),
		OrphanDetectionInterval: Duration(5 * time.Minute),
		OrphanThreshold:         Duration(5 * time.Minute),
		MaxAttempts:             6,
		RetryBase:               Duration(1 * time.Second),
		RetryMax:                Duration(2 * time.Minute),
	}
}
