package config

const (
	defaultDataDir = "~/.local/share/postflow"
	defaultLogDir  = "~/.local/share/postflow/logs"
	defaultAPIBind = "127.0.0.1:8486"

	defaultLogFormat = "console"
	defaultLogLevel  = "info"

	defaultJobPollInterval    = 5
	defaultErrorRetryInterval = 10
	defaultJobMaxRetries      = 3
	defaultStaleJobTimeout    = 600
	defaultMaxInsights        = 10

	defaultDispatchInterval = 120
	defaultWindowMinutes    = 5
	defaultBatchSize        = 20
	defaultConcurrency      = 5
	defaultBucketMinutes    = 5
	defaultSweepInterval    = 600
	defaultSweepMaxRetries  = 5

	defaultPlatformTimeoutSeconds = 30
	defaultRequestsPerMinute      = 30

	defaultContentGenBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultContentGenModel          = "google/gemini-3-flash-preview"
	defaultContentGenTimeoutSeconds = 60
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Workflow: Workflow{
			JobPollInterval:    defaultJobPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			JobMaxRetries:      defaultJobMaxRetries,
			StaleJobTimeout:    defaultStaleJobTimeout,
			MaxInsights:        defaultMaxInsights,
		},
		Publishing: Publishing{
			DispatchInterval: defaultDispatchInterval,
			WindowMinutes:    defaultWindowMinutes,
			BatchSize:        defaultBatchSize,
			Concurrency:      defaultConcurrency,
			BucketMinutes:    defaultBucketMinutes,
			SweepInterval:    defaultSweepInterval,
			SweepMaxRetries:  defaultSweepMaxRetries,
		},
		LinkedIn: Platform{
			BaseURL:           "https://api.linkedin.com",
			TimeoutSeconds:    defaultPlatformTimeoutSeconds,
			RequestsPerMinute: defaultRequestsPerMinute,
		},
		X: Platform{
			BaseURL:           "https://api.x.com",
			TimeoutSeconds:    defaultPlatformTimeoutSeconds,
			RequestsPerMinute: defaultRequestsPerMinute,
		},
		ContentGen: ContentGen{
			BaseURL:        defaultContentGenBaseURL,
			Model:          defaultContentGenModel,
			TimeoutSeconds: defaultContentGenTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
