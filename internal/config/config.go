package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser supports standard 5-field cron expressions plus an optional
// leading seconds field and the usual @every/@daily descriptors.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Config is the main configuration structure for the orchestrator.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	LLM           LLMConfig           `yaml:"llm"`
	React         ReactConfig         `yaml:"react"`
	Worker        WorkerConfig        `yaml:"worker"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Barrier       BarrierConfig       `yaml:"barrier"`
	Artifacts     ArtifactConfig      `yaml:"artifacts"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Reload        ReloadConfig        `yaml:"reload"`
	Schedule      ScheduleConfig      `yaml:"schedule"`
}

// Load reads, expands, decodes, and validates a configuration file. $include
// directives are resolved relative to the including file, env vars are
// expanded, and unknown fields are rejected.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyDatabaseDefaults(&cfg.Database)
	applyAuthDefaults(&cfg.Auth)
	applyLLMDefaults(&cfg.LLM)
	applyReactDefaults(&cfg.React)
	applyWorkerDefaults(&cfg.Worker)
	applyJobsDefaults(&cfg.Jobs)
	applyBarrierDefaults(&cfg.Barrier)
	applyArtifactDefaults(&cfg.Artifacts)
	applyLoggingDefaults(&cfg.Logging)
	applyReloadDefaults(&cfg.Reload)
	applyScheduleDefaults(&cfg.Schedule)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.GRPCPort == 0 {
		cfg.GRPCPort = 50051
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = 2 * time.Minute
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.TokenExpiry == 0 {
		cfg.TokenExpiry = 24 * time.Hour
	}
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.Providers == nil {
		cfg.Providers = map[string]LLMProviderConfig{}
	}
	if cfg.Bedrock.Region == "" {
		cfg.Bedrock.Region = "us-east-1"
	}
	if cfg.Bedrock.DefaultContextWindow == 0 {
		cfg.Bedrock.DefaultContextWindow = 32000
	}
	if cfg.Bedrock.DefaultMaxTokens == 0 {
		cfg.Bedrock.DefaultMaxTokens = 4096
	}
}

func applyReactDefaults(cfg *ReactConfig) {
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 25
	}
	if cfg.MaxWorkersPerRun == 0 {
		cfg.MaxWorkersPerRun = 20
	}
	if cfg.MaxAdmitRetries == 0 {
		cfg.MaxAdmitRetries = 3
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = 200
	}
}

func applyWorkerDefaults(cfg *WorkerConfig) {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.StandardMaxIterations == 0 {
		cfg.StandardMaxIterations = 25
	}
	if cfg.WorkspaceTimeout == 0 {
		cfg.WorkspaceTimeout = 30 * time.Minute
	}
	if cfg.CloneRoot == "" {
		cfg.CloneRoot = "./workspaces"
	}
}

func applyJobsDefaults(cfg *JobsConfig) {
	if cfg.ClaimTimeout == 0 {
		cfg.ClaimTimeout = 2 * time.Minute
	}
	if cfg.ReclaimInterval == 0 {
		cfg.ReclaimInterval = 30 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
}

func applyBarrierDefaults(cfg *BarrierConfig) {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 5 * time.Second
	}
}

func applyArtifactDefaults(cfg *ArtifactConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "local"
	}
	if cfg.LocalPath == "" {
		cfg.LocalPath = "./artifacts"
	}
	if cfg.S3Region == "" {
		cfg.S3Region = "us-east-1"
	}
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = time.Hour
	}
	if cfg.TTLs == nil {
		cfg.TTLs = map[string]time.Duration{}
	}
	if _, ok := cfg.TTLs["worker"]; !ok {
		cfg.TTLs["worker"] = 7 * 24 * time.Hour
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyReloadDefaults(cfg *ReloadConfig) {
	if cfg.DebounceInterval == 0 {
		cfg.DebounceInterval = 500 * time.Millisecond
	}
}

func applyScheduleDefaults(cfg *ScheduleConfig) {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("ORCHESTRATOR_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("ORCHESTRATOR_GRPC_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.GRPCPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("ORCHESTRATOR_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("ORCHESTRATOR_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}

	if value := strings.TrimSpace(os.Getenv("DATABASE_URL")); value != "" {
		cfg.Database.URL = value
	}

	if value := strings.TrimSpace(os.Getenv("JWT_SECRET")); value != "" {
		cfg.Auth.JWTSecret = value
	}
	if value := strings.TrimSpace(os.Getenv("ORCHESTRATOR_JWT_SECRET")); value != "" {
		cfg.Auth.JWTSecret = value
	}
	if value := strings.TrimSpace(os.Getenv("ORCHESTRATOR_TOKEN_EXPIRY")); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			cfg.Auth.TokenExpiry = parsed
		}
	}

	if value := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); value != "" {
		setProviderAPIKey(&cfg.LLM, "anthropic", value)
	}
	if value := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); value != "" {
		setProviderAPIKey(&cfg.LLM, "openai", value)
	}
}

func setProviderAPIKey(cfg *LLMConfig, provider, key string) {
	if cfg.Providers == nil {
		cfg.Providers = map[string]LLMProviderConfig{}
	}
	entry := cfg.Providers[provider]
	if entry.APIKey == "" {
		entry.APIKey = key
		cfg.Providers[provider] = entry
	}
}

// ConfigValidationError reports one or more configuration problems found
// during validation. All issues are collected before returning, rather than
// failing on the first one.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if defaultProvider != "" {
		if _, ok := cfg.LLM.Providers[defaultProvider]; !ok {
			if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
				issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
			}
		}
	}
	for _, id := range cfg.LLM.FallbackChain {
		name := strings.ToLower(strings.TrimSpace(id))
		if _, ok := cfg.LLM.Providers[name]; !ok {
			if _, ok := cfg.LLM.Providers[id]; !ok {
				issues = append(issues, fmt.Sprintf("llm.fallback_chain references unknown provider %q", id))
			}
		}
	}

	seenKeys := map[string]struct{}{}
	for i, entry := range cfg.Auth.APIKeys {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			issues = append(issues, fmt.Sprintf("auth.api_keys[%d].key must be set", i))
			continue
		}
		if _, ok := seenKeys[key]; ok {
			issues = append(issues, fmt.Sprintf("auth.api_keys[%d].key must be unique", i))
		} else {
			seenKeys[key] = struct{}{}
		}
	}

	if jwtSecret := strings.TrimSpace(cfg.Auth.JWTSecret); jwtSecret != "" {
		if len(jwtSecret) < 32 {
			issues = append(issues, "auth.jwt_secret must be at least 32 characters for security")
		}
	}

	if cfg.React.MaxIterations < 0 {
		issues = append(issues, "react.max_iterations must be >= 0")
	}
	if cfg.React.MaxWorkersPerRun < 0 {
		issues = append(issues, "react.max_workers_per_run must be >= 0")
	}
	if cfg.React.MaxAdmitRetries < 0 {
		issues = append(issues, "react.max_admit_retries must be >= 0")
	}

	if cfg.Worker.MaxConcurrency < 0 {
		issues = append(issues, "worker.max_concurrency must be >= 0")
	}
	if cfg.Worker.PollInterval < 0 {
		issues = append(issues, "worker.poll_interval must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Artifacts.Backend)) {
	case "local":
		if strings.TrimSpace(cfg.Artifacts.LocalPath) == "" {
			issues = append(issues, "artifacts.local_path is required when backend is \"local\"")
		}
	case "s3":
		if strings.TrimSpace(cfg.Artifacts.S3Bucket) == "" {
			issues = append(issues, "artifacts.s3_bucket is required when backend is \"s3\"")
		}
	case "":
		// filled in by applyArtifactDefaults
	default:
		issues = append(issues, fmt.Sprintf("artifacts.backend %q must be \"local\" or \"s3\"", cfg.Artifacts.Backend))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("logging.level %q must be one of debug, info, warn, error", cfg.Logging.Level))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q must be \"json\" or \"text\"", cfg.Logging.Format))
	}

	seenScheduleNames := map[string]struct{}{}
	for i, run := range cfg.Schedule.Runs {
		name := strings.TrimSpace(run.Name)
		if name == "" {
			issues = append(issues, fmt.Sprintf("schedule.runs[%d].name must be set", i))
		} else if _, dup := seenScheduleNames[name]; dup {
			issues = append(issues, fmt.Sprintf("schedule.runs[%d].name %q must be unique", i, name))
		} else {
			seenScheduleNames[name] = struct{}{}
		}
		if strings.TrimSpace(run.ThreadID) == "" {
			issues = append(issues, fmt.Sprintf("schedule.runs[%d].thread_id must be set", i))
		}
		if strings.TrimSpace(run.Message) == "" {
			issues = append(issues, fmt.Sprintf("schedule.runs[%d].message must be set", i))
		}
		if _, err := cronParser.Parse(run.CronExpr); err != nil {
			issues = append(issues, fmt.Sprintf("schedule.runs[%d].cron %q is invalid: %v", i, run.CronExpr, err))
		}
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
