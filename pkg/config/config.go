package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Space struct {
		Mode               string   `yaml:"mode"`
		Title              string   `yaml:"title"`
		Description        string   `yaml:"description"`
		Languages          []string `yaml:"languages"`
		AutoApproveSpeaker bool     `yaml:"auto_approve_speakers"`
	} `yaml:"space"`

	Gateway struct {
		PollInterval     time.Duration `yaml:"poll_interval"`
		EventTimeout     time.Duration `yaml:"event_timeout"`
		JoinTimeout      time.Duration `yaml:"join_timeout"`
		SubscribeTimeout time.Duration `yaml:"subscribe_timeout"`
		HTTPTimeout      time.Duration `yaml:"http_timeout"`
		PortRange        struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"gateway"`

	BroadcastAPI struct {
		ProxseeURL    string        `yaml:"proxsee_url"`
		SignerURL     string        `yaml:"signer_url"`
		GuestURL      string        `yaml:"guest_url"`
		HTTPTimeout   time.Duration `yaml:"http_timeout"`
		RetryAttempts int           `yaml:"retry_attempts"`
	} `yaml:"broadcast_api"`

	Credentials struct {
		SessionCookie string `yaml:"session_cookie"`
		BearerToken   string `yaml:"bearer_token"`
	} `yaml:"credentials"`

	Speech struct {
		BaseURL         string        `yaml:"base_url"`
		APIKey          string        `yaml:"api_key"`
		STTModel        string        `yaml:"stt_model"`
		TTSModel        string        `yaml:"tts_model"`
		TTSVoice        string        `yaml:"tts_voice"`
		Timeout         time.Duration `yaml:"timeout"`
		BreakerFailures int           `yaml:"breaker_failures"`
		BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
	} `yaml:"speech"`

	Conversation struct {
		Enabled           bool          `yaml:"enabled"`
		SystemPrompt      string        `yaml:"system_prompt"`
		CompletionModel   string        `yaml:"completion_model"`
		Language          string        `yaml:"language"`
		SilenceThreshold  int           `yaml:"silence_threshold"`
		FrameSize         int           `yaml:"frame_size"`
		FrameDelay        time.Duration `yaml:"frame_delay"`
		PublishSampleRate int           `yaml:"publish_sample_rate"`
		MaxHistory        int           `yaml:"max_history"`
	} `yaml:"conversation"`

	Plugins struct {
		Recorder struct {
			Enabled bool   `yaml:"enabled"`
			Path    string `yaml:"path"`
			Archive struct {
				Enabled       bool   `yaml:"enabled"`
				Backend       string `yaml:"backend"` // file or s3
				Path          string `yaml:"path"`
				RetentionDays int    `yaml:"retention_days"`
				S3            struct {
					Bucket          string `yaml:"bucket"`
					Prefix          string `yaml:"prefix"`
					Region          string `yaml:"region"`
					Endpoint        string `yaml:"endpoint"`
					AccessKeyID     string `yaml:"access_key_id"`
					SecretAccessKey string `yaml:"secret_access_key"`
				} `yaml:"s3"`
			} `yaml:"archive"`
		} `yaml:"recorder"`
		Monitor struct {
			Enabled     bool          `yaml:"enabled"`
			LogInterval time.Duration `yaml:"log_interval"`
		} `yaml:"monitor"`
		Idle struct {
			Enabled       bool          `yaml:"enabled"`
			Timeout       time.Duration `yaml:"timeout"`
			CheckInterval time.Duration `yaml:"check_interval"`
			StopOnIdle    bool          `yaml:"stop_on_idle"`
		} `yaml:"idle"`
	} `yaml:"plugins"`

	Admin struct {
		Enabled         bool          `yaml:"enabled"`
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		JWTSecret       string        `yaml:"jwt_secret"`
		TokenTTL        time.Duration `yaml:"token_ttl"`
	} `yaml:"admin"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		Reactions struct {
			PerSecond float64 `yaml:"per_second"`
			Burst     int     `yaml:"burst"`
		} `yaml:"reactions"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Space
	switch c.Space.Mode {
	case "broadcast", "listen", "interactive":
	default:
		return fmt.Errorf("space.mode must be one of broadcast, listen, interactive (got %q)", c.Space.Mode)
	}

	// Gateway
	if c.Gateway.PollInterval <= 0 {
		return fmt.Errorf("gateway.poll_interval must be > 0")
	}
	if c.Gateway.EventTimeout <= 0 {
		return fmt.Errorf("gateway.event_timeout must be > 0")
	}
	if c.Gateway.JoinTimeout <= 0 {
		return fmt.Errorf("gateway.join_timeout must be > 0")
	}
	if c.Gateway.SubscribeTimeout <= 0 {
		return fmt.Errorf("gateway.subscribe_timeout must be > 0")
	}
	if c.Gateway.PortRange.Min > 0 || c.Gateway.PortRange.Max > 0 {
		if c.Gateway.PortRange.Min == 0 || c.Gateway.PortRange.Max == 0 {
			return fmt.Errorf("gateway.port_range.min and max must both be set when one is set")
		}
		if c.Gateway.PortRange.Min >= c.Gateway.PortRange.Max {
			return fmt.Errorf("gateway.port_range.min must be < max")
		}
	}

	// Broadcast API
	if c.BroadcastAPI.ProxseeURL == "" || c.BroadcastAPI.SignerURL == "" || c.BroadcastAPI.GuestURL == "" {
		return fmt.Errorf("broadcast_api urls must not be empty")
	}
	if c.BroadcastAPI.RetryAttempts < 0 {
		return fmt.Errorf("broadcast_api.retry_attempts must be >= 0")
	}

	// Conversation
	if c.Conversation.Enabled {
		if c.Speech.APIKey == "" {
			return fmt.Errorf("speech.api_key must not be empty when conversation.enabled=true")
		}
		if c.Conversation.SilenceThreshold < 0 {
			return fmt.Errorf("conversation.silence_threshold must be >= 0")
		}
		if c.Conversation.FrameSize <= 0 {
			return fmt.Errorf("conversation.frame_size must be > 0")
		}
		if c.Conversation.FrameDelay < 0 {
			return fmt.Errorf("conversation.frame_delay must be >= 0")
		}
		if c.Conversation.PublishSampleRate <= 0 {
			return fmt.Errorf("conversation.publish_sample_rate must be > 0")
		}
		if c.Conversation.MaxHistory <= 0 {
			return fmt.Errorf("conversation.max_history must be > 0")
		}
	}

	// Plugins
	if c.Plugins.Recorder.Enabled && c.Plugins.Recorder.Path == "" {
		return fmt.Errorf("plugins.recorder.path must not be empty when recorder is enabled")
	}
	if archive := c.Plugins.Recorder.Archive; c.Plugins.Recorder.Enabled && archive.Enabled {
		switch archive.Backend {
		case "file":
			if archive.Path == "" {
				return fmt.Errorf("plugins.recorder.archive.path must not be empty for the file backend")
			}
		case "s3":
			if archive.S3.Bucket == "" {
				return fmt.Errorf("plugins.recorder.archive.s3.bucket must not be empty for the s3 backend")
			}
			if archive.S3.Region == "" {
				return fmt.Errorf("plugins.recorder.archive.s3.region must not be empty for the s3 backend")
			}
		default:
			return fmt.Errorf("plugins.recorder.archive.backend must be file or s3 (got %q)", archive.Backend)
		}
		if archive.RetentionDays < 0 {
			return fmt.Errorf("plugins.recorder.archive.retention_days must be >= 0")
		}
	}
	if c.Plugins.Idle.Enabled {
		if c.Plugins.Idle.Timeout <= 0 {
			return fmt.Errorf("plugins.idle.timeout must be > 0")
		}
		if c.Plugins.Idle.CheckInterval <= 0 {
			return fmt.Errorf("plugins.idle.check_interval must be > 0")
		}
	}

	// Admin
	if c.Admin.Enabled {
		if c.Admin.Address == "" {
			return fmt.Errorf("admin.address must not be empty")
		}
		if c.Admin.JWTSecret == "" {
			return fmt.Errorf("admin.jwt_secret must not be empty")
		}
		if c.Admin.ShutdownTimeout <= 0 {
			return fmt.Errorf("admin.shutdown_timeout must be > 0")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Reactions.PerSecond <= 0 {
			return fmt.Errorf("rate_limiting.reactions.per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Reactions.Burst <= 0 {
			return fmt.Errorf("rate_limiting.reactions.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Space.Mode = "interactive"
	cfg.Space.Title = "spacecast"
	cfg.Space.Languages = []string{"en"}

	cfg.Gateway.PollInterval = 500 * time.Millisecond
	cfg.Gateway.EventTimeout = 5 * time.Second
	cfg.Gateway.JoinTimeout = 12 * time.Second
	cfg.Gateway.SubscribeTimeout = 8 * time.Second
	cfg.Gateway.HTTPTimeout = 10 * time.Second

	cfg.BroadcastAPI.ProxseeURL = "https://proxsee.pscp.tv"
	cfg.BroadcastAPI.SignerURL = "https://signer.pscp.tv"
	cfg.BroadcastAPI.GuestURL = "https://guest.pscp.tv"
	cfg.BroadcastAPI.HTTPTimeout = 15 * time.Second
	cfg.BroadcastAPI.RetryAttempts = 2

	cfg.Speech.BaseURL = "https://api.openai.com/v1"
	cfg.Speech.STTModel = "whisper-1"
	cfg.Speech.TTSModel = "tts-1"
	cfg.Speech.TTSVoice = "alloy"
	cfg.Speech.Timeout = 60 * time.Second
	cfg.Speech.BreakerFailures = 5
	cfg.Speech.BreakerCooldown = 30 * time.Second

	cfg.Conversation.Enabled = false
	cfg.Conversation.SystemPrompt = "You are a helpful co-host in a live audio room. Keep answers short."
	cfg.Conversation.CompletionModel = "gpt-4o-mini"
	cfg.Conversation.Language = "en"
	cfg.Conversation.SilenceThreshold = 50
	cfg.Conversation.FrameSize = 480
	cfg.Conversation.FrameDelay = 10 * time.Millisecond
	cfg.Conversation.PublishSampleRate = 48000
	cfg.Conversation.MaxHistory = 20

	cfg.Plugins.Recorder.Path = "recordings/space.wav"
	cfg.Plugins.Recorder.Archive.Backend = "file"
	cfg.Plugins.Recorder.Archive.Path = "archive"
	cfg.Plugins.Recorder.Archive.RetentionDays = 30
	cfg.Plugins.Recorder.Archive.S3.Region = "us-east-1"
	cfg.Plugins.Monitor.LogInterval = 10 * time.Second
	cfg.Plugins.Idle.Timeout = 5 * time.Minute
	cfg.Plugins.Idle.CheckInterval = 10 * time.Second

	cfg.Admin.Enabled = false
	cfg.Admin.Address = ":8080"
	cfg.Admin.ReadTimeout = 30 * time.Second
	cfg.Admin.WriteTimeout = 30 * time.Second
	cfg.Admin.ShutdownTimeout = 30 * time.Second
	cfg.Admin.JWTSecret = "change-me-in-production"
	cfg.Admin.TokenTTL = 15 * time.Minute

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 20
	cfg.RateLimiting.HTTP.Burst = 40
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.Reactions.PerSecond = 2
	cfg.RateLimiting.Reactions.Burst = 5

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("SPACECAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if cookie := os.Getenv("SPACECAST_SESSION_COOKIE"); cookie != "" {
		c.Credentials.SessionCookie = cookie
	}
	if token := os.Getenv("SPACECAST_BEARER_TOKEN"); token != "" {
		c.Credentials.BearerToken = token
	}
	if key := os.Getenv("SPACECAST_SPEECH_API_KEY"); key != "" {
		c.Speech.APIKey = key
	}
	if secret := os.Getenv("SPACECAST_JWT_SECRET"); secret != "" {
		c.Admin.JWTSecret = secret
	}
	if key := os.Getenv("SPACECAST_ARCHIVE_S3_ACCESS_KEY_ID"); key != "" {
		c.Plugins.Recorder.Archive.S3.AccessKeyID = key
	}
	if secret := os.Getenv("SPACECAST_ARCHIVE_S3_SECRET_ACCESS_KEY"); secret != "" {
		c.Plugins.Recorder.Archive.S3.SecretAccessKey = secret
	}
	if addr := os.Getenv("SPACECAST_ADMIN_ADDRESS"); addr != "" {
		c.Admin.Address = addr
	}
}
