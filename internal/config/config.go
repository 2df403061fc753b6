package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Storage  StorageConfig
	STT      STTConfig
	Dialogue DialogueConfig
	TTS      TTSConfig
	Session  SessionConfig
	Pipeline PipelineConfig
	Voice    VoiceConfig
	Cache    CacheConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	CORSOrigins    []string
	RateLimitRPS   int
	RateLimitBurst int
}

type LogConfig struct {
	Level string
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret string // empty disables bearer-token auth
}

type StorageConfig struct {
	Backend     string // "local" or "supabase"
	WriteRoot   string // local: directory staged audio is written under
	ReadRoot    string // local: URL prefix the write root is served at
	SupabaseURL string
	SupabaseKey string
	Bucket      string
	Prefix      string
	Retention   time.Duration // 0 disables deferred purge
}

type STTConfig struct {
	Backend      string // "dashscope" or "openai"
	APIKey       string
	BaseURL      string
	Model        string
	Language     string
	PollInterval time.Duration
}

type DialogueConfig struct {
	Provider     string // "openai" (any OpenAI-compatible endpoint) or "anthropic"
	APIKey       string
	BaseURL      string
	Model        string
	AnthropicKey string
	MaxTokens    int
}

type TTSConfig struct {
	Backend   string // "fishspeech" or "openai"
	EngineURL string
	APIKey    string
	Model     string
	Voice     string
}

type SessionConfig struct {
	QueueWait    time.Duration // 0 rejects a second trigger immediately
	IdleTTL      time.Duration
	SystemPrompt string
}

type PipelineConfig struct {
	StagingTimeout       time.Duration
	TranscriptionTimeout time.Duration
	DialogueTimeout      time.Duration
	SynthesisTimeout     time.Duration
}

type VoiceConfig struct {
	ProfilePath string
}

type CacheConfig struct {
	SynthesisTTL time.Duration // 0 disables caching of seeded synthesis
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	rps, err := getEnvInt("RATE_LIMIT_RPS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}

	burst, err := getEnvInt("RATE_LIMIT_BURST", 40)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 1)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxTokens, err := getEnvInt("DIALOGUE_MAX_TOKENS", 1024)
	if err != nil {
		return nil, fmt.Errorf("invalid DIALOGUE_MAX_TOKENS: %w", err)
	}

	retention, err := getEnvDuration("STAGING_RETENTION", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid STAGING_RETENTION: %w", err)
	}

	pollInterval, err := getEnvDuration("STT_POLL_INTERVAL", time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid STT_POLL_INTERVAL: %w", err)
	}

	queueWait, err := getEnvDuration("SESSION_QUEUE_WAIT", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_QUEUE_WAIT: %w", err)
	}

	idleTTL, err := getEnvDuration("SESSION_IDLE_TTL", 2*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_IDLE_TTL: %w", err)
	}

	stagingTimeout, err := getEnvDuration("STAGING_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid STAGING_TIMEOUT: %w", err)
	}

	transcriptionTimeout, err := getEnvDuration("TRANSCRIPTION_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid TRANSCRIPTION_TIMEOUT: %w", err)
	}

	dialogueTimeout, err := getEnvDuration("DIALOGUE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid DIALOGUE_TIMEOUT: %w", err)
	}

	synthesisTimeout, err := getEnvDuration("SYNTHESIS_TIMEOUT", 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid SYNTHESIS_TIMEOUT: %w", err)
	}

	synthesisTTL, err := getEnvDuration("SYNTHESIS_CACHE_TTL", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid SYNTHESIS_CACHE_TTL: %w", err)
	}

	dashscopeKey := getEnv("DASHSCOPE_API_KEY", "")

	sttBackend := getEnv("STT_BACKEND", "dashscope")
	sttModel := "paraformer-v2"
	if sttBackend == "openai" {
		sttModel = "whisper-1"
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           port,
			CORSOrigins:    strings.Split(getEnv("CORS_ORIGINS", "*"), ","),
			RateLimitRPS:   rps,
			RateLimitBurst: burst,
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		},
		Storage: StorageConfig{
			Backend:     getEnv("STORAGE_BACKEND", "local"),
			WriteRoot:   getEnv("AUDIO_DIR", ""),
			ReadRoot:    getEnv("AUDIO_URL", ""),
			SupabaseURL: getEnv("SUPABASE_URL", ""),
			SupabaseKey: getEnv("SUPABASE_SERVICE_KEY", ""),
			Bucket:      getEnv("STORAGE_BUCKET", "staging"),
			Prefix:      getEnv("STORAGE_PREFIX", ""),
			Retention:   retention,
		},
		STT: STTConfig{
			Backend:      sttBackend,
			APIKey:       getEnv("STT_API_KEY", dashscopeKey),
			BaseURL:      getEnv("DASHSCOPE_BASE_URL", "https://dashscope.aliyuncs.com"),
			Model:        getEnv("STT_MODEL", sttModel),
			Language:     getEnv("STT_LANGUAGE", "zh"),
			PollInterval: pollInterval,
		},
		Dialogue: DialogueConfig{
			Provider:     getEnv("DIALOGUE_PROVIDER", "openai"),
			APIKey:       getEnv("DIALOGUE_API_KEY", dashscopeKey),
			BaseURL:      getEnv("DIALOGUE_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1"),
			Model:        getEnv("DIALOGUE_MODEL", "qwen-plus"),
			AnthropicKey: getEnv("ANTHROPIC_API_KEY", ""),
			MaxTokens:    maxTokens,
		},
		TTS: TTSConfig{
			Backend:   getEnv("TTS_BACKEND", "fishspeech"),
			EngineURL: getEnv("TTS_ENGINE_URL", "http://localhost:8081"),
			APIKey:    getEnv("TTS_API_KEY", ""),
			Model:     getEnv("TTS_MODEL", ""),
			Voice:     getEnv("TTS_VOICE", ""),
		},
		Session: SessionConfig{
			QueueWait:    queueWait,
			IdleTTL:      idleTTL,
			SystemPrompt: getEnv("SYSTEM_PROMPT", ""),
		},
		Pipeline: PipelineConfig{
			StagingTimeout:       stagingTimeout,
			TranscriptionTimeout: transcriptionTimeout,
			DialogueTimeout:      dialogueTimeout,
			SynthesisTimeout:     synthesisTimeout,
		},
		Voice: VoiceConfig{
			ProfilePath: getEnv("VOICE_PROFILE_PATH", ""),
		},
		Cache: CacheConfig{
			SynthesisTTL: synthesisTTL,
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate reports the variables the selected backends cannot run without.
func (c *Config) Validate() error {
	var missing []string
	switch c.Storage.Backend {
	case "local":
		if c.STT.Backend == "dashscope" {
			if c.Storage.WriteRoot == "" {
				missing = append(missing, "AUDIO_DIR")
			}
			if c.Storage.ReadRoot == "" {
				missing = append(missing, "AUDIO_URL")
			}
		}
	case "supabase":
		if c.Storage.SupabaseURL == "" {
			missing = append(missing, "SUPABASE_URL")
		}
		if c.Storage.SupabaseKey == "" {
			missing = append(missing, "SUPABASE_SERVICE_KEY")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if c.STT.APIKey == "" {
		missing = append(missing, "DASHSCOPE_API_KEY or STT_API_KEY")
	}
	switch c.Dialogue.Provider {
	case "openai":
		if c.Dialogue.APIKey == "" {
			missing = append(missing, "DASHSCOPE_API_KEY or DIALOGUE_API_KEY")
		}
	case "anthropic":
		if c.Dialogue.AnthropicKey == "" {
			missing = append(missing, "ANTHROPIC_API_KEY")
		}
	default:
		return fmt.Errorf("unknown DIALOGUE_PROVIDER %q", c.Dialogue.Provider)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if c.TTS.Backend == "fishspeech" && c.pointsAtSelf(c.TTS.EngineURL) {
		return fmt.Errorf("TTS_ENGINE_URL %s points at this server (SERVER_PORT %d)", c.TTS.EngineURL, c.Server.Port)
	}
	return nil
}

// pointsAtSelf reports whether rawURL targets the API's own loopback port.
func (c *Config) pointsAtSelf(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Port() != strconv.Itoa(c.Server.Port) {
		return false
	}
	host := u.Hostname()
	if host == "localhost" || host == c.Server.Host {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}

// SlogLevel maps the configured level name onto slog, defaulting to info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}
