package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every tunable for the service.
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Limits  LimitsConfig
	Memory  MemoryConfig
	Profile ProfileConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	limits, err := loadLimitsConfig()
	if err != nil {
		return nil, err
	}

	memory, err := loadMemoryConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		AI:      ai,
		Limits:  limits,
		Memory:  memory,
		Profile: loadProfileConfig(),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr        string
	Environment string
	CORSOrigins []string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	addr := port
	if !strings.Contains(port, ":") {
		if strings.Contains(port, " ") {
			return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
		}
		addr = ":" + port
	}

	origins := []string{"*"}
	if raw := strings.TrimSpace(os.Getenv("CORS_ORIGINS")); raw != "" {
		origins = origins[:0]
		for _, origin := range strings.Split(raw, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
	}

	return ServerConfig{
		Addr:        addr,
		Environment: getEnvOrDefault("ENVIRONMENT", "development"),
		CORSOrigins: origins,
	}, nil
}

// AIConfig describes the chat model endpoint.
type AIConfig struct {
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      int
	StreamResponse bool
}

// Enabled reports whether the required model credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds a model instance from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("model credentials missing: provide ARK_API_KEY + Model or the AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens > 0 {
		val := c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseIntEnv("MAX_TOKENS_PER_REQUEST", 1000)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("Model")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
	}, nil
}

// LimitsConfig carries the admission policy ceilings.
type LimitsConfig struct {
	MaxRequestsPerSession int
	MaxTokensPerSession   int
	MaxTokensPerRequest   int
	MaxSessionsPerIP      int
	SessionExpiry         time.Duration
	RedisURL              string
	AbusePatternsFile     string
}

func loadLimitsConfig() (LimitsConfig, error) {
	maxRequests, err := parseIntEnv("MAX_REQUESTS_PER_SESSION", 20)
	if err != nil {
		return LimitsConfig{}, err
	}

	maxSessionTokens, err := parseIntEnv("MAX_TOKENS_PER_SESSION", 50000)
	if err != nil {
		return LimitsConfig{}, err
	}

	maxRequestTokens, err := parseIntEnv("MAX_TOKENS_PER_REQUEST", 1000)
	if err != nil {
		return LimitsConfig{}, err
	}

	maxSessions, err := parseIntEnv("MAX_SESSIONS_PER_IP", 5)
	if err != nil {
		return LimitsConfig{}, err
	}

	expiryHours, err := parseIntEnv("SESSION_EXPIRY_HOURS", 24)
	if err != nil {
		return LimitsConfig{}, err
	}
	if expiryHours < 1 {
		return LimitsConfig{}, fmt.Errorf("SESSION_EXPIRY_HOURS must be at least 1, got %d", expiryHours)
	}

	return LimitsConfig{
		MaxRequestsPerSession: maxRequests,
		MaxTokensPerSession:   maxSessionTokens,
		MaxTokensPerRequest:   maxRequestTokens,
		MaxSessionsPerIP:      maxSessions,
		SessionExpiry:         time.Duration(expiryHours) * time.Hour,
		RedisURL:              strings.TrimSpace(os.Getenv("REDIS_URL")),
		AbusePatternsFile:     strings.TrimSpace(os.Getenv("ABUSE_PATTERNS_FILE")),
	}, nil
}

// MemoryConfig describes where conversation transcripts live.
type MemoryConfig struct {
	UseS3     bool
	S3Bucket  string
	AWSRegion string
	LocalDir  string
}

func loadMemoryConfig() (MemoryConfig, error) {
	useS3, err := parseBoolEnv("USE_S3", false)
	if err != nil {
		return MemoryConfig{}, err
	}

	bucket := strings.TrimSpace(os.Getenv("S3_MEMORY_BUCKET"))
	if useS3 && bucket == "" {
		return MemoryConfig{}, fmt.Errorf("USE_S3 is set but S3_MEMORY_BUCKET is empty")
	}

	return MemoryConfig{
		UseS3:     useS3,
		S3Bucket:  bucket,
		AWSRegion: getEnvOrDefault("AWS_REGION", "us-east-1"),
		LocalDir:  getEnvOrDefault("MEMORY_DIR", "memory"),
	}, nil
}

// ProfileConfig points at the resume document backing the persona.
type ProfileConfig struct {
	ResumePath string
}

func loadProfileConfig() ProfileConfig {
	return ProfileConfig{
		ResumePath: getEnvOrDefault("RESUME_PATH", "resume.pdf"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
