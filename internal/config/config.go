package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/mxfan/gemchat/backend/internal/security"
)

// Config aggregates every setting the service reads from the environment.
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Limits  LimitsConfig
	Storage StorageConfig
}

// Load parses the process environment.
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

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Limits: limits, Storage: storage}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Allows passing ":8080" or "127.0.0.1:8080" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the upstream generative-AI provider. The API key lives
// only in the server environment and never reaches clients.
type AIConfig struct {
	APIKey        string
	AccessKey     string
	SecretKey     string
	BaseURL       string
	Region        string
	ChatModel     string
	ChatModels    []string
	ImageModel    string
	ImageModels   []string
	Temperature   *float64
	TopP          *float64
	MaxTokens     *int
	StreamTimeout time.Duration
}

// Enabled reports whether the required credentials were provided.
func (c AIConfig) Enabled() bool {
	return c.ChatModel != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds the upstream chat model from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("upstream credentials missing: provide AI_API_KEY + AI_CHAT_MODEL or an access/secret key pair")
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

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.ChatModel,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("AI_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	timeout := 120 * time.Second
	if override, err := parseOptionalIntEnv("AI_STREAM_TIMEOUT_SECONDS"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return AIConfig{}, fmt.Errorf("AI_STREAM_TIMEOUT_SECONDS must be positive")
		}
		timeout = time.Duration(*override) * time.Second
	}

	return AIConfig{
		APIKey:        strings.TrimSpace(os.Getenv("AI_API_KEY")),
		AccessKey:     strings.TrimSpace(os.Getenv("AI_ACCESS_KEY")),
		SecretKey:     strings.TrimSpace(os.Getenv("AI_SECRET_KEY")),
		BaseURL:       getEnvOrDefault("AI_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:        getEnvOrDefault("AI_REGION", "cn-beijing"),
		ChatModel:     strings.TrimSpace(os.Getenv("AI_CHAT_MODEL")),
		ChatModels:    splitListEnv("AI_CHAT_MODELS"),
		ImageModel:    strings.TrimSpace(os.Getenv("AI_IMAGE_MODEL")),
		ImageModels:   splitListEnv("AI_IMAGE_MODELS"),
		Temperature:   temperature,
		TopP:          topP,
		MaxTokens:     maxTokens,
		StreamTimeout: timeout,
	}, nil
}

// LimitsConfig carries input validation and rate limiting settings.
type LimitsConfig struct {
	Input       security.Limits
	MinInterval time.Duration
}

func loadLimitsConfig() (LimitsConfig, error) {
	limits := security.Limits{}

	if v, err := parseOptionalIntEnv("LIMITS_MAX_MESSAGE_LENGTH"); err != nil {
		return LimitsConfig{}, err
	} else if v != nil {
		limits.MaxMessageRunes = *v
	}

	if v, err := parseOptionalIntEnv("LIMITS_MAX_FILES"); err != nil {
		return LimitsConfig{}, err
	} else if v != nil {
		limits.MaxFiles = *v
	}

	if v, err := parseOptionalIntEnv("LIMITS_MAX_FILE_BYTES"); err != nil {
		return LimitsConfig{}, err
	} else if v != nil {
		limits.MaxFileBytes = int64(*v)
	}

	interval := time.Second
	if v, err := parseOptionalIntEnv("LIMITS_RATE_INTERVAL_MS"); err != nil {
		return LimitsConfig{}, err
	} else if v != nil {
		if *v < 1 {
			return LimitsConfig{}, fmt.Errorf("LIMITS_RATE_INTERVAL_MS must be positive")
		}
		interval = time.Duration(*v) * time.Millisecond
	}

	return LimitsConfig{Input: limits.Normalize(), MinInterval: interval}, nil
}

// StorageConfig locates the session snapshot file.
type StorageConfig struct {
	Path string
}

func loadStorageConfig() (StorageConfig, error) {
	if path := strings.TrimSpace(os.Getenv("STORAGE_PATH")); path != "" {
		return StorageConfig{Path: path}, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return StorageConfig{}, fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return StorageConfig{Path: filepath.Join(home, ".gemchat", "sessions.json")}, nil
}

// splitListEnv parses a comma-separated env value into trimmed non-empty
// entries. An unset or blank variable yields nil.
func splitListEnv(key string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
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
