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

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Live   LiveConfig
	Hint   HintConfig
	CORS   CORSConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	live, err := loadLiveConfig()
	if err != nil {
		return nil, err
	}

	hint, err := loadHintConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Live: live, Hint: hint, CORS: loadCORSConfig()}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述提示服务使用的大模型配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
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
	if c.MaxTokens != nil {
		val := *c.MaxTokens
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

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(getEnvOrDefault("ARK_MODEL", os.Getenv("Model"))),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// 上游模式
const (
	UpstreamStub   = "stub"
	UpstreamRemote = "remote"
)

// LiveConfig 描述实时会话与上游服务配置。
type LiveConfig struct {
	APIKey           string
	URL              string
	Model            string
	Modalities       []string
	Mode             string
	Cooldown         time.Duration
	HandshakeTimeout time.Duration
	ResponseTimeout  time.Duration
	ReceiveTimeout   time.Duration
	VoiceCatalogPath string
	HistoryLimit     int
}

// Remote 表示是否连接真实上游。
func (c LiveConfig) Remote() bool {
	return c.Mode == UpstreamRemote
}

func loadLiveConfig() (LiveConfig, error) {
	cooldownMS := 2000
	if override, err := parseOptionalIntEnv("LIVE_COOLDOWN_MS"); err != nil {
		return LiveConfig{}, err
	} else if override != nil {
		if *override < 0 {
			return LiveConfig{}, fmt.Errorf("invalid LIVE_COOLDOWN_MS value %d: must not be negative", *override)
		}
		cooldownMS = *override
	}

	handshake, err := parseDurationEnv("LIVE_HANDSHAKE_TIMEOUT", 15*time.Second)
	if err != nil {
		return LiveConfig{}, err
	}
	response, err := parseDurationEnv("LIVE_RESPONSE_TIMEOUT", 30*time.Second)
	if err != nil {
		return LiveConfig{}, err
	}
	receive, err := parseDurationEnv("LIVE_RECEIVE_TIMEOUT", 30*time.Second)
	if err != nil {
		return LiveConfig{}, err
	}

	historyLimit := 50
	if override, err := parseOptionalIntEnv("LIVE_HISTORY_LIMIT"); err != nil {
		return LiveConfig{}, err
	} else if override != nil && *override > 0 {
		historyLimit = *override
	}

	cfg := LiveConfig{
		APIKey:           strings.TrimSpace(os.Getenv("LIVE_API_KEY")),
		URL:              strings.TrimSpace(os.Getenv("LIVE_WS_URL")),
		Model:            getEnvOrDefault("LIVE_MODEL", "live-coach-audio"),
		Modalities:       splitList(getEnvOrDefault("LIVE_RESPONSE_MODALITY", "AUDIO")),
		Mode:             strings.ToLower(strings.TrimSpace(os.Getenv("LIVE_UPSTREAM_MODE"))),
		Cooldown:         time.Duration(cooldownMS) * time.Millisecond,
		HandshakeTimeout: handshake,
		ResponseTimeout:  response,
		ReceiveTimeout:   receive,
		VoiceCatalogPath: strings.TrimSpace(os.Getenv("VOICE_CATALOG_PATH")),
		HistoryLimit:     historyLimit,
	}

	switch cfg.Mode {
	case "":
		// 未显式指定时，提供了上游地址即视为 remote
		if cfg.URL != "" {
			cfg.Mode = UpstreamRemote
		} else {
			cfg.Mode = UpstreamStub
		}
	case UpstreamStub, UpstreamRemote:
	default:
		return LiveConfig{}, fmt.Errorf("invalid LIVE_UPSTREAM_MODE value %q", cfg.Mode)
	}

	if cfg.Remote() && cfg.URL == "" {
		return LiveConfig{}, fmt.Errorf("LIVE_WS_URL is required when LIVE_UPSTREAM_MODE=remote")
	}

	return cfg, nil
}

// HintConfig 提示接口的限流配置。
type HintConfig struct {
	RateLimit int
	Window    time.Duration
	MaxWait   time.Duration
}

func loadHintConfig() (HintConfig, error) {
	limit := 10
	if override, err := parseOptionalIntEnv("HINT_RATE_LIMIT"); err != nil {
		return HintConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return HintConfig{}, fmt.Errorf("invalid HINT_RATE_LIMIT value %d: must be positive", *override)
		}
		limit = *override
	}

	window, err := parseDurationEnv("HINT_RATE_WINDOW", time.Minute)
	if err != nil {
		return HintConfig{}, err
	}
	maxWait, err := parseDurationEnv("HINT_MAX_WAIT", 5*time.Second)
	if err != nil {
		return HintConfig{}, err
	}

	return HintConfig{RateLimit: limit, Window: window, MaxWait: maxWait}, nil
}

// CORSConfig 允许的跨域来源，为空表示全部放行。
type CORSConfig struct {
	AllowedOrigins []string
}

func loadCORSConfig() CORSConfig {
	return CORSConfig{AllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))}
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

// parseDurationEnv 接受 "30s" 这类 Go duration，或纯数字（按秒）
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
		}
		return time.Duration(secs) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
