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
	"google.golang.org/genai"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Gemini  GeminiConfig
	Chat    ChatConfig
	Ark     ArkConfig
	Store   StoreConfig
	Catalog CatalogConfig
	Call    CallConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	ark, err := loadArkConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	call, err := loadCallConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Gemini:  loadGeminiConfig(),
		Chat:    chat,
		Ark:     ark,
		Store:   store,
		Catalog: CatalogConfig{Path: strings.TrimSpace(os.Getenv("PERSONA_CATALOG"))},
		Call:    call,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	RequestTimeout time.Duration
	CORS           bool
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	timeout, err := parseOptionalIntEnv("REQUEST_TIMEOUT_SECONDS")
	if err != nil {
		return ServerConfig{}, err
	}
	requestTimeout := 90 * time.Second
	if timeout != nil && *timeout > 0 {
		requestTimeout = time.Duration(*timeout) * time.Second
	}

	cors, err := parseBoolEnv("CORS_ENABLED", true)
	if err != nil {
		return ServerConfig{}, err
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	addr := ":" + port
	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		addr = port
	}

	return ServerConfig{Addr: addr, RequestTimeout: requestTimeout, CORS: cors}, nil
}

// GeminiConfig 描述 Gemini 接入配置。
type GeminiConfig struct {
	APIKey          string
	ChatModel       string
	ImageModel      string
	SpeechModel     string
	TranscribeModel string
	LiveModel       string
	LiveEndpoint    string
}

// Enabled 表示是否提供了 API Key。
func (c GeminiConfig) Enabled() bool {
	return c.APIKey != ""
}

// NewClient 使用配置创建 genai 客户端。
func (c GeminiConfig) NewClient(ctx context.Context) (*genai.Client, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("gemini api key missing, set GEMINI_API_KEY")
	}
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
}

func loadGeminiConfig() GeminiConfig {
	apiKey := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("API_KEY"))
	}

	return GeminiConfig{
		APIKey:          apiKey,
		ChatModel:       getEnvOrDefault("GEMINI_CHAT_MODEL", "gemini-3-flash-preview"),
		ImageModel:      getEnvOrDefault("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		SpeechModel:     getEnvOrDefault("GEMINI_TTS_MODEL", "gemini-2.5-flash-preview-tts"),
		TranscribeModel: getEnvOrDefault("GEMINI_TRANSCRIBE_MODEL", "gemini-2.5-flash"),
		LiveModel:       getEnvOrDefault("GEMINI_LIVE_MODEL", "gemini-2.5-flash-native-audio-preview-09-2025"),
		LiveEndpoint: getEnvOrDefault("GEMINI_LIVE_ENDPOINT",
			"wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"),
	}
}

// Provider 标识文本回复的后端。
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderArk    Provider = "ark"
)

// ChatConfig 描述文本回复的采样参数。
type ChatConfig struct {
	Provider    Provider
	Temperature float32
	TopP        float32
	MaxTokens   int
}

func loadChatConfig() (ChatConfig, error) {
	provider := Provider(strings.ToLower(getEnvOrDefault("CHAT_PROVIDER", string(ProviderGemini))))
	if provider != ProviderGemini && provider != ProviderArk {
		return ChatConfig{}, fmt.Errorf("invalid CHAT_PROVIDER value: %q", provider)
	}

	cfg := ChatConfig{
		Provider:    provider,
		Temperature: 0.85,
		TopP:        0.95,
		MaxTokens:   1000,
	}

	temperature, err := parseOptionalFloat32Env("CHAT_TEMPERATURE")
	if err != nil {
		return ChatConfig{}, err
	}
	if temperature != nil {
		cfg.Temperature = *temperature
	}

	topP, err := parseOptionalFloat32Env("CHAT_TOP_P")
	if err != nil {
		return ChatConfig{}, err
	}
	if topP != nil {
		cfg.TopP = *topP
	}

	maxTokens, err := parseOptionalIntEnv("CHAT_MAX_TOKENS")
	if err != nil {
		return ChatConfig{}, err
	}
	if maxTokens != nil && *maxTokens > 0 {
		cfg.MaxTokens = *maxTokens
	}

	return cfg, nil
}

// ArkConfig 描述备用的 Ark 模型配置。
type ArkConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string
}

// Enabled 表示是否提供了必需的密钥。
func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例，采样参数由调用方按请求传入。
func (c ArkConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:   c.BaseURL,
		Region:    c.Region,
		APIKey:    c.APIKey,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Model:     c.Model,
	})
}

func loadArkConfig() (ArkConfig, error) {
	modelName := strings.TrimSpace(os.Getenv("ARK_MODEL"))
	if modelName == "" {
		modelName = strings.TrimSpace(os.Getenv("Model"))
	}

	return ArkConfig{
		APIKey:    strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey: strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey: strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:     modelName,
		BaseURL:   getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:    getEnvOrDefault("ARK_REGION", "cn-beijing"),
	}, nil
}

// StoreConfig 描述本地持久化位置。
type StoreConfig struct {
	Dir string
	Key string
}

func loadStoreConfig() (StoreConfig, error) {
	dir := strings.TrimSpace(os.Getenv("DOKI_DATA_DIR"))
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return StoreConfig{}, fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".doki")
	}

	return StoreConfig{
		Dir: dir,
		Key: getEnvOrDefault("DOKI_SESSIONS_KEY", "doki_sessions"),
	}, nil
}

// CatalogConfig 指向可选的角色目录文件。
type CatalogConfig struct {
	Path string
}

// CallConfig 描述实时通话的媒体参数。
type CallConfig struct {
	InputSampleRate  int
	OutputSampleRate int
	OutputChannels   int
	FrameSize        int
	VideoInterval    time.Duration
	VideoWidth       int
	VideoHeight      int
	JPEGQuality      int
}

func loadCallConfig() (CallConfig, error) {
	cfg := CallConfig{
		InputSampleRate:  16000,
		OutputSampleRate: 24000,
		OutputChannels:   1,
		FrameSize:        4096,
		VideoInterval:    time.Second,
		VideoWidth:       320,
		VideoHeight:      240,
		JPEGQuality:      50,
	}

	frameSize, err := parseOptionalIntEnv("CALL_FRAME_SIZE")
	if err != nil {
		return CallConfig{}, err
	}
	if frameSize != nil && *frameSize > 0 {
		cfg.FrameSize = *frameSize
	}

	intervalMs, err := parseOptionalIntEnv("CALL_VIDEO_INTERVAL_MS")
	if err != nil {
		return CallConfig{}, err
	}
	if intervalMs != nil && *intervalMs > 0 {
		cfg.VideoInterval = time.Duration(*intervalMs) * time.Millisecond
	}

	quality, err := parseOptionalIntEnv("CALL_JPEG_QUALITY")
	if err != nil {
		return CallConfig{}, err
	}
	if quality != nil {
		if *quality < 1 || *quality > 100 {
			return CallConfig{}, fmt.Errorf("invalid CALL_JPEG_QUALITY value: %d", *quality)
		}
		cfg.JPEGQuality = *quality
	}

	return cfg, nil
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

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
