package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL     string `yaml:"databaseURL"`
	VectorIndexName string `yaml:"vectorIndexName"`
	EmbeddingDim    int    `yaml:"embeddingDim"`

	OpenAIAPIKey         string  `yaml:"openaiAPIKey"`
	OpenAIBaseURL        string  `yaml:"openaiBaseURL"`
	EmbeddingModel       string  `yaml:"embeddingModel"`
	CompletionModel      string  `yaml:"completionModel"`
	MaxAttempts          int     `yaml:"maxAttempts"`
	RetryBaseDelayMillis int     `yaml:"retryBaseDelayMillis"`
	Temperature          float64 `yaml:"temperature"`

	TopK              int `yaml:"topK"`
	ChunkSizeWords    int `yaml:"chunkSizeWords"`
	EmbeddingsVersion int `yaml:"embeddingsVersion"`
	MaxContextChunks  int `yaml:"maxContextChunks"`
	SyncPageSize      int `yaml:"syncPageSize"`

	RedisAddr        string `yaml:"redisAddr"`
	RedisPassword    string `yaml:"redisPassword"`
	QueueStream      string `yaml:"queueStream"`
	QueueGroup       string `yaml:"queueGroup"`
	QueueConcurrency int    `yaml:"queueConcurrency"`

	RabbitURL        string `yaml:"rabbitURL"`
	ChatMessageQueue string `yaml:"chatMessageQueue"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	OCRBaseURL        string `yaml:"ocrBaseURL"`
	OCRAPIKey         string `yaml:"ocrAPIKey"`
	OCRTimeoutSeconds int    `yaml:"ocrTimeoutSeconds"`

	JWTSecret string `yaml:"jwtSecret"`

	ChatRateLimit         int `yaml:"chatRateLimit"`
	ChatRateWindowSeconds int `yaml:"chatRateWindowSeconds"`
	SyncIntervalSeconds   int `yaml:"syncIntervalSeconds"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *FileConfig) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("GROCERYAI_EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	if v := os.Getenv("GROCERYAI_COMPLETION_MODEL"); v != "" {
		cfg.CompletionModel = v
	}
	if v := os.Getenv("GROCERYAI_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TopK = n
		}
	}
	if v := os.Getenv("GROCERYAI_CHUNK_SIZE_WORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChunkSizeWords = n
		}
	}
	if v := os.Getenv("GROCERYAI_VECTOR_INDEX_NAME"); v != "" {
		cfg.VectorIndexName = v
	}
	if v := os.Getenv("GROCERYAI_EMBEDDINGS_VERSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EmbeddingsVersion = n
		}
	}
	if v := os.Getenv("GROCERYAI_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxAttempts = n
		}
	}
	if v := os.Getenv("GROCERYAI_RETRY_BASE_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryBaseDelayMillis = n
		}
	}
	if v := os.Getenv("GROCERYAI_TEMPERATURE"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Temperature = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		cfg.RabbitURL = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("OCR_BASE_URL"); v != "" {
		cfg.OCRBaseURL = v
	}
	if v := os.Getenv("OCR_API_KEY"); v != "" {
		cfg.OCRAPIKey = v
	}
	if v := os.Getenv("GROCERYAI_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.CompletionModel == "" {
		cfg.CompletionModel = "gpt-4o-mini"
	}
	if cfg.TopK == 0 {
		cfg.TopK = 5
	}
	if cfg.ChunkSizeWords == 0 {
		cfg.ChunkSizeWords = 150
	}
	if cfg.EmbeddingsVersion == 0 {
		cfg.EmbeddingsVersion = 1
	}
	if cfg.MaxContextChunks == 0 {
		cfg.MaxContextChunks = 8
	}
	if cfg.SyncPageSize == 0 {
		cfg.SyncPageSize = 10
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelayMillis == 0 {
		cfg.RetryBaseDelayMillis = 1000
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.QueueStream == "" {
		cfg.QueueStream = "groceryai:embeddings"
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "embedders"
	}
	if cfg.QueueConcurrency == 0 {
		cfg.QueueConcurrency = 1
	}
	if cfg.ChatMessageQueue == "" {
		cfg.ChatMessageQueue = "groceryai.chat.messages"
	}
	if cfg.MinioBucket == "" {
		cfg.MinioBucket = "groceryai-receipts"
	}
	if cfg.OCRTimeoutSeconds == 0 {
		cfg.OCRTimeoutSeconds = 120
	}
	if cfg.ChatRateLimit == 0 {
		cfg.ChatRateLimit = 20
	}
	if cfg.ChatRateWindowSeconds == 0 {
		cfg.ChatRateWindowSeconds = 60
	}
	if cfg.SyncIntervalSeconds == 0 {
		cfg.SyncIntervalSeconds = 300
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.OpenAIAPIKey == "" {
		return errors.New("config: openaiAPIKey is required (set in config.yaml or OPENAI_API_KEY)")
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: jwtSecret is required (set in config.yaml or GROCERYAI_JWT_SECRET)")
	}
	if cfg.TopK < 1 || cfg.TopK > 25 {
		return fmt.Errorf("config: topK must be between 1 and 25, got %d", cfg.TopK)
	}
	if cfg.ChunkSizeWords < 50 || cfg.ChunkSizeWords > 200 {
		return fmt.Errorf("config: chunkSizeWords must be between 50 and 200, got %d", cfg.ChunkSizeWords)
	}
	if cfg.EmbeddingsVersion < 1 {
		return fmt.Errorf("config: embeddingsVersion must be >= 1, got %d", cfg.EmbeddingsVersion)
	}
	if cfg.MaxAttempts < 1 {
		return fmt.Errorf("config: maxAttempts must be >= 1, got %d", cfg.MaxAttempts)
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return fmt.Errorf("config: temperature must be between 0 and 2, got %v", cfg.Temperature)
	}
	return nil
}
