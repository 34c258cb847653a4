package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the image sentiment pipeline service.
type Config struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Server configuration
	Port string

	// OpenAI vision configuration
	OpenAIAPIKey string
	OpenAIModel  string
	VisionPrompt string
	VisionDetail string
	MaxRetries   int

	// Sentiment classifier configuration
	ClassifierURL   string
	ClassifierModel string

	// Sentiment split configuration
	GoodnessThreshold float64

	// Request identifiers
	RequestIDLength int

	// Storage domain; resolved image URLs live under this prefix
	StorageBaseURL string

	// Tokens that are swapped for the system-held OpenAI key
	TokenAllowList []string

	// Cross-origin allow-list
	AllowedOrigins []string

	// RabbitMQ configuration
	RabbitMQ RabbitMQConfig

	// Graceful shutdown window
	ShutdownTimeout time.Duration

	// Logging
	LogLevel string
}

// RabbitMQConfig holds dispatch queue settings.
type RabbitMQConfig struct {
	Host       string
	Port       string
	User       string
	Password   string
	Exchange   string
	RoutingKey string
}

// GetAMQPURL builds the AMQP connection URL.
func (c RabbitMQConfig) GetAMQPURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", c.User, c.Password, c.Host, c.Port)
}

// Load loads configuration from environment variables.
func Load() *Config {
	config := &Config{
		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret_app"),
		DBName:     getEnv("DB_NAME", "imagesentiment"),

		// Server defaults
		Port: getEnv("PORT", "8080"),

		// OpenAI defaults
		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4o"),
		VisionPrompt: getEnv("VISION_PROMPT", "Describe this image in detail. Mention every object, the setting and the overall mood, one observation per sentence."),
		VisionDetail: getEnv("VISION_DETAIL", "low"),
		MaxRetries:   getIntEnv("MAX_RETRIES", 3),

		// Classifier defaults
		ClassifierURL:   getEnv("CLASSIFIER_URL", "http://localhost:8090"),
		ClassifierModel: getEnv("CLASSIFIER_MODEL", "distilbert-sst-2"),

		// Sentiment split defaults
		GoodnessThreshold: getFloatEnv("GOODNESS_THRESHOLD", 0.1),

		// Request id defaults
		RequestIDLength: getIntEnv("REQUEST_ID_LENGTH", 8),

		// Storage defaults
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/api/v3/images"),

		// Access defaults
		TokenAllowList: getStringSliceEnv("TOKEN_ALLOW_LIST", ""),
		AllowedOrigins: getStringSliceEnv("ALLOWED_ORIGINS", "http://localhost:3000"),

		// RabbitMQ defaults
		RabbitMQ: RabbitMQConfig{
			Host:       getEnv("RABBITMQ_HOST", "localhost"),
			Port:       getEnv("RABBITMQ_PORT", "5672"),
			User:       getEnv("RABBITMQ_USER", "guest"),
			Password:   getEnv("RABBITMQ_PASSWORD", "guest"),
			Exchange:   getEnv("RABBITMQ_EXCHANGE", "image-sentiment"),
			RoutingKey: getEnv("RABBITMQ_ROUTING_KEY", "analysis.completed"),
		},

		// Shutdown defaults
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		// Logging defaults
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	// The vision call must run at least once.
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}

	return config
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getFloatEnv gets a float environment variable or returns a default value.
func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getStringSliceEnv gets a comma-separated environment variable as a slice.
func getStringSliceEnv(key, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	if value == "" {
		return []string{}
	}

	parts := strings.Split(value, ",")
	var items []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			items = append(items, p)
		}
	}
	return items
}
