package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerPort        string
	OpenAIAPIKey      string
	AssistantID       string
	OpenAIBaseURL     string
	OpenAIBeta        string
	LLMTimeout        time.Duration
	PollInterval      time.Duration
	PollTimeout       time.Duration
	MessageLimit      int
	StreamReadAhead   int
	StreamMaxLineSize int
	RedisAddr         string
	RedisPassword     string
	ThreadLockTTL     time.Duration
}

func LoadConfig() *Config {
	return &Config{
		ServerPort:        getEnv("SERVER_PORT", "8080"),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		AssistantID:       getEnv("ASSISTANT_ID", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIBeta:        getEnv("OPENAI_BETA", "assistants=v2"),
		LLMTimeout:        getDuration("LLM_TIMEOUT", 60*time.Second),
		PollInterval:      getDuration("POLL_INTERVAL", 1200*time.Millisecond),
		PollTimeout:       getDuration("POLL_TIMEOUT", 120*time.Second),
		MessageLimit:      getInt("MESSAGE_LIMIT", 5),
		StreamReadAhead:   getInt("STREAM_READ_AHEAD", 16),
		StreamMaxLineSize: getInt("STREAM_MAX_LINE_BYTES", 16*1024*1024), // 0 disables the limit
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		ThreadLockTTL:     getDuration("THREAD_LOCK_TTL", 5*time.Minute),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, fallback.String()))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
