package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries all recognized environment options.
type Config struct {
	Port string

	// Session storage and defaults
	StoragePath           string
	DefaultSampleRate     int
	DefaultChannels       int
	DefaultFormat         string
	MaxChunkSizeBytes     int64
	MaxSessionDuration    time.Duration
	MaxConcurrentSessions int
	AutoCleanup           bool
	CleanupInterval       time.Duration
	IdleTimeout           time.Duration
	MaxConnsPerSession    int

	// Transcription dispatch
	DispatchWorkers   int
	DispatchQueueSize int
	STTProvider       string // whisper|google|none
	ASREndpoint       string
	ASRAPIKey         string
	ASRLanguage       string
	TranscriptTTL     time.Duration

	// Optional collaborators
	RedisAddr string
	GCSBucket string
	JWTSecret string
}

// Load reads configuration from the environment, applying defaults.
func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		StoragePath:           getEnv("AUDIO_STORAGE_PATH", "/tmp/audio_sessions"),
		DefaultSampleRate:     getEnvInt("DEFAULT_SAMPLE_RATE", 44100),
		DefaultChannels:       getEnvInt("DEFAULT_CHANNELS", 1),
		DefaultFormat:         getEnv("DEFAULT_FORMAT", "wav"),
		MaxChunkSizeBytes:     int64(getEnvInt("MAX_CHUNK_SIZE_BYTES", 10<<20)),
		MaxSessionDuration:    getEnvDuration("MAX_SESSION_DURATION", 4*time.Hour),
		MaxConcurrentSessions: getEnvInt("MAX_CONCURRENT_SESSIONS", 100),
		AutoCleanup:           getEnvBool("AUTO_CLEANUP", true),
		CleanupInterval:       getEnvDuration("CLEANUP_INTERVAL", time.Minute),
		IdleTimeout:           getEnvDuration("WS_IDLE_TIMEOUT", 5*time.Minute),
		MaxConnsPerSession:    getEnvInt("MAX_CONNS_PER_SESSION", 1),

		DispatchWorkers:   getEnvInt("DISPATCH_WORKERS", 3),
		DispatchQueueSize: getEnvInt("DISPATCH_QUEUE_SIZE", 256),
		STTProvider:       getEnv("STT_PROVIDER", "whisper"),
		ASREndpoint:       getEnv("ASR_ENDPOINT", ""),
		ASRAPIKey:         getEnv("ASR_API_KEY", ""),
		ASRLanguage:       getEnv("ASR_LANGUAGE", ""),
		TranscriptTTL:     getEnvDuration("TRANSCRIPT_TTL", 24*time.Hour),

		RedisAddr: getEnv("REDIS_ADDR", ""),
		GCSBucket: getEnv("GCS_BUCKET", ""),
		JWTSecret: getEnv("JWT_SECRET", ""),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
