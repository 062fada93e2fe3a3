package config

import (
	"os"
	"strconv"
	"time"
)

// Settings collects the tunables read once at startup. Connection secrets
// stay in the Init* helpers; this is behavior only.
type Settings struct {
	Port         string
	SessionStore string // postgres|mongo

	HistoryLimit int

	RAGTopK              int
	RAGScoreThreshold    *float64
	RAGIncludeHistory    bool
	RAGMaxHistoryQueries int
	RAGMaxConcurrency    int
	RAGMaxContextLength  int

	GeminiModel    string
	EmbeddingModel string

	SessionMaxAge     time.Duration
	RetentionInterval time.Duration
}

func LoadSettings() Settings {
	s := Settings{
		Port:                 envOr("PORT", "8080"),
		SessionStore:         envOr("SESSION_STORE", "postgres"),
		HistoryLimit:         envInt("CHAT_HISTORY_LIMIT", 20),
		RAGTopK:              envInt("RAG_TOP_K", 4),
		RAGIncludeHistory:    envBool("RAG_INCLUDE_HISTORY", true),
		RAGMaxHistoryQueries: envInt("RAG_MAX_HISTORY_QUERIES", 2),
		RAGMaxConcurrency:    envInt("RAG_MAX_CONCURRENCY", 5),
		RAGMaxContextLength:  envInt("RAG_MAX_CONTEXT_LENGTH", 8000),
		GeminiModel:          envOr("GEMINI_MODEL", "gemini-2.0-flash"),
		EmbeddingModel:       envOr("EMBEDDING_MODEL", "text-embedding-004"),
		SessionMaxAge:        envDuration("SESSION_MAX_AGE", 30*24*time.Hour),
		RetentionInterval:    envDuration("RETENTION_INTERVAL", time.Hour),
	}

	if v := os.Getenv("RAG_SCORE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			s.RAGScoreThreshold = &f
		}
	}
	return s
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
