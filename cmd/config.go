package main

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"messenger/internal/repository"
	"messenger/internal/usecase"
)

const (
	backendDynamoDB = "dynamodb"
	backendMemory   = "memory"
)

type config struct {
	Backend           string
	Tables            repository.Tables
	Endpoint          string
	ParamPrefix       string
	ConnectAttempts   int
	ConnectMaxBackoff time.Duration
	LogLevel          string
	Service           usecase.Config
}

// loadConfig reads configuration from the environment. Only the messages
// table is required; the other logical tables default to it.
func loadConfig() config {
	cfg := config{
		Backend:           strings.ToLower(envString("STORE_BACKEND", backendDynamoDB)),
		Endpoint:          envString("DYNAMODB_ENDPOINT", ""),
		ParamPrefix:       envString("PARAM_PREFIX", ""),
		ConnectAttempts:   envInt("CONNECT_ATTEMPTS", 30),
		ConnectMaxBackoff: envDuration("CONNECT_MAX_BACKOFF", 5*time.Second),
		LogLevel:          envString("LOG_LEVEL", "info"),
		Service: usecase.Config{
			DefaultPageLimit:  envInt("DEFAULT_PAGE_LIMIT", 20),
			MaxPageLimit:      envInt("MAX_PAGE_LIMIT", 100),
			MaxContentLength:  envInt("MAX_CONTENT_LENGTH", 4000),
			VisibilityRetries: envInt("VISIBILITY_RETRIES", 3),
			RetryDelay:        envDuration("VISIBILITY_RETRY_DELAY", 50*time.Millisecond),
			FanoutTimeout:     envDuration("FANOUT_TIMEOUT", 5*time.Second),
		},
	}
	if cfg.Backend == backendDynamoDB {
		messages := mustEnv("MESSAGES_TABLE")
		cfg.Tables = repository.Tables{
			Messages:      messages,
			Summaries:     envString("SUMMARIES_TABLE", messages),
			Conversations: envString("CONVERSATIONS_TABLE", messages),
			Lookups:       envString("LOOKUP_TABLE", messages),
			SummaryIndex:  envString("SUMMARY_INDEX", repository.DefaultSummaryIndex),
		}
	}
	return cfg
}

// applyOverrides replaces settings with values found in Parameter Store,
// keyed relative to PARAM_PREFIX.
func (c *config) applyOverrides(params map[string]string) {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(params[key]); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if n, err := strconv.Atoi(strings.TrimSpace(params[key])); err == nil && n > 0 {
			*dst = n
		}
	}
	setString("tables/messages", &c.Tables.Messages)
	setString("tables/summaries", &c.Tables.Summaries)
	setString("tables/conversations", &c.Tables.Conversations)
	setString("tables/lookups", &c.Tables.Lookups)
	setString("tables/summary_index", &c.Tables.SummaryIndex)
	setInt("default_page_limit", &c.Service.DefaultPageLimit)
	setInt("max_page_limit", &c.Service.MaxPageLimit)
	setInt("max_content_length", &c.Service.MaxContentLength)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// newLogger builds the process JSON logger for the given level name.
func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(log)
	return log
}
