package app

import (
	"strings"
	"time"

	"github.com/stackclass/backend/internal/platform/logger"
	"github.com/stackclass/backend/internal/utils"
)

type Config struct {
	ServiceName  string
	AllowOrigins []string

	// Secrets for the three caller populations: learners (JWT),
	// operators (basic auth) and webhook senders (HMAC).
	JWTSecretKey  string
	AdminPassword string
	WebhookSecret string

	// RepoRoot holds the learner repositories the git gateway serves;
	// CacheRoot holds the course mirror generations.
	RepoRoot     string
	CacheRoot    string
	CloneBaseURL string

	// Credentials for fetching course repositories from their upstream
	// host. Empty means anonymous fetch.
	UpstreamGitUsername string
	UpstreamGitPassword string

	SyncTimeout    time.Duration
	ResyncInterval time.Duration

	VerifierCommand string
	VerifyTimeout   time.Duration
	PersistTimeout  time.Duration
	PersistAttempts int
	PersistBackoff  time.Duration

	// RedisAddr enables the cross-instance progress bus when set.
	RedisAddr    string
	RedisChannel string
}

func LoadConfig(log *logger.Logger) Config {
	allowOrigins := strings.Split(utils.GetEnv("ALLOW_ORIGINS", "http://localhost:3000", log), ",")
	for i := range allowOrigins {
		allowOrigins[i] = strings.TrimSpace(allowOrigins[i])
	}

	return Config{
		ServiceName:  utils.GetEnv("SERVICE_NAME", "stackclass-backend", log),
		AllowOrigins: allowOrigins,

		JWTSecretKey:  utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log),
		AdminPassword: utils.GetEnv("ADMIN_PASSWORD", "", log),
		WebhookSecret: utils.GetEnv("WEBHOOK_SECRET", "", log),

		RepoRoot:     utils.GetEnv("REPO_ROOT", "/data/repositories", log),
		CacheRoot:    utils.GetEnv("CACHE_ROOT", "/data/cache", log),
		CloneBaseURL: utils.GetEnv("CLONE_BASE_URL", "http://localhost:8080/git", log),

		UpstreamGitUsername: utils.GetEnv("UPSTREAM_GIT_USERNAME", "", log),
		UpstreamGitPassword: utils.GetEnv("UPSTREAM_GIT_PASSWORD", "", log),

		SyncTimeout:    utils.GetEnvAsDuration("SYNC_TIMEOUT", 5*time.Minute, log),
		ResyncInterval: utils.GetEnvAsDuration("RESYNC_INTERVAL", time.Hour, log),

		VerifierCommand: utils.GetEnv("VERIFIER_COMMAND", "", log),
		VerifyTimeout:   utils.GetEnvAsDuration("VERIFY_TIMEOUT", 5*time.Minute, log),
		PersistTimeout:  utils.GetEnvAsDuration("PERSIST_TIMEOUT", 10*time.Second, log),
		PersistAttempts: utils.GetEnvAsInt("PERSIST_ATTEMPTS", 5, log),
		PersistBackoff:  utils.GetEnvAsDuration("PERSIST_BACKOFF", 200*time.Millisecond, log),

		RedisAddr:    utils.GetEnv("REDIS_ADDR", "", log),
		RedisChannel: utils.GetEnv("REDIS_CHANNEL", "progress", log),
	}
}
