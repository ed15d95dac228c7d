package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/simple-session/pkg/config"
	"github.com/tendant/simple-session/pkg/metrics"
	"github.com/tendant/simple-session/pkg/preference"
	"github.com/tendant/simple-session/pkg/provider/inmem"
	"github.com/tendant/simple-session/pkg/ratelimit"
	"github.com/tendant/simple-session/pkg/sessionapi"
	"github.com/tendant/simple-session/pkg/tab"
	"github.com/tendant/simple-session/pkg/utils"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`

	// memory, file or postgres
	PreferenceBackend string `env:"PREFERENCE_BACKEND" env-default:"memory"`
	PreferenceDataDir string `env:"PREFERENCE_DATA_DIR" env-default:"./data"`
	Database          config.DatabaseConfig

	SigningKey  string `env:"PROVIDER_SIGNING_KEY" env-default:"very-secure-session-key"`
	Issuer      string `env:"PROVIDER_ISSUER" env-default:"simple-session"`
	MFADisabled bool   `env:"PROVIDER_MFA_DISABLED" env-default:"false"`
	// DemoUsers are email:password pairs seeded into the in-memory provider
	DemoUsers []string `env:"DEMO_USERS" env-separator:"," env-default:"demo@example.com:password123"`

	APIPrefix string `env:"SESSION_API_PREFIX" env-default:"/api/v1/session"`
}

var preferenceBackends = []string{"memory", "file", "postgres", "postgresql"}

// Validate checks the process settings
func (c Config) Validate() config.ValidationErrors {
	return config.CollectErrors(
		config.RequireOneOf("PREFERENCE_BACKEND", c.PreferenceBackend, preferenceBackends),
		config.RequireNonEmpty("PROVIDER_SIGNING_KEY", c.SigningKey),
		config.RequireNonEmpty("SESSION_API_PREFIX", c.APIPrefix),
	)
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func loadEnvFile() {
	envFile := ".env"
	if execPath, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(candidate); err == nil {
			envFile = candidate
		}
	}

	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		slog.Debug("No .env file found", "path", envFile)
		return
	}

	if err := godotenv.Load(envFile); err != nil {
		slog.Error("Failed to load .env file", "error", err, "path", envFile)
		return
	}
	slog.Info("Configuration loaded from .env file", "path", envFile)
}

func seedProvider(p *inmem.Provider, users []string) error {
	for _, entry := range users {
		email, password, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok || email == "" || password == "" {
			return fmt.Errorf("invalid demo user %q (want email:password)", entry)
		}
		subjectID, err := p.AddUser(email, password, true)
		if err != nil {
			return fmt.Errorf("failed to add demo user %s: %w", email, err)
		}
		slog.Info("Seeded demo user", "email", email, "subject_id", subjectID)
	}
	return nil
}

func newPreferenceRepository(ctx context.Context, cfg Config) (preference.Repository, func(), error) {
	if cfg.PreferenceBackend != "postgres" && cfg.PreferenceBackend != "postgresql" {
		repo, err := preference.NewRepository(cfg.PreferenceBackend, preference.RepositoryConfig{DataDir: cfg.PreferenceDataDir})
		return repo, func() {}, err
	}

	pool, err := pgxpool.New(ctx, cfg.Database.ToDatabaseURL())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := preference.NewPostgresRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return repo, pool.Close, nil
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
	}))
	slog.SetDefault(logger)

	loadEnvFile()

	cfg := Config{}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		slog.Error("Failed to read configuration", "error", err)
		os.Exit(-1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     parseLevel(cfg.LogLevel),
	})))

	sessionConfig := config.NewSessionConfigFromEnv()
	limitConfig := config.NewAttemptLimitConfigFromEnv()
	postureConfig := config.NewPostureConfigFromEnv()
	if err := config.Validate(cfg.Validate, sessionConfig.Validate, limitConfig.Validate, postureConfig.Validate); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(-1)
	}

	clock := utils.SystemClock{}
	idp := inmem.New(
		inmem.WithClock(clock),
		inmem.WithSigningKey(cfg.SigningKey),
		inmem.WithIssuer(cfg.Issuer),
		inmem.WithMFADisabled(cfg.MFADisabled),
	)
	if err := seedProvider(idp, cfg.DemoUsers); err != nil {
		slog.Error("Failed to seed provider", "error", err)
		os.Exit(-1)
	}

	ctx := context.Background()
	repo, closeRepo, err := newPreferenceRepository(ctx, cfg)
	if err != nil {
		slog.Error("Failed to create preference repository", "backend", cfg.PreferenceBackend, "error", err)
		os.Exit(-1)
	}
	defer closeRepo()
	slog.Info("Preference repository ready", "backend", cfg.PreferenceBackend)

	loginLimiter := ratelimit.NewLimiter(limitConfig.LoginMaxAttempts, limitConfig.LoginWindow,
		ratelimit.WithClock(clock), ratelimit.WithCleanupInterval(limitConfig.BucketTTL))
	defer loginLimiter.Close()
	mfaLimiter := ratelimit.NewLimiter(limitConfig.MFAMaxAttempts, limitConfig.MFAWindow,
		ratelimit.WithClock(clock), ratelimit.WithCleanupInterval(limitConfig.BucketTTL))
	defer mfaLimiter.Close()

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	collector.WatchLimiter("login", loginLimiter.GetStats)
	collector.WatchLimiter("mfa", mfaLimiter.GetStats)

	registry := tab.NewRegistry(tab.Shared{
		Provider:     idp,
		Preferences:  preference.NewService(repo, clock),
		LoginLimiter: loginLimiter,
		MFALimiter:   mfaLimiter,
		Metrics:      collector,
		Clock:        clock,
		ProbeClient:  &http.Client{Timeout: 5 * time.Second},
		Session:      sessionConfig,
		Posture:      postureConfig,
	})
	defer registry.CloseAll()

	httpLimiter := ratelimit.NewMiddleware(&ratelimit.Config{
		PerIPEnabled:     limitConfig.HTTPEnabled,
		PerIPMaxRequests: limitConfig.HTTPMaxRequests,
		PerIPWindow:      limitConfig.HTTPWindow,
		BucketTTL:        limitConfig.BucketTTL,
		IncludeHeaders:   limitConfig.IncludeHeaders,
	})
	defer httpLimiter.Close()
	collector.WatchLimiter("http", httpLimiter.GetStats)
	slog.Info("Rate limiting configured",
		"login", limitConfig.LoginMaxAttempts, "mfa", limitConfig.MFAMaxAttempts,
		"per_ip", limitConfig.HTTPEnabled)

	server := app.DefaultApp()
	app.RegisterHealthzRoutes(server.R)

	handler := sessionapi.NewHandler(registry, sessionapi.WithRateLimit(httpLimiter))
	server.R.Mount(cfg.APIPrefix, handler.Routes())
	server.R.Handle("/metrics", promhttp.Handler())

	slog.Info("Session API mounted", "prefix", cfg.APIPrefix,
		"idle_timeout", sessionConfig.IdleTimeout, "absolute_timeout", sessionConfig.AbsoluteTimeout)
	server.Run()
}
