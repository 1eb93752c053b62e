package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	AppEnv        string
	HTTPAddr      string
	RedisAddr     string
	RedisPassword string
	DataDir       string
	DatabasePath  string

	// AutomationDriver is "playwright" or "http".
	AutomationDriver string
	HeuristicsFile   string
	CaptchaAPIKey    string

	SubmissionConcurrency int
	AttemptTimeout        time.Duration
	ShutdownGrace         time.Duration
	StaleGrace            time.Duration

	SweepInterval     time.Duration
	VerifyConcurrency int

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string

	TaskMaxRetries    int
	WorkerConcurrency int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func Load() Config {
	dataDir := getenv("DATA_DIR", "./data")
	return Config{
		AppEnv:        getenv("APP_ENV", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8081"),
		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		DataDir:       dataDir,
		DatabasePath:  getenv("DATABASE_PATH", filepath.Join(dataDir, "submissions.db")),

		AutomationDriver: getenv("AUTOMATION_DRIVER", "playwright"),
		HeuristicsFile:   os.Getenv("HEURISTICS_FILE"),
		CaptchaAPIKey:    os.Getenv("CAPTCHA_API_KEY"),

		SubmissionConcurrency: getenvInt("SUBMISSION_CONCURRENCY", 3),
		AttemptTimeout:        getenvDuration("ATTEMPT_TIMEOUT", 3*time.Minute),
		ShutdownGrace:         getenvDuration("SHUTDOWN_GRACE", 30*time.Second),
		StaleGrace:            getenvDuration("STALE_GRACE", 15*time.Minute),

		SweepInterval:     getenvDuration("SWEEP_INTERVAL", 7*24*time.Hour),
		VerifyConcurrency: getenvInt("VERIFY_CONCURRENCY", 2),

		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:     getenv("SUPABASE_STORAGE_BUCKET", "evidence"),

		TaskMaxRetries:    getenvInt("TASK_MAX_RETRIES", 0),
		WorkerConcurrency: getenvInt("WORKER_CONCURRENCY", 4),
	}
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("DATABASE_PATH is required"))
	}
	switch c.AutomationDriver {
	case "playwright", "http":
	default:
		errs = append(errs, fmt.Errorf("AUTOMATION_DRIVER must be playwright or http, got %q", c.AutomationDriver))
	}
	counts := []struct {
		name string
		n    int
	}{
		{"SUBMISSION_CONCURRENCY", c.SubmissionConcurrency},
		{"VERIFY_CONCURRENCY", c.VerifyConcurrency},
		{"WORKER_CONCURRENCY", c.WorkerConcurrency},
	}
	for _, n := range counts {
		if n.n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", n.name))
		}
	}
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"ATTEMPT_TIMEOUT", c.AttemptTimeout},
		{"SHUTDOWN_GRACE", c.ShutdownGrace},
		{"STALE_GRACE", c.StaleGrace},
		{"SWEEP_INTERVAL", c.SweepInterval},
	}
	for _, d := range durations {
		if d.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}
	if c.StaleGrace > 0 && c.StaleGrace <= c.AttemptTimeout {
		errs = append(errs, errors.New("STALE_GRACE must exceed ATTEMPT_TIMEOUT"))
	}
	if c.TaskMaxRetries < 0 {
		errs = append(errs, errors.New("TASK_MAX_RETRIES must not be negative"))
	}
	return errors.Join(errs...)
}
