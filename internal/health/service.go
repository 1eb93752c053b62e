package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"dirsubmit/internal/core/model"
	"dirsubmit/internal/logger"
)

// Pinger is a dependency with a liveness probe.
type Pinger func(ctx context.Context) error

// StatsSource reports submission counts per status.
type StatsSource interface {
	Stats(ctx context.Context) (map[model.Status]int, error)
}

// HealthHandler handles health check requests
type HealthHandler struct {
	log        *logger.Logger
	components map[string]Pinger
	stats      StatsSource
	startTime  time.Time
	ready      atomic.Bool
}

func NewHealthHandler(components map[string]Pinger, stats StatsSource) *HealthHandler {
	return &HealthHandler{
		log:        logger.New("HealthCheck"),
		components: components,
		stats:      stats,
		startTime:  time.Now(),
	}
}

// SetReady marks the application as ready to receive traffic
func (h *HealthHandler) SetReady() {
	h.ready.Store(true)
	h.log.LogInfof("application ready for traffic after %v", time.Since(h.startTime))
}

// ComponentStatus holds the status of a dependent component
type ComponentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type OverallHealth struct {
	OverallStatus string                     `json:"overall_status"`
	Timestamp     string                     `json:"timestamp"`
	Ready         bool                       `json:"ready"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Components    map[string]ComponentStatus `json:"components"`
	Submissions   map[model.Status]int       `json:"submissions,omitempty"`
}

// HandleHealth responds with the system's health status, including dependencies
func (h *HealthHandler) HandleHealth(c *fiber.Ctx) error {
	startTime := time.Now()
	ctx, cancel := context.WithTimeout(c.Context(), 8*time.Second)
	defer cancel()

	statuses := make(map[string]ComponentStatus, len(h.components))
	var wg sync.WaitGroup
	var mu sync.Mutex
	allOk := true

	for name, check := range h.components {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st := ComponentStatus{Status: "ok"}
			if err := check(ctx); err != nil {
				st = ComponentStatus{Status: "error", Error: err.Error()}
				h.log.Error().Str("component", name).Err(err).Msg("health check failed")
			}
			mu.Lock()
			defer mu.Unlock()
			statuses[name] = st
			if st.Status != "ok" {
				allOk = false
			}
		}()
	}
	wg.Wait()

	response := OverallHealth{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Ready:         h.ready.Load(),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Components:    statuses,
	}
	if h.stats != nil && allOk {
		if counts, err := h.stats.Stats(ctx); err == nil {
			response.Submissions = counts
		}
	}

	switch {
	case allOk && response.Ready:
		response.OverallStatus = "ok"
		h.log.Debug().Dur("took", time.Since(startTime)).Msg("health check ok")
		return c.Status(http.StatusOK).JSON(response)
	case !response.Ready:
		response.OverallStatus = "starting"
		return c.Status(http.StatusServiceUnavailable).JSON(response)
	default:
		response.OverallStatus = "error"
		h.log.LogWarnf("health check failed after %v", time.Since(startTime))
		return c.Status(http.StatusServiceUnavailable).JSON(response)
	}
}

func HealthLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{"success": false, "error": "Rate limit exceeded"})
		},
	})
}
