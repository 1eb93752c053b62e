package server

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"dirsubmit/internal/core/business"
	"dirsubmit/internal/core/job"
	"dirsubmit/internal/core/submission"
	"dirsubmit/internal/core/sweep"
	"dirsubmit/internal/health"
	"dirsubmit/internal/platform/store"
)

type Dependencies struct {
	Store      *store.Store
	Job        *job.JobService
	Submission *submission.Service
	Sweep      *sweep.Scheduler
	Health     *health.HealthHandler
	StaleGrace time.Duration
}

func RegisterRoutes(app *fiber.App, d Dependencies) {
	app.Get("/v1/health", health.HealthLimiter(), d.Health.HandleHealth)

	api := app.Group("/v1")

	businessHandler := business.NewHandler(d.Store)
	api.Post("/businesses", businessHandler.HandleCreate)
	api.Get("/businesses/:id", businessHandler.HandleGet)

	submissionHandler := submission.NewHandler(d.Submission, d.Store, d.StaleGrace)
	api.Post("/businesses/:id/directories", submissionHandler.HandleUpload)
	api.Post("/businesses/:id/resume", submissionHandler.HandleResume)
	api.Get("/businesses/:id/submissions", submissionHandler.HandleList)
	api.Get("/submissions/stale", submissionHandler.HandleStale)
	api.Post("/submissions/reap", submissionHandler.HandleReap)
	api.Post("/submissions/retry", submissionHandler.HandleRetry)

	sweepHandler := sweep.NewHandler(d.Sweep, d.Store)
	api.Post("/businesses/:id/check-listings", sweepHandler.HandleCheckBusiness)
	api.Post("/check-listings", sweepHandler.HandleCheckAll)
	api.Put("/sweep/interval", sweepHandler.HandleSetInterval)

	jobHandler := job.NewHandler(d.Job)
	api.Get("/jobs/:jobId", jobHandler.HandleGet)
}
