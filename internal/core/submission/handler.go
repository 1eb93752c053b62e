package submission

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"dirsubmit/internal/core/api"
	"dirsubmit/internal/core/model"
	"dirsubmit/internal/utils/parser"
)

// Reader is the read side the handler needs.
type Reader interface {
	GetBusiness(ctx context.Context, id int64) (model.BusinessProfile, error)
	ListSubmissions(ctx context.Context, businessID int64, status model.Status) ([]model.SubmissionRecord, error)
}

type Handler struct {
	service    *Service
	store      Reader
	staleGrace time.Duration
}

func NewHandler(service *Service, store Reader, staleGrace time.Duration) *Handler {
	return &Handler{service: service, store: store, staleGrace: staleGrace}
}

type uploadRequest struct {
	URLs []string `json:"urls"`
}

type listQuery struct {
	Status model.Status `form:"status"`
}

type staleQuery struct {
	Grace time.Duration `form:"grace"`
}

type pairRequest struct {
	BusinessID   int64  `json:"business_id"`
	DirectoryURL string `json:"directory_url"`
}

// HandleUpload accepts a JSON url list or a multipart CSV file and queues a batch.
func (h *Handler) HandleUpload(c *fiber.Ctx) error {
	businessID, err := api.BusinessID(c)
	if err != nil {
		return api.Fail(c, fiber.StatusBadRequest, err.Error())
	}

	var urls []string
	if fh, ferr := c.FormFile("file"); ferr == nil {
		f, err := fh.Open()
		if err != nil {
			return api.Fail(c, fiber.StatusBadRequest, "cannot read file")
		}
		defer f.Close()
		urls, err = readCSVURLs(f)
		if err != nil {
			return api.Fail(c, fiber.StatusBadRequest, err.Error())
		}
	} else {
		var req uploadRequest
		if err := c.BodyParser(&req); err != nil {
			return api.Fail(c, fiber.StatusBadRequest, "invalid body")
		}
		for _, u := range req.URLs {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
	}
	if len(urls) == 0 {
		return api.Fail(c, fiber.StatusBadRequest, "no directory urls provided")
	}

	if _, err := h.store.GetBusiness(c.Context(), businessID); err != nil {
		return api.FailErr(c, err)
	}
	jobID, err := h.service.EnqueueBatch(c.Context(), businessID, urls)
	if err != nil {
		return api.Fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"job_id":  jobID,
		"queued":  len(urls),
		"message": fmt.Sprintf("Processing %d directories in the background", len(urls)),
	})
}

// HandleResume queues every Pending record of the business.
func (h *Handler) HandleResume(c *fiber.Ctx) error {
	businessID, err := api.BusinessID(c)
	if err != nil {
		return api.Fail(c, fiber.StatusBadRequest, err.Error())
	}
	if _, err := h.store.GetBusiness(c.Context(), businessID); err != nil {
		return api.FailErr(c, err)
	}
	pending, err := h.store.ListSubmissions(c.Context(), businessID, model.StatusPending)
	if err != nil {
		return api.FailErr(c, err)
	}
	jobID, err := h.service.EnqueueResume(c.Context(), businessID, len(pending))
	if err != nil {
		return api.Fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"success": true, "job_id": jobID, "queued": len(pending)})
}

// HandleList returns every submission of a business, optionally filtered by ?status=.
func (h *Handler) HandleList(c *fiber.Ctx) error {
	businessID, err := api.BusinessID(c)
	if err != nil {
		return api.Fail(c, fiber.StatusBadRequest, err.Error())
	}
	var q listQuery
	if err := parser.ParseQuery(c, &q); err != nil {
		return api.Fail(c, fiber.StatusBadRequest, err.Error())
	}
	status := q.Status
	if status != "" && !status.Valid() {
		return api.Fail(c, fiber.StatusBadRequest, "unknown status filter")
	}
	if _, err := h.store.GetBusiness(c.Context(), businessID); err != nil {
		return api.FailErr(c, err)
	}
	records, err := h.store.ListSubmissions(c.Context(), businessID, status)
	if err != nil {
		return api.FailErr(c, err)
	}
	if records == nil {
		records = []model.SubmissionRecord{}
	}
	return c.JSON(fiber.Map{"success": true, "business_id": businessID, "statuses": records})
}

// HandleStale reports InProgress records past the stale grace. ?grace=
// overrides the configured grace for this query only.
func (h *Handler) HandleStale(c *fiber.Ctx) error {
	q := staleQuery{Grace: h.staleGrace}
	if err := parser.ParseQuery(c, &q); err != nil || q.Grace <= 0 {
		return api.Fail(c, fiber.StatusBadRequest, "invalid grace")
	}
	stale, err := h.service.Orchestrator().Stale(c.Context(), q.Grace)
	if err != nil {
		return api.FailErr(c, err)
	}
	if stale == nil {
		stale = []model.SubmissionRecord{}
	}
	return c.JSON(fiber.Map{"success": true, "grace": q.Grace.String(), "stale": stale})
}

// HandleReap completes stale records as Error.
func (h *Handler) HandleReap(c *fiber.Ctx) error {
	reaped, err := h.service.Orchestrator().ReapStale(c.Context(), h.staleGrace)
	if err != nil {
		return api.FailErr(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "reaped": len(reaped)})
}

// HandleRetry moves an Error record back to Pending.
func (h *Handler) HandleRetry(c *fiber.Ctx) error {
	var req pairRequest
	if err := c.BodyParser(&req); err != nil {
		return api.Fail(c, fiber.StatusBadRequest, "invalid body")
	}
	url := model.NormalizeURL(req.DirectoryURL)
	if req.BusinessID <= 0 || url == "" {
		return api.Fail(c, fiber.StatusBadRequest, "business_id and directory_url are required")
	}
	rec, err := h.service.Orchestrator().Retry(c.Context(), model.Pair{BusinessID: req.BusinessID, DirectoryURL: url})
	if err != nil {
		return api.FailErr(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "submission": rec})
}

// readCSVURLs returns the non-empty first column of every row. A leading
// header row without a dot in its first cell is skipped.
func readCSVURLs(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var urls []string
	for first := true; ; first = false {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid csv: %w", err)
		}
		if len(row) == 0 {
			continue
		}
		cell := strings.TrimSpace(row[0])
		if cell == "" || (first && !strings.Contains(cell, ".")) {
			continue
		}
		urls = append(urls, cell)
	}
	return urls, nil
}
