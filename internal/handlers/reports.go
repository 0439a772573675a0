package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/voice-recap/internal/storage"
	"github.com/codebuildervaibhav/voice-recap/internal/types"
)

// Reports reads finished session reports.
type Reports interface {
	ListReports(ctx context.Context, limit int) ([]types.Report, error)
	GetReport(ctx context.Context, id string) (types.Report, error)
}

// ReportHandler serves the report history
type ReportHandler struct {
	reports Reports
	logger  *zap.Logger
}

func NewReportHandler(reports Reports, logger *zap.Logger) *ReportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportHandler{reports: reports, logger: logger.With(zap.String("component", "reports"))}
}

// List handles GET /reports
func (h *ReportHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	reports, err := h.reports.ListReports(c.UserContext(), limit)
	if err != nil {
		h.logger.Error("listing reports", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(reports)
}

// Get handles GET /reports/:id
func (h *ReportHandler) Get(c *fiber.Ctx) error {
	report, ok, err := h.lookup(c)
	if !ok {
		return err
	}
	return c.JSON(report)
}

// Transcript handles GET /reports/:id/transcript
func (h *ReportHandler) Transcript(c *fiber.Ctx) error {
	report, ok, err := h.lookup(c)
	if !ok {
		return err
	}
	if report.Transcript == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Report has no transcript"})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(report.Transcript)
}

// lookup loads the report named in the path. When ok is false the error
// response has already been written.
func (h *ReportHandler) lookup(c *fiber.Ctx) (types.Report, bool, error) {
	report, err := h.reports.GetReport(c.UserContext(), c.Params("id"))
	switch {
	case err == nil:
		return report, true, nil
	case errors.Is(err, storage.ErrReportNotFound):
		return types.Report{}, false, c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Report not found"})
	default:
		h.logger.Error("loading report", zap.Error(err))
		return types.Report{}, false, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}
