package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/voice-recap/internal/delivery"
	"github.com/codebuildervaibhav/voice-recap/internal/session"
)

// Sessions is the part of the session manager the command handlers use.
type Sessions interface {
	Start(req session.StartRequest) (*session.Session, error)
	Stop(key string) (*session.Session, error)
	Status() []session.Info
}

// SinkFactory builds the delivery sink for a new session.
type SinkFactory interface {
	ForSession(sessionKey string, target delivery.Target) (delivery.Sink, error)
}

// SessionHandler serves the start, stop and status commands
type SessionHandler struct {
	sessions Sessions
	sinks    SinkFactory
	logger   *zap.Logger
}

// NewSessionHandler creates a new session command handler
func NewSessionHandler(sessions Sessions, sinks SinkFactory, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		sessions: sessions,
		sinks:    sinks,
		logger:   logger.With(zap.String("component", "commands")),
	}
}

// StartRequest represents the optional start body
type StartRequest struct {
	WebhookURL string `json:"webhook_url"`
	Policy     string `json:"policy"`
	Language   string `json:"language"`
}

// Start handles POST /sessions/:key
func (h *SessionHandler) Start(c *fiber.Ctx) error {
	key := c.Params("key")

	var req StartRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
				"code":  "ERR_INVALID_BODY",
			})
		}
	}

	var policy session.Policy
	if strings.TrimSpace(req.Policy) != "" {
		p, err := session.ParsePolicy(req.Policy)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
				"code":  "ERR_INVALID_POLICY",
			})
		}
		policy = p
	}

	sink, err := h.sinks.ForSession(key, delivery.Target{WebhookURL: req.WebhookURL})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "ERR_NO_TARGET",
		})
	}

	s, err := h.sessions.Start(session.StartRequest{
		Key:      key,
		Sink:     sink,
		Policy:   policy,
		Language: req.Language,
	})
	if err != nil {
		_ = sink.Close()
		if errors.Is(err, session.ErrSessionExists) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
				"code":  "ERR_SESSION_EXISTS",
			})
		}
		h.logger.Error("failed to start session", zap.String("session_key", key), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to start session",
			"code":  "ERR_START_FAILED",
		})
	}

	h.logger.Info("session started", zap.String("session_key", key), zap.String("session_id", s.ID()))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"session_id": s.ID(),
		"key":        key,
		"status":     "recording",
		"voice_url":  "/ws/voice/" + key,
	})
}

// Stop handles POST /sessions/:key/stop
func (h *SessionHandler) Stop(c *fiber.Ctx) error {
	key := c.Params("key")
	s, err := h.sessions.Stop(key)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "ERR_NO_SESSION",
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"session_id": s.ID(),
		"key":        key,
		"status":     "finalizing",
	})
}

// Status handles GET /status
func (h *SessionHandler) Status(c *fiber.Ctx) error {
	live := h.sessions.Status()
	return c.JSON(fiber.Map{
		"sessions": len(live),
		"active":   live,
	})
}
