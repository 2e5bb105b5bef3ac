// Package api exposes the chat pipeline over HTTP.
package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/vieroc/vieroc-backend/internal/pipeline"
)

// userRefNamespace anchors the deterministic mapping from free-form user ids
// to UUIDs, so the same external id always lands on the same customer row.
var userRefNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// userRef maps an external user id to a stable UUID. Ids that already are
// UUIDs pass through unchanged.
func userRef(id string) uuid.UUID {
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed
	}
	return uuid.NewSHA1(userRefNamespace, []byte(id))
}

// Chat runs one pipeline pass over an inbound message
func Chat(deps *Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			SessionID string `json:"session_id"`
			UserID    string `json:"user_id"`
			Message   string `json:"message"`
			Language  string `json:"language"`
		}

		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
		if req.Message == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "message is required",
			})
		}
		if req.UserID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "user_id is required",
			})
		}
		if req.SessionID == "" {
			req.SessionID = uuid.New().String()
		} else if _, err := uuid.Parse(req.SessionID); err != nil {
			// The durable session key is a UUID column; fold free-form ids
			// the same way user ids are folded.
			req.SessionID = uuid.NewSHA1(userRefNamespace, []byte(req.SessionID)).String()
		}
		if req.Language == "" {
			req.Language = "vi"
		}

		manager, release := deps.Managers.Acquire(req.SessionID, userRef(req.UserID))
		defer release()

		resp := deps.Orchestrator.HandleMessage(c.Context(), manager, pipeline.Request{
			ConversationID: req.SessionID,
			UserID:         req.UserID,
			Message:        req.Message,
			Language:       req.Language,
		})

		return c.JSON(fiber.Map{
			"session_id": req.SessionID,
			"response":   resp,
		})
	}
}

// GetSession returns the durable session record
func GetSession(deps *Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessionID := c.Params("id")

		session, err := deps.Sessions.Get(c.Context(), sessionID)
		if err != nil {
			deps.Logger.WithError(err).WithField("session_id", sessionID).Error("failed to load session")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load session",
			})
		}
		if session == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Session not found",
			})
		}

		return c.JSON(session)
	}
}

// GetSessionMessages returns the newest archived turns for a session
func GetSessionMessages(deps *Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessionID := c.Params("id")
		limit := c.QueryInt("limit", 50)
		if limit <= 0 || limit > 200 {
			limit = 50
		}

		turns, err := deps.Turns.ListLastN(c.Context(), sessionID, limit)
		if err != nil {
			deps.Logger.WithError(err).WithField("session_id", sessionID).Error("failed to load messages")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load messages",
			})
		}

		return c.JSON(fiber.Map{
			"messages": turns,
		})
	}
}
