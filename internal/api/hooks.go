package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/parley/internal/conversation"
	"github.com/parley/internal/deliberation"
	"github.com/parley/pkg/models"
)

type hookPayload struct {
	ConversationID string `json:"conversation_id"`
	Body           string `json:"body"`
	Sender         string `json:"sender"`
	Channel        string `json:"channel"`
}

// handleHook accepts inbound messages pushed by channel adapters. The
// :adapter segment names the channel the message arrived on; the
// payload may override it for adapters that bridge several channels.
func (s *Server) handleHook(c echo.Context) error {
	if !s.hookLimiter(c.Param("adapter")).Allow() {
		return echo.NewHTTPError(http.StatusTooManyRequests, "webhook rate limit exceeded")
	}

	secret := c.Request().Header.Get("X-Parley-Secret")
	if s.hookSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(s.hookSecret)) != 1 {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook secret")
	}

	var payload hookPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid webhook payload")
	}
	if strings.TrimSpace(payload.ConversationID) == "" || strings.TrimSpace(payload.Body) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation_id and body are required")
	}

	channel := payload.Channel
	if channel == "" {
		channel = c.Param("adapter")
	}

	event := models.InboundEvent{
		Body:          payload.Body,
		SourceChannel: channel,
		Sender:        payload.Sender,
		ReceivedAt:    time.Now().UTC(),
	}

	msg, err := s.service.SubmitMessage(c.Request().Context(), payload.ConversationID, event)
	if err != nil {
		var rejection *deliberation.RejectionError
		if errors.As(err, &rejection) {
			return c.JSON(http.StatusUnprocessableEntity, map[string]string{
				"error":      "message rejected",
				"suggestion": rejection.Suggestion,
			})
		}
		if errors.Is(err, conversation.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		log.Error().Err(err).
			Str("adapter", c.Param("adapter")).
			Str("conversation", payload.ConversationID).
			Msg("webhook message submission failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to submit message")
	}

	return c.JSON(http.StatusAccepted, map[string]string{"message_id": msg.ID})
}
