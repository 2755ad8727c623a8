package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/parley/internal/conversation"
	"github.com/parley/internal/deliberation"
	"github.com/parley/pkg/models"
)

type createConversationRequest struct {
	Title          string `json:"title"`
	PrimaryChannel string `json:"primary_channel"`
}

type postMessageRequest struct {
	Body    string `json:"body"`
	Channel string `json:"channel"`
	Sender  string `json:"sender"`
}

type attachAgentRequest struct {
	Name      string            `json:"name"`
	Pseudonym string            `json:"pseudonym"`
	Kind      string            `json:"kind"`
	Priority  int               `json:"priority"`
	Intro     string            `json:"intro"`
	Params    map[string]string `json:"params"`
	Trigger   struct {
		Kind           string   `json:"kind"`
		Channels       []string `json:"channels"`
		MinNewMessages int      `json:"min_new_messages"`
		IntervalSecs   int      `json:"interval_secs"`
	} `json:"trigger"`
}

func (s *Server) createConversation(c echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if strings.TrimSpace(req.PrimaryChannel) == "" {
		req.PrimaryChannel = "main"
	}

	conv := &conversation.Conversation{
		ID:             uuid.New().String(),
		Title:          req.Title,
		PrimaryChannel: req.PrimaryChannel,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.Create(c.Request().Context(), conv); err != nil {
		log.Error().Err(err).Msg("failed to create conversation")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create conversation")
	}

	return c.JSON(http.StatusCreated, conv)
}

func (s *Server) getConversation(c echo.Context) error {
	conv, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		log.Error().Err(err).Str("conversation", c.Param("id")).Msg("failed to load conversation")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load conversation")
	}

	return c.JSON(http.StatusOK, conv)
}

func (s *Server) postMessage(c echo.Context) error {
	var req postMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Body) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message body is required")
	}

	event := models.InboundEvent{
		Body:          req.Body,
		SourceChannel: req.Channel,
		Sender:        req.Sender,
		ReceivedAt:    time.Now().UTC(),
	}

	msg, err := s.service.SubmitMessage(c.Request().Context(), c.Param("id"), event)
	if err != nil {
		var rejection *deliberation.RejectionError
		if errors.As(err, &rejection) {
			return c.JSON(http.StatusUnprocessableEntity, map[string]string{
				"error":      "message rejected",
				"agent_id":   rejection.AgentID,
				"suggestion": rejection.Suggestion,
			})
		}
		if errors.Is(err, conversation.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		log.Error().Err(err).Str("conversation", c.Param("id")).Msg("failed to submit message")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to submit message")
	}

	return c.JSON(http.StatusAccepted, msg)
}

func (s *Server) attachAgent(c echo.Context) error {
	var req attachAgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Kind) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent kind is required")
	}
	if _, ok := s.registry.Resolve(req.Kind); !ok {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown agent kind %q", req.Kind))
	}

	agent := conversation.Agent{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Pseudonym: req.Pseudonym,
		Kind:      req.Kind,
		Priority:  req.Priority,
		Intro:     req.Intro,
		Params:    req.Params,
		Active:    true,
		Trigger: conversation.Trigger{
			Kind:           conversation.TriggerKind(req.Trigger.Kind),
			Channels:       req.Trigger.Channels,
			MinNewMessages: req.Trigger.MinNewMessages,
			Interval:       time.Duration(req.Trigger.IntervalSecs) * time.Second,
		},
		AttachedAt: time.Now().UTC(),
	}
	if agent.Trigger.Kind == "" {
		agent.Trigger.Kind = conversation.TriggerPerMessage
	}
	if agent.Pseudonym == "" {
		agent.Pseudonym = agent.Name
	}

	if err := s.service.ActivateAgent(c.Request().Context(), c.Param("id"), agent); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		log.Error().Err(err).Str("conversation", c.Param("id")).Msg("failed to attach agent")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to attach agent")
	}

	return c.JSON(http.StatusCreated, agent)
}

func (s *Server) detachAgent(c echo.Context) error {
	err := s.service.DeactivateAgent(c.Request().Context(), c.Param("id"), c.Param("agentId"))
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation or agent not found")
		}
		log.Error().Err(err).Str("conversation", c.Param("id")).Msg("failed to detach agent")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to detach agent")
	}

	return c.NoContent(http.StatusNoContent)
}
