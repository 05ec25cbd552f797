package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/modmail/internal/api/auth"
	"github.com/modmail/internal/logging"
	"github.com/modmail/internal/modmail"
)

type openThreadRequest struct {
	RecipientID string `json:"recipient_id"`
}

type replyRequest struct {
	Content     string               `json:"content"`
	Attachments []modmail.Attachment `json:"attachments"`
}

type cannedReplyRequest struct {
	Snippet string `json:"snippet"`
}

// openThread creates a thread on an operator's behalf. Manual creation skips
// the block check.
func (s *Server) openThread(c echo.Context) error {
	var req openThreadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.RecipientID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "recipient_id is required")
	}

	res, err := s.engine.Ensure(c.Request().Context(), req.RecipientID, true)
	if err != nil {
		return httpError(c, err)
	}
	status := http.StatusOK
	if res.Outcome == modmail.EnsureCreated {
		status = http.StatusCreated
		tl := logging.WithThread(log.Logger, *res.Thread)
		tl.Info().
			Str("operator_id", operatorID(c)).
			Msg("Operator opened thread")
	}
	return c.JSON(status, res.Thread)
}

func (s *Server) getThread(c echo.Context) error {
	id, err := threadIDParam(c)
	if err != nil {
		return err
	}
	t, err := s.engine.FindByID(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	if t == nil {
		return echo.NewHTTPError(http.StatusNotFound, "Thread not found")
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) getThreadByChannel(c echo.Context) error {
	t, err := s.engine.FindByChannel(c.Request().Context(), c.Param("channel_id"))
	if err != nil {
		return httpError(c, err)
	}
	if t == nil {
		return echo.NewHTTPError(http.StatusNotFound, "No thread for channel")
	}
	return c.JSON(http.StatusOK, t)
}

// transition adapts a thread-id operation into a handler.
func (s *Server) transition(fn func(ctx context.Context, id int64) (modmail.Thread, error), msg string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := threadIDParam(c)
		if err != nil {
			return err
		}
		t, err := fn(c.Request().Context(), id)
		if err != nil {
			return httpError(c, err)
		}
		tl := logging.WithThread(log.Logger, t)
		tl.Info().
			Str("operator_id", operatorID(c)).
			Msg(msg)
		return c.JSON(http.StatusOK, t)
	}
}

func (s *Server) subscribe(c echo.Context) error {
	id, err := threadIDParam(c)
	if err != nil {
		return err
	}
	t, err := s.engine.Subscribe(c.Request().Context(), id, operatorID(c))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) unsubscribe(c echo.Context) error {
	id, err := threadIDParam(c)
	if err != nil {
		return err
	}
	t, err := s.engine.Unsubscribe(c.Request().Context(), id, operatorID(c))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) reply(c echo.Context) error {
	id, err := threadIDParam(c)
	if err != nil {
		return err
	}
	var req replyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	msg := operatorMessage(c)
	msg.Content = req.Content
	msg.Attachments = req.Attachments

	res, err := s.engine.CreateModeratorInteraction(c.Request().Context(), id, msg)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) cannedReply(c echo.Context) error {
	id, err := threadIDParam(c)
	if err != nil {
		return err
	}
	var req cannedReplyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.Snippet) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "snippet is required")
	}

	res, err := s.engine.CreateCannedReply(c.Request().Context(), id, operatorMessage(c), req.Snippet)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// recipientThreads lists a recipient's latest threads, newest first.
func (s *Server) recipientThreads(c echo.Context) error {
	limit := modmail.DefaultLogLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid limit")
		}
		limit = n
	}
	threads, err := s.directory.ListThreadsForRecipient(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, threads)
}

func operatorID(c echo.Context) string {
	if op := auth.OperatorFrom(c); op != nil {
		return op.ID
	}
	return ""
}

func operatorMessage(c echo.Context) modmail.NormalizedMessage {
	op := auth.OperatorFrom(c)
	if op == nil {
		return modmail.NormalizedMessage{}
	}
	return modmail.NormalizedMessage{AuthorID: op.ID, AuthorName: op.Name}
}
