package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/modmail/internal/modmail"
)

// directMessageEvent is a platform direct message, already stripped down to
// the fields the engine uses.
type directMessageEvent struct {
	AuthorID    string               `json:"author_id"`
	AuthorName  string               `json:"author_name"`
	Content     string               `json:"content"`
	Attachments []modmail.Attachment `json:"attachments"`
}

func (e directMessageEvent) normalize() modmail.NormalizedMessage {
	return modmail.NormalizedMessage{
		AuthorID:    strings.TrimSpace(e.AuthorID),
		AuthorName:  e.AuthorName,
		Content:     e.Content,
		Attachments: e.Attachments,
	}
}

type channelMessageEvent struct {
	ChannelID string `json:"channel_id"`
	directMessageEvent
}

type queuedResponse struct {
	DeliveryID string `json:"delivery_id"`
}

func (s *Server) receiveDirectMessage(c echo.Context) error {
	var ev directMessageEvent
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid event body")
	}
	msg := ev.normalize()
	if msg.AuthorID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "author_id is required")
	}
	if err := msg.Validate(); err != nil {
		return httpError(c, err)
	}

	if s.queue != nil {
		id, err := s.queue.EnqueueRecipientMessage(c.Request().Context(), msg)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(http.StatusAccepted, queuedResponse{DeliveryID: id})
	}

	res, err := s.engine.DeliverRecipientMessage(c.Request().Context(), msg)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) receiveChannelMessage(c echo.Context) error {
	var ev channelMessageEvent
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid event body")
	}
	channelID := strings.TrimSpace(ev.ChannelID)
	if channelID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel_id is required")
	}
	msg := ev.normalize()
	if err := msg.Validate(); err != nil {
		return httpError(c, err)
	}

	if s.queue != nil {
		id, err := s.queue.EnqueueModeratorReply(c.Request().Context(), channelID, msg)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(http.StatusAccepted, queuedResponse{DeliveryID: id})
	}

	res, err := s.engine.ReplyInChannel(c.Request().Context(), channelID, msg)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}
