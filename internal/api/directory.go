package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type blockRequest struct {
	Reason string `json:"reason"`
}

type snippetRequest struct {
	Content string `json:"content"`
}

func (s *Server) blockRecipient(c echo.Context) error {
	var req blockRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	id := c.Param("id")
	if err := s.directory.Block(c.Request().Context(), id, strings.TrimSpace(req.Reason)); err != nil {
		return httpError(c, err)
	}
	log.Info().
		Str("recipient_id", id).
		Str("operator_id", operatorID(c)).
		Msg("Blocked recipient")
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) unblockRecipient(c echo.Context) error {
	id := c.Param("id")
	if err := s.directory.Unblock(c.Request().Context(), id); err != nil {
		return httpError(c, err)
	}
	log.Info().
		Str("recipient_id", id).
		Str("operator_id", operatorID(c)).
		Msg("Unblocked recipient")
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listSnippets(c echo.Context) error {
	snippets, err := s.directory.ListSnippets(c.Request().Context())
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, snippets)
}

func (s *Server) putSnippet(c echo.Context) error {
	var req snippetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	if err := s.directory.PutSnippet(c.Request().Context(), c.Param("name"), req.Content); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteSnippet(c echo.Context) error {
	if err := s.directory.DeleteSnippet(c.Request().Context(), c.Param("name")); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
