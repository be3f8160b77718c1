package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/lifeline/internal/dispatch"
	"github.com/zulandar/lifeline/internal/ledger"
	"github.com/zulandar/lifeline/internal/models"
)

// registerRoutes sets up all lifeline routes on the Gin router.
func registerRoutes(router *gin.Engine, a *api) {
	g := router.Group("/api")

	g.GET("/health", handleHealth())
	g.GET("/calls/ws", a.handleCall)

	g.GET("/sessions", a.handleSessionList)
	g.GET("/sessions/active", a.handleSessionActive)
	g.GET("/sessions/:id", a.handleSessionDetail)
	g.GET("/sessions/:id/transcript", a.handleTranscript)
	g.POST("/sessions/:id/transcript", a.handleTranscriptAppend)

	g.GET("/callers", a.handleCallerList)
	g.GET("/callers/:id", a.handleCallerDetail)
	g.GET("/locations", a.handleLocationList)

	g.GET("/dispatches", a.handleDispatchList)
	g.GET("/dispatches/active", a.handleDispatchActive)

	g.GET("/responders/available", a.handleAvailableResponders)
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (a *api) handleSessionList(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		a.fail(c, http.StatusBadRequest, err)
		return
	}
	sessions, err := a.ledger.List(c.Request.Context(), ledger.ListFilters{
		Status:        strings.ToUpper(c.Query("status")),
		City:          c.Query("city"),
		District:      c.Query("district"),
		EmergencyType: c.Query("emergency_type"),
		Limit:         limit,
	})
	if err != nil {
		a.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

func (a *api) handleSessionActive(c *gin.Context) {
	sessions, err := a.ledger.Active(c.Request.Context())
	if err != nil {
		a.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

func (a *api) handleSessionDetail(c *gin.Context) {
	s, err := a.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (a *api) handleTranscript(c *gin.Context) {
	entries, err := a.ledger.Transcript(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

type appendRequest struct {
	SpeakerType string `json:"speaker_type"`
	Content     string `json:"content"`
}

func (a *api) handleTranscriptAppend(c *gin.Context) {
	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	speaker := strings.ToUpper(strings.TrimSpace(req.SpeakerType))
	if !models.IsSpeakerType(speaker) {
		a.fail(c, http.StatusBadRequest, fmt.Errorf("speaker_type must be CALLER, AGENT or SYSTEM"))
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		a.fail(c, http.StatusBadRequest, fmt.Errorf("content is required"))
		return
	}

	entry, err := a.ledger.AppendTranscript(c.Request.Context(), c.Param("id"), speaker, req.Content)
	if err != nil {
		a.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (a *api) handleCallerList(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		a.fail(c, http.StatusBadRequest, err)
		return
	}
	callers, err := a.ledger.Callers(c.Request.Context(), limit)
	if err != nil {
		a.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"callers": callers, "count": len(callers)})
}

func (a *api) handleCallerDetail(c *gin.Context) {
	caller, err := a.ledger.Caller(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, caller)
}

func (a *api) handleLocationList(c *gin.Context) {
	locations, err := a.ledger.Locations(c.Request.Context(), c.Query("kind"))
	if err != nil {
		a.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"locations": locations, "count": len(locations)})
}

func (a *api) handleDispatchList(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		a.fail(c, http.StatusBadRequest, err)
		return
	}
	dispatches, err := a.dispatcher.List(c.Request.Context(), dispatch.ListFilters{
		SessionID: c.Query("session_id"),
		Status:    c.Query("status"),
		Limit:     limit,
	})
	if err != nil {
		a.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispatches": dispatches, "count": len(dispatches)})
}

func (a *api) handleDispatchActive(c *gin.Context) {
	dispatches, err := a.dispatcher.Active(c.Request.Context())
	if err != nil {
		a.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispatches": dispatches, "count": len(dispatches)})
}

func (a *api) handleAvailableResponders(c *gin.Context) {
	responders, err := a.dispatcher.AvailableResponders(c.Request.Context(), c.Query("type"))
	if err != nil {
		a.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"responders": responders, "count": len(responders)})
}

func queryLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer, got %q", raw)
	}
	return n, nil
}

func statusFor(err error) int {
	if errors.Is(err, ledger.ErrSessionNotFound) || errors.Is(err, ledger.ErrCallerNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (a *api) fail(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		a.log.WithField("path", c.Request.URL.Path).WithError(err).Error("server: request error")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
