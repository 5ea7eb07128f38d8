package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/nexariza/voicebot/domain"
	"github.com/nexariza/voicebot/domain/entities"
	"github.com/nexariza/voicebot/internal/auth"
	"github.com/nexariza/voicebot/internal/websocket"
	"github.com/nexariza/voicebot/usecase"
)

const (
	sessionContextKey = "session"

	summaryTimeout = 60 * time.Second
)

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, hub *websocket.Hub, issuer *auth.TokenIssuer, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "nexariza-voicebot",
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")

	v1.POST("/sessions", func(c echo.Context) error {
		return openSession(c, hub, issuer, logger)
	})

	sessions := v1.Group("/sessions/:id", requireSession(hub, issuer, logger))
	sessions.GET("", getSession)
	sessions.DELETE("", func(c echo.Context) error {
		return closeSession(c, hub, logger)
	})
	sessions.GET("/transcript", getTranscript)
	sessions.POST("/messages", submitText)
	sessions.POST("/reset", resetSession)
	sessions.GET("/summary", func(c echo.Context) error {
		return exportSummary(c, logger)
	})
	sessions.PUT("/settings", updateSettings)
	sessions.GET("/voices", getVoices)

	// Browsers cannot set headers on a WebSocket handshake, so the token
	// may also come in the query string
	e.GET("/ws/:id", func(c echo.Context) error {
		return hub.ServeSession(c, c.Param("id"))
	}, requireSession(hub, issuer, logger))
}

// requireSession checks the session token against the :id path parameter
// and loads the session into the request context
func requireSession(hub *websocket.Hub, issuer *auth.TokenIssuer, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c)
			if token == "" {
				logger.Warn("Request rejected: missing token", zap.String("path", c.Path()))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "missing_token",
					Message: "Session token is required",
				})
			}

			claims, err := issuer.Validate(token)
			if err != nil {
				logger.Warn("Request rejected: invalid token", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "Invalid or expired session token",
				})
			}

			sessionID := c.Param("id")
			if claims.SessionID != sessionID {
				logger.Warn("Request rejected: token for another session",
					zap.String("token_session", claims.SessionID),
					zap.String("session", sessionID))
				return c.JSON(http.StatusForbidden, ErrorResponse{
					Error:   "forbidden",
					Message: "Token does not grant access to this session",
				})
			}

			session, err := hub.Session(sessionID)
			if err != nil {
				return c.JSON(http.StatusNotFound, ErrorResponse{
					Error:   "session_not_found",
					Message: "Session not found or expired",
				})
			}

			c.Set(sessionContextKey, session)
			return next(c)
		}
	}
}

func bearerToken(c echo.Context) string {
	authHeader := c.Request().Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return c.QueryParam("token")
}

func sessionFrom(c echo.Context) *usecase.VoiceSession {
	return c.Get(sessionContextKey).(*usecase.VoiceSession)
}

func openSession(c echo.Context, hub *websocket.Hub, issuer *auth.TokenIssuer, logger *zap.Logger) error {
	session, err := hub.OpenSession()
	if err != nil {
		logger.Error("Failed to open session", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "session_failed",
			Message: "Failed to start a consultation",
		})
	}

	token, expiresAt, err := issuer.Issue(session.ID())
	if err != nil {
		logger.Error("Failed to issue session token",
			zap.String("session_id", session.ID()),
			zap.Error(err))
		hub.CloseSession(session.ID())
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate session token",
		})
	}

	return c.JSON(http.StatusCreated, SessionResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Session:   session.Snapshot(),
	})
}

func getSession(c echo.Context) error {
	return c.JSON(http.StatusOK, sessionFrom(c).Snapshot())
}

func closeSession(c echo.Context, hub *websocket.Hub, logger *zap.Logger) error {
	if err := hub.CloseSession(c.Param("id")); err != nil {
		logger.Warn("Failed to close session", zap.Error(err))
		return sessionError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func getTranscript(c echo.Context) error {
	return c.JSON(http.StatusOK, TranscriptResponse{Messages: sessionFrom(c).Messages()})
}

func submitText(c echo.Context) error {
	var req SubmitTextRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	session := sessionFrom(c)
	if err := session.SubmitText(req.Text); err != nil {
		return sessionError(c, err)
	}
	return c.JSON(http.StatusAccepted, session.Snapshot())
}

func resetSession(c echo.Context) error {
	session := sessionFrom(c)
	session.ResetSession()
	return c.JSON(http.StatusOK, session.Snapshot())
}

// exportSummary returns the consultation summary as a downloadable text file
func exportSummary(c echo.Context, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), summaryTimeout)
	defer cancel()

	session := sessionFrom(c)
	summary, err := session.ExportSummary(ctx)
	if err != nil {
		return sessionError(c, err)
	}

	logger.Info("Summary exported", zap.String("session_id", session.ID()))
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", usecase.SummaryFileName(time.Now())))
	return c.String(http.StatusOK, summary)
}

func updateSettings(c echo.Context) error {
	// Fields missing from the body keep their current value
	var update entities.VoiceSettingsUpdate
	if err := c.Bind(&update); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	settings, err := sessionFrom(c).PatchSettings(update)
	if err != nil {
		return sessionError(c, err)
	}
	return c.JSON(http.StatusOK, settings)
}

func getVoices(c echo.Context) error {
	return c.JSON(http.StatusOK, VoicesResponse{Voices: sessionFrom(c).Voices(c.Request().Context())})
}

// sessionError maps session errors to HTTP responses
func sessionError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "session_not_found", Message: err.Error()})
	case errors.Is(err, domain.ErrSessionBusy):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: "session_busy", Message: err.Error()})
	case errors.Is(err, domain.ErrSessionClosed):
		return c.JSON(http.StatusGone, ErrorResponse{Error: "session_closed", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidSettings):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_settings", Message: err.Error()})
	case errors.Is(err, domain.ErrEmptyUtterance):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty_text", Message: err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: err.Error()})
	}
}
