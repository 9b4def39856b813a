// Package httpapi provides the operational REST surface (§4.11): health,
// stats, session visibility, and CPSK token administration. It runs on its
// own port, separate from the protocol transports, and carries no wire
// protocol semantics of its own.
package httpapi

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lumencanvas/clasp/internal/router"
	"github.com/lumencanvas/clasp/internal/tokenstore"
	"github.com/lumencanvas/clasp/pkg/security"
)

// Server is the Echo-based admin API, mirroring the teacher's APIServer
// shape: one struct holding the dependencies routes need, route
// registration split out, graceful shutdown driven by a context.
type Server struct {
	rt         *router.Router
	validator  *security.CpskValidator
	tokens     *tokenstore.Store
	echo       *echo.Echo
	startedAt  time.Time
}

// New constructs a Server and registers all routes. validator and tokens
// may both be nil when the router runs in Open mode (token endpoints then
// return 501).
func New(rt *router.Router, validator *security.CpskValidator, tokens *tokenstore.Store) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[api] %s %s %d", v.Method, v.URI, v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = jsonErrorHandler

	s := &Server{rt: rt, validator: validator, tokens: tokens, echo: e, startedAt: time.Now()}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/v1/stats", s.handleStats)
	s.echo.GET("/v1/sessions", s.handleSessions)
	s.echo.POST("/v1/tokens", s.handleCreateToken)
	s.echo.DELETE("/v1/tokens/:id", s.handleDeleteToken)
}

// Run starts the Echo server on addr and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) {
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()
	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutCtx); err != nil {
		log.Printf("[api] shutdown: %v", err)
	}
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	UptimeS  float64 `json:"uptime_s"`
	Sessions int     `json:"sessions"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		UptimeS:  time.Since(s.startedAt).Seconds(),
		Sessions: s.rt.SessionCount(),
	})
}

// StatsResponse is the payload for GET /v1/stats, the Go-native analogue
// of the teacher's Room.Stats() call.
type StatsResponse struct {
	Sessions           int    `json:"sessions"`
	AddressesTracked   int    `json:"addresses_tracked"`
	SubscriptionsTotal int    `json:"subscriptions_total"`
	GesturesActive     int    `json:"gestures_active"`
	MessagesRouted     uint64 `json:"messages_routed"`
	ErrorsEmitted      uint64 `json:"errors_emitted"`
}

func (s *Server) handleStats(c echo.Context) error {
	st := s.rt.StatsSnapshot()
	return c.JSON(http.StatusOK, StatsResponse{
		Sessions:           st.Sessions,
		AddressesTracked:   st.AddressesTracked,
		SubscriptionsTotal: st.SubscriptionsTotal,
		GesturesActive:     st.GesturesActive,
		MessagesRouted:     st.MessagesRouted,
		ErrorsEmitted:      st.ErrorsEmitted,
	})
}

// SessionInfo describes one connected session for operational visibility.
// Token values are never exposed here.
type SessionInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Authenticated bool   `json:"authenticated"`
	Subject       string `json:"subject,omitempty"`
	Subscriptions int    `json:"subscriptions"`
	ConnectedAt   string `json:"connected_at"`
}

func (s *Server) handleSessions(c echo.Context) error {
	sessions := s.rt.Sessions()
	out := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionInfo{
			ID:            sess.ID,
			Name:          sess.Name(),
			Authenticated: sess.Authenticated(),
			Subject:       sess.Subject(),
			Subscriptions: len(sess.SubIDs()),
			ConnectedAt:   sess.CreatedAt().UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, out)
}

// CreateTokenRequest is the body for POST /v1/tokens.
type CreateTokenRequest struct {
	Subject   string   `json:"subject"`
	Scopes    []string `json:"scopes"` // "action:pattern" strings, e.g. "write:/lights/**"
	ExpiresInS *int64  `json:"expires_in_s,omitempty"`
}

// CreateTokenResponse is returned once; the token value cannot be retrieved again.
type CreateTokenResponse struct {
	Token   string   `json:"token"`
	Subject string   `json:"subject"`
	Scopes  []string `json:"scopes"`
}

func (s *Server) handleCreateToken(c echo.Context) error {
	if s.validator == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "token administration requires Authenticated security mode")
	}
	var req CreateTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Subject == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "subject is required")
	}

	scopes := make([]security.Scope, 0, len(req.Scopes))
	for _, raw := range req.Scopes {
		scope, err := security.ParseScope(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		scopes = append(scopes, scope)
	}

	token, err := security.GenerateToken()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	info := security.TokenInfo{TokenID: token, Subject: req.Subject, Scopes: scopes}
	if req.ExpiresInS != nil {
		t := time.Now().Add(time.Duration(*req.ExpiresInS) * time.Second)
		info.ExpiresAt = &t
	}

	s.validator.Register(token, info)
	if s.tokens != nil {
		if err := s.tokens.Put(c.Request().Context(), token, info); err != nil {
			log.Printf("[api] persist token: %v", err)
		}
	}

	return c.JSON(http.StatusCreated, CreateTokenResponse{Token: token, Subject: req.Subject, Scopes: req.Scopes})
}

func (s *Server) handleDeleteToken(c echo.Context) error {
	if s.validator == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "token administration requires Authenticated security mode")
	}
	id := c.Param("id")
	existed := s.validator.Revoke(id)
	if s.tokens != nil {
		if _, err := s.tokens.Delete(c.Request().Context(), id); err != nil {
			log.Printf("[api] delete persisted token: %v", err)
		}
	}
	if !existed {
		return echo.NewHTTPError(http.StatusNotFound, "token not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// jsonErrorHandler ensures all error responses have a consistent JSON body.
func jsonErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if !c.Response().Committed {
		if c.Request().Method == http.MethodHead {
			c.NoContent(code) //nolint:errcheck
		} else {
			c.JSON(code, map[string]string{"error": msg}) //nolint:errcheck
		}
	}
}
