// Package server exposes the HTTP API: job submission and polling,
// approval batches, capabilities, usage and tenant administration.
package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentgate/config"
	"agentgate/internal/auth"
	"agentgate/internal/batch"
	"agentgate/internal/capability"
	"agentgate/internal/executor"
	"agentgate/internal/quota"
	"agentgate/internal/store"
)

// Server wires the HTTP layer to the service's components.
type Server struct {
	cfg      config.Config
	store    *store.Store
	registry *capability.Registry
	executor *executor.Executor
	runner   *batch.Runner
	keyring  *auth.Keyring
	quota    *quota.Tracker
	logger   *log.Logger
}

func New(cfg config.Config, st *store.Store, reg *capability.Registry, ex *executor.Executor, runner *batch.Runner, keyring *auth.Keyring, qt *quota.Tracker) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		registry: reg,
		executor: ex,
		runner:   runner,
		keyring:  keyring,
		quota:    qt,
		logger:   log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
	}
}

// Echo builds the configured echo application with all routes.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	if s.cfg.Tools.MaxInputBytes > 0 {
		e.Use(middleware.BodyLimit(fmt.Sprintf("%d", s.cfg.Tools.MaxInputBytes)))
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/v1")

	authed := v1.Group("")
	authed.Use(s.withAPIKey)

	ah := &AgentHandler{Server: s}
	ah.Register(authed.Group("/agent"))

	bh := &BatchesHandler{Server: s}
	bh.Register(authed.Group("/batches"))

	authed.GET("/capabilities", s.listCapabilities)
	authed.GET("/usage", s.tenantUsage)

	admin := v1.Group("/admin")
	admin.Use(s.withAdminKey)
	adh := &AdminHandler{Server: s}
	adh.Register(admin)

	return e
}

// Run starts the HTTP listener and blocks.
func (s *Server) Run() error {
	addr := s.cfg.Server.Address
	if addr == "" {
		addr = ":8080"
	}
	return s.Echo().Start(addr)
}

func (s *Server) listCapabilities(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tools": s.registry.Describe(),
	})
}

func (s *Server) tenantUsage(c echo.Context) error {
	ident := identityFrom(c)
	if ident.Legacy {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"tenant_id": store.LegacyTenant,
			"tracked":   false,
		})
	}
	usage, tools, err := s.quota.Usage(c.Request().Context(), ident.TenantID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, usageResponse(usage, tools, true))
}
