package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"agentgate/internal/auth"
	"agentgate/internal/quota"
)

const identityKey = "agentgate.identity"

func identityFrom(c echo.Context) auth.Identity {
	if v, ok := c.Get(identityKey).(auth.Identity); ok {
		return v
	}
	return auth.Identity{}
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return c.Request().Header.Get("X-API-Key")
}

// withAPIKey authenticates the caller and admits the request against
// the tenant's daily request quota.
func (s *Server) withAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing API key")
		}
		ident, err := s.keyring.Resolve(c.Request().Context(), token)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid API key")
		}
		if err := s.quota.AdmitRequest(c.Request().Context(), ident.TenantID); err != nil {
			if quota.IsExceeded(err) {
				return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
			}
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		c.Set(identityKey, ident)
		return next(c)
	}
}

func (s *Server) withAdminKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.Server.AdminKey == "" {
			return echo.NewHTTPError(http.StatusForbidden, "admin API disabled")
		}
		token := c.Request().Header.Get("X-Admin-Key")
		if token == "" {
			token = bearerToken(c)
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Server.AdminKey)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid admin key")
		}
		return next(c)
	}
}
