package auth

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// defaultRevocationTTL covers tokens whose expiry is unknown.
const defaultRevocationTTL = time.Hour

type revokeTokenRequest struct {
	JTI       string    `json:"jti"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RegisterSessionRoutes mounts logout for any authenticated caller and
// token revocation for admins.
func RegisterSessionRoutes(g *echo.Group, list RevocationList) {
	g.POST("/auth/logout", handleLogout(list))
	g.POST("/auth/revoke", handleRevokeToken(list), RequireRole(RoleAdmin))
}

func handleLogout(list RevocationList) echo.HandlerFunc {
	return func(c echo.Context) error {
		jti, _ := c.Get("jwt_id").(string)
		if jti == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "token has no jti")
		}
		exp, _ := c.Get("jwt_expires_at").(time.Time)
		if exp.IsZero() {
			exp = time.Now().Add(defaultRevocationTTL)
		}
		if err := list.Revoke(c.Request().Context(), jti, exp); err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "revocation store unavailable")
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func handleRevokeToken(list RevocationList) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req revokeTokenRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if req.JTI == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "jti is required")
		}
		if req.ExpiresAt.IsZero() {
			req.ExpiresAt = time.Now().Add(defaultRevocationTTL)
		}
		if err := list.Revoke(c.Request().Context(), req.JTI, req.ExpiresAt); err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "revocation store unavailable")
		}
		return c.NoContent(http.StatusNoContent)
	}
}
