package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/hotel-reservations/internal/logger"
	"github.com/iliyamo/hotel-reservations/internal/model"
	"github.com/iliyamo/hotel-reservations/internal/utils"
)

// JWTAuth validates a Bearer access token and stores its subject and role
// in the context ("user_id", "role") and the subject on the request
// context for logging.  Only GUEST, STAFF and ADMIN tokens are accepted.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return deny(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			}
			claims, err := utils.ParseAccessToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				return deny(c, http.StatusUnauthorized, "unauthorized", "invalid token")
			}
			switch model.Role(claims.Role) {
			case model.RoleGuest, model.RoleStaff, model.RoleAdmin:
			default:
				return deny(c, http.StatusUnauthorized, "unauthorized", "unknown role")
			}
			c.Set(ctxUserID, claims.Subject)
			c.Set(ctxRole, claims.Role)
			req := c.Request()
			c.SetRequest(req.WithContext(logger.WithUserID(req.Context(), claims.Subject)))
			return next(c)
		}
	}
}

// deny writes the error envelope used across the API.
func deny(c echo.Context, status int, code, msg string) error {
	return c.JSON(status, echo.Map{
		"success": false,
		"message": msg,
		"error":   echo.Map{"code": code, "message": msg},
	})
}
