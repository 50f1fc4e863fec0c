package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/hotel-reservations/internal/model"
)

// RequireRole rejects callers whose role (set by JWTAuth) is not one of
// roles with 403.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	allowed := make(map[model.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := ActorFrom(c)
			if !ok || !allowed[actor.Role] {
				return deny(c, http.StatusForbidden, "forbidden", "forbidden")
			}
			return next(c)
		}
	}
}
