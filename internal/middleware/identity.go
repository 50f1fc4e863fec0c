package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/hotel-reservations/internal/model"
)

// Context keys set by JWTAuth.
const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// ActorFrom returns the authenticated caller.  ok is false on routes
// without JWTAuth.
func ActorFrom(c echo.Context) (model.Actor, bool) {
	id, _ := c.Get(ctxUserID).(string)
	role, _ := c.Get(ctxRole).(string)
	if id == "" || role == "" {
		return model.Actor{}, false
	}
	return model.Actor{ID: id, Role: model.Role(role)}, true
}

// currentUserID is the rate limit identity: the subject, or "anon".
func currentUserID(c echo.Context) string {
	if v, ok := c.Get(ctxUserID).(string); ok && v != "" {
		return v
	}
	return "anon"
}
