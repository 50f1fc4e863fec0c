package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/hotel-reservations/internal/logger"
)

// RequestContext copies the request id assigned by echo's RequestID
// middleware onto the request context, where loggers and event
// publishers pick it up as the correlation id.
func RequestContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			if id == "" {
				id = c.Request().Header.Get(echo.HeaderXRequestID)
			}
			if id != "" {
				req := c.Request()
				c.SetRequest(req.WithContext(logger.WithRequestID(req.Context(), id)))
			}
			return next(c)
		}
	}
}

// AccessLog writes one line per request.
func AccessLog(log *zap.Logger) echo.MiddlewareFunc {
	log = log.With(zap.String("component", "http"))
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("path", c.Path()),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("latency", time.Since(start)),
				zap.String("remote_ip", c.RealIP()),
			}
			l := logger.WithContext(req.Context(), log)
			switch s := c.Response().Status; {
			case s >= 500:
				l.Error("request", fields...)
			case s >= 400:
				l.Warn("request", fields...)
			default:
				l.Info("request", fields...)
			}
			return nil
		}
	}
}
