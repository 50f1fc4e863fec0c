package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/hotel-reservations/internal/logger"
	"github.com/iliyamo/hotel-reservations/internal/middleware"
	"github.com/iliyamo/hotel-reservations/internal/model"
	"github.com/iliyamo/hotel-reservations/internal/service"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type envelope struct {
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	Data    any        `json:"data,omitempty"`
	Meta    any        `json:"meta,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type pageMeta struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

func ok(c echo.Context, status int, msg string, data any) error {
	return c.JSON(status, envelope{Success: true, Message: msg, Data: data})
}

func fail(c echo.Context, status int, code, msg string, details any) error {
	return c.JSON(status, envelope{
		Success: false,
		Message: msg,
		Error:   &errorBody{Code: code, Message: msg, Details: details},
	})
}

func badRequest(c echo.Context, msg string) error {
	return fail(c, http.StatusBadRequest, string(service.KindValidation), msg, nil)
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(k service.Kind) int {
	switch k {
	case service.KindValidation, service.KindInvalidTransition:
		return http.StatusBadRequest
	case service.KindConflict:
		return http.StatusConflict
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindRPCTimeout, service.KindUpstreamUnavailable:
		return http.StatusBadGateway
	case service.KindUnauthorized:
		return http.StatusUnauthorized
	case service.KindForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// respondError writes err in the error envelope.  Internal errors are
// logged and answered with a generic message.
func respondError(c echo.Context, log *zap.Logger, err error) error {
	var se *service.Error
	if !errors.As(err, &se) || se.Kind == service.KindInternal {
		logger.WithContext(c.Request().Context(), log).Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err))
		return fail(c, http.StatusInternalServerError, string(service.KindInternal), "internal server error", nil)
	}
	status := statusFor(se.Kind)
	if status == http.StatusBadGateway {
		logger.WithContext(c.Request().Context(), log).Warn("upstream failure", zap.Error(err))
	}
	return fail(c, status, string(se.Kind), se.Message, se.Details)
}

func actor(c echo.Context) (model.Actor, error) {
	a, found := middleware.ActorFrom(c)
	if !found {
		return model.Actor{}, &service.Error{Kind: service.KindUnauthorized, Message: "unauthorized"}
	}
	return a, nil
}
