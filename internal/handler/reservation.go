package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/hotel-reservations/internal/model"
	"github.com/iliyamo/hotel-reservations/internal/service"
)

// Reservations is the part of *service.ReservationService the HTTP layer
// uses.
type Reservations interface {
	Quote(ctx context.Context, in service.QuoteInput) (service.QuoteResult, error)
	Create(ctx context.Context, actor model.Actor, in service.CreateInput) (*service.CreateResult, error)
	Get(ctx context.Context, actor model.Actor, id uint64) (*model.Reservation, error)
	GetByCode(ctx context.Context, actor model.Actor, code string) (*model.Reservation, error)
	List(ctx context.Context, actor model.Actor, f model.ReservationFilter) ([]model.Reservation, int64, error)
	Patch(ctx context.Context, actor model.Actor, id uint64, in service.PatchInput) (*model.Reservation, error)
	Confirm(ctx context.Context, actor model.Actor, id uint64) (*model.Reservation, error)
	Cancel(ctx context.Context, actor model.Actor, id uint64, reason string) (*model.Reservation, error)
	CheckIn(ctx context.Context, actor model.Actor, id uint64) (*model.Reservation, error)
	CheckOut(ctx context.Context, actor model.Actor, id uint64) (*model.Reservation, error)
	NoShow(ctx context.Context, actor model.Actor, id uint64) (*model.Reservation, error)
}

// ReservationHandler serves /v1/reservations.  Routes assume JWTAuth ran.
type ReservationHandler struct {
	svc Reservations
	log *zap.Logger
}

func NewReservationHandler(svc Reservations, log *zap.Logger) *ReservationHandler {
	if svc == nil {
		panic("nil reservation service passed to NewReservationHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ReservationHandler{svc: svc, log: log.With(zap.String("component", "reservation_http"))}
}

type quoteRequest struct {
	RoomID    string `json:"room_id"`
	CheckIn   string `json:"check_in"`
	CheckOut  string `json:"check_out"`
	Currency  string `json:"currency"`
	PromoCode string `json:"promo_code"`
}

type createRequest struct {
	GuestID            string `json:"guest_id"`
	RoomID             string `json:"room_id"`
	CheckIn            string `json:"check_in"`
	CheckOut           string `json:"check_out"`
	Adults             *int   `json:"adults"`
	Children           int    `json:"children"`
	Currency           string `json:"currency"`
	PromoCode          string `json:"promo_code"`
	Source             string `json:"source"`
	Notes              string `json:"notes"`
	RequiresPrepayment *bool  `json:"requires_prepayment"`
	PaymentProvider    string `json:"payment_provider"`
}

type patchRequest struct {
	RoomID    *string `json:"room_id"`
	CheckIn   *string `json:"check_in"`
	CheckOut  *string `json:"check_out"`
	Adults    *int    `json:"adults"`
	Children  *int    `json:"children"`
	PromoCode *string `json:"promo_code"`
	Notes     *string `json:"notes"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// parseStay reads the two "YYYY-MM-DD" fields of a request.
func parseStay(checkIn, checkOut string) (time.Time, time.Time, error) {
	in, err := model.ParseDate(checkIn)
	if err != nil {
		return time.Time{}, time.Time{}, &service.Error{Kind: service.KindValidation, Message: "check_in must be YYYY-MM-DD"}
	}
	out, err := model.ParseDate(checkOut)
	if err != nil {
		return time.Time{}, time.Time{}, &service.Error{Kind: service.KindValidation, Message: "check_out must be YYYY-MM-DD"}
	}
	return in, out, nil
}

func parseID(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, &service.Error{Kind: service.KindValidation, Message: "invalid reservation id"}
	}
	return id, nil
}

// Quote handles POST /v1/reservations/quote.
func (h *ReservationHandler) Quote(c echo.Context) error {
	var req quoteRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	in, out, err := parseStay(req.CheckIn, req.CheckOut)
	if err != nil {
		return respondError(c, h.log, err)
	}
	q, err := h.svc.Quote(c.Request().Context(), service.QuoteInput{
		RoomID:    strings.TrimSpace(req.RoomID),
		CheckIn:   in,
		CheckOut:  out,
		Currency:  req.Currency,
		PromoCode: req.PromoCode,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return ok(c, http.StatusOK, "quote calculated", q)
}

// Create handles POST /v1/reservations.
func (h *ReservationHandler) Create(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Adults == nil {
		return badRequest(c, "adults is required")
	}
	in, out, err := parseStay(req.CheckIn, req.CheckOut)
	if err != nil {
		return respondError(c, h.log, err)
	}
	res, err := h.svc.Create(c.Request().Context(), a, service.CreateInput{
		GuestID:            strings.TrimSpace(req.GuestID),
		RoomID:             strings.TrimSpace(req.RoomID),
		CheckIn:            in,
		CheckOut:           out,
		Adults:             *req.Adults,
		Children:           req.Children,
		Currency:           req.Currency,
		PromoCode:          req.PromoCode,
		Source:             req.Source,
		Notes:              req.Notes,
		RequiresPrepayment: req.RequiresPrepayment,
		PaymentProvider:    req.PaymentProvider,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return ok(c, http.StatusCreated, "reservation created", res)
}

// Get handles GET /v1/reservations/:id.
func (h *ReservationHandler) Get(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	id, err := parseID(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	r, err := h.svc.Get(c.Request().Context(), a, id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return ok(c, http.StatusOK, "", r)
}

// GetByCode handles GET /v1/reservations/code/:code.
func (h *ReservationHandler) GetByCode(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	r, err := h.svc.GetByCode(c.Request().Context(), a, c.Param("code"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return ok(c, http.StatusOK, "", r)
}

// List handles GET /v1/reservations with the query parameters status,
// guest_id, room_id, from, to, q, page, limit, sort and order.
func (h *ReservationHandler) List(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	f := model.ReservationFilter{
		Status:  model.ReservationStatus(strings.ToUpper(strings.TrimSpace(c.QueryParam("status")))),
		GuestID: strings.TrimSpace(c.QueryParam("guest_id")),
		RoomID:  strings.TrimSpace(c.QueryParam("room_id")),
		Search:  strings.TrimSpace(c.QueryParam("q")),
		SortBy:  c.QueryParam("sort"),
		SortAsc: strings.EqualFold(c.QueryParam("order"), "asc"),
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		if v := c.QueryParam(p.name); v != "" {
			t, err := model.ParseDate(v)
			if err != nil {
				return badRequest(c, p.name+" must be YYYY-MM-DD")
			}
			*p.dst = &t
		}
	}
	if f.Page, err = queryInt(c, "page", 1); err != nil {
		return badRequest(c, "page must be a number")
	}
	if f.Limit, err = queryInt(c, "limit", 20); err != nil {
		return badRequest(c, "limit must be a number")
	}
	items, total, err := h.svc.List(c.Request().Context(), a, f)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, envelope{
		Success: true,
		Data:    items,
		Meta:    pageMeta{Page: f.Page, Limit: f.Limit, Total: total},
	})
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// Patch handles PATCH /v1/reservations/:id.
func (h *ReservationHandler) Patch(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	id, err := parseID(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	var req patchRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	in := service.PatchInput{
		RoomID:    req.RoomID,
		Adults:    req.Adults,
		Children:  req.Children,
		PromoCode: req.PromoCode,
		Notes:     req.Notes,
	}
	if req.CheckIn != nil {
		t, err := model.ParseDate(*req.CheckIn)
		if err != nil {
			return badRequest(c, "check_in must be YYYY-MM-DD")
		}
		in.CheckIn = &t
	}
	if req.CheckOut != nil {
		t, err := model.ParseDate(*req.CheckOut)
		if err != nil {
			return badRequest(c, "check_out must be YYYY-MM-DD")
		}
		in.CheckOut = &t
	}
	r, err := h.svc.Patch(c.Request().Context(), a, id, in)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return ok(c, http.StatusOK, "reservation updated", r)
}

// Cancel handles POST /v1/reservations/:id/cancel.  The body is optional.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	id, err := parseID(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	var req cancelRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	r, err := h.svc.Cancel(c.Request().Context(), a, id, strings.TrimSpace(req.Reason))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return ok(c, http.StatusOK, "reservation cancelled", r)
}

type lifecycleFunc func(ctx context.Context, actor model.Actor, id uint64) (*model.Reservation, error)

// lifecycle builds the handler of a body-less transition route.
func (h *ReservationHandler) lifecycle(fn lifecycleFunc, msg string) echo.HandlerFunc {
	return func(c echo.Context) error {
		a, err := actor(c)
		if err != nil {
			return respondError(c, h.log, err)
		}
		id, err := parseID(c)
		if err != nil {
			return respondError(c, h.log, err)
		}
		r, err := fn(c.Request().Context(), a, id)
		if err != nil {
			return respondError(c, h.log, err)
		}
		return ok(c, http.StatusOK, msg, r)
	}
}

// Confirm handles POST /v1/reservations/:id/confirm.
func (h *ReservationHandler) Confirm() echo.HandlerFunc {
	return h.lifecycle(h.svc.Confirm, "reservation confirmed")
}

// CheckIn handles POST /v1/reservations/:id/check-in.
func (h *ReservationHandler) CheckIn() echo.HandlerFunc {
	return h.lifecycle(h.svc.CheckIn, "guest checked in")
}

// CheckOut handles POST /v1/reservations/:id/check-out.
func (h *ReservationHandler) CheckOut() echo.HandlerFunc {
	return h.lifecycle(h.svc.CheckOut, "guest checked out")
}

// NoShow handles POST /v1/reservations/:id/no-show.
func (h *ReservationHandler) NoShow() echo.HandlerFunc {
	return h.lifecycle(h.svc.NoShow, "reservation marked as no-show")
}
