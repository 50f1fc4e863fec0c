package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/hotel-reservations/internal/model"
	"github.com/iliyamo/hotel-reservations/internal/service"
)

// Billing is the part of *service.BillingService the HTTP layer uses.
type Billing interface {
	Get(ctx context.Context, ref string) (*model.Billing, error)
	List(ctx context.Context, f model.BillingFilter) ([]model.Billing, int64, error)
	Apply(ctx context.Context, ref string, cmd service.LedgerCommand) (*model.Billing, error)
	ChangeStatus(ctx context.Context, ref string, status model.BillingStatus, note string) (*model.Billing, error)
	Rebuild(ctx context.Context, ref string) (*model.Billing, error)
}

// BillingHandler serves /v1/billing.  Routes assume JWTAuth and a
// STAFF/ADMIN role check ran.
type BillingHandler struct {
	svc Billing
	log *zap.Logger
}

func NewBillingHandler(svc Billing, log *zap.Logger) *BillingHandler {
	if svc == nil {
		panic("nil billing service passed to NewBillingHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BillingHandler{svc: svc, log: log.With(zap.String("component", "billing_http"))}
}

type ledgerRequest struct {
	Amount json.RawMessage `json:"amount"`
	Note   string          `json:"note"`
}

type statusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

var errAmount = errors.New("amount must be a decimal with at most two fractional digits")

// parseAmount converts a major-unit amount, given as a JSON number or
// string such as "12.5", into cents.
func parseAmount(raw json.RawMessage) (int64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, errAmount
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, errAmount
		}
		s = strings.TrimSpace(s)
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 || strings.Trim(whole+frac, "0123456789") != "" {
		return 0, errAmount
	}
	frac += strings.Repeat("0", 2-len(frac))
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w > math.MaxInt64/100 {
		return 0, errAmount
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, errAmount
	}
	cents := w*100 + f
	if neg {
		cents = -cents
	}
	return cents, nil
}

// List handles GET /v1/billing.
func (h *BillingHandler) List(c echo.Context) error {
	f := model.BillingFilter{
		GuestID: strings.TrimSpace(c.QueryParam("guest_id")),
		Status:  model.BillingStatus(strings.ToLower(strings.TrimSpace(c.QueryParam("status")))),
	}
	if v := c.QueryParam("reservation_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return badRequest(c, "reservation_id must be a number")
		}
		f.ReservationID = id
	}
	var err error
	if f.Page, err = queryInt(c, "page", 1); err != nil {
		return badRequest(c, "page must be a number")
	}
	if f.Limit, err = queryInt(c, "limit", 20); err != nil {
		return badRequest(c, "limit must be a number")
	}
	items, total, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, envelope{
		Success: true,
		Data:    items,
		Meta:    pageMeta{Page: f.Page, Limit: f.Limit, Total: total},
	})
}

// Get handles GET /v1/billing/:ref.
func (h *BillingHandler) Get(c echo.Context) error {
	b, err := h.svc.Get(c.Request().Context(), c.Param("ref"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return ok(c, http.StatusOK, "", b)
}

// Ledger returns the handler appending an entry of type t, used for
// POST /v1/billing/:ref/{charges,credits,refunds,adjustments}.
func (h *BillingHandler) Ledger(t model.EntryType) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req ledgerRequest
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		cents, err := parseAmount(req.Amount)
		if err != nil {
			return badRequest(c, err.Error())
		}
		b, err := h.svc.Apply(c.Request().Context(), c.Param("ref"), service.LedgerCommand{
			Type:        t,
			AmountCents: cents,
			Note:        strings.TrimSpace(req.Note),
		})
		if err != nil {
			return respondError(c, h.log, err)
		}
		return ok(c, http.StatusCreated, string(t)+" recorded", b)
	}
}

// ChangeStatus handles POST /v1/billing/:ref/status.
func (h *BillingHandler) ChangeStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	status := model.BillingStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	b, err := h.svc.ChangeStatus(c.Request().Context(), c.Param("ref"), status, strings.TrimSpace(req.Note))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return ok(c, http.StatusOK, "status changed", b)
}

// Rebuild handles POST /v1/billing/:ref/rebuild.
func (h *BillingHandler) Rebuild(c echo.Context) error {
	b, err := h.svc.Rebuild(c.Request().Context(), c.Param("ref"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return ok(c, http.StatusOK, "ledger replayed", b)
}
