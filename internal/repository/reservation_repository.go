package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/hotel-reservations/internal/model"
)

// ReservationRepo persists reservations.  Writes that must not race with
// other bookings of the same room go through RunInRoom, which serializes
// them on room_locks rows; every method called with the context RunInRoom
// hands out joins its transaction.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = `id, code, guest_id, room_id, check_in, check_out, nights, adults, children,
	currency, base_rate_cents, subtotal_cents, discount_cents, taxes_cents, fees_cents, total_cents,
	promo_code, pricing_trace, status, source, notes, guest_email, guest_phone,
	payment_provider, payment_ref, payment_captured, hold_expires_at,
	created_at, updated_at, confirmed_at, cancelled_at, checked_in_at, checked_out_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(s rowScanner) (model.Reservation, error) {
	var r model.Reservation
	var status string
	err := s.Scan(
		&r.ID, &r.Code, &r.GuestID, &r.RoomID, &r.CheckIn, &r.CheckOut, &r.Nights, &r.Adults, &r.Children,
		&r.Currency, &r.BaseRateCents, &r.SubtotalCents, &r.DiscountCents, &r.TaxesCents, &r.FeesCents, &r.TotalCents,
		&r.PromoCode, &r.PricingTrace, &status, &r.Source, &r.Notes, &r.GuestEmail, &r.GuestPhone,
		&r.PaymentProvider, &r.PaymentRef, &r.PaymentCaptured, &r.HoldExpiresAt,
		&r.CreatedAt, &r.UpdatedAt, &r.ConfirmedAt, &r.CancelledAt, &r.CheckedInAt, &r.CheckedOutAt,
	)
	r.Status = model.ReservationStatus(status)
	return r, err
}

// RunInRoom opens a READ COMMITTED transaction, takes an exclusive lock on
// the room_locks row of every room in roomIDs (creating rows on first
// use, always in ascending id order) and runs fn.  The overlap check and
// the write fn performs are therefore atomic with respect to any other
// RunInRoom on the same rooms.  Calls made with a context that already
// carries a transaction run fn directly.
func (r *ReservationRepo) RunInRoom(ctx context.Context, roomIDs []string, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	rooms := sortedUnique(roomIDs)
	return withTx(ctx, r.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx *sql.Tx) error {
		for _, id := range rooms {
			if _, err := tx.ExecContext(ctx, `INSERT IGNORE INTO room_locks (room_id) VALUES (?)`, id); err != nil {
				return fmt.Errorf("room lock row %s: %w", id, err)
			}
			var locked string
			if err := tx.QueryRowContext(ctx, `SELECT room_id FROM room_locks WHERE room_id = ? FOR UPDATE`, id).Scan(&locked); err != nil {
				return fmt.Errorf("lock room %s: %w", id, err)
			}
		}
		return fn(ctx)
	})
}

// FindOverlaps returns every reservation of q.RoomID in one of q.Statuses
// whose stay intersects [q.CheckIn, q.CheckOut).
func (r *ReservationRepo) FindOverlaps(ctx context.Context, q model.OverlapQuery) ([]model.Reservation, error) {
	if len(q.Statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(q.Statuses)), ",")
	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE room_id = ? AND status IN (` + placeholders + `)
		  AND check_in < ? AND check_out > ?`
	args := []any{q.RoomID}
	for _, s := range q.Statuses {
		args = append(args, string(s))
	}
	args = append(args, q.CheckOut, q.CheckIn)
	if q.ExcludeID != 0 {
		query += ` AND id <> ?`
		args = append(args, q.ExcludeID)
	}
	query += ` ORDER BY check_in ASC, id ASC`
	return r.queryList(ctx, query, args...)
}

// Insert stores res and sets its ID.  A code collision yields ErrDuplicate.
func (r *ReservationRepo) Insert(ctx context.Context, res *model.Reservation) error {
	const q = `INSERT INTO reservations (code, guest_id, room_id, check_in, check_out, nights, adults, children,
		currency, base_rate_cents, subtotal_cents, discount_cents, taxes_cents, fees_cents, total_cents,
		promo_code, pricing_trace, status, source, notes, guest_email, guest_phone,
		payment_provider, payment_ref, payment_captured, hold_expires_at,
		created_at, updated_at, confirmed_at, cancelled_at, checked_in_at, checked_out_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := conn(ctx, r.db).ExecContext(ctx, q,
		res.Code, res.GuestID, res.RoomID, res.CheckIn, res.CheckOut, res.Nights, res.Adults, res.Children,
		res.Currency, res.BaseRateCents, res.SubtotalCents, res.DiscountCents, res.TaxesCents, res.FeesCents, res.TotalCents,
		res.PromoCode, res.PricingTrace, string(res.Status), res.Source, res.Notes, res.GuestEmail, res.GuestPhone,
		res.PaymentProvider, res.PaymentRef, res.PaymentCaptured, res.HoldExpiresAt,
		res.CreatedAt, res.UpdatedAt, res.ConfirmedAt, res.CancelledAt, res.CheckedInAt, res.CheckedOutAt,
	)
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	return nil
}

// Update overwrites every mutable column of res.
func (r *ReservationRepo) Update(ctx context.Context, res *model.Reservation) error {
	const q = `UPDATE reservations SET guest_id = ?, room_id = ?, check_in = ?, check_out = ?, nights = ?,
		adults = ?, children = ?, currency = ?, base_rate_cents = ?, subtotal_cents = ?, discount_cents = ?,
		taxes_cents = ?, fees_cents = ?, total_cents = ?, promo_code = ?, pricing_trace = ?, status = ?,
		source = ?, notes = ?, guest_email = ?, guest_phone = ?, payment_provider = ?, payment_ref = ?,
		payment_captured = ?, hold_expires_at = ?, updated_at = ?, confirmed_at = ?, cancelled_at = ?,
		checked_in_at = ?, checked_out_at = ?
		WHERE id = ?`
	result, err := conn(ctx, r.db).ExecContext(ctx, q,
		res.GuestID, res.RoomID, res.CheckIn, res.CheckOut, res.Nights,
		res.Adults, res.Children, res.Currency, res.BaseRateCents, res.SubtotalCents, res.DiscountCents,
		res.TaxesCents, res.FeesCents, res.TotalCents, res.PromoCode, res.PricingTrace, string(res.Status),
		res.Source, res.Notes, res.GuestEmail, res.GuestPhone, res.PaymentProvider, res.PaymentRef,
		res.PaymentCaptured, res.HoldExpiresAt, res.UpdatedAt, res.ConfirmedAt, res.CancelledAt,
		res.CheckedInAt, res.CheckedOutAt,
		res.ID,
	)
	if err != nil {
		return err
	}
	// MySQL reports 0 affected rows when nothing changed, so only a
	// missing row is an error.
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		var one int
		if err := conn(ctx, r.db).QueryRowContext(ctx, `SELECT 1 FROM reservations WHERE id = ?`, res.ID).Scan(&one); errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
	}
	return nil
}

// GetByID returns ErrNotFound when no row matches.
func (r *ReservationRepo) GetByID(ctx context.Context, id uint64) (*model.Reservation, error) {
	return r.getOne(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
}

// GetByCode returns ErrNotFound when no row matches.
func (r *ReservationRepo) GetByCode(ctx context.Context, code string) (*model.Reservation, error) {
	return r.getOne(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE code = ?`, code)
}

func (r *ReservationRepo) getOne(ctx context.Context, query string, args ...any) (*model.Reservation, error) {
	res, err := scanReservation(conn(ctx, r.db).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

var reservationSortColumns = map[string]string{
	"created_at":  "created_at",
	"check_in":    "check_in",
	"check_out":   "check_out",
	"total":       "total_cents",
	"total_cents": "total_cents",
	"code":        "code",
	"status":      "status",
}

// buildReservationWhere turns f into a WHERE clause and its arguments.
func buildReservationWhere(f model.ReservationFilter) (string, []any) {
	where := []string{}
	args := []any{}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.GuestID != "" {
		where = append(where, "guest_id = ?")
		args = append(args, f.GuestID)
	}
	if f.RoomID != "" {
		where = append(where, "room_id = ?")
		args = append(args, f.RoomID)
	}
	if f.From != nil {
		where = append(where, "check_out > ?")
		args = append(args, *f.From)
	}
	if f.To != nil {
		where = append(where, "check_in < ?")
		args = append(args, *f.To)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		where = append(where, "(LOWER(code) LIKE ? OR LOWER(notes) LIKE ? OR LOWER(COALESCE(guest_email, '')) LIKE ? OR guest_id = ?)")
		args = append(args, like, like, like, s)
	}
	cond := "1=1"
	if len(where) > 0 {
		cond = strings.Join(where, " AND ")
	}
	return cond, args
}

func reservationOrder(f model.ReservationFilter) string {
	col, ok := reservationSortColumns[strings.ToLower(f.SortBy)]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if f.SortAsc {
		dir = "ASC"
	}
	return col + " " + dir + ", id " + dir
}

// List returns one page of reservations matching f and the total number
// of matches.
func (r *ReservationRepo) List(ctx context.Context, f model.ReservationFilter) ([]model.Reservation, int64, error) {
	cond, args := buildReservationWhere(f)
	var total int64
	if err := conn(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM reservations WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, limit := normalizePage(f.Page, f.Limit)
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE ` + cond +
		` ORDER BY ` + reservationOrder(f) + ` LIMIT ? OFFSET ?`
	argsData := append(append([]any{}, args...), limit, (page-1)*limit)
	out, err := r.queryList(ctx, query, argsData...)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListExpiredHolds returns pending reservations whose payment hold ended
// at or before now, oldest first.
func (r *ReservationRepo) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
		WHERE status = ? AND hold_expires_at IS NOT NULL AND hold_expires_at <= ?
		ORDER BY hold_expires_at ASC LIMIT ?`
	return r.queryList(ctx, query, string(model.StatusPendingPayment), now, limit)
}

func (r *ReservationRepo) queryList(ctx context.Context, query string, args ...any) ([]model.Reservation, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Reservation{}
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// normalizePage clamps page to >= 1 and limit to 1..100 (default 20).
func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
