package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/hotel-reservations/internal/model"
)

// BillingRepo persists billing records and their append-only ledgers.
// Ledger rows are only ever inserted; the record's amount_cents column is
// written together with the entries that produced it.
type BillingRepo struct {
	db *sql.DB
}

func NewBillingRepo(db *sql.DB) *BillingRepo { return &BillingRepo{db: db} }

const billingColumns = `id, payment_ref, reservation_id, reservation_code, guest_id, currency, provider,
	status, expected_amount_cents, amount_cents, guest_email, guest_phone, created_at, updated_at`

func scanBilling(s rowScanner) (model.Billing, error) {
	var b model.Billing
	var status string
	err := s.Scan(&b.ID, &b.PaymentRef, &b.ReservationID, &b.ReservationCode, &b.GuestID, &b.Currency, &b.Provider,
		&status, &b.ExpectedAmountCents, &b.AmountCents, &b.GuestEmail, &b.GuestPhone, &b.CreatedAt, &b.UpdatedAt)
	b.Status = model.BillingStatus(status)
	return b, err
}

// Create inserts b and its ledger unless a record with the same payment
// reference exists.  created reports whether this call inserted it.
func (r *BillingRepo) Create(ctx context.Context, b *model.Billing) (bool, error) {
	created := false
	err := withTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const q = `INSERT IGNORE INTO billings (payment_ref, reservation_id, reservation_code, guest_id, currency,
			provider, status, expected_amount_cents, amount_cents, guest_email, guest_phone, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		res, err := tx.ExecContext(ctx, q, b.PaymentRef, b.ReservationID, b.ReservationCode, b.GuestID, b.Currency,
			b.Provider, string(b.Status), b.ExpectedAmountCents, b.AmountCents, b.GuestEmail, b.GuestPhone,
			b.CreatedAt, b.UpdatedAt)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		b.ID = uint64(id)
		if err := insertEntries(ctx, tx, b); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

// Get loads the record for ref with its full ledger.
func (r *BillingRepo) Get(ctx context.Context, ref string) (*model.Billing, error) {
	return r.load(ctx, conn(ctx, r.db), ref, false)
}

func (r *BillingRepo) load(ctx context.Context, q queryer, ref string, forUpdate bool) (*model.Billing, error) {
	query := `SELECT ` + billingColumns + ` FROM billings WHERE payment_ref = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	b, err := scanBilling(q.QueryRowContext(ctx, query, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `SELECT id, billing_id, type, amount_cents, note, external_ref, created_at
		FROM ledger_entries WHERE billing_id = ? ORDER BY id ASC`, b.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	b.Ledger = []model.LedgerEntry{}
	for rows.Next() {
		var e model.LedgerEntry
		var typ string
		if err := rows.Scan(&e.ID, &e.BillingID, &typ, &e.AmountCents, &e.Note, &e.ExternalRef, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = model.EntryType(typ)
		b.Ledger = append(b.Ledger, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Update locks the record for ref, hands it to fn and persists what fn
// did: entries without an ID are inserted, then the header (status,
// running total, contact snapshot) is rewritten.  An error from fn rolls
// everything back.
func (r *BillingRepo) Update(ctx context.Context, ref string, fn func(b *model.Billing) error) (*model.Billing, error) {
	var out *model.Billing
	err := withTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		b, err := r.load(ctx, tx, ref, true)
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
		if err := insertEntries(ctx, tx, b); err != nil {
			return err
		}
		const q = `UPDATE billings SET reservation_code = ?, guest_id = ?, currency = ?, provider = ?, status = ?,
			expected_amount_cents = ?, amount_cents = ?, guest_email = ?, guest_phone = ?, updated_at = ?
			WHERE id = ?`
		if _, err := tx.ExecContext(ctx, q, b.ReservationCode, b.GuestID, b.Currency, b.Provider, string(b.Status),
			b.ExpectedAmountCents, b.AmountCents, b.GuestEmail, b.GuestPhone, b.UpdatedAt, b.ID); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// insertEntries writes the entries of b that have not been stored yet.
func insertEntries(ctx context.Context, tx *sql.Tx, b *model.Billing) error {
	const q = `INSERT INTO ledger_entries (billing_id, type, amount_cents, note, external_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	for i := range b.Ledger {
		e := &b.Ledger[i]
		if e.ID != 0 {
			continue
		}
		e.BillingID = b.ID
		res, err := tx.ExecContext(ctx, q, e.BillingID, string(e.Type), e.AmountCents, e.Note, e.ExternalRef, e.CreatedAt)
		if err != nil {
			if isDuplicate(err) {
				return fmt.Errorf("ledger entry %s/%v: %w", e.Type, deref(e.ExternalRef), ErrDuplicate)
			}
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		e.ID = uint64(id)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// List returns one page of records (without ledgers) and the total count.
func (r *BillingRepo) List(ctx context.Context, f model.BillingFilter) ([]model.Billing, int64, error) {
	where := []string{}
	args := []any{}
	if f.ReservationID != 0 {
		where = append(where, "reservation_id = ?")
		args = append(args, f.ReservationID)
	}
	if f.GuestID != "" {
		where = append(where, "guest_id = ?")
		args = append(args, f.GuestID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	cond := "1=1"
	if len(where) > 0 {
		cond = strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM billings WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, limit := normalizePage(f.Page, f.Limit)
	argsData := append(append([]any{}, args...), limit, (page-1)*limit)
	rows, err := r.db.QueryContext(ctx, `SELECT `+billingColumns+` FROM billings WHERE `+cond+
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, argsData...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []model.Billing{}
	for rows.Next() {
		b, err := scanBilling(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
