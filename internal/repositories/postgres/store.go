package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/bookings/internal/domain"
	"github.com/hanko-field/bookings/internal/repositories"
)

// Store implements repositories.Registry on a *sql.DB.
type Store struct {
	db      *sql.DB
	ceiling int64
}

var _ repositories.Registry = (*Store)(nil)

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("postgres store requires db")
	}
	return &Store{db: db, ceiling: repositories.CounterCeiling}, nil
}

func (s *Store) Close(context.Context) error    { return s.db.Close() }
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Coupons() repositories.CouponRepository   { return couponRepo{s.db} }
func (s *Store) Listings() repositories.ListingRepository { return listingRepo{s.db} }
func (s *Store) Bookings() repositories.BookingRepository { return bookingRepo{s.db} }
func (s *Store) Payments() repositories.PaymentRepository { return paymentRepo{s.db} }
func (s *Store) Ledger() repositories.LedgerRepository    { return ledgerRepo{s.db} }
func (s *Store) Counters() repositories.CounterRepository { return counterRepo{db: s.db, ceiling: s.ceiling} }

type rowScanner interface {
	Scan(dest ...any) error
}

// coupons

const couponColumns = `id, code, discount_type, value, scope, listing_id, valid_from, valid_until,
	usage_limit, used_count, per_customer_limit, min_order_amount, is_active, created_at, updated_at`

type couponRepo struct{ db *sql.DB }

func (r couponRepo) Insert(ctx context.Context, c domain.Coupon) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO coupons (`+couponColumns+`)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		c.ID, c.Code, string(c.DiscountType), c.Value, string(c.Scope), nullString(c.ListingID),
		c.ValidFrom.String(), c.ValidUntil.String(), nullInt(c.UsageLimit), c.UsedCount,
		nullInt(c.PerCustomerLimit), c.MinOrderAmount, c.IsActive, c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	)
	return wrapError("coupons.insert", err)
}

func (r couponRepo) FindByID(ctx context.Context, couponID string) (domain.Coupon, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+couponColumns+` FROM coupons WHERE id = $1`, couponID)
	c, err := scanCoupon(row)
	return c, wrapError("coupons.get", err)
}

func (r couponRepo) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code)
	c, err := scanCoupon(row)
	return c, wrapError("coupons.findByCode", err)
}

func scanCoupon(row rowScanner) (domain.Coupon, error) {
	var (
		c                       domain.Coupon
		discountType            string
		scope                   string
		listingID               sql.NullString
		validFrom, until        time.Time
		usageLimit, perCustomer sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.Code, &discountType, &c.Value, &scope, &listingID, &validFrom, &until,
		&usageLimit, &c.UsedCount, &perCustomer, &c.MinOrderAmount, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return domain.Coupon{}, err
	}
	c.DiscountType = domain.DiscountType(discountType)
	c.Scope = domain.CouponScope(scope)
	c.ListingID = stringPtr(listingID)
	c.ValidFrom = domain.DateOf(validFrom)
	c.ValidUntil = domain.DateOf(until)
	c.UsageLimit = intPtr(usageLimit)
	c.PerCustomerLimit = intPtr(perCustomer)
	return c, nil
}

// listings

type listingRepo struct{ db *sql.DB }

func (r listingRepo) FindByID(ctx context.Context, listingID string) (domain.Listing, error) {
	const op = "listings.get"
	var (
		l       domain.Listing
		weekday sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
	SELECT id, name, owner_name, owner_phone, owner_email, owner_telegram_chat_id, owner_push_token,
		currency, timezone, opens_at, closes_at, closed_weekday, updated_at
	FROM listings WHERE id = $1`, listingID).Scan(
		&l.ID, &l.Name, &l.Owner.Name, &l.Owner.Phone, &l.Owner.Email, &l.Owner.TelegramChatID, &l.Owner.PushToken,
		&l.Currency, &l.Timezone, &l.OpensAt, &l.ClosesAt, &weekday, &l.UpdatedAt,
	)
	if err != nil {
		return domain.Listing{}, wrapError(op, err)
	}
	if weekday.Valid {
		day := time.Weekday(weekday.Int64)
		l.ClosedWeekday = &day
	}

	rows, err := r.db.QueryContext(ctx, `
	SELECT id, title, description, price, duration_minutes, active
	FROM listing_services WHERE listing_id = $1 ORDER BY position, id`, listingID)
	if err != nil {
		return domain.Listing{}, wrapError(op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var svc domain.ListingService
		if err := rows.Scan(&svc.ID, &svc.Title, &svc.Description, &svc.Price, &svc.DurationMinutes, &svc.Active); err != nil {
			return domain.Listing{}, wrapError(op, err)
		}
		l.Services = append(l.Services, svc)
	}
	if err := rows.Err(); err != nil {
		return domain.Listing{}, wrapError(op, err)
	}
	return l, nil
}

// bookings

const bookingColumns = `id, reference, listing_id, customer_id, contact_name, contact_phone, contact_email, notes,
	service_id, service_title, service_description, unit_price, duration_minutes, schedule_date, schedule_time,
	coupon_id, coupon_code, coupon_discount, currency, original_amount, discount_amount, base_amount, tax_amount,
	final_amount, amount_due_now, amount_deferred, tax_rate_bps, booking_fee, payment_mode, provider,
	provider_order_id, provider_payment_id, provider_signature, payment_id, payment_status, status,
	cancellation_reason, paid_at, cancelled_at, completed_at, refunded_at, created_at, updated_at`

func scanBooking(row rowScanner) (domain.Booking, error) {
	var (
		b                                domain.Booking
		customerID, couponID, couponCode sql.NullString
		providerPaymentID, signature     sql.NullString
		scheduleDate                     time.Time
		couponDiscount                   int64
		mode, paymentStatus, status      string
		paidAt, cancelledAt              sql.NullTime
		completedAt, refundedAt          sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.Reference, &b.ListingID, &customerID, &b.Contact.Name, &b.Contact.Phone, &b.Contact.Email, &b.Notes,
		&b.Service.ServiceID, &b.Service.Title, &b.Service.Description, &b.Service.UnitPrice, &b.Service.DurationMinutes,
		&scheduleDate, &b.Schedule.Time,
		&couponID, &couponCode, &couponDiscount, &b.Pricing.Currency, &b.Pricing.OriginalAmount, &b.Pricing.DiscountAmount,
		&b.Pricing.BaseAmount, &b.Pricing.TaxAmount, &b.Pricing.FinalAmount, &b.Pricing.AmountDueNow, &b.Pricing.AmountDeferred,
		&b.Pricing.TaxRateBPS, &b.Pricing.BookingFee, &mode, &b.Provider,
		&b.ProviderOrderID, &providerPaymentID, &signature, &b.PaymentID, &paymentStatus, &status,
		&b.CancellationReason, &paidAt, &cancelledAt, &completedAt, &refundedAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return domain.Booking{}, err
	}
	b.CustomerID = stringPtr(customerID)
	b.Schedule.Date = domain.DateOf(scheduleDate)
	if couponID.Valid {
		b.Coupon = &domain.AppliedCoupon{CouponID: couponID.String, Code: couponCode.String, DiscountAmount: couponDiscount}
	}
	b.Mode = domain.PaymentMode(mode)
	b.ProviderPaymentID = stringPtr(providerPaymentID)
	b.ProviderSignature = stringPtr(signature)
	b.PaymentStatus = domain.PaymentStatus(paymentStatus)
	b.Status = domain.BookingStatus(status)
	b.PaidAt = timePtr(paidAt)
	b.CancelledAt = timePtr(cancelledAt)
	b.CompletedAt = timePtr(completedAt)
	b.RefundedAt = timePtr(refundedAt)
	return b, nil
}

type bookingRepo struct{ db *sql.DB }

func (r bookingRepo) FindByID(ctx context.Context, bookingID string) (domain.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, bookingID))
	return b, wrapError("bookings.get", err)
}

func (r bookingRepo) CountConfirmedRedemptions(ctx context.Context, customerID, code string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM bookings
	WHERE customer_id = $1 AND coupon_code = $2 AND status IN ('confirmed', 'completed')`,
		customerID, code).Scan(&count)
	return count, wrapError("bookings.countRedemptions", err)
}

func (r bookingRepo) ListStalePending(ctx context.Context, createdBefore time.Time, after *repositories.StaleCursor, limit int) ([]domain.Booking, error) {
	const op = "bookings.listStalePending"
	if limit <= 0 {
		limit = 100
	}
	var afterAt, afterID any
	if after != nil {
		afterAt, afterID = after.CreatedAt.UTC(), after.ID
	}
	rows, err := r.db.QueryContext(ctx, `
	SELECT `+bookingColumns+` FROM bookings
	WHERE status = 'pending' AND created_at < $1
		AND ($2::timestamptz IS NULL OR (created_at, id) > ($2::timestamptz, $3::text))
	ORDER BY created_at, id
	LIMIT $4`, createdBefore.UTC(), afterAt, afterID, limit)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer rows.Close()
	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, wrapError(op, err)
		}
		out = append(out, b)
	}
	return out, wrapError(op, rows.Err())
}

// payments

const paymentColumns = `id, booking_id, provider, order_ref, payment_ref, status, amount, currency, method,
	error_code, error_description, refund_ref, refunded_amount, orphaned, authorized_at, captured_at,
	failed_at, refunded_at, created_at, updated_at`

func scanPayment(row rowScanner) (domain.Payment, error) {
	var (
		p                        domain.Payment
		paymentRef, refundRef    sql.NullString
		status                   string
		method                   []byte
		authorizedAt, capturedAt sql.NullTime
		failedAt, refundedAt     sql.NullTime
	)
	err := row.Scan(&p.ID, &p.BookingID, &p.Provider, &p.OrderRef, &paymentRef, &status, &p.Amount, &p.Currency, &method,
		&p.ErrorCode, &p.ErrorDescription, &refundRef, &p.RefundedAmount, &p.Orphaned, &authorizedAt, &capturedAt,
		&failedAt, &refundedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Payment{}, err
	}
	p.PaymentRef = stringPtr(paymentRef)
	p.RefundRef = stringPtr(refundRef)
	p.Status = domain.PaymentRecordStatus(status)
	if len(method) > 0 {
		var m domain.PaymentMethod
		if err := json.Unmarshal(method, &m); err != nil {
			return domain.Payment{}, fmt.Errorf("decode payment method: %w", err)
		}
		p.Method = &m
	}
	p.AuthorizedAt = timePtr(authorizedAt)
	p.CapturedAt = timePtr(capturedAt)
	p.FailedAt = timePtr(failedAt)
	p.RefundedAt = timePtr(refundedAt)
	return p, nil
}

func encodeMethod(m *domain.PaymentMethod) (any, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode payment method: %w", err)
	}
	return string(raw), nil
}

type paymentRepo struct{ db *sql.DB }

func (r paymentRepo) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, paymentID))
	return p, wrapError("payments.get", err)
}

func (r paymentRepo) FindByOrderRef(ctx context.Context, provider, orderRef string) (domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE provider = $1 AND order_ref = $2`, provider, orderRef))
	return p, wrapError("payments.findByOrderRef", err)
}

func (r paymentRepo) FindByPaymentRef(ctx context.Context, provider, paymentRef string) (domain.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE provider = $1 AND payment_ref = $2 ORDER BY created_at DESC LIMIT 1`,
		provider, paymentRef))
	return p, wrapError("payments.findByPaymentRef", err)
}

// counters

type counterRepo struct {
	db      *sql.DB
	ceiling int64
}

// Next upserts the counter row and advances it in a single statement. The
// ceiling is checked in the same statement so concurrent callers cannot pass it.
func (r counterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	const op = "counters.next"
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(op, repositories.CounterErrorInvalidInput, "counter id is required")
	}
	if step < 0 {
		return 0, repositories.NewCounterError(op, repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step))
	}
	if step == 0 {
		step = 1
	}
	var ceiling any
	if r.ceiling > 0 {
		ceiling = r.ceiling
	}
	var value int64
	err := r.db.QueryRowContext(ctx, `
	INSERT INTO counters AS c (id, current_value, max_value, updated_at)
	VALUES ($1, $2, $3, now())
	ON CONFLICT (id) DO UPDATE
	SET current_value = c.current_value + EXCLUDED.current_value, updated_at = now()
	WHERE c.max_value IS NULL OR c.current_value + EXCLUDED.current_value <= c.max_value
	RETURNING current_value`, id, step, ceiling).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, repositories.NewCounterError(op, repositories.CounterErrorExhausted, fmt.Sprintf("counter %s reached its max value", id))
	}
	if err != nil {
		return 0, wrapError(op, err)
	}
	return value, nil
}
