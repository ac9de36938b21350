package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/hanko-field/bookings/internal/domain"
	"github.com/hanko-field/bookings/internal/repositories"
)

// ledgerRepo locks the booking and payment rows with SELECT ... FOR UPDATE,
// applies the shared plan, and writes back with a status guard on each UPDATE.
type ledgerRepo struct{ db *sql.DB }

var _ repositories.LedgerRepository = ledgerRepo{}

func (r ledgerRepo) CreateBooking(ctx context.Context, b domain.Booking, p domain.Payment) error {
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := insertBooking(ctx, tx, b); err != nil {
			return err
		}
		return insertPayment(ctx, tx, p)
	})
	return wrapError("ledger.createBooking", err)
}

func (r ledgerRepo) CommitCapture(ctx context.Context, commit repositories.CaptureCommit) (repositories.CaptureOutcome, error) {
	var outcome repositories.CaptureOutcome
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		booking, payment, err := lockPair(ctx, tx, commit.BookingID, commit.PaymentID)
		if err != nil {
			return err
		}
		plan := repositories.PlanCapture(booking, payment, commit)
		outcome = plan.Outcome
		if !plan.Changed {
			return nil
		}
		if plan.IncrementCoupon {
			res, err := tx.ExecContext(ctx, `
			UPDATE coupons SET used_count = used_count + 1, updated_at = $2
			WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`,
				plan.Booking.Coupon.CouponID, commit.CapturedAt.UTC())
			if err != nil {
				return err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 1 {
				outcome.CouponIncremented = true
			} else {
				var exists bool
				if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM coupons WHERE id = $1)`, plan.Booking.Coupon.CouponID).Scan(&exists); err != nil {
					return err
				}
				outcome.CouponLimitReached = exists
			}
		}
		if err := updatePayment(ctx, tx, plan.Payment, payment.Status); err != nil {
			return err
		}
		return updateBooking(ctx, tx, plan.Booking, booking.Status)
	})
	if err != nil {
		return repositories.CaptureOutcome{}, wrapError("ledger.commitCapture", err)
	}
	return outcome, nil
}

func (r ledgerRepo) CommitAuthorization(ctx context.Context, commit repositories.AuthorizationCommit) (bool, error) {
	var applied bool
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		payment, err := scanPayment(tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, commit.PaymentID))
		if err != nil {
			return err
		}
		var updated domain.Payment
		updated, applied = repositories.PlanAuthorization(payment, commit)
		if !applied {
			return nil
		}
		return updatePayment(ctx, tx, updated, payment.Status)
	})
	if err != nil {
		return false, wrapError("ledger.commitAuthorization", err)
	}
	return applied, nil
}

func (r ledgerRepo) CommitFailure(ctx context.Context, commit repositories.FailureCommit) (repositories.FailureOutcome, error) {
	var outcome repositories.FailureOutcome
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		booking, payment, err := lockPair(ctx, tx, commit.BookingID, commit.PaymentID)
		if err != nil {
			return err
		}
		plan := repositories.PlanFailure(booking, payment, commit)
		outcome = plan.Outcome
		if plan.PaymentChanged {
			if err := updatePayment(ctx, tx, plan.Payment, payment.Status); err != nil {
				return err
			}
		}
		if plan.BookingChanged {
			return updateBooking(ctx, tx, plan.Booking, booking.Status)
		}
		return nil
	})
	if err != nil {
		return repositories.FailureOutcome{}, wrapError("ledger.commitFailure", err)
	}
	return outcome, nil
}

func (r ledgerRepo) CommitRefund(ctx context.Context, commit repositories.RefundCommit) (repositories.RefundOutcome, error) {
	var outcome repositories.RefundOutcome
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		booking, payment, err := lockPair(ctx, tx, commit.BookingID, commit.PaymentID)
		if err != nil {
			return err
		}
		plan := repositories.PlanRefund(booking, payment, commit)
		outcome = plan.Outcome
		if plan.PaymentChanged {
			if err := updatePayment(ctx, tx, plan.Payment, payment.Status); err != nil {
				return err
			}
		}
		if plan.BookingChanged {
			return updateBooking(ctx, tx, plan.Booking, booking.Status)
		}
		return nil
	})
	if err != nil {
		return repositories.RefundOutcome{}, wrapError("ledger.commitRefund", err)
	}
	return outcome, nil
}

func (r ledgerRepo) CancelPending(ctx context.Context, commit repositories.CancelCommit) (bool, error) {
	var applied bool
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		booking, err := scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, commit.BookingID))
		if err != nil {
			return err
		}
		var current *domain.Payment
		payment, err := scanPayment(tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, booking.PaymentID))
		switch {
		case err == nil:
			current = &payment
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
		updated, failed, ok := repositories.PlanCancel(booking, current, commit)
		applied = ok
		if !ok {
			return nil
		}
		if failed != nil {
			if err := updatePayment(ctx, tx, *failed, payment.Status); err != nil {
				return err
			}
		}
		return updateBooking(ctx, tx, updated, booking.Status)
	})
	if err != nil {
		return false, wrapError("ledger.cancelPending", err)
	}
	return applied, nil
}

func (r ledgerRepo) Complete(ctx context.Context, bookingID string, at time.Time) (bool, error) {
	var applied bool
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		booking, err := scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, bookingID))
		if err != nil {
			return err
		}
		var updated domain.Booking
		updated, applied = repositories.PlanComplete(booking, at)
		if !applied {
			return nil
		}
		return updateBooking(ctx, tx, updated, booking.Status)
	})
	if err != nil {
		return false, wrapError("ledger.complete", err)
	}
	return applied, nil
}

func (r ledgerRepo) ReplacePayment(ctx context.Context, commit repositories.ReplacePaymentCommit) error {
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		booking, previous, err := lockPair(ctx, tx, commit.BookingID, commit.PreviousPaymentID)
		if err != nil {
			return err
		}
		updated, superseded, err := repositories.PlanReplacement(booking, previous, commit)
		if err != nil {
			return err
		}
		if err := insertPayment(ctx, tx, commit.Payment); err != nil {
			return err
		}
		if err := updatePayment(ctx, tx, superseded, previous.Status); err != nil {
			return err
		}
		return updateBooking(ctx, tx, updated, booking.Status)
	})
	return wrapError("ledger.replacePayment", err)
}

func lockPair(ctx context.Context, tx *sql.Tx, bookingID, paymentID string) (domain.Booking, domain.Payment, error) {
	booking, err := scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, bookingID))
	if err != nil {
		return domain.Booking{}, domain.Payment{}, err
	}
	payment, err := scanPayment(tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 AND booking_id = $2 FOR UPDATE`, paymentID, bookingID))
	if err != nil {
		return domain.Booking{}, domain.Payment{}, err
	}
	return booking, payment, nil
}

func insertBooking(ctx context.Context, tx *sql.Tx, b domain.Booking) error {
	var couponID, couponCode any
	var couponDiscount int64
	if b.Coupon != nil {
		couponID, couponCode, couponDiscount = b.Coupon.CouponID, b.Coupon.Code, b.Coupon.DiscountAmount
	}
	_, err := tx.ExecContext(ctx, `
	INSERT INTO bookings (`+bookingColumns+`)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		$21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36, $37, $38, $39, $40,
		$41, $42, $43)`,
		b.ID, b.Reference, b.ListingID, nullString(b.CustomerID), b.Contact.Name, b.Contact.Phone, b.Contact.Email, b.Notes,
		b.Service.ServiceID, b.Service.Title, b.Service.Description, b.Service.UnitPrice, b.Service.DurationMinutes,
		b.Schedule.Date.String(), b.Schedule.Time,
		couponID, couponCode, couponDiscount, b.Pricing.Currency, b.Pricing.OriginalAmount, b.Pricing.DiscountAmount,
		b.Pricing.BaseAmount, b.Pricing.TaxAmount, b.Pricing.FinalAmount, b.Pricing.AmountDueNow, b.Pricing.AmountDeferred,
		b.Pricing.TaxRateBPS, b.Pricing.BookingFee, string(b.Mode), b.Provider,
		b.ProviderOrderID, nullString(b.ProviderPaymentID), nullString(b.ProviderSignature), b.PaymentID,
		string(b.PaymentStatus), string(b.Status),
		b.CancellationReason, nullTime(b.PaidAt), nullTime(b.CancelledAt), nullTime(b.CompletedAt), nullTime(b.RefundedAt),
		b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
	)
	return err
}

func updateBooking(ctx context.Context, tx *sql.Tx, b domain.Booking, expected domain.BookingStatus) error {
	res, err := tx.ExecContext(ctx, `
	UPDATE bookings SET
		provider = $2, provider_order_id = $3, provider_payment_id = $4, provider_signature = $5, payment_id = $6,
		payment_status = $7, status = $8, cancellation_reason = $9, paid_at = $10, cancelled_at = $11,
		completed_at = $12, refunded_at = $13, updated_at = $14
	WHERE id = $1 AND status = $15`,
		b.ID, b.Provider, b.ProviderOrderID, nullString(b.ProviderPaymentID), nullString(b.ProviderSignature), b.PaymentID,
		string(b.PaymentStatus), string(b.Status), b.CancellationReason, nullTime(b.PaidAt), nullTime(b.CancelledAt),
		nullTime(b.CompletedAt), nullTime(b.RefundedAt), b.UpdatedAt.UTC(), string(expected),
	)
	return expectOneRow(res, err, "booking "+b.ID)
}

func insertPayment(ctx context.Context, tx *sql.Tx, p domain.Payment) error {
	method, err := encodeMethod(p.Method)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
	INSERT INTO payments (`+paymentColumns+`)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		p.ID, p.BookingID, p.Provider, p.OrderRef, nullString(p.PaymentRef), string(p.Status), p.Amount, p.Currency, method,
		p.ErrorCode, p.ErrorDescription, nullString(p.RefundRef), p.RefundedAmount, p.Orphaned,
		nullTime(p.AuthorizedAt), nullTime(p.CapturedAt), nullTime(p.FailedAt), nullTime(p.RefundedAt),
		p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	return err
}

func updatePayment(ctx context.Context, tx *sql.Tx, p domain.Payment, expected domain.PaymentRecordStatus) error {
	method, err := encodeMethod(p.Method)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
	UPDATE payments SET
		payment_ref = $2, status = $3, method = $4, error_code = $5, error_description = $6, refund_ref = $7,
		refunded_amount = $8, orphaned = $9, authorized_at = $10, captured_at = $11, failed_at = $12,
		refunded_at = $13, updated_at = $14
	WHERE id = $1 AND status = $15`,
		p.ID, nullString(p.PaymentRef), string(p.Status), method, p.ErrorCode, p.ErrorDescription, nullString(p.RefundRef),
		p.RefundedAmount, p.Orphaned, nullTime(p.AuthorizedAt), nullTime(p.CapturedAt), nullTime(p.FailedAt),
		nullTime(p.RefundedAt), p.UpdatedAt.UTC(), string(expected),
	)
	return expectOneRow(res, err, "payment "+p.ID)
}

func expectOneRow(res sql.Result, err error, what string) error {
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return repositories.ConflictError("ledger.update", fmt.Errorf("%s changed concurrently", what))
	}
	return nil
}
