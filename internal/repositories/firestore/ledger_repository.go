package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/bookings/internal/domain"
	pfirestore "github.com/hanko-field/bookings/internal/platform/firestore"
	"github.com/hanko-field/bookings/internal/repositories"
)

const paymentOrdersCollection = "paymentOrders"

type paymentOrderDocument struct {
	PaymentID string `firestore:"paymentId"`
	BookingID string `firestore:"bookingId"`
}

// LedgerRepository applies booking and payment transitions inside Firestore
// transactions. Every read happens before the first write as Firestore requires.
type LedgerRepository struct {
	provider *pfirestore.Provider
	bookings *pfirestore.Collection[bookingDocument]
	payments *pfirestore.Collection[paymentDocument]
	coupons  *pfirestore.Collection[couponDocument]
	orders   *pfirestore.Collection[paymentOrderDocument]
}

var _ repositories.LedgerRepository = (*LedgerRepository)(nil)

// NewLedgerRepository constructs the transactional ledger writer.
func NewLedgerRepository(provider *pfirestore.Provider) (*LedgerRepository, error) {
	if provider == nil {
		return nil, errors.New("ledger repository requires firestore provider")
	}
	return &LedgerRepository{
		provider: provider,
		bookings: pfirestore.NewCollection[bookingDocument](provider, bookingsCollection),
		payments: pfirestore.NewCollection[paymentDocument](provider, paymentsCollection),
		coupons:  pfirestore.NewCollection[couponDocument](provider, couponsCollection),
		orders:   pfirestore.NewCollection[paymentOrderDocument](provider, paymentOrdersCollection),
	}, nil
}

func orderIndexID(provider, orderRef string) string {
	return provider + ":" + orderRef
}

// CreateBooking writes the booking, its first payment and the order index together.
func (r *LedgerRepository) CreateBooking(ctx context.Context, booking domain.Booking, payment domain.Payment) error {
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		bookingRef, err := r.bookings.Ref(ctx, booking.ID)
		if err != nil {
			return err
		}
		paymentRef, err := r.payments.Ref(ctx, payment.ID)
		if err != nil {
			return err
		}
		orderRef, err := r.orders.Ref(ctx, orderIndexID(payment.Provider, payment.OrderRef))
		if err != nil {
			return err
		}
		if err := tx.Create(orderRef, paymentOrderDocument{PaymentID: payment.ID, BookingID: booking.ID}); err != nil {
			return err
		}
		if err := tx.Create(paymentRef, encodePayment(payment)); err != nil {
			return err
		}
		return tx.Create(bookingRef, encodeBooking(booking))
	})
	return wrapLedgerError("ledger.createBooking", err)
}

func (r *LedgerRepository) CommitCapture(ctx context.Context, commit repositories.CaptureCommit) (repositories.CaptureOutcome, error) {
	var outcome repositories.CaptureOutcome
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		booking, bookingRef, payment, paymentRef, err := r.loadPair(ctx, tx, commit.BookingID, commit.PaymentID)
		if err != nil {
			return err
		}
		plan := repositories.PlanCapture(booking, payment, commit)
		outcome = plan.Outcome
		if !plan.Changed {
			return nil
		}

		var (
			coupon    domain.Coupon
			couponRef *firestore.DocumentRef
		)
		if plan.IncrementCoupon {
			doc, ref, err := r.coupons.TxGet(ctx, tx, plan.Booking.Coupon.CouponID)
			switch {
			case err == nil:
				coupon, err = decodeCoupon(doc)
				if err != nil {
					return err
				}
				couponRef = ref
			case repositories.IsNotFound(err):
			default:
				return err
			}
		}

		if couponRef != nil {
			if repositories.CouponIncrementAllowed(coupon) {
				if err := tx.Update(couponRef, []firestore.Update{
					{Path: "usedCount", Value: firestore.Increment(1)},
					{Path: "updatedAt", Value: commit.CapturedAt.UTC()},
				}); err != nil {
					return err
				}
				outcome.CouponIncremented = true
			} else {
				outcome.CouponLimitReached = true
			}
		}
		if err := tx.Set(paymentRef, encodePayment(plan.Payment)); err != nil {
			return err
		}
		return tx.Set(bookingRef, encodeBooking(plan.Booking))
	})
	if err != nil {
		return repositories.CaptureOutcome{}, wrapLedgerError("ledger.commitCapture", err)
	}
	return outcome, nil
}

func (r *LedgerRepository) CommitAuthorization(ctx context.Context, commit repositories.AuthorizationCommit) (bool, error) {
	var applied bool
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, ref, err := r.payments.TxGet(ctx, tx, commit.PaymentID)
		if err != nil {
			return err
		}
		var updated domain.Payment
		updated, applied = repositories.PlanAuthorization(decodePayment(doc), commit)
		if !applied {
			return nil
		}
		return tx.Set(ref, encodePayment(updated))
	})
	if err != nil {
		return false, wrapLedgerError("ledger.commitAuthorization", err)
	}
	return applied, nil
}

func (r *LedgerRepository) CommitFailure(ctx context.Context, commit repositories.FailureCommit) (repositories.FailureOutcome, error) {
	var outcome repositories.FailureOutcome
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		booking, bookingRef, payment, paymentRef, err := r.loadPair(ctx, tx, commit.BookingID, commit.PaymentID)
		if err != nil {
			return err
		}
		plan := repositories.PlanFailure(booking, payment, commit)
		outcome = plan.Outcome
		if plan.PaymentChanged {
			if err := tx.Set(paymentRef, encodePayment(plan.Payment)); err != nil {
				return err
			}
		}
		if plan.BookingChanged {
			return tx.Set(bookingRef, encodeBooking(plan.Booking))
		}
		return nil
	})
	if err != nil {
		return repositories.FailureOutcome{}, wrapLedgerError("ledger.commitFailure", err)
	}
	return outcome, nil
}

func (r *LedgerRepository) CommitRefund(ctx context.Context, commit repositories.RefundCommit) (repositories.RefundOutcome, error) {
	var outcome repositories.RefundOutcome
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		booking, bookingRef, payment, paymentRef, err := r.loadPair(ctx, tx, commit.BookingID, commit.PaymentID)
		if err != nil {
			return err
		}
		plan := repositories.PlanRefund(booking, payment, commit)
		outcome = plan.Outcome
		if plan.PaymentChanged {
			if err := tx.Set(paymentRef, encodePayment(plan.Payment)); err != nil {
				return err
			}
		}
		if plan.BookingChanged {
			return tx.Set(bookingRef, encodeBooking(plan.Booking))
		}
		return nil
	})
	if err != nil {
		return repositories.RefundOutcome{}, wrapLedgerError("ledger.commitRefund", err)
	}
	return outcome, nil
}

func (r *LedgerRepository) CancelPending(ctx context.Context, commit repositories.CancelCommit) (bool, error) {
	var applied bool
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		bookingDoc, bookingRef, err := r.bookings.TxGet(ctx, tx, commit.BookingID)
		if err != nil {
			return err
		}
		booking, err := decodeBooking(bookingDoc)
		if err != nil {
			return err
		}
		var (
			current    *domain.Payment
			paymentRef *firestore.DocumentRef
		)
		if booking.PaymentID != "" {
			doc, ref, err := r.payments.TxGet(ctx, tx, booking.PaymentID)
			switch {
			case err == nil:
				p := decodePayment(doc)
				current, paymentRef = &p, ref
			case !repositories.IsNotFound(err):
				return err
			}
		}
		updated, payment, ok := repositories.PlanCancel(booking, current, commit)
		applied = ok
		if !ok {
			return nil
		}
		if payment != nil {
			if err := tx.Set(paymentRef, encodePayment(*payment)); err != nil {
				return err
			}
		}
		return tx.Set(bookingRef, encodeBooking(updated))
	})
	if err != nil {
		return false, wrapLedgerError("ledger.cancelPending", err)
	}
	return applied, nil
}

func (r *LedgerRepository) Complete(ctx context.Context, bookingID string, at time.Time) (bool, error) {
	var applied bool
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, ref, err := r.bookings.TxGet(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		booking, err := decodeBooking(doc)
		if err != nil {
			return err
		}
		var updated domain.Booking
		updated, applied = repositories.PlanComplete(booking, at)
		if !applied {
			return nil
		}
		return tx.Set(ref, encodeBooking(updated))
	})
	if err != nil {
		return false, wrapLedgerError("ledger.complete", err)
	}
	return applied, nil
}

func (r *LedgerRepository) ReplacePayment(ctx context.Context, commit repositories.ReplacePaymentCommit) error {
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		booking, bookingRef, previous, previousRef, err := r.loadPair(ctx, tx, commit.BookingID, commit.PreviousPaymentID)
		if err != nil {
			return err
		}
		updated, superseded, err := repositories.PlanReplacement(booking, previous, commit)
		if err != nil {
			return err
		}
		orderRef, err := r.orders.Ref(ctx, orderIndexID(commit.Payment.Provider, commit.Payment.OrderRef))
		if err != nil {
			return err
		}
		nextRef, err := r.payments.Ref(ctx, commit.Payment.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(orderRef, paymentOrderDocument{PaymentID: commit.Payment.ID, BookingID: booking.ID}); err != nil {
			return err
		}
		if err := tx.Create(nextRef, encodePayment(commit.Payment)); err != nil {
			return err
		}
		if err := tx.Set(previousRef, encodePayment(superseded)); err != nil {
			return err
		}
		return tx.Set(bookingRef, encodeBooking(updated))
	})
	return wrapLedgerError("ledger.replacePayment", err)
}

func (r *LedgerRepository) loadPair(ctx context.Context, tx *firestore.Transaction, bookingID, paymentID string) (domain.Booking, *firestore.DocumentRef, domain.Payment, *firestore.DocumentRef, error) {
	bookingDoc, bookingRef, err := r.bookings.TxGet(ctx, tx, bookingID)
	if err != nil {
		return domain.Booking{}, nil, domain.Payment{}, nil, err
	}
	booking, err := decodeBooking(bookingDoc)
	if err != nil {
		return domain.Booking{}, nil, domain.Payment{}, nil, err
	}
	paymentDoc, paymentRef, err := r.payments.TxGet(ctx, tx, paymentID)
	if err != nil {
		return domain.Booking{}, nil, domain.Payment{}, nil, err
	}
	if paymentDoc.BookingID != bookingID {
		return domain.Booking{}, nil, domain.Payment{}, nil, repositories.NotFoundError("ledger.payment")
	}
	return booking, bookingRef, decodePayment(paymentDoc), paymentRef, nil
}

// wrapLedgerError keeps store classifications raised inside the transaction and
// classifies everything else by gRPC status.
func wrapLedgerError(op string, err error) error {
	if err == nil {
		return nil
	}
	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		return storeErr
	}
	var fsErr *pfirestore.Error
	if errors.As(err, &fsErr) {
		return fsErr
	}
	return pfirestore.WrapError(op, err)
}
