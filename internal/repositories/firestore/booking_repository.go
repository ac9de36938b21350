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

// BookingRepository answers booking read queries.
type BookingRepository struct {
	bookings *pfirestore.Collection[bookingDocument]
}

var _ repositories.BookingRepository = (*BookingRepository)(nil)

// NewBookingRepository constructs a Firestore-backed booking reader.
func NewBookingRepository(provider *pfirestore.Provider) (*BookingRepository, error) {
	if provider == nil {
		return nil, errors.New("booking repository requires firestore provider")
	}
	return &BookingRepository{bookings: pfirestore.NewCollection[bookingDocument](provider, bookingsCollection)}, nil
}

func (r *BookingRepository) FindByID(ctx context.Context, bookingID string) (domain.Booking, error) {
	doc, err := r.bookings.Get(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	return decodeBooking(doc)
}

// CountConfirmedRedemptions counts confirmed and completed bookings for the customer and code.
func (r *BookingRepository) CountConfirmedRedemptions(ctx context.Context, customerID, code string) (int64, error) {
	docs, err := r.bookings.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("customerId", "==", customerID).
			Where("couponCode", "==", code).
			Where("status", "in", []string{string(domain.BookingStatusConfirmed), string(domain.BookingStatusCompleted)})
	})
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

func (r *BookingRepository) ListStalePending(ctx context.Context, createdBefore time.Time, after *repositories.StaleCursor, limit int) ([]domain.Booking, error) {
	docs, err := r.bookings.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "==", string(domain.BookingStatusPending)).
			Where("createdAt", "<", createdBefore.UTC()).
			OrderBy("createdAt", firestore.Asc).
			OrderBy(firestore.DocumentID, firestore.Asc)
		if after != nil {
			q = q.StartAfter(after.CreatedAt.UTC(), after.ID)
		}
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Booking, 0, len(docs))
	for _, doc := range docs {
		b, err := decodeBooking(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// PaymentRepository answers payment read queries.
type PaymentRepository struct {
	payments *pfirestore.Collection[paymentDocument]
}

var _ repositories.PaymentRepository = (*PaymentRepository)(nil)

// NewPaymentRepository constructs a Firestore-backed payment reader.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	return &PaymentRepository{payments: pfirestore.NewCollection[paymentDocument](provider, paymentsCollection)}, nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	doc, err := r.payments.Get(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	return decodePayment(doc), nil
}

func (r *PaymentRepository) FindByOrderRef(ctx context.Context, provider, orderRef string) (domain.Payment, error) {
	return r.findOne(ctx, "payments.findByOrderRef", "orderRef", provider, orderRef)
}

func (r *PaymentRepository) FindByPaymentRef(ctx context.Context, provider, paymentRef string) (domain.Payment, error) {
	return r.findOne(ctx, "payments.findByPaymentRef", "paymentRef", provider, paymentRef)
}

func (r *PaymentRepository) findOne(ctx context.Context, op, field, provider, value string) (domain.Payment, error) {
	docs, err := r.payments.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("provider", "==", provider).Where(field, "==", value).Limit(1)
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if len(docs) == 0 {
		return domain.Payment{}, repositories.NotFoundError(op)
	}
	return decodePayment(docs[0]), nil
}
