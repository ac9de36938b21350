package domain

import (
	"time"
)

// DiscountType enumerates how a coupon value is interpreted.
type DiscountType string

const (
	// DiscountTypePercent applies Value as a whole percentage of the order amount.
	DiscountTypePercent DiscountType = "percent"
	// DiscountTypeFixed subtracts Value (minor units) from the order amount.
	DiscountTypeFixed DiscountType = "fixed"
)

// Valid reports whether the discount type is recognised.
func (t DiscountType) Valid() bool {
	return t == DiscountTypePercent || t == DiscountTypeFixed
}

// CouponScope enumerates where a coupon may be redeemed.
type CouponScope string

const (
	// CouponScopeGlobal coupons apply to every listing.
	CouponScopeGlobal CouponScope = "global"
	// CouponScopeListing coupons apply to exactly one listing.
	CouponScopeListing CouponScope = "listing"
)

// Valid reports whether the scope is recognised.
func (s CouponScope) Valid() bool {
	return s == CouponScopeGlobal || s == CouponScopeListing
}

// Coupon is a discount code definition. Code is stored normalised (upper case).
type Coupon struct {
	ID               string
	Code             string
	DiscountType     DiscountType
	Value            int64
	Scope            CouponScope
	ListingID        *string
	ValidFrom        Date
	ValidUntil       Date
	UsageLimit       *int64
	UsedCount        int64
	PerCustomerLimit *int64
	MinOrderAmount   int64
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Unlimited reports whether the coupon has no total redemption cap.
func (c Coupon) Unlimited() bool {
	return c.UsageLimit == nil
}

// Contact is the snapshot of a person's reachable details.
type Contact struct {
	Name  string
	Phone string
	Email string
}

// OwnerContact extends Contact with channels used for new-booking alerts.
type OwnerContact struct {
	Contact
	TelegramChatID int64
	PushToken      string
}

// ListingService is a bookable item on a listing's price list.
type ListingService struct {
	ID              string
	Title           string
	Description     string
	Price           int64
	DurationMinutes int
	Active          bool
}

// Listing is the venue a booking is made against.
type Listing struct {
	ID       string
	Name     string
	Owner    OwnerContact
	Currency string
	Timezone string
	// OpensAt and ClosesAt are wall clock times in HH:MM (24h) in Timezone.
	OpensAt  string
	ClosesAt string
	// ClosedWeekday is the weekly closure day, nil when open every day.
	ClosedWeekday *time.Weekday
	Services      []ListingService
	UpdatedAt     time.Time
}

// FindService returns the service with the given id.
func (l Listing) FindService(serviceID string) (ListingService, bool) {
	for _, svc := range l.Services {
		if svc.ID == serviceID {
			return svc, true
		}
	}
	return ListingService{}, false
}

// PaymentMode selects how much of the final amount is charged online.
type PaymentMode string

const (
	// PaymentModeFull charges the whole final amount up front.
	PaymentModeFull PaymentMode = "full"
	// PaymentModeBookingFee charges a flat fee now and defers the rest to the venue.
	PaymentModeBookingFee PaymentMode = "booking_fee"
)

// Valid reports whether the payment mode is recognised.
func (m PaymentMode) Valid() bool {
	return m == PaymentModeFull || m == PaymentModeBookingFee
}

// PaymentStatus is the booking-level view of payment progress.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusPartial  PaymentStatus = "partial"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

// Terminal reports whether no further transitions are possible.
func (s BookingStatus) Terminal() bool {
	return s == BookingStatusCancelled || s == BookingStatusCompleted
}

// ServiceSnapshot freezes the booked service as it was priced.
type ServiceSnapshot struct {
	ServiceID       string
	Title           string
	Description     string
	UnitPrice       int64
	DurationMinutes int
}

// Schedule is the requested calendar date and wall clock start time.
type Schedule struct {
	Date Date
	// Time is HH:MM (24h) in the listing's timezone.
	Time string
}

// AppliedCoupon records the coupon used at creation. Never recomputed.
type AppliedCoupon struct {
	CouponID       string
	Code           string
	DiscountAmount int64
}

// PricingSnapshot is the immutable pricing captured when the booking is created.
type PricingSnapshot struct {
	Currency       string
	OriginalAmount int64
	DiscountAmount int64
	BaseAmount     int64
	TaxAmount      int64
	FinalAmount    int64
	AmountDueNow   int64
	AmountDeferred int64
	TaxRateBPS     int64
	BookingFee     int64
}

// Booking is the ledger record for a single reservation.
type Booking struct {
	ID         string
	Reference  string
	ListingID  string
	CustomerID *string
	Contact    Contact
	Notes      string

	Service  ServiceSnapshot
	Schedule Schedule
	Coupon   *AppliedCoupon
	Pricing  PricingSnapshot
	Mode     PaymentMode

	Provider          string
	ProviderOrderID   string
	ProviderPaymentID *string
	ProviderSignature *string
	PaymentID         string

	PaymentStatus PaymentStatus
	Status        BookingStatus

	CancellationReason string

	PaidAt      *time.Time
	CancelledAt *time.Time
	CompletedAt *time.Time
	RefundedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Guest reports whether the booking was made without a customer identity.
func (b Booking) Guest() bool {
	return b.CustomerID == nil || *b.CustomerID == ""
}

// PaymentRecordStatus mirrors the provider's payment lifecycle.
type PaymentRecordStatus string

const (
	PaymentRecordCreated    PaymentRecordStatus = "created"
	PaymentRecordAuthorized PaymentRecordStatus = "authorized"
	PaymentRecordCaptured   PaymentRecordStatus = "captured"
	PaymentRecordFailed     PaymentRecordStatus = "failed"
	PaymentRecordRefunded   PaymentRecordStatus = "refunded"
	// PaymentRecordSuperseded marks an attempt replaced by a newer provider order.
	PaymentRecordSuperseded PaymentRecordStatus = "superseded"
)

// Capturable reports whether a capture signal may still transition the record.
// A failed record stays capturable: a late capture means money moved and must be
// recorded even though the booking can no longer be confirmed.
func (s PaymentRecordStatus) Capturable() bool {
	switch s {
	case PaymentRecordCreated, PaymentRecordAuthorized, PaymentRecordSuperseded, PaymentRecordFailed:
		return true
	default:
		return false
	}
}

// Open reports whether the attempt has not reached a provider outcome yet.
func (s PaymentRecordStatus) Open() bool {
	return s == PaymentRecordCreated || s == PaymentRecordAuthorized
}

// PaymentMethod is display/audit metadata only.
type PaymentMethod struct {
	Type      string
	Brand     string
	Last4     string
	ExpMonth  int
	ExpYear   int
	UPIHandle string
	Bank      string
	Wallet    string
}

// Payment is a single provider payment attempt for a booking.
type Payment struct {
	ID         string
	BookingID  string
	Provider   string
	OrderRef   string
	PaymentRef *string
	Status     PaymentRecordStatus
	Amount     int64
	Currency   string
	Method     *PaymentMethod

	ErrorCode        string
	ErrorDescription string

	RefundRef      *string
	RefundedAmount int64

	// Orphaned is set when a capture arrived for a booking that could no longer
	// be confirmed; such payments need a manual refund.
	Orphaned bool

	AuthorizedAt *time.Time
	CapturedAt   *time.Time
	FailedAt     *time.Time
	RefundedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
