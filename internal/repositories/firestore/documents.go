package firestore

import (
	"time"

	domain "github.com/hanko-field/bookings/internal/domain"
)

const (
	couponsCollection     = "coupons"
	couponCodesCollection = "couponCodes"
	listingsCollection    = "listings"
	bookingsCollection    = "bookings"
	paymentsCollection    = "payments"
	countersCollection    = "counters"
)

type couponDocument struct {
	ID               string    `firestore:"id"`
	Code             string    `firestore:"code"`
	DiscountType     string    `firestore:"discountType"`
	Value            int64     `firestore:"value"`
	Scope            string    `firestore:"scope"`
	ListingID        *string   `firestore:"listingId,omitempty"`
	ValidFrom        string    `firestore:"validFrom"`
	ValidUntil       string    `firestore:"validUntil"`
	UsageLimit       *int64    `firestore:"usageLimit,omitempty"`
	UsedCount        int64     `firestore:"usedCount"`
	PerCustomerLimit *int64    `firestore:"perCustomerLimit,omitempty"`
	MinOrderAmount   int64     `firestore:"minOrderAmount"`
	IsActive         bool      `firestore:"isActive"`
	CreatedAt        time.Time `firestore:"createdAt"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
}

type couponCodeDocument struct {
	CouponID string `firestore:"couponId"`
}

func encodeCoupon(c domain.Coupon) couponDocument {
	return couponDocument{
		ID:               c.ID,
		Code:             c.Code,
		DiscountType:     string(c.DiscountType),
		Value:            c.Value,
		Scope:            string(c.Scope),
		ListingID:        c.ListingID,
		ValidFrom:        c.ValidFrom.String(),
		ValidUntil:       c.ValidUntil.String(),
		UsageLimit:       c.UsageLimit,
		UsedCount:        c.UsedCount,
		PerCustomerLimit: c.PerCustomerLimit,
		MinOrderAmount:   c.MinOrderAmount,
		IsActive:         c.IsActive,
		CreatedAt:        c.CreatedAt.UTC(),
		UpdatedAt:        c.UpdatedAt.UTC(),
	}
}

func decodeCoupon(doc couponDocument) (domain.Coupon, error) {
	from, err := domain.ParseDate(doc.ValidFrom)
	if err != nil {
		return domain.Coupon{}, err
	}
	until, err := domain.ParseDate(doc.ValidUntil)
	if err != nil {
		return domain.Coupon{}, err
	}
	return domain.Coupon{
		ID:               doc.ID,
		Code:             doc.Code,
		DiscountType:     domain.DiscountType(doc.DiscountType),
		Value:            doc.Value,
		Scope:            domain.CouponScope(doc.Scope),
		ListingID:        doc.ListingID,
		ValidFrom:        from,
		ValidUntil:       until,
		UsageLimit:       doc.UsageLimit,
		UsedCount:        doc.UsedCount,
		PerCustomerLimit: doc.PerCustomerLimit,
		MinOrderAmount:   doc.MinOrderAmount,
		IsActive:         doc.IsActive,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}, nil
}

type listingServiceDocument struct {
	ID              string `firestore:"id"`
	Title           string `firestore:"title"`
	Description     string `firestore:"description"`
	Price           int64  `firestore:"price"`
	DurationMinutes int    `firestore:"durationMinutes"`
	Active          bool   `firestore:"active"`
}

type listingDocument struct {
	Name           string                   `firestore:"name"`
	OwnerName      string                   `firestore:"ownerName"`
	OwnerPhone     string                   `firestore:"ownerPhone"`
	OwnerEmail     string                   `firestore:"ownerEmail"`
	OwnerTelegram  int64                    `firestore:"ownerTelegramChatId"`
	OwnerPushToken string                   `firestore:"ownerPushToken"`
	Currency       string                   `firestore:"currency"`
	Timezone       string                   `firestore:"timezone"`
	OpensAt        string                   `firestore:"opensAt"`
	ClosesAt       string                   `firestore:"closesAt"`
	ClosedWeekday  *int                     `firestore:"closedWeekday,omitempty"`
	Services       []listingServiceDocument `firestore:"services"`
	UpdatedAt      time.Time                `firestore:"updatedAt"`
}

func decodeListing(id string, doc listingDocument) domain.Listing {
	listing := domain.Listing{
		ID:   id,
		Name: doc.Name,
		Owner: domain.OwnerContact{
			Contact:        domain.Contact{Name: doc.OwnerName, Phone: doc.OwnerPhone, Email: doc.OwnerEmail},
			TelegramChatID: doc.OwnerTelegram,
			PushToken:      doc.OwnerPushToken,
		},
		Currency:  doc.Currency,
		Timezone:  doc.Timezone,
		OpensAt:   doc.OpensAt,
		ClosesAt:  doc.ClosesAt,
		UpdatedAt: doc.UpdatedAt,
	}
	if doc.ClosedWeekday != nil {
		day := time.Weekday(*doc.ClosedWeekday)
		listing.ClosedWeekday = &day
	}
	for _, svc := range doc.Services {
		listing.Services = append(listing.Services, domain.ListingService{
			ID:              svc.ID,
			Title:           svc.Title,
			Description:     svc.Description,
			Price:           svc.Price,
			DurationMinutes: svc.DurationMinutes,
			Active:          svc.Active,
		})
	}
	return listing
}

type bookingDocument struct {
	ID         string  `firestore:"id"`
	Reference  string  `firestore:"reference"`
	ListingID  string  `firestore:"listingId"`
	CustomerID *string `firestore:"customerId,omitempty"`

	ContactName  string `firestore:"contactName"`
	ContactPhone string `firestore:"contactPhone"`
	ContactEmail string `firestore:"contactEmail"`
	Notes        string `firestore:"notes"`

	ServiceID          string `firestore:"serviceId"`
	ServiceTitle       string `firestore:"serviceTitle"`
	ServiceDescription string `firestore:"serviceDescription"`
	UnitPrice          int64  `firestore:"unitPrice"`
	DurationMinutes    int    `firestore:"durationMinutes"`

	ScheduleDate string `firestore:"scheduleDate"`
	ScheduleTime string `firestore:"scheduleTime"`

	CouponID       *string `firestore:"couponId,omitempty"`
	CouponCode     *string `firestore:"couponCode,omitempty"`
	CouponDiscount int64   `firestore:"couponDiscount"`

	Pricing pricingDocument `firestore:"pricing"`
	Mode    string          `firestore:"paymentMode"`

	Provider          string  `firestore:"provider"`
	ProviderOrderID   string  `firestore:"providerOrderId"`
	ProviderPaymentID *string `firestore:"providerPaymentId,omitempty"`
	ProviderSignature *string `firestore:"providerSignature,omitempty"`
	PaymentID         string  `firestore:"paymentId"`

	PaymentStatus      string `firestore:"paymentStatus"`
	Status             string `firestore:"status"`
	CancellationReason string `firestore:"cancellationReason,omitempty"`

	PaidAt      *time.Time `firestore:"paidAt,omitempty"`
	CancelledAt *time.Time `firestore:"cancelledAt,omitempty"`
	CompletedAt *time.Time `firestore:"completedAt,omitempty"`
	RefundedAt  *time.Time `firestore:"refundedAt,omitempty"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt"`
}

type pricingDocument struct {
	Currency       string `firestore:"currency"`
	OriginalAmount int64  `firestore:"originalAmount"`
	DiscountAmount int64  `firestore:"discountAmount"`
	BaseAmount     int64  `firestore:"baseAmount"`
	TaxAmount      int64  `firestore:"taxAmount"`
	FinalAmount    int64  `firestore:"finalAmount"`
	AmountDueNow   int64  `firestore:"amountDueNow"`
	AmountDeferred int64  `firestore:"amountDeferred"`
	TaxRateBPS     int64  `firestore:"taxRateBps"`
	BookingFee     int64  `firestore:"bookingFee"`
}

func encodeBooking(b domain.Booking) bookingDocument {
	doc := bookingDocument{
		ID:                 b.ID,
		Reference:          b.Reference,
		ListingID:          b.ListingID,
		CustomerID:         b.CustomerID,
		ContactName:        b.Contact.Name,
		ContactPhone:       b.Contact.Phone,
		ContactEmail:       b.Contact.Email,
		Notes:              b.Notes,
		ServiceID:          b.Service.ServiceID,
		ServiceTitle:       b.Service.Title,
		ServiceDescription: b.Service.Description,
		UnitPrice:          b.Service.UnitPrice,
		DurationMinutes:    b.Service.DurationMinutes,
		ScheduleDate:       b.Schedule.Date.String(),
		ScheduleTime:       b.Schedule.Time,
		Pricing:            pricingDocument(b.Pricing),
		Mode:               string(b.Mode),
		Provider:           b.Provider,
		ProviderOrderID:    b.ProviderOrderID,
		ProviderPaymentID:  b.ProviderPaymentID,
		ProviderSignature:  b.ProviderSignature,
		PaymentID:          b.PaymentID,
		PaymentStatus:      string(b.PaymentStatus),
		Status:             string(b.Status),
		CancellationReason: b.CancellationReason,
		PaidAt:             b.PaidAt,
		CancelledAt:        b.CancelledAt,
		CompletedAt:        b.CompletedAt,
		RefundedAt:         b.RefundedAt,
		CreatedAt:          b.CreatedAt.UTC(),
		UpdatedAt:          b.UpdatedAt.UTC(),
	}
	if b.Coupon != nil {
		id, code := b.Coupon.CouponID, b.Coupon.Code
		doc.CouponID = &id
		doc.CouponCode = &code
		doc.CouponDiscount = b.Coupon.DiscountAmount
	}
	return doc
}

func decodeBooking(doc bookingDocument) (domain.Booking, error) {
	date, err := domain.ParseDate(doc.ScheduleDate)
	if err != nil {
		return domain.Booking{}, err
	}
	b := domain.Booking{
		ID:         doc.ID,
		Reference:  doc.Reference,
		ListingID:  doc.ListingID,
		CustomerID: doc.CustomerID,
		Contact:    domain.Contact{Name: doc.ContactName, Phone: doc.ContactPhone, Email: doc.ContactEmail},
		Notes:      doc.Notes,
		Service: domain.ServiceSnapshot{
			ServiceID:       doc.ServiceID,
			Title:           doc.ServiceTitle,
			Description:     doc.ServiceDescription,
			UnitPrice:       doc.UnitPrice,
			DurationMinutes: doc.DurationMinutes,
		},
		Schedule:           domain.Schedule{Date: date, Time: doc.ScheduleTime},
		Pricing:            domain.PricingSnapshot(doc.Pricing),
		Mode:               domain.PaymentMode(doc.Mode),
		Provider:           doc.Provider,
		ProviderOrderID:    doc.ProviderOrderID,
		ProviderPaymentID:  doc.ProviderPaymentID,
		ProviderSignature:  doc.ProviderSignature,
		PaymentID:          doc.PaymentID,
		PaymentStatus:      domain.PaymentStatus(doc.PaymentStatus),
		Status:             domain.BookingStatus(doc.Status),
		CancellationReason: doc.CancellationReason,
		PaidAt:             doc.PaidAt,
		CancelledAt:        doc.CancelledAt,
		CompletedAt:        doc.CompletedAt,
		RefundedAt:         doc.RefundedAt,
		CreatedAt:          doc.CreatedAt,
		UpdatedAt:          doc.UpdatedAt,
	}
	if doc.CouponID != nil {
		applied := domain.AppliedCoupon{CouponID: *doc.CouponID, DiscountAmount: doc.CouponDiscount}
		if doc.CouponCode != nil {
			applied.Code = *doc.CouponCode
		}
		b.Coupon = &applied
	}
	return b, nil
}

type paymentMethodDocument struct {
	Type      string `firestore:"type"`
	Brand     string `firestore:"brand,omitempty"`
	Last4     string `firestore:"last4,omitempty"`
	ExpMonth  int    `firestore:"expMonth,omitempty"`
	ExpYear   int    `firestore:"expYear,omitempty"`
	UPIHandle string `firestore:"upiHandle,omitempty"`
	Bank      string `firestore:"bank,omitempty"`
	Wallet    string `firestore:"wallet,omitempty"`
}

type paymentDocument struct {
	ID               string                 `firestore:"id"`
	BookingID        string                 `firestore:"bookingId"`
	Provider         string                 `firestore:"provider"`
	OrderRef         string                 `firestore:"orderRef"`
	PaymentRef       *string                `firestore:"paymentRef,omitempty"`
	Status           string                 `firestore:"status"`
	Amount           int64                  `firestore:"amount"`
	Currency         string                 `firestore:"currency"`
	Method           *paymentMethodDocument `firestore:"method,omitempty"`
	ErrorCode        string                 `firestore:"errorCode,omitempty"`
	ErrorDescription string                 `firestore:"errorDescription,omitempty"`
	RefundRef        *string                `firestore:"refundRef,omitempty"`
	RefundedAmount   int64                  `firestore:"refundedAmount"`
	Orphaned         bool                   `firestore:"orphaned"`
	AuthorizedAt     *time.Time             `firestore:"authorizedAt,omitempty"`
	CapturedAt       *time.Time             `firestore:"capturedAt,omitempty"`
	FailedAt         *time.Time             `firestore:"failedAt,omitempty"`
	RefundedAt       *time.Time             `firestore:"refundedAt,omitempty"`
	CreatedAt        time.Time              `firestore:"createdAt"`
	UpdatedAt        time.Time              `firestore:"updatedAt"`
}

func encodePayment(p domain.Payment) paymentDocument {
	doc := paymentDocument{
		ID:               p.ID,
		BookingID:        p.BookingID,
		Provider:         p.Provider,
		OrderRef:         p.OrderRef,
		PaymentRef:       p.PaymentRef,
		Status:           string(p.Status),
		Amount:           p.Amount,
		Currency:         p.Currency,
		ErrorCode:        p.ErrorCode,
		ErrorDescription: p.ErrorDescription,
		RefundRef:        p.RefundRef,
		RefundedAmount:   p.RefundedAmount,
		Orphaned:         p.Orphaned,
		AuthorizedAt:     p.AuthorizedAt,
		CapturedAt:       p.CapturedAt,
		FailedAt:         p.FailedAt,
		RefundedAt:       p.RefundedAt,
		CreatedAt:        p.CreatedAt.UTC(),
		UpdatedAt:        p.UpdatedAt.UTC(),
	}
	if p.Method != nil {
		method := paymentMethodDocument(*p.Method)
		doc.Method = &method
	}
	return doc
}

func decodePayment(doc paymentDocument) domain.Payment {
	p := domain.Payment{
		ID:               doc.ID,
		BookingID:        doc.BookingID,
		Provider:         doc.Provider,
		OrderRef:         doc.OrderRef,
		PaymentRef:       doc.PaymentRef,
		Status:           domain.PaymentRecordStatus(doc.Status),
		Amount:           doc.Amount,
		Currency:         doc.Currency,
		ErrorCode:        doc.ErrorCode,
		ErrorDescription: doc.ErrorDescription,
		RefundRef:        doc.RefundRef,
		RefundedAmount:   doc.RefundedAmount,
		Orphaned:         doc.Orphaned,
		AuthorizedAt:     doc.AuthorizedAt,
		CapturedAt:       doc.CapturedAt,
		FailedAt:         doc.FailedAt,
		RefundedAt:       doc.RefundedAt,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
	if doc.Method != nil {
		method := domain.PaymentMethod(*doc.Method)
		p.Method = &method
	}
	return p
}
