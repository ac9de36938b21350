package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/bookings/internal/domain"
	"github.com/hanko-field/bookings/internal/payments"
	"github.com/hanko-field/bookings/internal/repositories/memory"
)

var fixtureNow = time.Date(2025, time.January, 10, 9, 0, 0, 0, time.UTC)

// fakeProvider is a scriptable payments.Provider. Client signatures are
// "sig:<order>|<payment>" and the webhook signature is "whsig".
type fakeProvider struct {
	mu            sync.Mutex
	name          string
	provesCapture bool
	createErr     error
	fetchErr      error
	verifyErr     error
	details       payments.PaymentDetails
	event         payments.WebhookEvent
	parseErr      error
	refund        payments.RefundResult
	refundErr     error
	orderReqs     []payments.OrderRequest
	refundReqs    []payments.RefundRequest
	fetches       int
}

func (p *fakeProvider) CreateOrder(_ context.Context, req payments.OrderRequest) (payments.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return payments.Order{}, p.createErr
	}
	p.orderReqs = append(p.orderReqs, req)
	ref := fmt.Sprintf("%s_order_%d", p.name, len(p.orderReqs))
	return payments.Order{OrderRef: ref, Amount: req.Amount, Currency: req.Currency, ClientSecret: ref + "_secret"}, nil
}

func (p *fakeProvider) VerifySignature(_ context.Context, orderRef, paymentRef, signature string) (bool, error) {
	if p.verifyErr != nil {
		return false, p.verifyErr
	}
	return signature == fakeSignature(orderRef, paymentRef), nil
}

func (p *fakeProvider) VerifyWebhookSignature(_ []byte, signature string) bool {
	return signature == "whsig"
}

func (p *fakeProvider) ParseWebhookEvent([]byte) (payments.WebhookEvent, error) {
	return p.event, p.parseErr
}

func (p *fakeProvider) FetchPayment(_ context.Context, paymentRef string) (payments.PaymentDetails, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetches++
	if p.fetchErr != nil {
		return payments.PaymentDetails{}, p.fetchErr
	}
	details := p.details
	if details.PaymentRef == "" {
		details.PaymentRef = paymentRef
	}
	return details, nil
}

func (p *fakeProvider) Refund(_ context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refundReqs = append(p.refundReqs, req)
	if p.refundErr != nil {
		return payments.RefundResult{}, p.refundErr
	}
	return p.refund, nil
}

func (p *fakeProvider) SignatureProvesCapture() bool { return p.provesCapture }

func fakeSignature(orderRef, paymentRef string) string {
	return "sig:" + orderRef + "|" + paymentRef
}

type recordingNotifier struct {
	mu        sync.Mutex
	customer  []string
	owner     []string
	failFirst bool
}

func (n *recordingNotifier) SendBookingConfirmation(_ context.Context, booking Booking, _ Listing) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.customer = append(n.customer, booking.ID)
	if n.failFirst {
		return errors.New("sms gateway down")
	}
	return nil
}

func (n *recordingNotifier) SendOwnerNotification(_ context.Context, booking Booking, _ Listing) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.owner = append(n.owner, booking.ID)
	return nil
}

func (n *recordingNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.customer), len(n.owner)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []BookingEvent
}

func (r *recordingEvents) PublishBookingEvent(_ context.Context, event BookingEvent) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return fmt.Sprintf("msg-%d", len(r.events)), nil
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type recordedLog struct {
	event  string
	fields map[string]any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []recordedLog
}

func (l *recordingLogger) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, recordedLog{event: event, fields: fields})
}

func (l *recordingLogger) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.event == event {
			return true
		}
	}
	return false
}

type fixture struct {
	store      *memory.Store
	provider   *fakeProvider
	manager    *payments.Manager
	notifier   *recordingNotifier
	events     *recordingEvents
	logs       *recordingLogger
	dispatcher *NotificationDispatcher
	bookings   BookingService
	reconciler PaymentReconciler
	coupons    CouponService
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.New(),
		provider: &fakeProvider{name: "fake"},
		notifier: &recordingNotifier{},
		events:   &recordingEvents{},
		logs:     &recordingLogger{},
		now:      fixtureNow,
	}
	clock := func() time.Time { return f.now }

	manager, err := payments.NewManager(map[string]payments.Provider{"fake": f.provider}, payments.WithDefaultProvider("fake"))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	f.manager = manager

	monday := time.Monday
	f.store.PutListing(domain.Listing{
		ID:            "lst_1",
		Name:          "Glow Studio",
		Currency:      "INR",
		Timezone:      "UTC",
		OpensAt:       "09:00",
		ClosesAt:      "21:00",
		ClosedWeekday: &monday,
		Services: []domain.ListingService{
			{ID: "svc_facial", Title: "Facial", Price: 250000, DurationMinutes: 60, Active: true},
			{ID: "svc_trim", Title: "Trim", Price: 30000, DurationMinutes: 30, Active: true},
			{ID: "svc_retired", Title: "Retired", Price: 10000, Active: false},
		},
	})
	ctx := context.Background()
	seed := []domain.Coupon{
		{
			ID: "cpn_save20", Code: "SAVE20", DiscountType: domain.DiscountTypePercent, Value: 20,
			Scope: domain.CouponScopeGlobal, ValidFrom: mustDate(t, "2025-01-01"), ValidUntil: mustDate(t, "2025-01-31"),
			UsageLimit: int64Ptr(50), UsedCount: 10, MinOrderAmount: 100000, IsActive: true,
		},
		{
			ID: "cpn_flat500", Code: "FLAT500", DiscountType: domain.DiscountTypeFixed, Value: 50000,
			Scope: domain.CouponScopeGlobal, IsActive: true,
		},
	}
	for _, c := range seed {
		if err := f.store.Coupons().Insert(ctx, c); err != nil {
			t.Fatalf("seed coupon %s: %v", c.Code, err)
		}
	}

	f.dispatcher = NewNotificationDispatcher(NotificationDispatcherDeps{
		Notifier: f.notifier,
		Listings: f.store.Listings(),
		Logger:   f.logs.log,
	})
	refs, err := NewReferenceGenerator(ReferenceGeneratorDeps{Counters: f.store.Counters(), Clock: clock})
	if err != nil {
		t.Fatalf("new reference generator: %v", err)
	}
	f.bookings, err = NewBookingService(BookingServiceDeps{
		Listings:      f.store.Listings(),
		Coupons:       f.store.Coupons(),
		Bookings:      f.store.Bookings(),
		Payments:      f.store.Payments(),
		Ledger:        f.store.Ledger(),
		References:    refs,
		Gateway:       manager,
		Notifications: f.dispatcher,
		Events:        f.events,
		Clock:         clock,
		Logger:        f.logs.log,
	})
	if err != nil {
		t.Fatalf("new booking service: %v", err)
	}
	f.reconciler, err = NewPaymentReconciler(PaymentReconcilerDeps{
		Bookings:      f.store.Bookings(),
		Payments:      f.store.Payments(),
		Ledger:        f.store.Ledger(),
		Gateway:       manager,
		Notifications: f.dispatcher,
		Events:        f.events,
		Clock:         clock,
		Logger:        f.logs.log,
	})
	if err != nil {
		t.Fatalf("new payment reconciler: %v", err)
	}
	f.coupons, err = NewCouponService(CouponServiceDeps{
		Coupons:  f.store.Coupons(),
		Bookings: f.store.Bookings(),
		Listings: f.store.Listings(),
		Clock:    clock,
		Logger:   f.logs.log,
	})
	if err != nil {
		t.Fatalf("new coupon service: %v", err)
	}
	return f
}

func (f *fixture) createCmd() CreateBookingCommand {
	return CreateBookingCommand{
		ListingID:      "lst_1",
		ServiceID:      "svc_facial",
		Date:           "2025-01-15",
		Time:           "10:30",
		Contact:        Contact{Name: "Asha Rao", Phone: "+919800000000", Email: "Asha@Example.com"},
		PaymentMode:    domain.PaymentModeFull,
		IdempotencyKey: "idem-1",
	}
}

func (f *fixture) create(t *testing.T, mutate func(*CreateBookingCommand)) BookingCheckout {
	t.Helper()
	cmd := f.createCmd()
	if mutate != nil {
		mutate(&cmd)
	}
	checkout, err := f.bookings.CreatePendingBooking(context.Background(), cmd)
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return checkout
}

func (f *fixture) coupon(t *testing.T, code string) Coupon {
	t.Helper()
	c, err := f.store.Coupons().FindByCode(context.Background(), code)
	if err != nil {
		t.Fatalf("find coupon %s: %v", code, err)
	}
	return c
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.dispatcher.Wait(ctx); err != nil {
		t.Fatalf("drain notifications: %v", err)
	}
}

func TestCreatePendingBookingScenarioA(t *testing.T) {
	f := newFixture(t)
	checkout := f.create(t, func(cmd *CreateBookingCommand) {
		cmd.CouponCode = " save20 "
		cmd.CustomerID = "cus_1"
		cmd.Notes = "<b>Window seat</b> please"
	})

	booking := checkout.Booking
	if booking.Status != domain.BookingStatusPending || booking.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected pending booking, got %s/%s", booking.Status, booking.PaymentStatus)
	}
	if booking.Reference != "BK-2025-000001" {
		t.Fatalf("unexpected reference %s", booking.Reference)
	}
	want := domain.PricingSnapshot{
		Currency:       "INR",
		OriginalAmount: 250000,
		DiscountAmount: 50000,
		BaseAmount:     169492,
		TaxAmount:      30508,
		FinalAmount:    200000,
		AmountDueNow:   200000,
		TaxRateBPS:     DefaultTaxRateBPS,
	}
	if booking.Pricing != want {
		t.Fatalf("unexpected pricing %+v", booking.Pricing)
	}
	if booking.Coupon == nil || booking.Coupon.Code != "SAVE20" || booking.Coupon.DiscountAmount != 50000 {
		t.Fatalf("unexpected coupon snapshot %+v", booking.Coupon)
	}
	if booking.Service.UnitPrice != 250000 || booking.Service.Title != "Facial" {
		t.Fatalf("unexpected service snapshot %+v", booking.Service)
	}
	if booking.Notes != "Window seat please" || booking.Contact.Email != "asha@example.com" {
		t.Fatalf("expected sanitised notes and contact, got %q %+v", booking.Notes, booking.Contact)
	}
	if booking.ProviderOrderID != "fake_order_1" || checkout.Payment.OrderRef != "fake_order_1" || checkout.ClientSecret != "fake_order_1_secret" {
		t.Fatalf("unexpected provider linkage %+v %+v", booking, checkout.Payment)
	}
	if checkout.Payment.Amount != 200000 || checkout.Payment.Status != domain.PaymentRecordCreated {
		t.Fatalf("unexpected payment %+v", checkout.Payment)
	}

	req := f.provider.orderReqs[0]
	if req.Amount != 200000 || req.IdempotencyKey == "" || req.Notes["serviceId"] != "svc_facial" || req.Notes["slot"] != "2025-01-15 10:30" {
		t.Fatalf("unexpected order request %+v", req)
	}
	if got := f.coupon(t, "SAVE20").UsedCount; got != 10 {
		t.Fatalf("coupon usage must not change before capture, got %d", got)
	}
	if types := f.events.types(); len(types) != 1 || types[0] != BookingEventCreated {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestCreatePendingBookingDerivesStableOrderKey(t *testing.T) {
	f := newFixture(t)
	first := f.create(t, nil)
	second := f.create(t, nil)
	if first.Booking.Reference == second.Booking.Reference || first.Booking.ID == second.Booking.ID {
		t.Fatalf("expected distinct bookings per attempt")
	}
	if !reflect.DeepEqual(f.provider.orderReqs[0], f.provider.orderReqs[1]) {
		t.Fatalf("retries under one client key must send identical order params:\n%+v\n%+v", f.provider.orderReqs[0], f.provider.orderReqs[1])
	}
	if f.provider.orderReqs[0].Receipt != f.provider.orderReqs[0].IdempotencyKey {
		t.Fatalf("receipt must not carry the per-attempt reference, got %q", f.provider.orderReqs[0].Receipt)
	}
	f.create(t, func(cmd *CreateBookingCommand) { cmd.IdempotencyKey = "idem-2" })
	if f.provider.orderReqs[2].IdempotencyKey == f.provider.orderReqs[0].IdempotencyKey {
		t.Fatalf("expected different provider keys for different client keys")
	}
}

func TestCreatePendingBookingBookingFeeMode(t *testing.T) {
	f := newFixture(t)
	checkout := f.create(t, func(cmd *CreateBookingCommand) {
		cmd.CouponCode = "SAVE20"
		cmd.PaymentMode = domain.PaymentModeBookingFee
	})
	p := checkout.Booking.Pricing
	if p.FinalAmount != 200000 || p.AmountDueNow != 19900 || p.AmountDeferred != 180100 {
		t.Fatalf("unexpected booking fee split %+v", p)
	}
	if checkout.Payment.Amount != 19900 {
		t.Fatalf("expected payment for booking fee, got %d", checkout.Payment.Amount)
	}
}

func TestCreatePendingBookingValidationErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CreateBookingCommand)
		want   error
	}{
		{name: "closed day", mutate: func(c *CreateBookingCommand) { c.Date = "2025-01-13" }, want: ErrScheduleClosedDay},
		{name: "before opening", mutate: func(c *CreateBookingCommand) { c.Time = "08:59" }, want: ErrScheduleOutOfHours},
		{name: "at closing", mutate: func(c *CreateBookingCommand) { c.Time = "21:00" }, want: ErrScheduleOutOfHours},
		{name: "past date", mutate: func(c *CreateBookingCommand) { c.Date = "2025-01-09" }, want: ErrBookingInvalidInput},
		{name: "bad date", mutate: func(c *CreateBookingCommand) { c.Date = "15/01/2025" }, want: ErrBookingInvalidInput},
		{name: "bad time", mutate: func(c *CreateBookingCommand) { c.Time = "half past ten" }, want: ErrBookingInvalidInput},
		{name: "missing name", mutate: func(c *CreateBookingCommand) { c.Contact.Name = "  " }, want: ErrBookingInvalidInput},
		{name: "no reachable contact", mutate: func(c *CreateBookingCommand) { c.Contact.Phone, c.Contact.Email = "", "" }, want: ErrBookingInvalidInput},
		{name: "unknown mode", mutate: func(c *CreateBookingCommand) { c.PaymentMode = "later" }, want: ErrBookingInvalidInput},
		{name: "unknown listing", mutate: func(c *CreateBookingCommand) { c.ListingID = "lst_missing" }, want: ErrListingNotFound},
		{name: "inactive service", mutate: func(c *CreateBookingCommand) { c.ServiceID = "svc_retired" }, want: ErrListingNotFound},
		{name: "expired coupon for booking date", mutate: func(c *CreateBookingCommand) { c.Date = "2025-02-04"; c.CouponCode = "SAVE20" }, want: ErrCouponInvalid},
		{name: "unknown coupon", mutate: func(c *CreateBookingCommand) { c.CouponCode = "NOPE" }, want: ErrCouponInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			cmd := f.createCmd()
			tc.mutate(&cmd)
			_, err := f.bookings.CreatePendingBooking(context.Background(), cmd)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(f.provider.orderReqs) != 0 {
				t.Fatalf("provider must not be called for rejected requests")
			}
		})
	}
}

func TestCreatePendingBookingListingHours(t *testing.T) {
	cases := []struct {
		name    string
		listing func(*domain.Listing)
		time    string
		want    error
	}{
		{name: "overnight evening", listing: func(l *domain.Listing) { l.OpensAt, l.ClosesAt = "18:00", "02:00" }, time: "23:30"},
		{name: "overnight after midnight", listing: func(l *domain.Listing) { l.OpensAt, l.ClosesAt = "18:00", "02:00" }, time: "01:30"},
		{name: "overnight gap", listing: func(l *domain.Listing) { l.OpensAt, l.ClosesAt = "18:00", "02:00" }, time: "10:30", want: ErrScheduleOutOfHours},
		{name: "overnight at closing", listing: func(l *domain.Listing) { l.OpensAt, l.ClosesAt = "18:00", "02:00" }, time: "02:00", want: ErrScheduleOutOfHours},
		{name: "around the clock", listing: func(l *domain.Listing) { l.OpensAt, l.ClosesAt = "00:00", "00:00" }, time: "03:15"},
		{name: "no hours set", listing: func(l *domain.Listing) { l.OpensAt, l.ClosesAt = "", "" }, time: "05:00"},
		{name: "unknown timezone", listing: func(l *domain.Listing) { l.Timezone = "Mars/Olympus" }, time: "10:30", want: ErrListingMisconfigured},
		{name: "unparseable hours", listing: func(l *domain.Listing) { l.OpensAt = "9am" }, time: "10:30", want: ErrListingMisconfigured},
		{name: "closing only", listing: func(l *domain.Listing) { l.OpensAt = "" }, time: "10:30", want: ErrListingMisconfigured},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			listing, err := f.store.Listings().FindByID(context.Background(), "lst_1")
			if err != nil {
				t.Fatalf("load listing: %v", err)
			}
			tc.listing(&listing)
			f.store.PutListing(listing)

			cmd := f.createCmd()
			cmd.Time = tc.time
			_, err = f.bookings.CreatePendingBooking(context.Background(), cmd)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected booking to be accepted, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(f.provider.orderReqs) != 0 {
				t.Fatalf("provider must not be called for rejected requests")
			}
		})
	}
}

func TestCreatePendingBookingCouponErrorCarriesReason(t *testing.T) {
	f := newFixture(t)
	cmd := f.createCmd()
	cmd.Date = "2025-02-04"
	cmd.CouponCode = "SAVE20"
	_, err := f.bookings.CreatePendingBooking(context.Background(), cmd)
	var couponErr *CouponInvalidError
	if !errors.As(err, &couponErr) {
		t.Fatalf("expected coupon error, got %v", err)
	}
	if couponErr.Reason != CouponExpired || couponErr.Message == "" {
		t.Fatalf("unexpected coupon error %+v", couponErr)
	}
}

func TestCreatePendingBookingProviderFailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.provider.createErr = &payments.ProviderError{Provider: "fake", Op: "create_order", StatusCode: 503}

	_, err := f.bookings.CreatePendingBooking(context.Background(), f.createCmd())
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
	stale, err := f.store.Bookings().ListStalePending(context.Background(), f.now.Add(time.Hour), nil, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("expected no persisted booking, got %d", len(stale))
	}
	if len(f.events.types()) != 0 {
		t.Fatalf("expected no events after provider failure")
	}
}

func TestCreatePendingBookingZeroDueConfirmsImmediately(t *testing.T) {
	f := newFixture(t)
	checkout := f.create(t, func(cmd *CreateBookingCommand) {
		cmd.ServiceID = "svc_trim"
		cmd.CouponCode = "FLAT500"
	})
	booking := checkout.Booking
	if booking.Pricing.DiscountAmount != 30000 || booking.Pricing.FinalAmount != 0 {
		t.Fatalf("scenario B pricing mismatch %+v", booking.Pricing)
	}
	if booking.Status != domain.BookingStatusConfirmed || booking.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected confirmed paid booking, got %s/%s", booking.Status, booking.PaymentStatus)
	}
	if checkout.Payment.Provider != ZeroDueProvider || checkout.Payment.Status != domain.PaymentRecordCaptured {
		t.Fatalf("unexpected zero due payment %+v", checkout.Payment)
	}
	if len(f.provider.orderReqs) != 0 {
		t.Fatalf("zero due bookings must not create provider orders")
	}
	if got := f.coupon(t, "FLAT500").UsedCount; got != 1 {
		t.Fatalf("expected coupon usage 1, got %d", got)
	}
	f.drain(t)
	if customer, owner := f.notifier.counts(); customer != 1 || owner != 1 {
		t.Fatalf("expected notifications, got %d/%d", customer, owner)
	}
}

func TestQuoteBookingReportsRemovedCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	quote, err := f.bookings.QuoteBooking(ctx, QuoteBookingCommand{
		ListingID: "lst_1", ServiceID: "svc_facial", Date: "2025-01-15", Time: "10:00", CouponCode: "save20",
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Coupon == nil || quote.Pricing.DiscountAmount != 50000 || quote.CouponRemoved != nil {
		t.Fatalf("expected discount in January, got %+v", quote)
	}

	quote, err = f.bookings.QuoteBooking(ctx, QuoteBookingCommand{
		ListingID: "lst_1", ServiceID: "svc_facial", Date: "2025-02-04", Time: "10:00", CouponCode: "save20",
	})
	if err != nil {
		t.Fatalf("quote after date change: %v", err)
	}
	if quote.Coupon != nil || quote.Pricing.DiscountAmount != 0 || quote.Pricing.FinalAmount != 250000 {
		t.Fatalf("expected stale discount to be dropped, got %+v", quote)
	}
	if quote.CouponRemoved == nil || quote.CouponRemoved.Reason != CouponExpired {
		t.Fatalf("expected coupon_expired removal, got %+v", quote.CouponRemoved)
	}
}

func TestCancelPendingBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	checkout := f.create(t, nil)

	cancelled, err := f.bookings.CancelPendingBooking(ctx, CancelBookingCommand{BookingID: checkout.Booking.ID, Reason: "changed plans", ActorID: "ops"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.BookingStatusCancelled || cancelled.PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("unexpected cancelled booking %s/%s", cancelled.Status, cancelled.PaymentStatus)
	}
	payment, err := f.store.Payments().FindByID(ctx, checkout.Payment.ID)
	if err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if payment.Status != domain.PaymentRecordFailed {
		t.Fatalf("expected failed payment, got %s", payment.Status)
	}
	if _, err := f.bookings.CancelPendingBooking(ctx, CancelBookingCommand{BookingID: checkout.Booking.ID}); !errors.Is(err, ErrBookingInvalidState) {
		t.Fatalf("expected invalid state on second cancel, got %v", err)
	}
	if _, err := f.bookings.CancelPendingBooking(ctx, CancelBookingCommand{BookingID: "bkg_missing"}); !errors.Is(err, ErrBookingNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCompleteBookingRequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	checkout := f.create(t, nil)

	if _, err := f.bookings.CompleteBooking(ctx, CompleteBookingCommand{BookingID: checkout.Booking.ID}); !errors.Is(err, ErrBookingInvalidState) {
		t.Fatalf("expected pending booking to be rejected, got %v", err)
	}
	capturePayment(t, f, checkout, "fake_pay_1")
	completed, err := f.bookings.CompleteBooking(ctx, CompleteBookingCommand{BookingID: checkout.Booking.ID, ActorID: "owner"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != domain.BookingStatusCompleted || completed.CompletedAt == nil {
		t.Fatalf("unexpected completed booking %+v", completed)
	}
}

func TestReissuePaymentOrderSupersedesPreviousAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	checkout := f.create(t, nil)

	reissued, err := f.bookings.ReissuePaymentOrder(ctx, ReissueOrderCommand{BookingID: checkout.Booking.ID})
	if err != nil {
		t.Fatalf("reissue: %v", err)
	}
	if reissued.Payment.ID == checkout.Payment.ID || reissued.Payment.OrderRef != "fake_order_2" {
		t.Fatalf("expected a new payment attempt, got %+v", reissued.Payment)
	}
	if reissued.Booking.PaymentID != reissued.Payment.ID || reissued.Booking.ProviderOrderID != "fake_order_2" {
		t.Fatalf("booking must point at the new attempt, got %+v", reissued.Booking)
	}
	previous, err := f.store.Payments().FindByID(ctx, checkout.Payment.ID)
	if err != nil {
		t.Fatalf("load previous payment: %v", err)
	}
	if previous.Status != domain.PaymentRecordSuperseded {
		t.Fatalf("expected superseded previous attempt, got %s", previous.Status)
	}
	if f.provider.orderReqs[0].IdempotencyKey == f.provider.orderReqs[1].IdempotencyKey {
		t.Fatalf("reissued orders need a fresh provider key")
	}
	if req := f.provider.orderReqs[1]; req.Receipt != checkout.Booking.Reference || req.Notes["bookingId"] != checkout.Booking.ID {
		t.Fatalf("reissued order must reference the booking, got %+v", req)
	}
}

func TestSweepStalePendingCancelsOnlyOldBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.create(t, nil)
	confirmed := f.create(t, nil)
	capturePayment(t, f, confirmed, "fake_pay_c")

	f.now = f.now.Add(30 * time.Hour)
	fresh := f.create(t, func(cmd *CreateBookingCommand) { cmd.Date = "2025-01-16" })

	result, err := f.bookings.SweepStalePending(ctx, SweepCommand{})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Scanned != 1 || len(result.Cancelled) != 1 || result.Cancelled[0] != old.Booking.ID {
		t.Fatalf("unexpected sweep result %+v", result)
	}
	swept, _ := f.bookings.GetBooking(ctx, old.Booking.ID)
	if swept.Status != domain.BookingStatusCancelled || swept.CancellationReason != "payment_timeout" {
		t.Fatalf("unexpected swept booking %s %q", swept.Status, swept.CancellationReason)
	}
	stillPending, _ := f.bookings.GetBooking(ctx, fresh.Booking.ID)
	if stillPending.Status != domain.BookingStatusPending {
		t.Fatalf("fresh booking must stay pending, got %s", stillPending.Status)
	}
	stillConfirmed, _ := f.bookings.GetBooking(ctx, confirmed.Booking.ID)
	if stillConfirmed.Status != domain.BookingStatusConfirmed {
		t.Fatalf("sweep must never touch confirmed bookings, got %s", stillConfirmed.Status)
	}
}

func TestSweepSkipsAuthorizedPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	checkout := f.create(t, nil)
	f.provider.details = payments.PaymentDetails{Status: payments.StatusAuthorized, OrderRef: checkout.Payment.OrderRef}
	if _, err := f.reconciler.VerifyClientPayment(ctx, VerifyPaymentCommand{
		BookingID:  checkout.Booking.ID,
		OrderRef:   checkout.Payment.OrderRef,
		PaymentRef: "fake_pay_auth",
		Signature:  fakeSignature(checkout.Payment.OrderRef, "fake_pay_auth"),
	}); err != nil {
		t.Fatalf("verify: %v", err)
	}

	f.now = f.now.Add(48 * time.Hour)
	result, err := f.bookings.SweepStalePending(ctx, SweepCommand{})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Skipped != 1 || len(result.Cancelled) != 0 {
		t.Fatalf("expected authorised booking to be skipped, got %+v", result)
	}
}

func TestSweepPagesPastAuthorizedBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		checkout := f.create(t, nil)
		paymentRef := fmt.Sprintf("fake_pay_auth_%d", i)
		f.provider.details = payments.PaymentDetails{Status: payments.StatusAuthorized, OrderRef: checkout.Payment.OrderRef}
		if _, err := f.reconciler.VerifyClientPayment(ctx, VerifyPaymentCommand{
			BookingID:  checkout.Booking.ID,
			OrderRef:   checkout.Payment.OrderRef,
			PaymentRef: paymentRef,
			Signature:  fakeSignature(checkout.Payment.OrderRef, paymentRef),
		}); err != nil {
			t.Fatalf("verify: %v", err)
		}
	}
	f.now = f.now.Add(time.Minute)
	stale := f.create(t, nil)

	f.now = f.now.Add(48 * time.Hour)
	result, err := f.bookings.SweepStalePending(ctx, SweepCommand{Limit: 2})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Scanned != 3 || result.Skipped != 2 || len(result.Cancelled) != 1 || result.Cancelled[0] != stale.Booking.ID {
		t.Fatalf("expected sweep to reach the newer stale booking, got %+v", result)
	}
	swept, _ := f.bookings.GetBooking(ctx, stale.Booking.ID)
	if swept.Status != domain.BookingStatusCancelled {
		t.Fatalf("expected stale booking cancelled, got %s", swept.Status)
	}
}

func TestBookingStateTransitions(t *testing.T) {
	cases := []struct {
		from, to domain.BookingStatus
		want     bool
	}{
		{domain.BookingStatusPending, domain.BookingStatusConfirmed, true},
		{domain.BookingStatusPending, domain.BookingStatusCancelled, true},
		{domain.BookingStatusPending, domain.BookingStatusCompleted, false},
		{domain.BookingStatusConfirmed, domain.BookingStatusCancelled, true},
		{domain.BookingStatusConfirmed, domain.BookingStatusCompleted, true},
		{domain.BookingStatusCancelled, domain.BookingStatusConfirmed, false},
		{domain.BookingStatusCompleted, domain.BookingStatusCancelled, false},
	}
	for _, tc := range cases {
		if got := canTransitionBooking(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

// capturePayment drives a client verification for checkout's current order.
func capturePayment(t *testing.T, f *fixture, checkout BookingCheckout, paymentRef string) ReconcileResult {
	t.Helper()
	f.provider.details = payments.PaymentDetails{Status: payments.StatusCaptured, OrderRef: checkout.Payment.OrderRef, PaymentRef: paymentRef}
	result, err := f.reconciler.VerifyClientPayment(context.Background(), VerifyPaymentCommand{
		BookingID:  checkout.Booking.ID,
		OrderRef:   checkout.Payment.OrderRef,
		PaymentRef: paymentRef,
		Signature:  fakeSignature(checkout.Payment.OrderRef, paymentRef),
	})
	if err != nil {
		t.Fatalf("verify payment: %v", err)
	}
	return result
}
