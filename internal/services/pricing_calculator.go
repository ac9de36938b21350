package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/bookings/internal/domain"
)

const (
	// DefaultTaxRateBPS is the tax rate included in listed prices, in basis points.
	DefaultTaxRateBPS int64 = 1800
	// DefaultBookingFee is the flat amount charged online in booking fee mode.
	DefaultBookingFee int64 = 19900
	// DefaultCurrency is used when a listing does not declare one.
	DefaultCurrency = "INR"

	basisPoints = 10000
)

// ErrPricingInvalidInput signals negative amounts or an unknown payment mode.
var ErrPricingInvalidInput = errors.New("pricing: invalid input")

// PricingConfig holds the marketplace wide pricing parameters.
type PricingConfig struct {
	TaxRateBPS int64
	BookingFee int64
	Currency   string
}

// PricingCalculator splits a tax inclusive price into the booking's pricing snapshot.
type PricingCalculator struct {
	taxRateBPS int64
	bookingFee int64
	currency   string
}

// NewPricingCalculator validates cfg and applies defaults for zero values.
func NewPricingCalculator(cfg PricingConfig) (*PricingCalculator, error) {
	if cfg.TaxRateBPS < 0 || cfg.BookingFee < 0 {
		return nil, fmt.Errorf("%w: tax rate and booking fee must not be negative", ErrPricingInvalidInput)
	}
	taxRate := cfg.TaxRateBPS
	if taxRate == 0 {
		taxRate = DefaultTaxRateBPS
	}
	fee := cfg.BookingFee
	if fee == 0 {
		fee = DefaultBookingFee
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	return &PricingCalculator{taxRateBPS: taxRate, bookingFee: fee, currency: currency}, nil
}

// Currency returns the fallback currency for listings that do not set one.
func (c *PricingCalculator) Currency() string {
	return c.currency
}

// ComputePricing returns the snapshot for unitPrice less discount in the given mode.
// In booking-fee mode AmountDueNow is min(bookingFee, FinalAmount), so a fee larger
// than the discounted price charges the final amount and defers nothing.
func (c *PricingCalculator) ComputePricing(unitPrice, discount int64, mode domain.PaymentMode) (domain.PricingSnapshot, error) {
	if unitPrice < 0 {
		return domain.PricingSnapshot{}, fmt.Errorf("%w: unit price must not be negative", ErrPricingInvalidInput)
	}
	if discount < 0 {
		return domain.PricingSnapshot{}, fmt.Errorf("%w: discount must not be negative", ErrPricingInvalidInput)
	}
	if !mode.Valid() {
		return domain.PricingSnapshot{}, fmt.Errorf("%w: unsupported payment mode %q", ErrPricingInvalidInput, mode)
	}

	if discount > unitPrice {
		discount = unitPrice
	}
	final := unitPrice - discount
	base := c.baseAmount(final)

	snapshot := domain.PricingSnapshot{
		Currency:       c.currency,
		OriginalAmount: unitPrice,
		DiscountAmount: discount,
		BaseAmount:     base,
		TaxAmount:      final - base,
		FinalAmount:    final,
		TaxRateBPS:     c.taxRateBPS,
	}

	switch mode {
	case domain.PaymentModeFull:
		snapshot.AmountDueNow = final
	case domain.PaymentModeBookingFee:
		snapshot.BookingFee = c.bookingFee
		snapshot.AmountDueNow = min(c.bookingFee, final)
		snapshot.AmountDeferred = final - snapshot.AmountDueNow
	}
	return snapshot, nil
}

// baseAmount removes the included tax, rounding half away from zero.
func (c *PricingCalculator) baseAmount(amount int64) int64 {
	if amount == 0 {
		return 0
	}
	divisor := decimal.NewFromInt(basisPoints + c.taxRateBPS).Div(decimal.NewFromInt(basisPoints))
	return decimal.NewFromInt(amount).Div(divisor).Round(0).IntPart()
}

func withCurrency(snapshot domain.PricingSnapshot, currency string) domain.PricingSnapshot {
	if currency = strings.ToUpper(strings.TrimSpace(currency)); currency != "" {
		snapshot.Currency = currency
	}
	return snapshot
}
