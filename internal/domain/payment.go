package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentRequest is what the hosted payment widget is opened with.
type PaymentRequest struct {
	AmountMinorUnits int64
	Currency         string
	Reference        string
	PayerEmail       string
	RideID           string
	Seats            []int
}

// PaymentCallbacks are the only two ways the widget reports back. Either may never be called.
type PaymentCallbacks struct {
	OnSuccess func(reference string)
	OnCancel  func()
}

// PaymentPage is returned by the widget once it is open; URL is where the payer completes payment.
type PaymentPage struct {
	URL string
}

type PaymentWidget interface {
	Ready() bool
	Open(ctx context.Context, req PaymentRequest, callbacks PaymentCallbacks) (*PaymentPage, error)
	// Release withdraws the page opened for reference once its attempt ended without a callback.
	Release(reference string) error
}

// NewPaymentReference builds a reference from the current time and a random suffix, so two
// attempts never share one.
func NewPaymentReference() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("TRX-%d-%s", time.Now().UnixMilli(), suffix)
}

// MinorUnits converts a major-unit amount (e.g. naira) to minor units (kobo).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).IntPart()
}

// TotalAmount is the price of count seats at pricePerSeat.
func TotalAmount(pricePerSeat decimal.Decimal, count int) decimal.Decimal {
	return pricePerSeat.Mul(decimal.NewFromInt(int64(count)))
}
