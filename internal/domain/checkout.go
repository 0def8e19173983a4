package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProcessingState string

const (
	StateIdle            ProcessingState = "idle"
	StateVerifying       ProcessingState = "verifying"
	StateAwaitingPayment ProcessingState = "awaiting_payment"
	StateCommitting      ProcessingState = "committing"
)

// Outcome records how the last payment attempt left the session when it returned to idle.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connected    ConnectionState = "connected"
)

type NoticeLevel string

const (
	LevelInfo    NoticeLevel = "info"
	LevelSuccess NoticeLevel = "success"
	LevelWarning NoticeLevel = "warning"
	LevelError   NoticeLevel = "error"
)

type NoticeKind string

const (
	NoticeSeatsTaken            NoticeKind = "seats_taken"
	NoticeNoSeatsSelected       NoticeKind = "no_seats_selected"
	NoticeOffline               NoticeKind = "offline"
	NoticePaymentNotReady       NoticeKind = "payment_not_ready"
	NoticeVerificationFailed    NoticeKind = "verification_failed"
	NoticePaymentInitFailed     NoticeKind = "payment_init_failed"
	NoticePaymentCancelled      NoticeKind = "payment_cancelled"
	NoticePaymentTimedOut       NoticeKind = "payment_timed_out"
	NoticeBookingConfirmed      NoticeKind = "booking_confirmed"
	NoticeBookingRejected       NoticeKind = "booking_rejected"
	NoticeBookingOutcomeUnknown NoticeKind = "booking_outcome_unknown"
	NoticeCheckoutReset         NoticeKind = "checkout_reset"
	NoticeLatePayment           NoticeKind = "late_payment"
	NoticeSessionExpired        NoticeKind = "session_expired"
)

// Notice is a user-visible message produced by the checkout.
type Notice struct {
	Kind      NoticeKind  `json:"kind"`
	Level     NoticeLevel `json:"level"`
	Title     string      `json:"title"`
	Message   string      `json:"message"`
	Seats     []int       `json:"seats,omitempty"`
	Reference string      `json:"reference,omitempty"`
	At        time.Time   `json:"at"`
}

type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) {
	f(n)
}

// CheckoutSnapshot is the read-only view of a checkout session the UI renders from.
type CheckoutSnapshot struct {
	RideID      string          `json:"rideId"`
	Vehicle     VehicleClass    `json:"vehicle"`
	Topology    Topology        `json:"topology"`
	Selected    []int           `json:"selectedSeats"`
	Occupied    []int           `json:"occupiedSeats"`
	Available   []int           `json:"availableSeats"`
	Processing  ProcessingState `json:"processingState"`
	Outcome     Outcome         `json:"outcome"`
	Connection  ConnectionState `json:"connectionState"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Attempt     int             `json:"attempt"`
	Reference   string          `json:"paymentReference,omitempty"`
	PaymentURL  string          `json:"paymentUrl,omitempty"`
	Closed      bool            `json:"closed"`
	LastNotice  *Notice         `json:"lastNotice,omitempty"`
}
