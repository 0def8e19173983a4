package checkout

import (
	"errors"
	"log/slog"
	"time"

	"github.com/metinatakli/ride-checkout/internal/domain"
	"go.opentelemetry.io/otel/metric"
)

// Config is the checkout policy shared by every session.
type Config struct {
	// PaymentWindow bounds how long a session waits in AwaitingPayment for the widget to report.
	PaymentWindow time.Duration
	// CommitTimeout bounds a single booking commit request.
	CommitTimeout time.Duration
	// FetchTimeout bounds the initial ride fetch and the pre-payment re-verification.
	FetchTimeout time.Duration
	Currency     string
}

func DefaultConfig() Config {
	return Config{
		PaymentWindow: 2 * time.Minute,
		CommitTimeout: 30 * time.Second,
		FetchTimeout:  10 * time.Second,
		Currency:      "NGN",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PaymentWindow <= 0 {
		c.PaymentWindow = d.PaymentWindow
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = d.CommitTimeout
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.Currency == "" {
		c.Currency = d.Currency
	}
	return c
}

// Deps are the collaborators of a checkout session. Rides, Feed, Widget and Committer are required.
type Deps struct {
	Rides     domain.RideRepository
	Feed      domain.SeatFeed
	Widget    domain.PaymentWidget
	Committer domain.BookingCommitter
	Notifier  domain.Notifier
	// FollowUp is called for every charged attempt that did not end in a confirmed booking.
	FollowUp func(domain.FollowUp)
	Logger   *slog.Logger
	Meter    metric.Meter
}

func (d Deps) validate() error {
	var errs []error
	if d.Rides == nil {
		errs = append(errs, errors.New("ride repository is required"))
	}
	if d.Feed == nil {
		errs = append(errs, errors.New("seat feed is required"))
	}
	if d.Widget == nil {
		errs = append(errs, errors.New("payment widget is required"))
	}
	if d.Committer == nil {
		errs = append(errs, errors.New("booking committer is required"))
	}
	return errors.Join(errs...)
}

// SuccessFunc receives the server's updated ride after a confirmed booking.
type SuccessFunc func(ride *domain.Ride)

type Option func(*Session)

// WithPayerEmail sets the e-mail the payment widget is opened with.
func WithPayerEmail(email string) Option {
	return func(s *Session) {
		s.payerEmail = email
	}
}

// WithID overrides the generated checkout id.
func WithID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}
