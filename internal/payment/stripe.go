package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/metinatakli/ride-checkout/internal/domain"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

const maxWebhookBytes = 65536

// SessionCreator creates a hosted checkout session; session.New in production.
type SessionCreator func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)

// SessionExpirer expires an open checkout session; session.Expire in production.
type SessionExpirer func(id string, params *stripe.CheckoutSessionExpireParams) (*stripe.CheckoutSession, error)

type pendingPayment struct {
	callbacks domain.PaymentCallbacks
	sessionID string
}

// StripeWidget opens Stripe hosted checkout pages and routes the provider's asynchronous outcome
// (webhook or cancel redirect) back to the callbacks registered for each payment reference.
type StripeWidget struct {
	secretKey     string
	webhookSecret string
	successUrl    string
	cancelUrl     string
	createSession SessionCreator
	expireSession SessionExpirer
	logger        *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingPayment
}

// NewStripeWidget builds a widget. cancelUrl may contain "{reference}", which is replaced with
// the payment reference so the cancel redirect can be routed back to Cancel.
func NewStripeWidget(secretKey, webhookSecret, successUrl, cancelUrl string, logger *slog.Logger) *StripeWidget {
	return &StripeWidget{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		successUrl:    successUrl,
		cancelUrl:     cancelUrl,
		createSession: session.New,
		expireSession: session.Expire,
		logger:        logger,
		pending:       make(map[string]*pendingPayment),
	}
}

// WithSessionCreator replaces the Stripe API call, for tests and sandboxes.
func (s *StripeWidget) WithSessionCreator(fn SessionCreator) *StripeWidget {
	s.createSession = fn
	return s
}

func (s *StripeWidget) WithSessionExpirer(fn SessionExpirer) *StripeWidget {
	s.expireSession = fn
	return s
}

func (s *StripeWidget) Ready() bool {
	return s.secretKey != "" && s.webhookSecret != ""
}

func (s *StripeWidget) Open(
	_ context.Context,
	req domain.PaymentRequest,
	callbacks domain.PaymentCallbacks) (*domain.PaymentPage, error) {

	if !s.Ready() {
		return nil, domain.ErrPaymentUnavailable
	}

	seatLabels := make([]string, len(req.Seats))
	for i, seat := range req.Seats {
		seatLabels[i] = fmt.Sprint(seat)
	}

	params := &stripe.CheckoutSessionParams{
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.AmountMinorUnits),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(fmt.Sprintf("Ride %s - %d seat(s)", req.RideID, len(req.Seats))),
						Description: stripe.String(fmt.Sprintf("Seats: %s", strings.Join(seatLabels, ", "))),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(s.successUrl),
		CancelURL:  stripe.String(strings.ReplaceAll(s.cancelUrl, "{reference}", req.Reference)),
		Metadata: map[string]string{
			"ride_id":   req.RideID,
			"reference": req.Reference,
			"seats":     strings.Join(seatLabels, ","),
		},
		ClientReferenceID: stripe.String(req.Reference),
	}
	if req.PayerEmail != "" {
		params.CustomerEmail = stripe.String(req.PayerEmail)
	}

	stripe.Key = s.secretKey

	checkoutSession, err := s.createSession(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe checkout session: %w", err)
	}

	s.mu.Lock()
	s.pending[req.Reference] = &pendingPayment{callbacks: callbacks, sessionID: checkoutSession.ID}
	s.mu.Unlock()

	s.logger.Info("payment widget opened",
		"reference", req.Reference,
		"checkout_session_id", checkoutSession.ID,
		"amount_minor_units", req.AmountMinorUnits,
		"currency", req.Currency)

	return &domain.PaymentPage{URL: checkoutSession.URL}, nil
}

// take removes and returns the callbacks of reference, so each reference resolves at most once.
func (s *StripeWidget) take(reference string) (*pendingPayment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[reference]
	if ok {
		delete(s.pending, reference)
	}

	return p, ok
}

// Cancel reports that the payer closed the payment page for reference.
func (s *StripeWidget) Cancel(reference string) error {
	p, ok := s.take(reference)
	if !ok {
		return domain.ErrUnknownReference
	}

	s.logger.Info("payment window closed by payer", "reference", reference)

	if p.callbacks.OnCancel != nil {
		p.callbacks.OnCancel()
	}

	return nil
}

// Release expires the hosted page of reference and forgets its callbacks. When Stripe refuses to
// expire it, usually because the payer just completed it, the callbacks are kept for the webhook
// that follows.
func (s *StripeWidget) Release(reference string) error {
	s.mu.Lock()
	p, ok := s.pending[reference]
	s.mu.Unlock()

	if !ok {
		return domain.ErrUnknownReference
	}

	stripe.Key = s.secretKey

	_, err := s.expireSession(p.sessionID, &stripe.CheckoutSessionExpireParams{})
	if err != nil {
		return fmt.Errorf("expire stripe checkout session %s: %w", p.sessionID, err)
	}

	s.take(reference)
	s.logger.Info("payment page withdrawn", "reference", reference, "checkout_session_id", p.sessionID)

	return nil
}

// Succeed reports a completed payment for reference.
func (s *StripeWidget) Succeed(reference string) error {
	p, ok := s.take(reference)
	if !ok {
		return domain.ErrUnknownReference
	}

	s.logger.Info("payment completed", "reference", reference)

	if p.callbacks.OnSuccess != nil {
		p.callbacks.OnSuccess(reference)
	}

	return nil
}

// WebhookHandler verifies and dispatches Stripe checkout webhooks.
func (s *StripeWidget) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		http.Error(w, "unable to read body", http.StatusServiceUnavailable)
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		payload,
		r.Header.Get("Stripe-Signature"),
		s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		s.logger.Warn("rejected stripe webhook with invalid signature", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	err = s.dispatch(event)
	switch {
	case err == nil, errors.Is(err, domain.ErrUnknownReference):
		w.WriteHeader(http.StatusOK)
	default:
		s.logger.Error("failed to handle stripe webhook", "event_type", event.Type, "error", err)
		http.Error(w, "invalid event payload", http.StatusBadRequest)
	}
}

func (s *StripeWidget) dispatch(event stripe.Event) error {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionExpired,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
	default:
		return nil
	}

	var cs stripe.CheckoutSession
	err := json.Unmarshal(event.Data.Raw, &cs)
	if err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}

	reference := cs.ClientReferenceID
	if reference == "" {
		reference = cs.Metadata["reference"]
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			s.logger.Info("checkout completed with payment pending", "reference", reference)
			return nil
		}
		return s.Succeed(reference)
	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		return s.Succeed(reference)
	default:
		return s.Cancel(reference)
	}
}
