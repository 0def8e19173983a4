package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/metinatakli/ride-checkout/internal/checkout"
	"github.com/metinatakli/ride-checkout/internal/domain"
	"github.com/metinatakli/ride-checkout/internal/jsonutil"
	"github.com/metinatakli/ride-checkout/internal/mailer"
	"github.com/metinatakli/ride-checkout/internal/mocks"
	"github.com/metinatakli/ride-checkout/internal/payment"
	"github.com/metinatakli/ride-checkout/internal/validator"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	testRideID        = "ride-42"
	testToken         = "token-abc"
	testEmail         = "rider@example.com"
	testWebhookSecret = "whsec_test"
)

func newTestApplication(opts ...func(*application)) *application {
	app := &application{
		config: config{
			env:                 "test",
			checkout:            checkout.DefaultConfig(),
			checkoutIdleTimeout: time.Minute,
		},
		validator:      validator.NewValidator(),
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		mailer:         mailer.NewMockMailer(),
		sessionManager: scs.New(),
		checkouts:      newCheckoutRegistry(),
	}

	for _, opt := range opts {
		opt(app)
	}

	return app
}

// gatewayTestSuite drives the gateway through its router with a cookie-keeping client, so every
// request goes through the same middleware chain as in production.
type gatewayTestSuite struct {
	suite.Suite
	app       *application
	server    *httptest.Server
	client    *http.Client
	rides     *mocks.MockRideRepository
	feed      *mocks.MockSeatFeed
	sub       *mocks.MockSeatSubscription
	committer *mocks.MockBookingCommitter
	redis     *mocks.MockRedisClient
	mailer    *mailer.MockMailer
	widget    *payment.StripeWidget
	handlers  chan domain.FeedHandler
	opened    chan string
	expired   chan string

	mu     sync.Mutex
	tokens []string
}

func (s *gatewayTestSuite) SetupTest() {
	s.rides = new(mocks.MockRideRepository)
	s.feed = new(mocks.MockSeatFeed)
	s.sub = new(mocks.MockSeatSubscription)
	s.committer = new(mocks.MockBookingCommitter)
	s.redis = new(mocks.MockRedisClient)
	s.mailer = mailer.NewMockMailer()
	s.handlers = make(chan domain.FeedHandler, 4)
	s.opened = make(chan string, 4)
	s.expired = make(chan string, 4)
	s.tokens = nil

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.widget = payment.NewStripeWidget("sk_test", testWebhookSecret,
		"https://rides.test/success", "https://rides.test/payments/{reference}/cancel", logger).
		WithSessionCreator(func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
			reference := stripe.StringValue(params.ClientReferenceID)
			s.opened <- reference

			return &stripe.CheckoutSession{
				ID:  "cs_" + reference,
				URL: "https://checkout.stripe.test/" + reference,
			}, nil
		}).
		WithSessionExpirer(func(id string, _ *stripe.CheckoutSessionExpireParams) (*stripe.CheckoutSession, error) {
			select {
			case s.expired <- id:
			default:
			}
			return &stripe.CheckoutSession{ID: id}, nil
		})

	s.sub.On("Close").Return(nil)

	s.app = newTestApplication(func(a *application) {
		a.mailer = s.mailer
		a.redis = s.redis
		a.rideRepo = s.rides
		a.feed = s.feed
		a.widget = s.widget
		a.newCommitter = func(token string) domain.BookingCommitter {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.tokens = append(s.tokens, token)
			return s.committer
		}
	})

	s.server = httptest.NewServer(s.app.routes())

	jar, err := cookiejar.New(nil)
	s.Require().NoError(err)
	s.client = &http.Client{Jar: jar}
}

func (s *gatewayTestSuite) TearDownTest() {
	s.app.closeAllCheckouts()
	s.server.Close()
	s.app.wg.Wait()
}

func (s *gatewayTestSuite) do(method, path string, body any) *http.Response {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(s.T().Context(), method, s.server.URL+path, reader)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	s.Require().NoError(err)
	s.T().Cleanup(func() { resp.Body.Close() })

	return resp
}

func decode[T any](s *gatewayTestSuite, resp *http.Response) T {
	var v T
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// checkErrorResponse asserts the error envelope of a failed request.
func (s *gatewayTestSuite) checkErrorResponse(resp *http.Response, wantStatus int, wantErrMessage string) {
	s.Require().Equal(wantStatus, resp.StatusCode)

	if wantStatus == http.StatusUnprocessableEntity {
		validationResp := decode[ValidationErrorResponse](s, resp)

		issues := make([]string, 0, len(validationResp.ValidationErrors))
		for _, vErr := range validationResp.ValidationErrors {
			issues = append(issues, vErr.Issue)
		}

		s.Contains(issues, wantErrMessage)
		return
	}

	errorResp := decode[jsonutil.ErrorResponse](s, resp)
	if wantErrMessage != "" {
		s.Equal(wantErrMessage, errorResp.Message)
	}
}

func (s *gatewayTestSuite) login() {
	resp := s.do(http.MethodPut, "/session", putSessionRequest{Token: testToken, Email: testEmail})
	s.Require().Equal(http.StatusNoContent, resp.StatusCode)
}

func testRide(occupied ...int) *domain.Ride {
	return &domain.Ride{
		ID:            testRideID,
		Park:          "Jibowu",
		VehicleType:   string(domain.VehicleSienna),
		Price:         decimal.NewFromInt(1000),
		TotalSeats:    domain.TopologyFor(domain.VehicleSienna).TotalSeats,
		OccupiedSeats: occupied,
	}
}

func openRequest(occupied ...int) openCheckoutRequest {
	return openCheckoutRequest{
		RideID:        testRideID,
		Price:         decimal.NewFromInt(1000),
		VehicleType:   "Sienna",
		Park:          "Jibowu",
		OccupiedSeats: occupied,
	}
}

// openConnected opens a checkout for a sienna ride with seat 2 taken and waits for the ride room
// to report connected.
func (s *gatewayTestSuite) openConnected() checkoutResponse {
	s.rides.On("GetRide", mock.Anything, testRideID).Return(testRide(2), nil)
	s.feed.On("Subscribe", mock.Anything, testRideID, mock.Anything).
		Run(func(args mock.Arguments) {
			h := args.Get(2).(domain.FeedHandler)
			h.OnConnected()
			s.handlers <- h
		}).
		Return(s.sub, nil)

	resp := s.do(http.MethodPost, "/checkout", openRequest(2))
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	opened := decode[checkoutResponse](s, resp)

	select {
	case <-s.handlers:
	case <-time.After(time.Second):
		s.FailNow("ride room was not subscribed")
	}

	s.waitForCheckout(func(c checkoutResponse) bool {
		return c.Checkout.Connection == domain.Connected
	})

	return opened
}

func (s *gatewayTestSuite) getCheckout() checkoutResponse {
	resp := s.do(http.MethodGet, "/checkout", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	return decode[checkoutResponse](s, resp)
}

// waitForCheckout polls GET /checkout until cond holds and returns every notice drained on the way.
func (s *gatewayTestSuite) waitForCheckout(cond func(checkoutResponse) bool) (checkoutResponse, []domain.Notice) {
	var (
		last    checkoutResponse
		notices []domain.Notice
	)

	s.Require().Eventually(func() bool {
		last = s.getCheckout()
		notices = append(notices, last.Notices...)
		return cond(last)
	}, 2*time.Second, 10*time.Millisecond)

	return last, notices
}

func (s *gatewayTestSuite) toggle(seat int) toggleSeatResponse {
	resp := s.do(http.MethodPost, fmt.Sprintf("/checkout/seats/%d", seat), nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	return decode[toggleSeatResponse](s, resp)
}

// pay selects seats, requests payment and returns the reference the widget was opened with.
func (s *gatewayTestSuite) pay(seats ...int) string {
	for _, seat := range seats {
		s.Require().True(s.toggle(seat).Changed)
	}

	resp := s.do(http.MethodPost, "/checkout/payment", nil)
	s.Require().Equal(http.StatusAccepted, resp.StatusCode)

	var reference string
	select {
	case reference = <-s.opened:
	case <-time.After(2 * time.Second):
		s.FailNow("payment widget was not opened")
	}

	s.waitForCheckout(func(c checkoutResponse) bool {
		return c.Checkout.Processing == domain.StateAwaitingPayment
	})

	return reference
}

func (s *gatewayTestSuite) postWebhook(eventType stripe.EventType, reference string) *http.Response {
	payload := []byte(fmt.Sprintf(`{
		"id": "evt_test",
		"object": "event",
		"type": %q,
		"data": {
			"object": {
				"id": "cs_test",
				"object": "checkout.session",
				"client_reference_id": %q,
				"payment_status": "paid"
			}
		}
	}`, eventType, reference))

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})

	req, err := http.NewRequestWithContext(s.T().Context(), http.MethodPost, s.server.URL+"/webhook",
		bytes.NewReader(signed.Payload))
	s.Require().NoError(err)
	req.Header.Set("Stripe-Signature", signed.Header)

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	s.T().Cleanup(func() { resp.Body.Close() })

	return resp
}

func noticeKinds(notices []domain.Notice) []domain.NoticeKind {
	kinds := make([]domain.NoticeKind, len(notices))
	for i, n := range notices {
		kinds[i] = n.Kind
	}
	return kinds
}
