// Package checkout coordinates one user's seat checkout for one ride: it keeps the seat view in
// sync with the ride room, guards payment initiation, re-verifies seats before charging,
// supervises the payment window and commits the booking once the payment succeeds.
package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/metinatakli/ride-checkout/internal/availability"
	"github.com/metinatakli/ride-checkout/internal/domain"
	"github.com/metinatakli/ride-checkout/internal/selection"
)

// Session is one open checkout. All of its state is owned by a single loop goroutine; the
// exported methods hand events to that loop and are safe for concurrent use.
type Session struct {
	id         string
	cfg        Config
	deps       Deps
	ride       domain.RideContext
	topology   domain.Topology
	payerEmail string
	onSuccess  SuccessFunc
	logger     *slog.Logger
	metrics    *metrics

	// ctx is cancelled on close and stops verification, widget and subscription work.
	// Commits run detached from it.
	ctx    context.Context
	cancel context.CancelFunc

	events  chan event
	done    chan struct{}
	closing atomic.Bool

	// Loop-owned state.
	availability *availability.Model
	selection    *selection.State
	processing   domain.ProcessingState
	outcome      domain.Outcome
	connection   domain.ConnectionState
	attempts     int
	current      *attempt
	issued       map[string]*attempt
	inFlight     map[*attempt]struct{}
	timer        *time.Timer
	sub          domain.SeatSubscription
	subscribed   bool
	releasing    bool
	paymentURL   string
	lastNotice   *domain.Notice
	closed       bool

	mu       sync.RWMutex
	snapshot domain.CheckoutSnapshot
}

// Open starts a checkout session for ride. It fetches the ride's current occupancy (falling back
// to ride.KnownOccupied), subscribes to the ride room in the background and starts the session
// loop. onSuccess is called with the updated ride for every confirmed booking.
func Open(
	ctx context.Context,
	deps Deps,
	cfg Config,
	ride domain.RideContext,
	onSuccess SuccessFunc,
	opts ...Option) (*Session, error) {

	err := deps.validate()
	if err != nil {
		return nil, fmt.Errorf("open checkout: %w", err)
	}

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	m, err := newMetrics(deps.Meter)
	if err != nil {
		return nil, fmt.Errorf("open checkout: create instruments: %w", err)
	}

	s := &Session{
		id:         uuid.NewString(),
		cfg:        cfg.withDefaults(),
		deps:       deps,
		ride:       ride,
		topology:   ride.Topology(),
		onSuccess:  onSuccess,
		metrics:    m,
		events:     make(chan event),
		done:       make(chan struct{}),
		processing: domain.StateIdle,
		connection: domain.Disconnected,
		issued:     make(map[string]*attempt),
		inFlight:   make(map[*attempt]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = deps.Logger.With("checkout_id", s.id, "ride_id", ride.RideID)
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s.availability = availability.NewModel(deps.Rides, s.logger)
	s.selection = selection.New(s.topology, s.availability)

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	_, fromServer := s.availability.Initialize(fetchCtx, ride)
	cancel()

	s.publish()

	go s.run()
	go s.subscribe()

	s.logger.Info("checkout opened",
		"vehicle", ride.Vehicle,
		"total_seats", s.topology.TotalSeats,
		"occupied", s.availability.Occupied(),
		"from_server", fromServer)

	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) RideID() string {
	return s.ride.RideID
}

// Done is closed once the session has ended, its subscription is released and no commit is
// in flight.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Snapshot returns a copy of the session's observable state.
func (s *Session) Snapshot() domain.CheckoutSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snapshot
	snap.Selected = append([]int(nil), snap.Selected...)
	snap.Occupied = append([]int(nil), snap.Occupied...)
	snap.Available = append([]int(nil), snap.Available...)
	if snap.LastNotice != nil {
		n := *snap.LastNotice
		snap.LastNotice = &n
	}

	return snap
}

// ToggleSeat adds or removes seat from the selection and reports whether it changed. Occupied
// seats, seats outside the vehicle and toggles while a payment is in progress are ignored.
func (s *Session) ToggleSeat(seat int) (bool, error) {
	reply := make(chan bool, 1)
	if !s.call(toggleSeat{seat: seat, reply: reply}) {
		return false, domain.ErrSessionClosed
	}

	return <-reply, nil
}

// RequestPayment starts a payment attempt for the current selection. Guard failures are
// reported as notices; the attempt itself continues in the background.
func (s *Session) RequestPayment() error {
	reply := make(chan struct{}, 1)
	if !s.call(requestPayment{reply: reply}) {
		return domain.ErrSessionClosed
	}

	<-reply
	return nil
}

// CancelAndReset abandons the attempt in progress and returns the session to idle. The
// selection is kept.
func (s *Session) CancelAndReset() error {
	reply := make(chan struct{}, 1)
	if !s.call(cancelReset{reply: reply}) {
		return domain.ErrSessionClosed
	}

	<-reply
	return nil
}

// Close ends the session. The room subscription is released in the background and a commit
// already in flight keeps running until it resolves; Done reports when both are finished. Close
// is idempotent.
func (s *Session) Close() error {
	reply := make(chan struct{}, 1)
	if !s.call(closeSession{reply: reply}) {
		return nil
	}

	<-reply
	return nil
}

// call hands a caller operation to the loop. It fails once the session is closing.
func (s *Session) call(ev event) bool {
	if s.closing.Load() {
		return false
	}

	return s.post(ev)
}

// post hands ev to the loop and reports whether the loop took it.
func (s *Session) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) subscribe() {
	sub, err := s.deps.Feed.Subscribe(s.ctx, s.ride.RideID, feedHandler{s: s})
	if !s.post(feedSubscribed{sub: sub, err: err}) && sub != nil {
		err = sub.Close()
		if err != nil {
			s.logger.Warn("failed to close ride room subscription", "error", err)
		}
	}
}

// publish refreshes the snapshot readers see. Called by the loop after every event.
func (s *Session) publish() {
	snap := domain.CheckoutSnapshot{
		RideID:      s.ride.RideID,
		Vehicle:     s.ride.Vehicle,
		Topology:    s.topology,
		Selected:    s.selection.Seats().Slice(),
		Occupied:    s.availability.Occupied(),
		Available:   s.availability.Available(s.topology),
		Processing:  s.processing,
		Outcome:     s.outcome,
		Connection:  s.connection,
		TotalAmount: s.selection.Total(s.ride.PricePerSeat),
		Attempt:     s.attempts,
		PaymentURL:  s.paymentURL,
		Closed:      s.closed,
		LastNotice:  s.lastNotice,
	}

	if s.current != nil {
		snap.Reference = s.current.reference
	}

	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
}
