package checkout

import (
	"context"
	"time"

	"github.com/metinatakli/ride-checkout/internal/domain"
)

func (s *Session) run() {
	defer close(s.done)

	for ev := range s.events {
		s.handle(ev)
		s.publish()

		if s.closed && s.subscribed && s.sub == nil && !s.releasing && len(s.inFlight) == 0 {
			s.logger.Info("checkout ended")
			return
		}
	}
}

func (s *Session) handle(ev event) {
	switch ev := ev.(type) {
	// Caller operations publish before replying so the caller's next Snapshot reflects them.
	case toggleSeat:
		changed := s.handleToggle(ev.seat)
		s.publish()
		ev.reply <- changed
	case requestPayment:
		s.handleRequestPayment()
		s.publish()
		ev.reply <- struct{}{}
	case cancelReset:
		s.handleCancelReset()
		s.publish()
		ev.reply <- struct{}{}
	case closeSession:
		s.handleClose()
		s.publish()
		ev.reply <- struct{}{}
	case feedSubscribed:
		s.handleSubscribed(ev)
	case subscriptionReleased:
		s.handleReleased(ev.err)
	case feedConnected:
		s.handleConnected()
	case feedDisconnected:
		s.handleDisconnected(ev.err)
	case seatsUpdated:
		s.handleSeatsUpdated(ev.occupied)
	case verified:
		s.handleVerified(ev)
	case paymentOpened:
		s.handlePaymentOpened(ev)
	case paymentSucceeded:
		s.handlePaymentSucceeded(ev.reference)
	case paymentCancelled:
		s.handlePaymentCancelled(ev.reference)
	case paymentTimedOut:
		s.handlePaymentTimedOut(ev.attempt)
	case committed:
		s.handleCommitted(ev.attempt, ev.result)
	}
}

func (s *Session) handleToggle(seat int) bool {
	if s.closed {
		return false
	}

	frozen := s.processing != domain.StateIdle
	changed := s.selection.Toggle(seat, frozen)
	if changed {
		s.logger.Debug("selection changed", "seat", seat, "selected", s.selection.Seats().Slice())
	}

	return changed
}

func (s *Session) handleRequestPayment() {
	if s.closed {
		return
	}

	if s.processing != domain.StateIdle {
		s.logger.Debug("payment requested while attempt in progress", "processing", s.processing)
		return
	}

	switch {
	case s.selection.Empty():
		s.notify(domain.NoticeNoSeatsSelected, domain.LevelWarning,
			"No seats selected", "Please select at least one seat to continue.", nil, "")
		return
	case s.connection != domain.Connected:
		s.notify(domain.NoticeOffline, domain.LevelWarning,
			"Connection error", "Unable to connect to the booking server. Please check your connection.", nil, "")
		return
	case !s.deps.Widget.Ready():
		s.notify(domain.NoticePaymentNotReady, domain.LevelWarning,
			"Payment system not ready", "Please wait a moment while the payment system loads.", nil, "")
		return
	}

	s.attempts++
	a := &attempt{
		number: s.attempts,
		seats:  s.selection.Seats(),
	}

	s.current = a
	s.processing = domain.StateVerifying
	s.outcome = domain.OutcomeNone
	s.paymentURL = ""

	s.logger.Info("verifying seats", "attempt", a.number, "seats", a.seats.Slice())

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.FetchTimeout)
		defer cancel()

		ride, err := s.deps.Rides.GetRide(ctx, s.ride.RideID)
		s.post(verified{attempt: a, ride: ride, err: err})
	}()
}

func (s *Session) handleVerified(ev verified) {
	a := ev.attempt
	if a != s.current || s.processing != domain.StateVerifying {
		s.logger.Debug("dropping stale verification result", "attempt", a.number)
		return
	}

	if ev.err == nil && ev.ride == nil {
		ev.err = domain.ErrMalformedRide
	}

	if ev.err != nil {
		s.logger.Warn("seat verification failed", "attempt", a.number, "error", ev.err)
		s.endAttempt(domain.OutcomeFailed, "verification_failed")
		s.notify(domain.NoticeVerificationFailed, domain.LevelError,
			"Verification failed", "Unable to verify seat availability. Please try again.", nil, "")
		return
	}

	s.availability.Merge(ev.ride.OccupiedSeats, s.selection.Seats())
	conflicts := a.seats.Intersect(domain.NewSeatSet(s.availability.Occupied()...))
	if conflicts.Len() > 0 {
		s.selection.Reconcile(conflicts)
		s.logger.Info("seats taken before payment", "attempt", a.number, "seats", conflicts.Slice())
		s.endAttempt(domain.OutcomeFailed, "seats_taken")
		s.notify(domain.NoticeSeatsTaken, domain.LevelWarning,
			"Seats no longer available",
			"Some of your selected seats were just booked by someone else. Please select different seats.",
			conflicts.Slice(), "")
		return
	}

	s.openPayment(a)
}

func (s *Session) openPayment(a *attempt) {
	a.reference = domain.NewPaymentReference()
	s.issued[a.reference] = a
	s.processing = domain.StateAwaitingPayment

	total := domain.TotalAmount(s.ride.PricePerSeat, a.seats.Len())
	req := domain.PaymentRequest{
		AmountMinorUnits: domain.MinorUnits(total),
		Currency:         s.cfg.Currency,
		Reference:        a.reference,
		PayerEmail:       s.payerEmail,
		RideID:           s.ride.RideID,
		Seats:            a.seats.Slice(),
	}

	callbacks := domain.PaymentCallbacks{
		OnSuccess: func(reference string) {
			if reference == "" {
				reference = a.reference
			}
			if !s.post(paymentSucceeded{reference: reference}) {
				s.logger.Warn("payment completed after checkout ended", "reference", reference)
				s.followUp(a, domain.RejectedGeneric("checkout ended before the payment completed"))
			}
		},
		OnCancel: func() {
			s.post(paymentCancelled{reference: a.reference})
		},
	}

	s.timer = time.AfterFunc(s.cfg.PaymentWindow, func() {
		s.post(paymentTimedOut{attempt: a})
	})

	s.logger.Info("opening payment widget",
		"attempt", a.number,
		"reference", a.reference,
		"amount", total.String(),
		"currency", s.cfg.Currency)

	go func() {
		page, err := s.deps.Widget.Open(s.ctx, req, callbacks)
		if s.post(paymentOpened{attempt: a, page: page, err: err}) || err != nil {
			return
		}

		// The session ended while the page was being created.
		err = s.deps.Widget.Release(a.reference)
		if err != nil {
			s.logger.Warn("failed to withdraw payment page", "reference", a.reference, "error", err)
		}
	}()
}

func (s *Session) handlePaymentOpened(ev paymentOpened) {
	a := ev.attempt
	if a != s.current || s.processing != domain.StateAwaitingPayment {
		// The attempt ended while the page was being created.
		if ev.err == nil && !a.committed {
			a.opened = true
			s.releasePayment(a)
		}
		return
	}

	if ev.err != nil {
		s.logger.Error("failed to open payment widget", "reference", a.reference, "error", ev.err)
		s.stopTimer()
		delete(s.issued, a.reference)
		s.endAttempt(domain.OutcomeFailed, "payment_init_failed")
		s.notify(domain.NoticePaymentInitFailed, domain.LevelError,
			"Payment error", "Failed to initialize payment. Please try again.", nil, "")
		return
	}

	a.opened = true
	if ev.page != nil {
		s.paymentURL = ev.page.URL
	}
}

// releasePayment withdraws the payment page of an attempt that ended without a widget callback,
// so it cannot be paid any more. The reference stays issued in case a payment already went through.
func (s *Session) releasePayment(a *attempt) {
	if a == nil || !a.opened || a.released {
		return
	}

	a.released = true
	reference := a.reference

	go func() {
		err := s.deps.Widget.Release(reference)
		if err != nil {
			s.logger.Warn("failed to withdraw payment page", "reference", reference, "error", err)
		}
	}()
}

func (s *Session) handlePaymentSucceeded(reference string) {
	a, ok := s.issued[reference]
	if !ok {
		s.logger.Warn("payment success for unknown reference", "reference", reference)
		return
	}

	if a.committed {
		s.logger.Debug("duplicate payment success", "reference", reference)
		return
	}

	if a == s.current && s.processing == domain.StateAwaitingPayment {
		s.stopTimer()
		s.commit(a)
		return
	}

	if !s.closed && s.processing == domain.StateIdle {
		s.logger.Info("committing payment that arrived after its attempt ended", "reference", reference)
		s.current = a
		s.commit(a)
		return
	}

	s.logger.Error("payment arrived while another attempt was in progress",
		"reference", reference, "processing", s.processing, "closed", s.closed)
	a.committed = true
	s.followUp(a, domain.RejectedGeneric("payment arrived while another attempt was in progress"))
	s.notify(domain.NoticeLatePayment, domain.LevelError,
		"Payment received late",
		"We received your payment after the payment window ended. Please contact support with your payment reference.",
		a.seats.Slice(), reference)
}

func (s *Session) handlePaymentCancelled(reference string) {
	a, ok := s.issued[reference]
	if !ok || a != s.current || s.processing != domain.StateAwaitingPayment {
		return
	}

	s.logger.Info("payment cancelled", "reference", reference)
	s.stopTimer()
	s.endAttempt(domain.OutcomeCancelled, "payment_cancelled")
	s.notify(domain.NoticePaymentCancelled, domain.LevelInfo,
		"Payment cancelled", "Payment was cancelled. Your selected seats are still available.",
		s.selection.Seats().Slice(), reference)
}

func (s *Session) handlePaymentTimedOut(a *attempt) {
	if a != s.current || s.processing != domain.StateAwaitingPayment {
		return
	}

	s.logger.Warn("payment window elapsed", "reference", a.reference, "window", s.cfg.PaymentWindow)
	s.timer = nil
	s.releasePayment(a)
	s.endAttempt(domain.OutcomeFailed, "payment_timed_out")
	s.notify(domain.NoticePaymentTimedOut, domain.LevelWarning,
		"Payment timeout", "Payment window timed out. Please try again.",
		s.selection.Seats().Slice(), a.reference)
}

func (s *Session) commit(a *attempt) {
	a.committed = true
	s.inFlight[a] = struct{}{}
	s.processing = domain.StateCommitting

	s.logger.Info("committing booking", "reference", a.reference, "seats", a.seats.Slice())

	ctx := context.WithoutCancel(s.ctx)
	go func() {
		start := time.Now()
		result := s.deps.Committer.Commit(ctx, s.ride.RideID, a.seats.Slice(), a.reference, s.cfg.CommitTimeout)
		s.metrics.commitFinished(string(result.Kind), time.Since(start))
		s.post(committed{attempt: a, result: result})
	}()
}

func (s *Session) handleCommitted(a *attempt, result domain.CommitResult) {
	delete(s.inFlight, a)

	if a != s.current || s.processing != domain.StateCommitting || s.closed {
		s.handleDetachedCommit(a, result)
		return
	}

	switch {
	case result.Kind == domain.CommitConfirmed:
		s.logger.Info("booking confirmed", "reference", a.reference, "seats", a.seats.Slice())
		if result.Ride != nil {
			s.availability.Merge(result.Ride.OccupiedSeats, s.selection.Seats())
		}
		s.selection.Clear()
		s.endAttempt(domain.OutcomeSuccess, "confirmed")
		s.notify(domain.NoticeBookingConfirmed, domain.LevelSuccess,
			"Booking successful", "Your seats have been booked.", a.seats.Slice(), a.reference)
		s.succeed(result.Ride)
		s.handleClose()

	case result.Ambiguous():
		s.logger.Error("booking outcome unknown",
			"reference", a.reference, "kind", result.Kind, "reason", result.Reason)
		s.endAttempt(domain.OutcomeFailed, "outcome_unknown")
		s.followUp(a, result)
		s.notify(domain.NoticeBookingOutcomeUnknown, domain.LevelError,
			"Booking status unknown",
			"Your payment went through but we could not confirm your booking. Please check your bookings before trying again.",
			a.seats.Slice(), a.reference)

	default:
		s.logger.Warn("booking rejected",
			"reference", a.reference, "status", result.Status, "reason", result.Reason)
		s.selection.Clear()
		s.endAttempt(domain.OutcomeFailed, "rejected")
		s.followUp(a, result)
		s.notify(domain.NoticeBookingRejected, domain.LevelError,
			"Booking failed", result.Reason, a.seats.Slice(), a.reference)

		if result.Unauthorized {
			s.notify(domain.NoticeSessionExpired, domain.LevelError,
				"Session expired", domain.ErrUnauthorized.Error(), nil, "")
		}
	}
}

// handleDetachedCommit resolves a commit whose attempt was reset or whose session was closed
// while the request was in flight. Processing state is left alone.
func (s *Session) handleDetachedCommit(a *attempt, result domain.CommitResult) {
	s.logger.Info("commit resolved after its attempt ended",
		"reference", a.reference, "kind", result.Kind, "reason", result.Reason, "closed", s.closed)

	if result.Kind != domain.CommitConfirmed {
		s.metrics.attemptEnded(string(domain.OutcomeFailed), "detached_commit")
		s.followUp(a, result)
		if !s.closed {
			s.notify(domain.NoticeBookingOutcomeUnknown, domain.LevelError,
				"Booking status unknown",
				"A booking you paid for could not be confirmed. Please check your bookings.",
				a.seats.Slice(), a.reference)
		}
		return
	}

	s.metrics.attemptEnded(string(domain.OutcomeSuccess), "detached_commit")
	if !s.closed {
		conflicts := a.seats
		if result.Ride != nil {
			conflicts = conflicts.Union(s.availability.Merge(result.Ride.OccupiedSeats, s.selection.Seats()))
		}
		s.selection.Reconcile(conflicts)
		s.notify(domain.NoticeBookingConfirmed, domain.LevelSuccess,
			"Booking successful", "Your seats have been booked.", a.seats.Slice(), a.reference)
	}
	s.succeed(result.Ride)
}

func (s *Session) handleCancelReset() {
	if s.closed || s.processing == domain.StateIdle {
		return
	}

	s.logger.Warn("attempt reset by user", "processing", s.processing, "attempt", s.attempts)
	s.stopTimer()
	if s.processing == domain.StateAwaitingPayment {
		s.releasePayment(s.current)
	}
	s.endAttempt(domain.OutcomeCancelled, "reset")
	s.notify(domain.NoticeCheckoutReset, domain.LevelInfo,
		"Booking cancelled", "You can try booking again.", nil, "")
}

func (s *Session) handleClose() {
	if s.closed {
		return
	}

	s.closed = true
	s.closing.Store(true)
	s.stopTimer()
	s.cancel()

	if s.processing == domain.StateAwaitingPayment {
		s.releasePayment(s.current)
	}
	if s.processing == domain.StateVerifying || s.processing == domain.StateAwaitingPayment {
		s.metrics.attemptEnded(string(domain.OutcomeCancelled), "closed")
	}
	s.processing = domain.StateIdle
	s.paymentURL = ""
	s.selection.Clear()

	s.releaseSubscription()

	if len(s.inFlight) > 0 {
		s.logger.Warn("checkout closed with commit in flight", "commits", len(s.inFlight))
		return
	}

	s.logger.Info("checkout closed")
}

func (s *Session) handleSubscribed(ev feedSubscribed) {
	s.subscribed = true

	if ev.err != nil {
		s.logger.Error("failed to join ride room", "error", ev.err)
		s.connection = domain.Disconnected
		return
	}

	s.sub = ev.sub
	if s.closed {
		s.releaseSubscription()
	}
}

// releaseSubscription closes the room subscription off the loop. A feed only returns from Close
// once its delivery goroutine exits, and that goroutine may be waiting for the loop to take an
// update. The loop keeps draining events until the release is reported.
func (s *Session) releaseSubscription() {
	if s.sub == nil {
		return
	}

	sub := s.sub
	s.sub = nil
	s.releasing = true

	go func() {
		s.post(subscriptionReleased{err: sub.Close()})
	}()
}

func (s *Session) handleReleased(err error) {
	s.releasing = false
	if err != nil {
		s.logger.Warn("failed to close ride room subscription", "error", err)
		return
	}

	s.logger.Debug("ride room subscription released")
}

func (s *Session) handleConnected() {
	if s.connection != domain.Connected {
		s.logger.Info("ride room connected")
	}
	s.connection = domain.Connected
}

func (s *Session) handleDisconnected(err error) {
	if s.connection == domain.Connected {
		s.logger.Warn("ride room disconnected", "error", err)
	}
	s.connection = domain.Disconnected
}

func (s *Session) handleSeatsUpdated(occupied []int) {
	if s.closed {
		return
	}

	conflicts, _ := s.availability.ApplyDelta(occupied, s.selection.Seats())
	removed := s.selection.Reconcile(conflicts)
	if removed.Len() == 0 {
		return
	}

	// Seats of a commit in flight are expected to show up as occupied.
	var committing domain.SeatSet
	for a := range s.inFlight {
		committing = committing.Union(a.seats)
	}

	taken := removed.Difference(committing)
	if taken.Len() == 0 {
		return
	}

	s.logger.Info("selected seats taken by another booking", "seats", taken.Slice())

	// The pending payment covers seats that can no longer be booked.
	if s.processing == domain.StateAwaitingPayment && s.current.seats.Intersect(taken).Len() > 0 {
		a := s.current
		s.logger.Warn("ending payment attempt for taken seats", "reference", a.reference, "seats", taken.Slice())
		s.stopTimer()
		s.releasePayment(a)
		s.endAttempt(domain.OutcomeFailed, "seats_taken")
		s.notify(domain.NoticeSeatsTaken, domain.LevelWarning,
			"Seats no longer available",
			"Some of your selected seats were just booked by someone else. The payment was stopped, please select different seats.",
			taken.Slice(), a.reference)
		return
	}

	s.notify(domain.NoticeSeatsTaken, domain.LevelWarning,
		"Seats no longer available",
		"Some of your selected seats were just booked by someone else. They have been removed from your selection.",
		taken.Slice(), "")
}

// endAttempt returns the session to idle with outcome and records the attempt.
func (s *Session) endAttempt(outcome domain.Outcome, reason string) {
	s.processing = domain.StateIdle
	s.outcome = outcome
	s.paymentURL = ""
	s.metrics.attemptEnded(string(outcome), reason)
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) succeed(ride *domain.Ride) {
	if s.onSuccess != nil {
		s.onSuccess(ride)
	}
}

func (s *Session) followUp(a *attempt, result domain.CommitResult) {
	if s.deps.FollowUp == nil {
		return
	}

	s.deps.FollowUp(domain.FollowUp{
		RideID:     s.ride.RideID,
		Reference:  a.reference,
		Seats:      a.seats.Slice(),
		PayerEmail: s.payerEmail,
		Result:     result,
	})
}

func (s *Session) notify(
	kind domain.NoticeKind,
	level domain.NoticeLevel,
	title, message string,
	seats []int,
	reference string) {

	n := domain.Notice{
		Kind:      kind,
		Level:     level,
		Title:     title,
		Message:   message,
		Seats:     seats,
		Reference: reference,
		At:        time.Now(),
	}

	s.lastNotice = &n
	if s.deps.Notifier != nil {
		s.deps.Notifier.Notify(n)
	}
}
