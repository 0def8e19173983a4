package checkout

import "github.com/metinatakli/ride-checkout/internal/domain"

// event is anything the session loop processes. Every state change of a session happens while
// handling exactly one event on the loop goroutine.
type event interface {
	isEvent()
}

// attempt is one pass through Verifying -> AwaitingPayment -> Committing. Seats are frozen
// when the attempt starts.
type attempt struct {
	number    int
	seats     domain.SeatSet
	reference string
	opened    bool
	released  bool
	committed bool
}

type (
	toggleSeat struct {
		seat  int
		reply chan bool
	}
	requestPayment struct {
		reply chan struct{}
	}
	cancelReset struct {
		reply chan struct{}
	}
	closeSession struct {
		reply chan struct{}
	}

	feedSubscribed struct {
		sub domain.SeatSubscription
		err error
	}
	subscriptionReleased struct {
		err error
	}
	feedConnected    struct{}
	feedDisconnected struct {
		err error
	}
	seatsUpdated struct {
		occupied []int
	}

	verified struct {
		attempt *attempt
		ride    *domain.Ride
		err     error
	}
	paymentOpened struct {
		attempt *attempt
		page    *domain.PaymentPage
		err     error
	}
	paymentSucceeded struct {
		reference string
	}
	paymentCancelled struct {
		reference string
	}
	paymentTimedOut struct {
		attempt *attempt
	}
	committed struct {
		attempt *attempt
		result  domain.CommitResult
	}
)

func (toggleSeat) isEvent()           {}
func (requestPayment) isEvent()       {}
func (cancelReset) isEvent()          {}
func (closeSession) isEvent()         {}
func (feedSubscribed) isEvent()       {}
func (subscriptionReleased) isEvent() {}
func (feedConnected) isEvent()        {}
func (feedDisconnected) isEvent()     {}
func (seatsUpdated) isEvent()         {}
func (verified) isEvent()             {}
func (paymentOpened) isEvent()        {}
func (paymentSucceeded) isEvent()     {}
func (paymentCancelled) isEvent()     {}
func (paymentTimedOut) isEvent()      {}
func (committed) isEvent()            {}

// feedHandler forwards subscription callbacks into the session loop. Callbacks arriving once
// the session is closing are dropped.
type feedHandler struct {
	s *Session
}

func (h feedHandler) OnConnected() {
	h.forward(feedConnected{})
}

func (h feedHandler) OnDisconnected(err error) {
	h.forward(feedDisconnected{err: err})
}

func (h feedHandler) OnSeatsUpdated(occupied []int) {
	h.forward(seatsUpdated{occupied: occupied})
}

func (h feedHandler) forward(ev event) {
	if h.s.closing.Load() {
		return
	}

	h.s.post(ev)
}
