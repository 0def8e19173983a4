package domain

import "context"

// FeedHandler receives the events of one ride room subscription, in delivery order.
type FeedHandler interface {
	OnConnected()
	OnDisconnected(err error)
	OnSeatsUpdated(occupied []int)
}

type SeatSubscription interface {
	Close() error
}

// SeatFeed opens a subscription to the seat-update room of a single ride.
type SeatFeed interface {
	Subscribe(ctx context.Context, rideID string, h FeedHandler) (SeatSubscription, error)
}
