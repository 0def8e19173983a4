package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/metinatakli/ride-checkout/internal/domain"
	"github.com/redis/go-redis/v9"
)

const defaultPingInterval = 5 * time.Second

// RedisFeed subscribes to ride rooms published on Redis.
type RedisFeed struct {
	client       redis.UniversalClient
	policy       ReconnectPolicy
	pingInterval time.Duration
	logger       *slog.Logger
}

func NewRedisFeed(client redis.UniversalClient, policy ReconnectPolicy, logger *slog.Logger) *RedisFeed {
	return &RedisFeed{
		client:       client,
		policy:       policy,
		pingInterval: defaultPingInterval,
		logger:       logger,
	}
}

// WithPingInterval sets how long the reader waits for traffic before probing the connection.
func (f *RedisFeed) WithPingInterval(d time.Duration) *RedisFeed {
	f.pingInterval = d
	return f
}

func (f *RedisFeed) Subscribe(ctx context.Context, rideID string, h domain.FeedHandler) (domain.SeatSubscription, error) {
	room := RoomChannel(rideID)
	logger := f.logger.With("ride_id", rideID, "room", room)

	pubsub, err := connectWithRetry(ctx, f.policy, logger, func() (*redis.PubSub, error) {
		ps := f.client.Subscribe(ctx, room)

		// The first reply confirms the subscription.
		_, err := ps.Receive(ctx)
		if err != nil {
			ps.Close()
			return nil, err
		}

		return ps, nil
	})
	if err != nil {
		h.OnDisconnected(err)
		return nil, fmt.Errorf("%w: %w", domain.ErrFeedUnavailable, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	sub := &redisSubscription{
		pubsub:       pubsub,
		room:         room,
		handler:      h,
		policy:       f.policy,
		pingInterval: f.pingInterval,
		logger:       logger,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	logger.Info("joined ride room")
	h.OnConnected()

	go sub.run(runCtx)

	return sub, nil
}

type redisSubscription struct {
	pubsub       *redis.PubSub
	room         string
	handler      domain.FeedHandler
	policy       ReconnectPolicy
	pingInterval time.Duration
	logger       *slog.Logger
	cancel       context.CancelFunc
	done         chan struct{}
	once         sync.Once
}

func (s *redisSubscription) run(ctx context.Context) {
	defer close(s.done)

	connected := true

	setConnected := func(up bool, err error) {
		if up == connected {
			return
		}

		connected = up
		if up {
			s.logger.Info("ride room connection restored")
			s.handler.OnConnected()
			return
		}

		s.logger.Warn("ride room connection lost", "error", err)
		s.handler.OnDisconnected(err)
	}

	for {
		msg, err := s.pubsub.ReceiveTimeout(ctx, s.pingInterval)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			if isTimeout(err) {
				pingErr := s.pubsub.Ping(ctx)
				if pingErr != nil {
					setConnected(false, pingErr)
				}
				continue
			}

			setConnected(false, err)

			// go-redis reconnects and resubscribes on the next receive.
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.policy.Delay):
			}
			continue
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				setConnected(true, nil)
			}
		case *redis.Pong:
			setConnected(true, nil)
		case *redis.Message:
			setConnected(true, nil)

			seats, err := decodeSeats([]byte(m.Payload))
			if err != nil {
				s.logger.Warn("dropping malformed seat update", "error", err)
				continue
			}

			s.handler.OnSeatsUpdated(seats)
		}
	}
}

// Close leaves the room and releases the subscription. Only the first call has an effect.
func (s *redisSubscription) Close() error {
	var err error

	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		unsubErr := s.pubsub.Unsubscribe(ctx, s.room)
		s.cancel()
		err = errors.Join(unsubErr, s.pubsub.Close())

		<-s.done
		s.logger.Info("left ride room")
	})

	return err
}

// RedisPublisher fans seat updates out to a ride room. The gateway uses it to announce the
// occupancy returned by a confirmed booking.
type RedisPublisher struct {
	client redis.UniversalClient
}

func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) PublishSeats(ctx context.Context, rideID string, occupied []int) error {
	if occupied == nil {
		occupied = []int{}
	}

	payload, err := json.Marshal(seatsMessage{OccupiedSeats: occupied})
	if err != nil {
		return err
	}

	return p.client.Publish(ctx, RoomChannel(rideID), payload).Err()
}
