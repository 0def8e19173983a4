package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/metinatakli/ride-checkout/internal/domain"
)

const (
	EventJoinRideRoom  = "joinRideRoom"
	EventLeaveRideRoom = "leaveRideRoom"
	EventSeatsUpdated  = "seatsUpdated"

	writeWait = 5 * time.Second
)

// Frame is the JSON envelope exchanged with the backend's seat room endpoint.
type Frame struct {
	Event         string `json:"event"`
	RideID        string `json:"rideId,omitempty"`
	OccupiedSeats []int  `json:"occupiedSeats,omitempty"`
}

// WebSocketFeed subscribes to ride rooms over a WebSocket connection to the backend.
type WebSocketFeed struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	policy ReconnectPolicy
	logger *slog.Logger
}

func NewWebSocketFeed(url string, header http.Header, policy ReconnectPolicy, logger *slog.Logger) *WebSocketFeed {
	return &WebSocketFeed{
		url:    url,
		header: header,
		dialer: websocket.DefaultDialer,
		policy: policy,
		logger: logger,
	}
}

func (f *WebSocketFeed) Subscribe(ctx context.Context, rideID string, h domain.FeedHandler) (domain.SeatSubscription, error) {
	logger := f.logger.With("ride_id", rideID, "url", f.url)

	sub := &wsSubscription{
		feed:    f,
		rideID:  rideID,
		handler: h,
		logger:  logger,
		done:    make(chan struct{}),
	}

	conn, err := sub.connect(ctx)
	if err != nil {
		h.OnDisconnected(err)
		return nil, fmt.Errorf("%w: %w", domain.ErrFeedUnavailable, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub.conn = conn
	sub.cancel = cancel

	logger.Info("joined ride room")
	h.OnConnected()

	go sub.run(runCtx)

	return sub, nil
}

type wsSubscription struct {
	feed    *WebSocketFeed
	rideID  string
	handler domain.FeedHandler
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// connect dials with the bounded retry policy and joins the ride room.
func (s *wsSubscription) connect(ctx context.Context) (*websocket.Conn, error) {
	return connectWithRetry(ctx, s.feed.policy, s.logger, func() (*websocket.Conn, error) {
		conn, _, err := s.feed.dialer.DialContext(ctx, s.feed.url, s.feed.header)
		if err != nil {
			return nil, err
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err = conn.WriteJSON(Frame{Event: EventJoinRideRoom, RideID: s.rideID})
		if err != nil {
			conn.Close()
			return nil, err
		}

		return conn, nil
	})
}

func (s *wsSubscription) run(ctx context.Context) {
	defer close(s.done)

	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		err := s.readLoop(conn)
		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("ride room connection lost", "error", err)
		s.handler.OnDisconnected(err)
		conn.Close()

		next, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("giving up on ride room reconnection", "error", err)
			}
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			next.Close()
			return
		}
		s.conn = next
		s.mu.Unlock()

		s.logger.Info("ride room connection restored")
		s.handler.OnConnected()
	}
}

func (s *wsSubscription) readLoop(conn *websocket.Conn) error {
	for {
		var frame Frame

		err := conn.ReadJSON(&frame)
		if err != nil {
			return err
		}

		if frame.Event != EventSeatsUpdated {
			continue
		}

		seats := frame.OccupiedSeats
		if seats == nil {
			seats = []int{}
		}

		s.handler.OnSeatsUpdated(seats)
	}
}

// Close leaves the room and closes the socket. Only the first call has an effect.
func (s *wsSubscription) Close() error {
	var err error

	s.once.Do(func() {
		s.cancel()

		s.mu.Lock()
		s.closed = true
		conn := s.conn
		s.mu.Unlock()

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		leaveErr := conn.WriteJSON(Frame{Event: EventLeaveRideRoom, RideID: s.rideID})
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		closeErr := conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))

		if errors.Is(closeErr, websocket.ErrCloseSent) {
			closeErr = nil
		}

		err = errors.Join(leaveErr, closeErr, conn.Close())

		<-s.done
		s.logger.Info("left ride room")
	})

	return err
}
