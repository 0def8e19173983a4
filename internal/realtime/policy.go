// Package realtime implements the per-ride seat update room subscription over Redis pub/sub or a
// WebSocket connection.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ReconnectPolicy bounds transport-level connection attempts with a fixed delay between them.
type ReconnectPolicy struct {
	Attempts int
	Delay    time.Duration
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{Attempts: 5, Delay: time.Second}
}

func connectWithRetry[T any](ctx context.Context, p ReconnectPolicy, logger *slog.Logger, op func() (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("seat room connection failed, retrying", "error", err, "retry_in", next)
		}),
	)
}

type seatsMessage struct {
	OccupiedSeats []int `json:"occupiedSeats"`
}

// decodeSeats accepts either {"occupiedSeats":[...]} or a bare JSON array of seat ids.
func decodeSeats(data []byte) ([]int, error) {
	var seats []int
	if err := json.Unmarshal(data, &seats); err == nil {
		return seats, nil
	}

	var msg seatsMessage
	err := json.Unmarshal(data, &msg)
	if err != nil {
		return nil, fmt.Errorf("decode seats update: %w", err)
	}

	if msg.OccupiedSeats == nil {
		return []int{}, nil
	}

	return msg.OccupiedSeats, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// RoomChannel is the pub/sub channel name of a ride's seat update room.
func RoomChannel(rideID string) string {
	return fmt.Sprintf("ride:%s:seats", rideID)
}
