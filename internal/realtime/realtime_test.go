package realtime

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/metinatakli/ride-checkout/internal/mocks"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type feedEvent struct {
	kind  string
	seats []int
	err   error
}

// recordingHandler forwards every feed callback to a channel.
type recordingHandler struct {
	events chan feedEvent
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{events: make(chan feedEvent, 32)}
}

func (h *recordingHandler) OnConnected() {
	h.events <- feedEvent{kind: "connected"}
}

func (h *recordingHandler) OnDisconnected(err error) {
	h.events <- feedEvent{kind: "disconnected", err: err}
}

func (h *recordingHandler) OnSeatsUpdated(occupied []int) {
	h.events <- feedEvent{kind: "seats", seats: occupied}
}

func (h *recordingHandler) next(t *testing.T) feedEvent {
	t.Helper()

	select {
	case ev := <-h.events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no feed event received")
		return feedEvent{}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecodeSeats(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []int
		wantErr bool
	}{
		{name: "object", payload: `{"occupiedSeats":[1,4]}`, want: []int{1, 4}},
		{name: "bare array", payload: `[2,3]`, want: []int{2, 3}},
		{name: "empty object", payload: `{}`, want: []int{}},
		{name: "garbage", payload: `seats`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeSeats([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoomChannel(t *testing.T) {
	assert.Equal(t, "ride:abc:seats", RoomChannel("abc"))
}

func TestConnectWithRetryIsBounded(t *testing.T) {
	calls := 0
	_, err := connectWithRetry(context.Background(), ReconnectPolicy{Attempts: 3, Delay: time.Millisecond}, discardLogger(),
		func() (int, error) {
			calls++
			return 0, assert.AnError
		})

	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 3, calls)
}

func TestConnectWithRetryRecovers(t *testing.T) {
	calls := 0
	got, err := connectWithRetry(context.Background(), DefaultReconnectPolicy(), discardLogger(),
		func() (string, error) {
			calls++
			if calls < 2 {
				return "", assert.AnError
			}
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
}

func TestRedisPublisherPublishSeats(t *testing.T) {
	client := new(mocks.MockRedisClient)
	client.On("Publish", mock.Anything, "ride:ride-1:seats", []byte(`{"occupiedSeats":[1,2]}`)).
		Return(redis.NewIntResult(1, nil)).Once()
	client.On("Publish", mock.Anything, "ride:ride-1:seats", []byte(`{"occupiedSeats":[]}`)).
		Return(redis.NewIntResult(0, nil)).Once()

	publisher := NewRedisPublisher(client)

	require.NoError(t, publisher.PublishSeats(context.Background(), "ride-1", []int{1, 2}))
	require.NoError(t, publisher.PublishSeats(context.Background(), "ride-1", nil))
	client.AssertExpectations(t)
}
