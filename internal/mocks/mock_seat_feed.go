package mocks

import (
	"context"

	"github.com/metinatakli/ride-checkout/internal/domain"
	"github.com/stretchr/testify/mock"
)

type MockSeatFeed struct {
	mock.Mock
	domain.SeatFeed
}

func (m *MockSeatFeed) Subscribe(ctx context.Context, rideID string, h domain.FeedHandler) (domain.SeatSubscription, error) {
	args := m.Called(ctx, rideID, h)
	sub, _ := args.Get(0).(domain.SeatSubscription)
	return sub, args.Error(1)
}

type MockSeatSubscription struct {
	mock.Mock
}

func (m *MockSeatSubscription) Close() error {
	args := m.Called()
	return args.Error(0)
}
