package mocks

import (
	"context"
	"time"

	"github.com/metinatakli/ride-checkout/internal/domain"
	"github.com/stretchr/testify/mock"
)

type MockBookingCommitter struct {
	mock.Mock
	domain.BookingCommitter
}

func (m *MockBookingCommitter) Commit(
	ctx context.Context,
	rideID string,
	seats []int,
	paymentReference string,
	timeout time.Duration) domain.CommitResult {

	args := m.Called(ctx, rideID, seats, paymentReference, timeout)
	return args.Get(0).(domain.CommitResult)
}
