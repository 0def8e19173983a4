package mocks

import (
	"context"

	"github.com/metinatakli/ride-checkout/internal/domain"
	"github.com/stretchr/testify/mock"
)

type MockRideRepository struct {
	mock.Mock
	domain.RideRepository
}

func (m *MockRideRepository) GetRide(ctx context.Context, rideID string) (*domain.Ride, error) {
	args := m.Called(ctx, rideID)
	ride, _ := args.Get(0).(*domain.Ride)
	return ride, args.Error(1)
}
