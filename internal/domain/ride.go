package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Ride is the backend's ride record as returned by GET /rides/{id} and the booking endpoint.
type Ride struct {
	ID            string          `json:"_id" validate:"required"`
	Park          string          `json:"park"`
	Origin        string          `json:"origin"`
	Destination   string          `json:"destination"`
	VehicleType   string          `json:"vehicleType"`
	Price         decimal.Decimal `json:"price"`
	TotalSeats    int             `json:"totalSeats" validate:"gte=0"`
	OccupiedSeats []int           `json:"occupiedSeats" validate:"dive,gt=0"`
	DepartureTime *time.Time      `json:"departureTime,omitempty"`
}

// RideContext identifies the ride being booked. It does not change for the lifetime of one checkout.
type RideContext struct {
	RideID       string
	PricePerSeat decimal.Decimal
	Vehicle      VehicleClass
	Park         string
	// KnownOccupied is whatever occupancy the caller already had (e.g. from a listing). It is
	// used only when the authoritative fetch fails.
	KnownOccupied []int
}

func NewRideContext(ride Ride) RideContext {
	vehicle, _ := ParseVehicleClass(ride.VehicleType)

	return RideContext{
		RideID:        ride.ID,
		PricePerSeat:  ride.Price,
		Vehicle:       vehicle,
		Park:          ride.Park,
		KnownOccupied: ride.OccupiedSeats,
	}
}

func (r RideContext) Topology() Topology {
	return TopologyFor(r.Vehicle)
}

type RideRepository interface {
	GetRide(ctx context.Context, rideID string) (*Ride, error)
}
