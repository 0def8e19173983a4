// Package availability holds the occupied-seat view of one ride for the lifetime of a checkout.
package availability

import (
	"context"
	"errors"
	"log/slog"

	"github.com/metinatakli/ride-checkout/internal/domain"
)

// Model is the single source of truth for which seats are occupied during one checkout session.
// It is owned by the session's event loop and is not safe for concurrent use.
type Model struct {
	rides    domain.RideRepository
	logger   *slog.Logger
	occupied domain.SeatSet
}

func NewModel(rides domain.RideRepository, logger *slog.Logger) *Model {
	return &Model{
		rides:  rides,
		logger: logger,
	}
}

// Initialize performs one authoritative fetch of the ride's occupied seats. Any failure falls back
// to ride.KnownOccupied; fromServer reports which source was used.
func (m *Model) Initialize(ctx context.Context, ride domain.RideContext) (occupied []int, fromServer bool) {
	r, err := m.rides.GetRide(ctx, ride.RideID)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, context.Canceled) {
			level = slog.LevelDebug
		}
		m.logger.Log(ctx, level, "failed to fetch latest ride data, using listing data",
			"ride_id", ride.RideID, "error", err)

		m.occupied = domain.NewSeatSet(ride.KnownOccupied...)
		return m.occupied.Slice(), false
	}

	m.occupied = domain.NewSeatSet(r.OccupiedSeats...)
	return m.occupied.Slice(), true
}

// ApplyDelta replaces the occupied set with a pushed snapshot. It returns the seats of selected
// that are now occupied, and the seats that were occupied before but are not any more.
func (m *Model) ApplyDelta(occupied []int, selected domain.SeatSet) (conflicts, freed domain.SeatSet) {
	next := domain.NewSeatSet(occupied...)
	freed = m.occupied.Difference(next)
	if freed.Len() > 0 {
		m.logger.Debug("seats freed by pushed snapshot", "seats", freed.Slice())
	}

	m.occupied = next
	return selected.Intersect(next), freed
}

// Merge adds the seats of an out-of-band server snapshot without dropping any seat learned from
// the push stream, which may be fresher than the fetched record.
func (m *Model) Merge(occupied []int, selected domain.SeatSet) (conflicts domain.SeatSet) {
	m.occupied = m.occupied.Union(domain.NewSeatSet(occupied...))
	return selected.Intersect(m.occupied)
}

func (m *Model) IsOccupied(seat int) bool {
	return m.occupied.Contains(seat)
}

func (m *Model) Occupied() []int {
	return m.occupied.Sorted()
}

// Available lists the seats of topology that are not occupied.
func (m *Model) Available(topology domain.Topology) []int {
	var seats []int
	for _, seat := range topology.Seats() {
		if !m.occupied.Contains(seat) {
			seats = append(seats, seat)
		}
	}

	return seats
}
