package selection

import (
	"github.com/metinatakli/ride-checkout/internal/domain"
	"github.com/shopspring/decimal"
)

// OccupancyChecker is the part of the availability model selection needs.
type OccupancyChecker interface {
	IsOccupied(seat int) bool
}

// State tracks the seats the current user has picked, in the order they were picked.
type State struct {
	topology  domain.Topology
	occupancy OccupancyChecker
	seats     domain.SeatSet
}

func New(topology domain.Topology, occupancy OccupancyChecker) *State {
	return &State{
		topology:  topology,
		occupancy: occupancy,
	}
}

// Toggle adds or removes seat. It is a no-op when frozen, when the seat is occupied or when the
// seat is not part of the vehicle. It reports whether the selection changed.
func (s *State) Toggle(seat int, frozen bool) bool {
	if frozen || !s.topology.Contains(seat) || s.occupancy.IsOccupied(seat) {
		return false
	}

	if s.seats.Contains(seat) {
		return s.seats.Remove(seat)
	}

	return s.seats.Add(seat)
}

// Reconcile drops every seat of conflicts from the selection and returns the seats actually removed.
func (s *State) Reconcile(conflicts domain.SeatSet) domain.SeatSet {
	var removed domain.SeatSet
	for _, seat := range conflicts.Slice() {
		if s.seats.Remove(seat) {
			removed.Add(seat)
		}
	}

	return removed
}

func (s *State) Clear() {
	s.seats = domain.SeatSet{}
}

func (s *State) Seats() domain.SeatSet {
	return domain.NewSeatSet(s.seats.Slice()...)
}

func (s *State) Len() int {
	return s.seats.Len()
}

func (s *State) Empty() bool {
	return s.seats.Len() == 0
}

// Total is pricePerSeat times the current number of selected seats.
func (s *State) Total(pricePerSeat decimal.Decimal) decimal.Decimal {
	return domain.TotalAmount(pricePerSeat, s.seats.Len())
}
