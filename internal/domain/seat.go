package domain

import (
	"fmt"
	"slices"
	"strings"
)

type VehicleClass string

const (
	VehicleCar    VehicleClass = "car"
	VehicleSienna VehicleClass = "sienna"
	VehicleBus    VehicleClass = "bus"
)

// ParseVehicleClass maps a loosely typed vehicle label onto a known class.
// Unknown or empty labels fall back to VehicleCar and report ok=false.
func ParseVehicleClass(s string) (VehicleClass, bool) {
	switch VehicleClass(strings.ToLower(strings.TrimSpace(s))) {
	case VehicleBus:
		return VehicleBus, true
	case VehicleSienna:
		return VehicleSienna, true
	case VehicleCar:
		return VehicleCar, true
	default:
		return VehicleCar, false
	}
}

// Topology describes the seat map of a vehicle. Seat ids are the dense range [1, TotalSeats];
// the first FrontSeats ids sit next to the driver, the rest fill a Rows x Columns grid.
type Topology struct {
	FrontSeats int
	TotalSeats int
	Rows       int
	Columns    int
}

func TopologyFor(class VehicleClass) Topology {
	switch class {
	case VehicleBus:
		return Topology{FrontSeats: 2, TotalSeats: 14, Rows: 3, Columns: 4}
	case VehicleSienna:
		return Topology{FrontSeats: 1, TotalSeats: 7, Rows: 2, Columns: 3}
	default:
		return Topology{FrontSeats: 1, TotalSeats: 4, Rows: 1, Columns: 3}
	}
}

func (t Topology) Contains(seat int) bool {
	return seat >= 1 && seat <= t.TotalSeats
}

func (t Topology) Seats() []int {
	seats := make([]int, t.TotalSeats)
	for i := range seats {
		seats[i] = i + 1
	}

	return seats
}

// Label returns the printed seat name: F1, F2 for front seats, S<id> for the rest.
func (t Topology) Label(seat int) string {
	if seat >= 1 && seat <= t.FrontSeats {
		return fmt.Sprintf("F%d", seat)
	}

	return fmt.Sprintf("S%d", seat)
}

// SeatSet is a duplicate-free list of seat ids that keeps insertion order.
type SeatSet struct {
	seats []int
}

func NewSeatSet(seats ...int) SeatSet {
	var s SeatSet
	for _, seat := range seats {
		s.Add(seat)
	}

	return s
}

func (s SeatSet) Len() int {
	return len(s.seats)
}

func (s SeatSet) Contains(seat int) bool {
	return slices.Contains(s.seats, seat)
}

// Add appends seat if absent and reports whether the set changed.
func (s *SeatSet) Add(seat int) bool {
	if s.Contains(seat) {
		return false
	}

	s.seats = append(s.seats, seat)
	return true
}

// Remove deletes seat if present and reports whether the set changed.
func (s *SeatSet) Remove(seat int) bool {
	i := slices.Index(s.seats, seat)
	if i < 0 {
		return false
	}

	s.seats = slices.Delete(s.seats, i, i+1)
	return true
}

// Intersect returns the members of s that are also in other, in s's order.
func (s SeatSet) Intersect(other SeatSet) SeatSet {
	var out SeatSet
	for _, seat := range s.seats {
		if other.Contains(seat) {
			out.seats = append(out.seats, seat)
		}
	}

	return out
}

// Union returns s followed by the members of other not already in s.
func (s SeatSet) Union(other SeatSet) SeatSet {
	out := NewSeatSet(s.seats...)
	for _, seat := range other.seats {
		out.Add(seat)
	}

	return out
}

// Difference returns the members of s that are not in other.
func (s SeatSet) Difference(other SeatSet) SeatSet {
	var out SeatSet
	for _, seat := range s.seats {
		if !other.Contains(seat) {
			out.seats = append(out.seats, seat)
		}
	}

	return out
}

func (s SeatSet) Slice() []int {
	return slices.Clone(s.seats)
}

// Sorted returns the members in ascending order.
func (s SeatSet) Sorted() []int {
	out := slices.Clone(s.seats)
	slices.Sort(out)
	return out
}

func (s SeatSet) String() string {
	parts := make([]string, len(s.seats))
	for i, seat := range s.seats {
		parts[i] = fmt.Sprint(seat)
	}

	return strings.Join(parts, ", ")
}
