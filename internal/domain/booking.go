package domain

import (
	"context"
	"time"
)

type CommitKind string

const (
	CommitConfirmed CommitKind = "confirmed"
	CommitRejected  CommitKind = "rejected"
	CommitTimedOut  CommitKind = "timed_out"
	CommitAborted   CommitKind = "aborted"
)

// CommitResult is the classified outcome of one booking commit call.
type CommitResult struct {
	Kind CommitKind
	// Ride is set for CommitConfirmed only.
	Ride *Ride
	// Reason and Status describe a rejection. Generic rejections come from transport errors,
	// 5xx responses or unreadable bodies, where the server may or may not have booked the seats.
	Reason       string
	Status       int
	Generic      bool
	Unauthorized bool
}

func Confirmed(ride *Ride) CommitResult {
	return CommitResult{Kind: CommitConfirmed, Ride: ride}
}

func Rejected(status int, reason string) CommitResult {
	return CommitResult{Kind: CommitRejected, Status: status, Reason: reason}
}

func RejectedGeneric(reason string) CommitResult {
	return CommitResult{Kind: CommitRejected, Reason: reason, Generic: true}
}

func TimedOut() CommitResult {
	return CommitResult{Kind: CommitTimedOut, Reason: "request timed out"}
}

func Aborted() CommitResult {
	return CommitResult{Kind: CommitAborted, Reason: "request aborted"}
}

// Ambiguous reports whether the booking may or may not exist server side.
func (r CommitResult) Ambiguous() bool {
	switch r.Kind {
	case CommitTimedOut, CommitAborted:
		return true
	case CommitRejected:
		return r.Generic
	default:
		return false
	}
}

type BookingCommitter interface {
	Commit(ctx context.Context, rideID string, seats []int, paymentReference string, timeout time.Duration) CommitResult
}

// FollowUp describes a charged attempt that did not end in a confirmed booking.
type FollowUp struct {
	RideID     string
	Reference  string
	Seats      []int
	PayerEmail string
	Result     CommitResult
}
