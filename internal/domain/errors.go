package domain

import "errors"

var (
	ErrRideNotFound       = errors.New("ride not found")
	ErrMalformedRide      = errors.New("backend returned a malformed ride record")
	ErrSessionClosed      = errors.New("checkout session is closed")
	ErrPaymentUnavailable = errors.New("payment system is not ready")
	ErrUnknownReference   = errors.New("unknown payment reference")
	ErrUnauthorized       = errors.New("your session has expired, please login again")
	ErrFeedUnavailable    = errors.New("seat update channel is unavailable")
)
