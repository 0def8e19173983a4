// Package booking performs the authenticated commit call that turns paid-for seats into a booking.
package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/metinatakli/ride-checkout/internal/domain"
)

const DefaultTimeout = 30 * time.Second

// TokenSource yields the bearer token for the current user.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", domain.ErrUnauthorized
	}

	return string(t), nil
}

type commitRequest struct {
	SeatNumbers      []int  `json:"seatNumbers"`
	PaymentReference string `json:"paymentReference"`
}

type commitResponse struct {
	Success bool         `json:"success"`
	Ride    *domain.Ride `json:"ride"`
	Message string       `json:"message"`
}

// CommitClient wraps PATCH /rides/{id}/book and classifies its outcome.
type CommitClient struct {
	baseURL   string
	client    *http.Client
	tokens    TokenSource
	validator *validator.Validate
	logger    *slog.Logger
}

func NewCommitClient(
	baseURL string,
	client *http.Client,
	tokens TokenSource,
	validator *validator.Validate,
	logger *slog.Logger) *CommitClient {

	return &CommitClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    client,
		tokens:    tokens,
		validator: validator,
		logger:    logger,
	}
}

// Commit books seats on rideID against paymentReference. The call is bounded by timeout
// independently of any deadline on ctx's caller; a zero timeout means DefaultTimeout.
func (c *CommitClient) Commit(
	ctx context.Context,
	rideID string,
	seats []int,
	paymentReference string,
	timeout time.Duration) domain.CommitResult {

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := c.logger.With("ride_id", rideID, "reference", paymentReference)

	token, err := c.tokens.Token(ctx)
	if err != nil {
		logger.Warn("no bearer token available for booking commit", "error", err)
		result := domain.Rejected(http.StatusUnauthorized, domain.ErrUnauthorized.Error())
		result.Unauthorized = true
		return result
	}

	body, err := json.Marshal(commitRequest{SeatNumbers: seats, PaymentReference: paymentReference})
	if err != nil {
		return domain.RejectedGeneric(err.Error())
	}

	endpoint := fmt.Sprintf("%s/rides/%s/book", c.baseURL, url.PathEscape(rideID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.RejectedGeneric(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return c.classifyTransportError(ctx, logger, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1_048_576))
	if err != nil {
		return c.classifyTransportError(ctx, logger, err)
	}

	var payload commitResponse
	decodeErr := json.Unmarshal(raw, &payload)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		logger.Warn("booking commit rejected: unauthorized")
		result := domain.Rejected(resp.StatusCode, domain.ErrUnauthorized.Error())
		result.Unauthorized = true
		return result

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		reason := payload.Message
		if decodeErr != nil || reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		logger.Warn("booking commit rejected", "status", resp.StatusCode, "reason", reason)
		return domain.Rejected(resp.StatusCode, reason)

	case resp.StatusCode >= 500:
		reason := payload.Message
		if decodeErr != nil || reason == "" {
			reason = "Something went wrong. Please try again."
		}
		logger.Error("booking commit failed with server error", "status", resp.StatusCode, "reason", reason)
		result := domain.RejectedGeneric(reason)
		result.Status = resp.StatusCode
		return result
	}

	if decodeErr != nil {
		logger.Error("booking commit returned an unreadable body", "status", resp.StatusCode, "error", decodeErr)
		return domain.RejectedGeneric(fmt.Sprintf("%s: %s", domain.ErrMalformedRide, decodeErr))
	}

	if !payload.Success {
		reason := payload.Message
		if reason == "" {
			reason = "Booking failed"
		}
		logger.Warn("booking commit returned success=false", "reason", reason)
		return domain.Rejected(resp.StatusCode, reason)
	}

	if payload.Ride == nil {
		logger.Error("booking commit succeeded without a ride record")
		return domain.RejectedGeneric(domain.ErrMalformedRide.Error())
	}

	err = c.validator.Struct(payload.Ride)
	if err != nil {
		logger.Error("booking commit returned an invalid ride record", "error", err)
		return domain.RejectedGeneric(fmt.Sprintf("%s: %s", domain.ErrMalformedRide, err))
	}

	logger.Info("booking committed", "seats", seats)

	return domain.Confirmed(payload.Ride)
}

func (c *CommitClient) classifyTransportError(ctx context.Context, logger *slog.Logger, err error) domain.CommitResult {
	var netErr net.Error

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		logger.Error("booking commit timed out", "error", err)
		return domain.TimedOut()
	case errors.Is(err, context.Canceled):
		logger.Warn("booking commit aborted", "error", err)
		return domain.Aborted()
	default:
		logger.Error("booking commit transport error", "error", err)
		return domain.RejectedGeneric(err.Error())
	}
}
