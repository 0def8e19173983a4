package repository

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/metinatakli/ride-checkout/internal/domain"
	"github.com/metinatakli/ride-checkout/internal/jsonutil"
)

type rideEnvelope struct {
	Success bool         `json:"success"`
	Ride    *domain.Ride `json:"ride"`
	Message string       `json:"message"`
}

// HTTPRideRepository reads rides from the backend's public REST API.
type HTTPRideRepository struct {
	baseURL   string
	client    *http.Client
	validator *validator.Validate
}

func NewHTTPRideRepository(baseURL string, client *http.Client, validator *validator.Validate) *HTTPRideRepository {
	return &HTTPRideRepository{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    client,
		validator: validator,
	}
}

func (h *HTTPRideRepository) GetRide(ctx context.Context, rideID string) (*domain.Ride, error) {
	endpoint := fmt.Sprintf("%s/rides/%s", h.baseURL, url.PathEscape(rideID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get ride %s: %w", rideID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrRideNotFound
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("get ride %s: unexpected status %d", rideID, resp.StatusCode)
	}

	var envelope rideEnvelope
	err = jsonutil.DecodeResponse(resp, &envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedRide, err)
	}

	if !envelope.Success || envelope.Ride == nil {
		return nil, fmt.Errorf("%w: success=%t", domain.ErrMalformedRide, envelope.Success)
	}

	err = h.validator.Struct(envelope.Ride)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedRide, err)
	}

	return envelope.Ride, nil
}
