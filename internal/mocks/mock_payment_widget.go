package mocks

import (
	"context"

	"github.com/metinatakli/ride-checkout/internal/domain"
	"github.com/stretchr/testify/mock"
)

type MockPaymentWidget struct {
	mock.Mock
	domain.PaymentWidget
}

func (m *MockPaymentWidget) Ready() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockPaymentWidget) Open(
	ctx context.Context,
	req domain.PaymentRequest,
	callbacks domain.PaymentCallbacks) (*domain.PaymentPage, error) {

	args := m.Called(ctx, req, callbacks)
	page, _ := args.Get(0).(*domain.PaymentPage)
	return page, args.Error(1)
}

func (m *MockPaymentWidget) Release(reference string) error {
	args := m.Called(reference)
	return args.Error(0)
}
