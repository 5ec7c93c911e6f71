package mocks

import (
	"context"

	"github.com/flywheelhq/flywheel/pkg/mailer"
	"github.com/stretchr/testify/mock"
)

// MockMailer is a mock implementation of mailer.Mailer interface.
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, payload mailer.Payload) (mailer.Result, error) {
	args := m.Called(ctx, payload)

	result, _ := args.Get(0).(mailer.Result)

	return result, args.Error(1)
}
