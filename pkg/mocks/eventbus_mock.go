package mocks

import (
	"context"

	"github.com/dukex/drip/pkg/eventbus"
	"github.com/dukex/drip/pkg/events"
	"github.com/stretchr/testify/mock"
)

// MockEventBus is a testify mock of eventbus.EventBus.
type MockEventBus struct {
	mock.Mock
}

// OfType matches a published envelope by event type.
func OfType(eventType events.EventType) any {
	return mock.MatchedBy(func(event eventbus.Event) bool {
		return event.GetType() == eventType
	})
}

func (m *MockEventBus) Publish(ctx context.Context, key string, event eventbus.Event) error {
	args := m.Called(ctx, key, event)

	return args.Error(0)
}

func (m *MockEventBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	args := m.Called(eventType, handler)

	return args.Error(0)
}

func (m *MockEventBus) Subscribe(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockEventBus) Close() error {
	args := m.Called()

	return args.Error(0)
}

func (m *MockEventBus) GenerateID() string {
	args := m.Called()

	return args.String(0)
}
