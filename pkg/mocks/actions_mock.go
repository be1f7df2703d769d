package mocks

import (
	"context"

	"github.com/dukex/drip/pkg/actions"
	"github.com/stretchr/testify/mock"
)

// MockMailer is a mock implementation of actions.Mailer.
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendEmail(ctx context.Context, req actions.EmailRequest) (string, error) {
	args := m.Called(ctx, req)

	return args.String(0), args.Error(1)
}

// MockSMSSender is a mock implementation of actions.SMSSender.
type MockSMSSender struct {
	mock.Mock
}

func (m *MockSMSSender) SendSMS(ctx context.Context, req actions.SMSRequest) (string, error) {
	args := m.Called(ctx, req)

	return args.String(0), args.Error(1)
}

// MockWhatsAppSender is a mock implementation of actions.WhatsAppSender.
type MockWhatsAppSender struct {
	mock.Mock
}

func (m *MockWhatsAppSender) SendWhatsApp(ctx context.Context, req actions.WhatsAppRequest) (string, error) {
	args := m.Called(ctx, req)

	return args.String(0), args.Error(1)
}

// MockTagStore is a mock implementation of actions.TagStore and conditions.TagLookup.
type MockTagStore struct {
	mock.Mock
}

func (m *MockTagStore) AddTag(ctx context.Context, companyID, subjectID, tag string) error {
	args := m.Called(ctx, companyID, subjectID, tag)

	return args.Error(0)
}

func (m *MockTagStore) RemoveTag(ctx context.Context, companyID, subjectID, tag string) error {
	args := m.Called(ctx, companyID, subjectID, tag)

	return args.Error(0)
}

func (m *MockTagStore) HasTag(ctx context.Context, companyID, subjectID, tag string) (bool, error) {
	args := m.Called(ctx, companyID, subjectID, tag)

	return args.Bool(0), args.Error(1)
}

// MockTaskCreator is a mock implementation of actions.TaskCreator.
type MockTaskCreator struct {
	mock.Mock
}

func (m *MockTaskCreator) CreateTask(ctx context.Context, req actions.TaskRequest) (string, error) {
	args := m.Called(ctx, req)

	return args.String(0), args.Error(1)
}

// MockTeamNotifier is a mock implementation of actions.TeamNotifier.
type MockTeamNotifier struct {
	mock.Mock
}

func (m *MockTeamNotifier) NotifyTeam(ctx context.Context, req actions.TeamNotification) error {
	args := m.Called(ctx, req)

	return args.Error(0)
}
