package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"usersync/internal/usersync/model"
)

// MockFetcher is a testify mock of Fetcher.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FetchUpdates(ctx context.Context) ([]model.UserUpdate, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.UserUpdate), args.Error(1)
}

// MockUpserter is a testify mock of Upserter.
type MockUpserter struct {
	mock.Mock
}

func (m *MockUpserter) UpsertUser(ctx context.Context, update model.UserUpdate) (model.UpsertOutcome, error) {
	args := m.Called(ctx, update)
	outcome, _ := args.Get(0).(model.UpsertOutcome)
	return outcome, args.Error(1)
}
