package server

import (
	"context"

	"github.com/ranchhand/ranchhand/pkg/poller"
	"github.com/stretchr/testify/mock"
)

type pollerMock struct {
	mock.Mock
}

var _ DevicePoller = (*pollerMock)(nil)

func (m *pollerMock) GroupStates() []poller.GroupState {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]poller.GroupState)
}

func (m *pollerMock) GroupState(groupID string) (poller.GroupState, bool) {
	args := m.Called(groupID)
	return args.Get(0).(poller.GroupState), args.Bool(1)
}

func (m *pollerMock) Catalog() poller.CatalogState {
	args := m.Called()
	return args.Get(0).(poller.CatalogState)
}

func (m *pollerMock) RefreshAll(ctx context.Context) {
	m.Called(ctx)
}

func (m *pollerMock) RefreshCatalog(ctx context.Context) {
	m.Called(ctx)
}

func (m *pollerMock) TriggerRefresh(ctx context.Context, groupID string) (poller.GroupState, error) {
	args := m.Called(ctx, groupID)
	return args.Get(0).(poller.GroupState), args.Error(1)
}

func (m *pollerMock) SetACEnabled(ctx context.Context, serialNumber string, enabled, xboost bool) error {
	args := m.Called(ctx, serialNumber, enabled, xboost)
	return args.Error(0)
}
