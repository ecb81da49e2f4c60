package storagemock

import (
	"context"
	"time"

	"github.com/ranchhand/ranchhand/pkg/storage"
	"github.com/ranchhand/ranchhand/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) UpsertReading(ctx context.Context, reading types.Reading, version int) error {
	args := m.Called(ctx, reading, version)
	return args.Error(0)
}

func (m *MockDatabase) GetReadings(ctx context.Context, deviceID string, start, end time.Time) ([]types.Reading, error) {
	args := m.Called(ctx, deviceID, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.Reading), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetLatestReadingTime(ctx context.Context, deviceID string) (time.Time, error) {
	args := m.Called(ctx, deviceID)
	if len(args) > 0 {
		return args.Get(0).(time.Time), args.Error(1)
	}
	return time.Time{}, nil
}

func (m *MockDatabase) UpsertPowerReading(ctx context.Context, reading types.PowerReading, version int) error {
	args := m.Called(ctx, reading, version)
	return args.Error(0)
}

func (m *MockDatabase) GetPowerReadings(ctx context.Context, serialNumber string, start, end time.Time) ([]types.PowerReading, error) {
	args := m.Called(ctx, serialNumber, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.PowerReading), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetYoLinkConfig(ctx context.Context) (types.YoLinkConfig, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.YoLinkConfig), args.Error(1)
	}
	return types.YoLinkConfig{}, nil
}

func (m *MockDatabase) SetYoLinkConfig(ctx context.Context, cfg types.YoLinkConfig) error {
	args := m.Called(ctx, cfg)
	return args.Error(0)
}

func (m *MockDatabase) ListEcoFlowConfigs(ctx context.Context) ([]types.EcoFlowConfig, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).([]types.EcoFlowConfig), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetEcoFlowConfig(ctx context.Context, id string) (types.EcoFlowConfig, error) {
	args := m.Called(ctx, id)
	if len(args) > 0 {
		return args.Get(0).(types.EcoFlowConfig), args.Error(1)
	}
	return types.EcoFlowConfig{}, nil
}

func (m *MockDatabase) SetEcoFlowConfig(ctx context.Context, cfg types.EcoFlowConfig) error {
	args := m.Called(ctx, cfg)
	return args.Error(0)
}

func (m *MockDatabase) DeleteEcoFlowConfig(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDatabase) GetSquareConfig(ctx context.Context) (types.SquareConfig, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.SquareConfig), args.Error(1)
	}
	return types.SquareConfig{}, nil
}

func (m *MockDatabase) SetSquareConfig(ctx context.Context, cfg types.SquareConfig) error {
	args := m.Called(ctx, cfg)
	return args.Error(0)
}

func (m *MockDatabase) GetSettings(ctx context.Context) (types.Settings, int, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	args := m.Called(ctx, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
