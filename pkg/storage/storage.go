package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/ranchhand/ranchhand/pkg/types"
)

var (
	// ErrConfigNotFound is returned when a vendor config is fetched by ID
	// and does not exist.
	ErrConfigNotFound = errors.New("config not found")
)

// Database defines the interface for persisting readings, vendor configs,
// and settings.
type Database interface {
	// Sensor history. Readings are keyed by (device, bucket); upserting the
	// same bucket twice overwrites.
	UpsertReading(ctx context.Context, reading types.Reading, version int) error
	GetReadings(ctx context.Context, deviceID string, start, end time.Time) ([]types.Reading, error)
	GetLatestReadingTime(ctx context.Context, deviceID string) (time.Time, error)

	// Power station history, bucketed like sensor readings.
	UpsertPowerReading(ctx context.Context, reading types.PowerReading, version int) error
	GetPowerReadings(ctx context.Context, serialNumber string, start, end time.Time) ([]types.PowerReading, error)

	// Vendor configs. Credentials are encrypted at rest. Getters for the
	// singleton configs return a zero value when nothing is stored yet.
	GetYoLinkConfig(ctx context.Context) (types.YoLinkConfig, error)
	SetYoLinkConfig(ctx context.Context, cfg types.YoLinkConfig) error
	ListEcoFlowConfigs(ctx context.Context) ([]types.EcoFlowConfig, error)
	GetEcoFlowConfig(ctx context.Context, id string) (types.EcoFlowConfig, error)
	SetEcoFlowConfig(ctx context.Context, cfg types.EcoFlowConfig) error
	DeleteEcoFlowConfig(ctx context.Context, id string) error
	GetSquareConfig(ctx context.Context) (types.SquareConfig, error)
	SetSquareConfig(ctx context.Context, cfg types.SquareConfig) error

	// Settings
	GetSettings(ctx context.Context) (types.Settings, int, error)
	SetSettings(ctx context.Context, settings types.Settings, version int) error

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
