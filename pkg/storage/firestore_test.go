package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ranchhand/ranchhand/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirestoreProvider(t *testing.T) {
	// Check if emulator is running or configured
	// We assume it is running on localhost:8087 as per task
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")

	// Use a test project ID
	projectID := "test-project-id"

	// Use a random database for isolation
	randDB := fmt.Sprintf("test-db-%d", time.Now().UnixNano())
	cipher, err := newCredentialCipher("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	f := &FirestoreProvider{
		projectID: projectID,
		database:  randDB,
		cipher:    cipher,
	}

	ctx := context.Background()
	require.NoError(t, f.Init(ctx))
	defer f.Close()

	t.Run("Validate", func(t *testing.T) {
		require.NoError(t, f.Validate())
	})

	t.Run("Settings", func(t *testing.T) {
		settings := types.Settings{
			Pause:             true,
			DisplayUnit:       types.UnitCelsius,
			ReportDefaultDays: 14,
		}
		require.NoError(t, f.SetSettings(ctx, settings, types.CurrentSettingsVersion))

		gotSettings, version, err := f.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.CurrentSettingsVersion, version)
		assert.Equal(t, settings.Pause, gotSettings.Pause)
		assert.Equal(t, settings.DisplayUnit, gotSettings.DisplayUnit)
		assert.Equal(t, settings.ReportDefaultDays, gotSettings.ReportDefaultDays)
	})

	t.Run("Readings", func(t *testing.T) {
		now := types.BucketTime(time.Now())
		r1 := types.Reading{
			DeviceID:    "dev1",
			Name:        "Barn",
			Type:        types.DeviceTypeTHSensor,
			Timestamp:   now.Add(-10 * time.Minute),
			Temperature: floatPtr(4.5),
			Humidity:    floatPtr(61),
			Online:      true,
		}
		r2 := types.Reading{
			DeviceID:    "dev1",
			Name:        "Barn",
			Type:        types.DeviceTypeTHSensor,
			Timestamp:   now,
			Temperature: floatPtr(5.0),
			Online:      true,
		}
		require.NoError(t, f.UpsertReading(ctx, r1, types.CurrentReadingVersion))
		require.NoError(t, f.UpsertReading(ctx, r2, types.CurrentReadingVersion))

		readings, err := f.GetReadings(ctx, "dev1", now.Add(-1*time.Hour), now.Add(1*time.Minute))
		require.NoError(t, err)
		require.Len(t, readings, 2)
		assert.True(t, readings[0].Timestamp.Before(readings[1].Timestamp), "readings should be ascending")
		assert.Equal(t, 4.5, *readings[0].Temperature)

		t.Run("UpsertOverwrite", func(t *testing.T) {
			r2Updated := r2
			r2Updated.Temperature = floatPtr(6.25)
			require.NoError(t, f.UpsertReading(ctx, r2Updated, types.CurrentReadingVersion))

			readings, err := f.GetReadings(ctx, "dev1", now.Add(-1*time.Hour), now.Add(1*time.Minute))
			require.NoError(t, err)
			require.Len(t, readings, 2, "overwriting a bucket should not add a row")
			assert.Equal(t, 6.25, *readings[1].Temperature)
		})

		t.Run("RangeFiltering", func(t *testing.T) {
			old := r1
			old.Timestamp = now.Add(-48 * time.Hour)
			require.NoError(t, f.UpsertReading(ctx, old, types.CurrentReadingVersion))

			readings, err := f.GetReadings(ctx, "dev1", now.Add(-1*time.Hour), now.Add(1*time.Minute))
			require.NoError(t, err)
			for _, r := range readings {
				assert.False(t, r.Timestamp.Before(now.Add(-1*time.Hour)), "reading outside range should not be returned")
			}
		})

		t.Run("GetLatestReadingTime", func(t *testing.T) {
			latest, err := f.GetLatestReadingTime(ctx, "dev1")
			require.NoError(t, err)
			assert.Equal(t, now, latest)
		})

		t.Run("GetLatestReadingTimeEmpty", func(t *testing.T) {
			latest, err := f.GetLatestReadingTime(ctx, "no-such-device")
			require.NoError(t, err)
			assert.True(t, latest.IsZero())
		})

		t.Run("EmptyDeviceID", func(t *testing.T) {
			_, err := f.GetReadings(ctx, "", now.Add(-1*time.Hour), now)
			assert.ErrorContains(t, err, "deviceID cannot be empty")
		})
	})

	t.Run("PowerReadings", func(t *testing.T) {
		now := types.BucketTime(time.Now())
		p1 := types.PowerReading{
			SerialNumber: "R2PRO123",
			Name:         "Well Pump",
			Timestamp:    now.Add(-5 * time.Minute),
			BatterySOC:   78,
			WattsIn:      120,
		}
		p2 := types.PowerReading{
			SerialNumber: "R2PRO123",
			Name:         "Well Pump",
			Timestamp:    now,
			BatterySOC:   80,
		}
		require.NoError(t, f.UpsertPowerReading(ctx, p1, types.CurrentPowerReadingVersion))
		require.NoError(t, f.UpsertPowerReading(ctx, p2, types.CurrentPowerReadingVersion))

		readings, err := f.GetPowerReadings(ctx, "R2PRO123", now.Add(-1*time.Hour), now.Add(1*time.Minute))
		require.NoError(t, err)
		require.Len(t, readings, 2)
		assert.Equal(t, 78.0, readings[0].BatterySOC)
		assert.Equal(t, 80.0, readings[1].BatterySOC)
	})

	t.Run("YoLinkConfig", func(t *testing.T) {
		got, err := f.GetYoLinkConfig(ctx)
		require.NoError(t, err)
		assert.True(t, got.Empty(), "unset config should come back empty")

		cfg := types.YoLinkConfig{
			UAID:      "ua_123",
			SecretKey: "sec_456",
		}
		require.NoError(t, f.SetYoLinkConfig(ctx, cfg))

		got, err = f.GetYoLinkConfig(ctx)
		require.NoError(t, err)
		assert.Equal(t, cfg.UAID, got.UAID)
		assert.Equal(t, cfg.SecretKey, got.SecretKey)

		t.Run("TokenWriteBack", func(t *testing.T) {
			cfg.AccessToken = "tok_789"
			cfg.TokenExpiry = time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
			require.NoError(t, f.SetYoLinkConfig(ctx, cfg))

			got, err := f.GetYoLinkConfig(ctx)
			require.NoError(t, err)
			assert.Equal(t, "tok_789", got.AccessToken)
			assert.True(t, cfg.TokenExpiry.Equal(got.TokenExpiry))
		})
	})

	t.Run("EcoFlowConfigs", func(t *testing.T) {
		cfg1 := types.EcoFlowConfig{
			ID:           "station1",
			Name:         "Well Pump",
			SerialNumber: "R2PRO123",
			AccessKey:    "ak",
			SecretKey:    "sk",
		}
		cfg2 := types.EcoFlowConfig{
			ID:           "station2",
			Name:         "Gate",
			SerialNumber: "DELTA456",
			AccessKey:    "ak2",
			SecretKey:    "sk2",
		}
		require.NoError(t, f.SetEcoFlowConfig(ctx, cfg1))
		require.NoError(t, f.SetEcoFlowConfig(ctx, cfg2))

		t.Run("Get", func(t *testing.T) {
			got, err := f.GetEcoFlowConfig(ctx, "station1")
			require.NoError(t, err)
			assert.Equal(t, cfg1, got)
		})

		t.Run("List", func(t *testing.T) {
			configs, err := f.ListEcoFlowConfigs(ctx)
			require.NoError(t, err)
			found1, found2 := false, false
			for _, c := range configs {
				if c.ID == "station1" {
					found1 = true
				}
				if c.ID == "station2" {
					found2 = true
				}
			}
			assert.True(t, found1, "ListEcoFlowConfigs did not return station1")
			assert.True(t, found2, "ListEcoFlowConfigs did not return station2")
		})

		t.Run("Delete", func(t *testing.T) {
			require.NoError(t, f.DeleteEcoFlowConfig(ctx, "station2"))
			_, err := f.GetEcoFlowConfig(ctx, "station2")
			assert.ErrorIs(t, err, ErrConfigNotFound)
		})

		t.Run("NotFound", func(t *testing.T) {
			_, err := f.GetEcoFlowConfig(ctx, "nonexistent")
			assert.ErrorIs(t, err, ErrConfigNotFound)
		})
	})

	t.Run("SquareConfig", func(t *testing.T) {
		got, err := f.GetSquareConfig(ctx)
		require.NoError(t, err)
		assert.True(t, got.Empty())

		cfg := types.SquareConfig{
			AccessToken: "sq_tok",
			LocationID:  "L123",
			Environment: types.SquareEnvironmentSandbox,
		}
		require.NoError(t, f.SetSquareConfig(ctx, cfg))

		got, err = f.GetSquareConfig(ctx)
		require.NoError(t, err)
		assert.Equal(t, cfg, got)
	})
}

func floatPtr(f float64) *float64 {
	return &f
}
