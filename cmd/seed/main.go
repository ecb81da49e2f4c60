package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/ranchhand/ranchhand/pkg/log"
	"github.com/ranchhand/ranchhand/pkg/storage"
	"github.com/ranchhand/ranchhand/pkg/types"
)

func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	s := storage.Configured()
	lflag.Configure()

	ctx := context.Background()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	sensors := []struct {
		id   string
		name string
	}{
		{"d88b4c0100012345", "Barn"},
		{"d88b4c0100067890", "Chicken Coop"},
		{"d88b4c0100045678", "Well House"},
	}

	if err := s.SetYoLinkConfig(ctx, types.YoLinkConfig{
		UAID:      "ua_mock",
		SecretKey: "sec_mock",
	}); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed yolink config", "error", err)
		os.Exit(1)
	}

	station := types.EcoFlowConfig{
		ID:           "station1",
		Name:         "Delta Pro",
		SerialNumber: "DCABZ0000000001",
		AccessKey:    "ak_mock",
		SecretKey:    "sk_mock",
	}
	if err := s.SetEcoFlowConfig(ctx, station); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed ecoflow config", "error", err)
		os.Exit(1)
	}

	// Two days of bucketed history ending now. Re-running resumes after the
	// newest stored row instead of rewriting everything.
	now := time.Now()
	start := types.BucketTime(now.Add(-48 * time.Hour))
	latest, err := s.GetLatestReadingTime(ctx, sensors[0].id)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to check existing history", "error", err)
		os.Exit(1)
	}
	if latest.After(start) {
		start = latest.Add(types.ReadingBucket)
	}

	soc := 60.0
	for t := start; t.Before(now); t = t.Add(types.ReadingBucket) {
		hourOfDay := float64(t.Hour()) + float64(t.Minute())/60

		// Outdoor-ish temperature curve peaking mid-afternoon.
		dist := math.Abs(hourOfDay - 15.0)
		baseTemp := 12.0 + 10.0*math.Exp(-(dist*dist)/30.0)

		for i, sensor := range sensors {
			temp := baseTemp + float64(i)*1.5 + (rng.Float64() - 0.5)
			hum := 55.0 + 15.0*math.Sin(hourOfDay/24*2*math.Pi) + rng.Float64()*4
			bat := 100.0 - float64(i)*25

			r := types.Reading{
				DeviceID:    sensor.id,
				Name:        sensor.name,
				Type:        types.DeviceTypeTHSensor,
				Timestamp:   t,
				Temperature: &temp,
				Humidity:    &hum,
				Battery:     &bat,
				Online:      true,
			}
			if err := s.UpsertReading(ctx, r, types.CurrentReadingVersion); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to seed reading", "error", err)
				os.Exit(1)
			}
		}

		// Solar charges the station during the day, loads drain it at night.
		solar := 0.0
		if hourOfDay > 7 && hourOfDay < 19 {
			d := math.Abs(hourOfDay - 13.0)
			solar = 400 * math.Exp(-(d*d)/12.0)
		}
		load := 60.0 + rng.Float64()*40
		soc += (solar - load) / 3600 * types.ReadingBucket.Seconds() / 36
		soc = math.Min(100, math.Max(10, soc))

		pr := types.PowerReading{
			SerialNumber:     station.SerialNumber,
			Name:             station.Name,
			Timestamp:        t,
			BatterySOC:       math.Round(soc),
			WattsIn:          solar,
			WattsOut:         load,
			ACOutWatts:       load,
			ACEnabled:        true,
			SolarWatts:       solar,
			RemainingMinutes: int(soc * 10),
			BatteryTempC:     baseTemp + 8,
		}
		if err := s.UpsertPowerReading(ctx, pr, types.CurrentPowerReadingVersion); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed power reading", "error", err)
			os.Exit(1)
		}
	}

	fmt.Printf("Seeded %d sensors and 1 power station from %s to %s\n",
		len(sensors), start.Format(time.RFC3339), now.Format(time.RFC3339))

	log.Ctx(ctx).InfoContext(ctx, "seeded mock data successfully")
}
