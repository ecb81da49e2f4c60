package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/ranchhand/ranchhand/pkg/log"
	"github.com/ranchhand/ranchhand/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. History rows and configs are stored as JSON blobs; history
// document IDs are the RFC3339 bucket timestamp so range queries can use
// document ID ordering.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
	cipher    *credentialCipher
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	encryptionKey := lflag.RequiredString("credentials-encryption-key", "Key for encrypting vendor credentials at rest")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}

		cipher, err := newCredentialCipher(*encryptionKey)
		if err != nil {
			panic(fmt.Sprintf("invalid credentials-encryption-key: %v", err))
		}
		f.cipher = cipher
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID verification could be here, but we allow empty if inferred.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) readingsCollection(deviceID string) (*firestore.CollectionRef, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("deviceID cannot be empty")
	}
	return f.client.Collection("devices").Doc(deviceID).Collection("readings"), nil
}

func (f *FirestoreProvider) powerCollection(serialNumber string) (*firestore.CollectionRef, error) {
	if serialNumber == "" {
		return nil, fmt.Errorf("serialNumber cannot be empty")
	}
	return f.client.Collection("stations").Doc(serialNumber).Collection("readings"), nil
}

// UpsertReading adds or replaces the sensor reading for its bucket. The
// document ID is the RFC3339 bucket timestamp, so a second reading in the
// same bucket overwrites the first and the one-row-per-bucket invariant
// holds without a read-before-write.
func (f *FirestoreProvider) UpsertReading(ctx context.Context, reading types.Reading, version int) error {
	if reading.Timestamp.IsZero() {
		return fmt.Errorf("reading missing timestamp")
	}
	jsonBytes, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	coll, err := f.readingsCollection(reading.DeviceID)
	if err != nil {
		return err
	}
	docID := reading.Timestamp.UTC().Format(time.RFC3339)
	_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": reading.Timestamp,
		"version":   version,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert reading: %w", err)
	}
	return nil
}

// GetReadings retrieves sensor readings within [start, end), ascending.
// Uses document ID range queries for efficient filtering without reading all documents.
func (f *FirestoreProvider) GetReadings(ctx context.Context, deviceID string, start, end time.Time) ([]types.Reading, error) {
	startDocID := start.UTC().Format(time.RFC3339)
	endDocID := end.UTC().Format(time.RFC3339)

	coll, err := f.readingsCollection(deviceID)
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var readings []types.Reading
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating readings: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "reading doc missing json", slog.String("docID", doc.Ref.ID), slog.String("deviceID", deviceID), slog.Any("err", err))
			return nil, fmt.Errorf("reading document %s missing 'json' field: %w", doc.Ref.ID, err)
		}

		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "reading doc json not string", slog.String("docID", doc.Ref.ID), slog.String("deviceID", deviceID))
			return nil, fmt.Errorf("reading document %s 'json' field is not string", doc.Ref.ID)
		}

		var r types.Reading
		if err := json.Unmarshal([]byte(jsonStr), &r); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal reading", slog.String("docID", doc.Ref.ID), slog.String("deviceID", deviceID), slog.Any("err", err))
			return nil, fmt.Errorf("failed to unmarshal reading (id=%s): %w", doc.Ref.ID, err)
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// GetLatestReadingTime retrieves the bucket timestamp of the last stored
// reading for a device, or the zero time when there is no history.
func (f *FirestoreProvider) GetLatestReadingTime(ctx context.Context, deviceID string) (time.Time, error) {
	coll, err := f.readingsCollection(deviceID)
	if err != nil {
		return time.Time{}, err
	}

	// firestore automatically creates indexes for top-level fields
	iter := coll.
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get latest reading doc: %w", err)
	}

	ts, err := time.Parse(time.RFC3339, doc.Ref.ID)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid reading doc id %s: %w", doc.Ref.ID, err)
	}
	return ts, nil
}

// UpsertPowerReading adds or replaces the power reading for its bucket.
func (f *FirestoreProvider) UpsertPowerReading(ctx context.Context, reading types.PowerReading, version int) error {
	if reading.Timestamp.IsZero() {
		return fmt.Errorf("power reading missing timestamp")
	}
	jsonBytes, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal power reading: %w", err)
	}

	coll, err := f.powerCollection(reading.SerialNumber)
	if err != nil {
		return err
	}
	docID := reading.Timestamp.UTC().Format(time.RFC3339)
	_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": reading.Timestamp,
		"version":   version,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert power reading: %w", err)
	}
	return nil
}

// GetPowerReadings retrieves power readings within [start, end), ascending.
func (f *FirestoreProvider) GetPowerReadings(ctx context.Context, serialNumber string, start, end time.Time) ([]types.PowerReading, error) {
	startDocID := start.UTC().Format(time.RFC3339)
	endDocID := end.UTC().Format(time.RFC3339)

	coll, err := f.powerCollection(serialNumber)
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var readings []types.PowerReading
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating power readings: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			return nil, fmt.Errorf("power reading document %s missing 'json' field: %w", doc.Ref.ID, err)
		}
		jsonStr, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("power reading document %s 'json' field is not string", doc.Ref.ID)
		}

		var r types.PowerReading
		if err := json.Unmarshal([]byte(jsonStr), &r); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal power reading", slog.String("docID", doc.Ref.ID), slog.String("sn", serialNumber), slog.Any("err", err))
			return nil, fmt.Errorf("failed to unmarshal power reading (id=%s): %w", doc.Ref.ID, err)
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// setEncryptedConfig marshals v and stores it AES-GCM encrypted in the given
// document.
func (f *FirestoreProvider) setEncryptedConfig(ctx context.Context, doc *firestore.DocumentRef, v interface{}) error {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	encrypted, err := f.cipher.encrypt(jsonBytes)
	if err != nil {
		return fmt.Errorf("failed to encrypt config: %w", err)
	}
	_, err = doc.Set(ctx, map[string]interface{}{
		"encrypted": encrypted,
	})
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// getEncryptedConfig fetches and decrypts a config document into dest.
// Returns ErrConfigNotFound when the document does not exist.
func (f *FirestoreProvider) getEncryptedConfig(ctx context.Context, doc *firestore.DocumentRef, dest interface{}) error {
	snap, err := doc.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrConfigNotFound
		}
		return fmt.Errorf("failed to fetch config doc: %w", err)
	}

	val, err := snap.DataAt("encrypted")
	if err != nil {
		return fmt.Errorf("config document %s missing 'encrypted' field: %w", doc.ID, err)
	}
	encrypted, ok := val.([]byte)
	if !ok {
		return fmt.Errorf("config document %s 'encrypted' field is not bytes", doc.ID)
	}

	plaintext, err := f.cipher.decrypt(encrypted)
	if err != nil {
		return fmt.Errorf("failed to decrypt config %s: %w", doc.ID, err)
	}
	if err := json.Unmarshal(plaintext, dest); err != nil {
		return fmt.Errorf("failed to unmarshal config %s: %w", doc.ID, err)
	}
	return nil
}

// GetYoLinkConfig retrieves the YoLink credentials, or a zero config when
// none are stored yet.
func (f *FirestoreProvider) GetYoLinkConfig(ctx context.Context) (types.YoLinkConfig, error) {
	var cfg types.YoLinkConfig
	err := f.getEncryptedConfig(ctx, f.client.Collection("config").Doc("yolink"), &cfg)
	if err == ErrConfigNotFound {
		return types.YoLinkConfig{}, nil
	}
	if err != nil {
		return types.YoLinkConfig{}, err
	}
	return cfg, nil
}

// SetYoLinkConfig saves the YoLink credentials.
func (f *FirestoreProvider) SetYoLinkConfig(ctx context.Context, cfg types.YoLinkConfig) error {
	return f.setEncryptedConfig(ctx, f.client.Collection("config").Doc("yolink"), cfg)
}

// ListEcoFlowConfigs retrieves all configured power stations.
func (f *FirestoreProvider) ListEcoFlowConfigs(ctx context.Context) ([]types.EcoFlowConfig, error) {
	iter := f.client.Collection("ecoflow_stations").Documents(ctx)
	defer iter.Stop()

	var configs []types.EcoFlowConfig
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating ecoflow configs: %w", err)
		}

		val, err := doc.DataAt("encrypted")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "ecoflow config doc missing encrypted", slog.String("id", doc.Ref.ID))
			// Skip malformed documents
			continue
		}
		encrypted, ok := val.([]byte)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "ecoflow config doc encrypted not bytes", slog.String("id", doc.Ref.ID))
			continue
		}

		plaintext, err := f.cipher.decrypt(encrypted)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to decrypt ecoflow config", slog.String("id", doc.Ref.ID), slog.Any("err", err))
			continue
		}
		var cfg types.EcoFlowConfig
		if err := json.Unmarshal(plaintext, &cfg); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal ecoflow config", slog.String("id", doc.Ref.ID), slog.Any("err", err))
			continue
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// GetEcoFlowConfig retrieves a single power station config by ID.
func (f *FirestoreProvider) GetEcoFlowConfig(ctx context.Context, id string) (types.EcoFlowConfig, error) {
	if id == "" {
		return types.EcoFlowConfig{}, fmt.Errorf("id cannot be empty")
	}
	var cfg types.EcoFlowConfig
	if err := f.getEncryptedConfig(ctx, f.client.Collection("ecoflow_stations").Doc(id), &cfg); err != nil {
		return types.EcoFlowConfig{}, err
	}
	return cfg, nil
}

// SetEcoFlowConfig saves a power station config keyed by its ID.
func (f *FirestoreProvider) SetEcoFlowConfig(ctx context.Context, cfg types.EcoFlowConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("ecoflow config missing id")
	}
	return f.setEncryptedConfig(ctx, f.client.Collection("ecoflow_stations").Doc(cfg.ID), cfg)
}

// DeleteEcoFlowConfig removes a power station config.
func (f *FirestoreProvider) DeleteEcoFlowConfig(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if _, err := f.client.Collection("ecoflow_stations").Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete ecoflow config %s: %w", id, err)
	}
	return nil
}

// GetSquareConfig retrieves the Square credentials, or a zero config when
// none are stored yet.
func (f *FirestoreProvider) GetSquareConfig(ctx context.Context) (types.SquareConfig, error) {
	var cfg types.SquareConfig
	err := f.getEncryptedConfig(ctx, f.client.Collection("config").Doc("square"), &cfg)
	if err == ErrConfigNotFound {
		return types.SquareConfig{}, nil
	}
	if err != nil {
		return types.SquareConfig{}, err
	}
	return cfg, nil
}

// SetSquareConfig saves the Square credentials.
func (f *FirestoreProvider) SetSquareConfig(ctx context.Context, cfg types.SquareConfig) error {
	return f.setEncryptedConfig(ctx, f.client.Collection("config").Doc("square"), cfg)
}

// GetSettings retrieves the dynamic configuration from the "config/settings" document.
func (f *FirestoreProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	doc, err := f.client.Collection("config").Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// Return default settings if not found
			return types.Settings{}, 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	// Read version if available (default 0)
	var version int
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "settings doc missing json")
		return types.Settings{}, 0, fmt.Errorf("settings document missing 'json' field: %w", err)
	}

	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "settings doc json not string")
		return types.Settings{}, 0, fmt.Errorf("settings 'json' field is not a string")
	}

	var s types.Settings
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal settings json", slog.Any("err", err))
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings json: %w", err)
	}
	return s, version, nil
}

// SetSettings saves the dynamic configuration to the "config/settings" document.
// It stores the settings as a JSON string for portability.
func (f *FirestoreProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	_, err = f.client.Collection("config").Doc("settings").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
