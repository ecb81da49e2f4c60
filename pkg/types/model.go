package types

import (
	"time"
)

// CurrentReadingVersion is the current version of stored sensor readings.
const CurrentReadingVersion = 1

// CurrentPowerReadingVersion is the current version of stored power readings.
const CurrentPowerReadingVersion = 1

// ReadingBucket is the width of a history bucket. A device gets at most one
// stored reading per bucket.
const ReadingBucket = 5 * time.Minute

// Vendor identifies which external API a device belongs to.
type Vendor string

const (
	VendorYoLink  Vendor = "yolink"
	VendorEcoFlow Vendor = "ecoflow"
)

// Device types as reported by the vendors.
const (
	DeviceTypeTHSensor     = "THSensor"
	DeviceTypeHub          = "Hub"
	DeviceTypePowerStation = "PowerStation"
)

// DeviceState is the canonical, vendor-neutral snapshot of a device. It is
// overwritten on every poll and never persisted directly; history is stored
// as Reading/PowerReading.
type DeviceState struct {
	DeviceID string `json:"deviceID"`
	Name     string `json:"name"`
	Vendor   Vendor `json:"vendor"`
	Type     string `json:"type"`
	Online   bool   `json:"online"`

	// Temperature is in Celsius. Display conversion happens at the edge.
	Temperature *float64 `json:"temperature,omitempty"`
	// Humidity is a percentage 0-100.
	Humidity *float64 `json:"humidity,omitempty"`
	// Battery is a percentage 0-100 after vendor-scale normalization.
	Battery *float64 `json:"battery,omitempty"`
	// SignalDBM is the radio signal strength reported by the hub.
	SignalDBM *int `json:"signalDBM,omitempty"`

	LastReport time.Time `json:"lastReport,omitzero"`

	// Power station fields, only set for VendorEcoFlow.
	WattsIn          *float64 `json:"wattsIn,omitempty"`
	WattsOut         *float64 `json:"wattsOut,omitempty"`
	ACOutWatts       *float64 `json:"acOutWatts,omitempty"`
	ACEnabled        *bool    `json:"acEnabled,omitempty"`
	SolarWatts       *float64 `json:"solarWatts,omitempty"`
	RemainingMinutes *int     `json:"remainingMinutes,omitempty"`
	BatteryTempC     *float64 `json:"batteryTempC,omitempty"`
}

// Reading is a durable sensor history row. Timestamp is the start of the
// 5-minute bucket the reading was recorded in, in UTC.
type Reading struct {
	DeviceID    string    `json:"deviceID"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	Battery     *float64  `json:"battery,omitempty"`
	SignalDBM   *int      `json:"signalDBM,omitempty"`
	Online      bool      `json:"online"`
}

// PowerReading is a durable power station history row, bucketed like Reading.
type PowerReading struct {
	SerialNumber     string    `json:"serialNumber"`
	Name             string    `json:"name"`
	Timestamp        time.Time `json:"timestamp"`
	BatterySOC       float64   `json:"batterySOC"`
	WattsIn          float64   `json:"wattsIn"`
	WattsOut         float64   `json:"wattsOut"`
	ACOutWatts       float64   `json:"acOutWatts"`
	ACEnabled        bool      `json:"acEnabled"`
	SolarWatts       float64   `json:"solarWatts"`
	RemainingMinutes int       `json:"remainingMinutes"`
	BatteryTempC     float64   `json:"batteryTempC"`
}

// CatalogItem is a Square catalog item. Catalog data is cached in memory only.
type CatalogItem struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Variations []CatalogVariation `json:"variations"`
}

// CatalogVariation is a purchasable variation of a catalog item.
type CatalogVariation struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"priceCents"`
	Currency   string `json:"currency"`
}

// BucketTime truncates t to the start of its history bucket in UTC.
func BucketTime(t time.Time) time.Time {
	return t.UTC().Truncate(ReadingBucket)
}
