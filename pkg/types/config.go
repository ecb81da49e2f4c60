package types

import (
	"time"
)

// YoLinkConfig holds the YoLink UAC credentials and the cached access token.
// The token is stored alongside the credentials so we can skip the token
// endpoint on every poll and only refresh shortly before expiry.
type YoLinkConfig struct {
	UAID      string `json:"uaID"`
	SecretKey string `json:"secretKey"`

	AccessToken string    `json:"accessToken,omitempty"`
	TokenExpiry time.Time `json:"tokenExpiry,omitzero"`
}

// Empty returns true if no credentials have been configured.
func (c YoLinkConfig) Empty() bool {
	return c.UAID == "" || c.SecretKey == ""
}

// EcoFlowConfig holds the IoT developer credentials for a single EcoFlow
// power station. Multiple stations are supported, one config each.
type EcoFlowConfig struct {
	// ID is the stable identifier of this config. Defaults to the serial
	// number when created via the API.
	ID           string `json:"id"`
	Name         string `json:"name"`
	SerialNumber string `json:"serialNumber"`
	AccessKey    string `json:"accessKey"`
	SecretKey    string `json:"secretKey"`
}

// Empty returns true if no credentials have been configured.
func (c EcoFlowConfig) Empty() bool {
	return c.SerialNumber == "" || c.AccessKey == "" || c.SecretKey == ""
}

// Square environments.
const (
	SquareEnvironmentProduction = "production"
	SquareEnvironmentSandbox    = "sandbox"
)

// SquareConfig holds the Square API credentials for catalog syncing.
type SquareConfig struct {
	AccessToken string `json:"accessToken"`
	LocationID  string `json:"locationID,omitempty"`
	// Environment is "production" or "sandbox".
	Environment string `json:"environment"`
}

// Empty returns true if no credentials have been configured.
func (c SquareConfig) Empty() bool {
	return c.AccessToken == ""
}
