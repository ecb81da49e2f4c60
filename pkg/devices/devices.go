// Package devices contains the HTTP clients for the external vendor APIs
// (YoLink sensors, EcoFlow power stations, Square catalog) and the shared
// error taxonomy used to classify their failures.
package devices

import (
	"errors"
)

var (
	// ErrNotConfigured means no credentials exist for the vendor yet.
	ErrNotConfigured = errors.New("vendor not configured")
	// ErrUnauthorized means the vendor rejected the configured credentials.
	ErrUnauthorized = errors.New("vendor rejected credentials")
	// ErrUnavailable means the vendor could not be reached or returned an
	// unusable response.
	ErrUnavailable = errors.New("vendor unavailable")
)

// Error kinds surfaced to API consumers alongside cached state.
const (
	KindNotConfigured = "notConfigured"
	KindAuthError     = "authError"
	KindUnavailable   = "upstreamUnavailable"
	KindStorageError  = "storageError"
)

// ErrorKind classifies err into one of the Kind constants. A nil error
// returns "". Anything that isn't a configuration or credential problem is
// treated as the upstream being unavailable, including timeouts.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotConfigured):
		return KindNotConfigured
	case errors.Is(err, ErrUnauthorized):
		return KindAuthError
	default:
		return KindUnavailable
	}
}
