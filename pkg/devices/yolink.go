package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ranchhand/ranchhand/pkg/common"
	"github.com/ranchhand/ranchhand/pkg/log"
	"github.com/ranchhand/ranchhand/pkg/types"
	"github.com/ranchhand/ranchhand/pkg/units"
)

// yolinkTokenSkew is how long before expiry we proactively refresh the
// access token.
const yolinkTokenSkew = 5 * time.Minute

// YoLink talks to the YoLink UAC (User Access Credentials) cloud API. It
// caches the OAuth access token between polls; the refreshed token is
// surfaced via Config so the caller can persist it.
type YoLink struct {
	client   *http.Client
	tokenURL string
	apiURL   string

	mu           sync.Mutex
	cfg          types.YoLinkConfig
	tokenChanged bool
}

// NewYoLink returns a client against the production YoLink API. The timeout
// bounds every request including the token exchange.
func NewYoLink(timeout time.Duration) *YoLink {
	return &YoLink{
		client:   common.HTTPClient(timeout),
		tokenURL: "https://api.yosmart.com/open/yolink/token",
		apiURL:   "https://api.yosmart.com/open/yolink/v2/api",
	}
}

// SetConfig replaces the credentials, including any token cached alongside
// them in storage.
func (y *YoLink) SetConfig(cfg types.YoLinkConfig) {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.cfg = cfg
}

// Config returns the current credentials including any refreshed token.
func (y *YoLink) Config() types.YoLinkConfig {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.cfg
}

type yolinkTokenResult struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
	ErrorDesc   string `json:"error_description"`
}

// ensureToken refreshes the access token if it is missing or within the
// expiry skew. Must be called with y.mu held.
func (y *YoLink) ensureToken(ctx context.Context) error {
	if y.cfg.Empty() {
		return ErrNotConfigured
	}
	if y.cfg.AccessToken != "" && time.Now().Before(y.cfg.TokenExpiry.Add(-yolinkTokenSkew)) {
		return nil
	}

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", y.cfg.UAID)
	data.Set("client_secret", y.cfg.SecretKey)

	req, err := http.NewRequestWithContext(ctx, "POST", y.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := y.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: token request failed: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: token endpoint returned status %d", ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: token endpoint returned status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var res yolinkTokenResult
	if err := json.Unmarshal(body, &res); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode yolink token response", slog.Any("error", err), slog.String("body", string(body)))
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if res.Error != "" || res.AccessToken == "" {
		log.Ctx(ctx).WarnContext(ctx, "yolink rejected credentials", slog.String("error", res.Error), slog.String("desc", res.ErrorDesc))
		return fmt.Errorf("%w: %s", ErrUnauthorized, res.Error)
	}

	expiresIn := res.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 7200
	}
	y.cfg.AccessToken = res.AccessToken
	y.cfg.TokenExpiry = time.Now().UTC().Add(time.Duration(expiresIn) * time.Second)
	y.tokenChanged = true
	log.Ctx(ctx).DebugContext(ctx, "refreshed yolink access token", slog.Time("expiry", y.cfg.TokenExpiry))
	return nil
}

type yolinkResponse struct {
	Code string          `json:"code"`
	Desc string          `json:"desc"`
	Data json.RawMessage `json:"data"`
}

// call issues a BDDP request. On an expired-token code the token is cleared
// and the request retried once. Must be called with y.mu held.
func (y *YoLink) call(ctx context.Context, method, targetDevice, deviceToken string, dest interface{}) error {
	// we try up to 2 times because we might have an expired token
	for i := 0; i < 2; i++ {
		if err := y.ensureToken(ctx); err != nil {
			return err
		}

		payload := map[string]interface{}{
			"method": method,
			"time":   time.Now().UnixMilli(),
		}
		if targetDevice != "" {
			payload["targetDevice"] = targetDevice
		}
		if deviceToken != "" {
			payload["token"] = deviceToken
		}

		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, "POST", y.apiURL, strings.NewReader(string(body)))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+y.cfg.AccessToken)

		resp, err := y.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %s failed: %w", ErrUnavailable, method, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized {
			log.Ctx(ctx).DebugContext(ctx, "yolink token expired")
			y.cfg.AccessToken = ""
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: %s returned status %d", ErrUnavailable, method, resp.StatusCode)
		}

		var yr yolinkResponse
		if err := json.NewDecoder(resp.Body).Decode(&yr); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to decode yolink response", slog.String("method", method), slog.Any("error", err))
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}

		if yr.Code != "000000" {
			// 000103 and 010104 are the invalid/expired token codes
			if (yr.Code == "000103" || yr.Code == "010104") && y.cfg.AccessToken != "" {
				log.Ctx(ctx).DebugContext(ctx, "yolink token rejected", slog.String("code", yr.Code))
				y.cfg.AccessToken = ""
				continue
			}
			log.Ctx(ctx).WarnContext(ctx, "yolink api error", slog.String("method", method), slog.String("code", yr.Code), slog.String("desc", yr.Desc))
			return fmt.Errorf("%w: %s error %s: %s", ErrUnavailable, method, yr.Code, yr.Desc)
		}

		if dest != nil {
			if err := json.Unmarshal(yr.Data, dest); err != nil {
				return fmt.Errorf("failed to decode %s result: %w", method, err)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: token refresh loop exhausted", ErrUnauthorized)
}

type yolinkDevice struct {
	DeviceID  string `json:"deviceId"`
	Token     string `json:"token"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	ModelName string `json:"modelName"`
}

type yolinkDeviceList struct {
	Devices []yolinkDevice `json:"devices"`
}

type yolinkState struct {
	Online      *bool    `json:"online"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Battery     *float64 `json:"battery"`
	LoraInfo    struct {
		Signal *int `json:"signal"`
	} `json:"loraInfo"`
}

type yolinkStateData struct {
	Online   *bool       `json:"online"`
	ReportAt string      `json:"reportAt"`
	State    yolinkState `json:"state"`
}

// ListDeviceStates fetches the home device list and the current state of
// every device, mapped to canonical DeviceStates. A single device failing to
// report doesn't fail the whole poll; that device is returned offline.
// The returned bool is true when the access token was refreshed and the
// config should be persisted.
func (y *YoLink) ListDeviceStates(ctx context.Context) ([]types.DeviceState, bool, error) {
	y.mu.Lock()
	defer y.mu.Unlock()

	y.tokenChanged = false

	var list yolinkDeviceList
	if err := y.call(ctx, "Home.getDeviceList", "", "", &list); err != nil {
		return nil, y.tokenChanged, err
	}

	states := make([]types.DeviceState, 0, len(list.Devices))
	for _, d := range list.Devices {
		ds := types.DeviceState{
			DeviceID: d.DeviceID,
			Name:     d.Name,
			Vendor:   types.VendorYoLink,
			Type:     d.Type,
		}

		var sd yolinkStateData
		if err := y.call(ctx, d.Type+".getState", d.DeviceID, d.Token, &sd); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to get device state",
				slog.String("deviceID", d.DeviceID),
				slog.String("type", d.Type),
				slog.Any("error", err))
			states = append(states, ds)
			continue
		}

		// online can be at the data level (hubs) or inside state (sensors)
		switch {
		case sd.Online != nil:
			ds.Online = *sd.Online
		case sd.State.Online != nil:
			ds.Online = *sd.State.Online
		default:
			// if we got state back at all, the device reported recently
			ds.Online = sd.State.Temperature != nil || sd.State.Battery != nil
		}

		ds.Temperature = sd.State.Temperature
		ds.Humidity = sd.State.Humidity
		if sd.State.Battery != nil {
			pct := units.DisplayBattery(*sd.State.Battery)
			ds.Battery = &pct
		}
		ds.SignalDBM = sd.State.LoraInfo.Signal

		if sd.ReportAt != "" {
			if ts, err := time.Parse(time.RFC3339, sd.ReportAt); err == nil {
				ds.LastReport = ts
			}
		}

		states = append(states, ds)
	}

	log.Ctx(ctx).DebugContext(ctx, "polled yolink devices", slog.Int("count", len(states)))
	return states, y.tokenChanged, nil
}
