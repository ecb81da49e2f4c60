package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ranchhand/ranchhand/pkg/devices"
	"github.com/ranchhand/ranchhand/pkg/poller"
	"github.com/ranchhand/ranchhand/pkg/report"
	"github.com/ranchhand/ranchhand/pkg/storage/storagemock"
	"github.com/ranchhand/ranchhand/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestServer(p DevicePoller, db *storagemock.MockDatabase) *Server {
	return &Server{
		poller:     p,
		storage:    db,
		reports:    report.NewGenerator(db),
		bypassAuth: true,
	}
}

func defaultSettings() types.Settings {
	s, _, _ := types.MigrateSettings(types.Settings{}, 0)
	return s
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&pollerMock{}, &storagemock.MockDatabase{})
	handler := srv.setupHandler()

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
}

func TestUnauthenticated(t *testing.T) {
	srv := newTestServer(&pollerMock{}, &storagemock.MockDatabase{})
	srv.bypassAuth = false
	handler := srv.setupHandler()

	req := httptest.NewRequest("GET", "/api/devices", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	t.Run("auth status allowed", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/auth/status", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"loggedIn":false`)
	})
}

func TestListDevices(t *testing.T) {
	temp := 21.5
	p := &pollerMock{}
	p.On("GroupStates").Return([]poller.GroupState{{
		GroupID:    poller.YoLinkGroupID,
		Vendor:     types.VendorYoLink,
		Configured: true,
		Devices: []types.DeviceState{{
			DeviceID:    "dev1",
			Name:        "Barn",
			Vendor:      types.VendorYoLink,
			Type:        types.DeviceTypeTHSensor,
			Online:      true,
			Temperature: &temp,
		}},
		UpdatedAt: time.Now().UTC(),
	}})

	db := &storagemock.MockDatabase{}
	db.On("GetSettings", mock.Anything).Return(defaultSettings(), types.CurrentSettingsVersion, nil)

	srv := newTestServer(p, db)
	handler := srv.setupHandler()

	req := httptest.NewRequest("GET", "/api/devices", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	body := rec.Body.String()
	assert.Contains(t, body, `"deviceID":"dev1"`)
	assert.Contains(t, body, `"temperature":21.5`)
	assert.Contains(t, body, `"displayUnit":"F"`)

	t.Run("unit override", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/devices?unit=C", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"displayUnit":"C"`)
	})

	t.Run("bad unit", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/devices?unit=K", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("single group", func(t *testing.T) {
		p.On("GroupState", poller.YoLinkGroupID).Return(poller.GroupState{
			GroupID:    poller.YoLinkGroupID,
			Vendor:     types.VendorYoLink,
			Configured: true,
		}, true)

		req := httptest.NewRequest("GET", "/api/devices?group=yolink", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"groupID":"yolink"`)
	})

	t.Run("unknown group", func(t *testing.T) {
		p.On("GroupState", "nope").Return(poller.GroupState{}, false)

		req := httptest.NewRequest("GET", "/api/devices?group=nope", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRefreshGroup(t *testing.T) {
	p := &pollerMock{}
	p.On("TriggerRefresh", mock.Anything, poller.YoLinkGroupID).Return(poller.GroupState{
		GroupID:    poller.YoLinkGroupID,
		Vendor:     types.VendorYoLink,
		Configured: true,
		UpdatedAt:  time.Now().UTC(),
	}, nil)

	srv := newTestServer(p, &storagemock.MockDatabase{})
	handler := srv.setupHandler()

	req := httptest.NewRequest("POST", "/api/devices/refresh?group=yolink", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"groupID":"yolink"`)
	p.AssertCalled(t, "TriggerRefresh", mock.Anything, poller.YoLinkGroupID)
}

func TestDeviceHistory(t *testing.T) {
	db := &storagemock.MockDatabase{}
	db.On("GetReadings", mock.Anything, "dev1", mock.Anything, mock.Anything).Return([]types.Reading(nil), nil)

	srv := newTestServer(&pollerMock{}, db)
	handler := srv.setupHandler()

	req := httptest.NewRequest("GET", "/api/devices/dev1/history", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String(), "no history should be an empty list")

	t.Run("invalid hours", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/devices/dev1/history?hours=banana", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("hours capped at a week", func(t *testing.T) {
		db.Calls = nil
		req := httptest.NewRequest("GET", "/api/devices/dev1/history?hours=9000", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		require.Len(t, db.Calls, 1)
		start := db.Calls[0].Arguments.Get(2).(time.Time)
		end := db.Calls[0].Arguments.Get(3).(time.Time)
		assert.Equal(t, 168*time.Hour, end.Sub(start))
	})
}

func TestPowerHistory(t *testing.T) {
	db := &storagemock.MockDatabase{}
	db.On("GetPowerReadings", mock.Anything, "SN1", mock.Anything, mock.Anything).Return([]types.PowerReading{{
		SerialNumber: "SN1",
		Timestamp:    types.BucketTime(time.Now()),
		BatterySOC:   78,
	}}, nil)

	srv := newTestServer(&pollerMock{}, db)
	handler := srv.setupHandler()

	req := httptest.NewRequest("GET", "/api/power/SN1/history", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"batterySOC":78`)
}

func TestACControl(t *testing.T) {
	p := &pollerMock{}
	p.On("SetACEnabled", mock.Anything, "SN1", true, false).Return(nil)

	srv := newTestServer(p, &storagemock.MockDatabase{})
	handler := srv.setupHandler()

	req := httptest.NewRequest("POST", "/api/power/SN1/ac", strings.NewReader(`{"enabled":true}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	p.AssertCalled(t, "SetACEnabled", mock.Anything, "SN1", true, false)

	t.Run("unknown station", func(t *testing.T) {
		p := &pollerMock{}
		p.On("SetACEnabled", mock.Anything, "NOPE", true, false).Return(devices.ErrNotConfigured)

		srv := newTestServer(p, &storagemock.MockDatabase{})
		handler := srv.setupHandler()

		req := httptest.NewRequest("POST", "/api/power/NOPE/ac", strings.NewReader(`{"enabled":true}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), `"kind":"notConfigured"`)
	})
}

func TestCatalog(t *testing.T) {
	p := &pollerMock{}
	p.On("Catalog").Return(poller.CatalogState{
		Configured: true,
		Items: []types.CatalogItem{{
			ID:   "item1",
			Name: "Farm Eggs",
			Variations: []types.CatalogVariation{{
				ID:         "var1",
				Name:       "Dozen",
				PriceCents: 600,
				Currency:   "USD",
			}},
		}},
		UpdatedAt: time.Now().UTC(),
	})

	srv := newTestServer(p, &storagemock.MockDatabase{})
	handler := srv.setupHandler()

	req := httptest.NewRequest("GET", "/api/catalog", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"priceCents":600`)
}
