package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ranchhand/ranchhand/pkg/poller"
	"github.com/ranchhand/ranchhand/pkg/storage/storagemock"
	"github.com/ranchhand/ranchhand/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestTemperatureReport(t *testing.T) {
	temp := 5.0
	db := &storagemock.MockDatabase{}
	db.On("GetSettings", mock.Anything).Return(defaultSettings(), types.CurrentSettingsVersion, nil)
	db.On("GetReadings", mock.Anything, "barn", mock.Anything, mock.Anything).Return([]types.Reading{{
		DeviceID:    "barn",
		Name:        "Barn",
		Type:        types.DeviceTypeTHSensor,
		Timestamp:   time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Minute),
		Temperature: &temp,
		Online:      true,
	}}, nil)

	srv := newTestServer(&pollerMock{}, db)
	handler := srv.setupHandler()

	t.Run("json", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/reports/temperature?devices=barn&days=1", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, `"temperatureC":5`)
		assert.Contains(t, body, `"temperatureF":41`)
	})

	t.Run("csv", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/reports/temperature?devices=barn&days=1&format=csv", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Body.String(), "deviceID,name,timestamp,temperatureC,temperatureF,humidity")
		assert.Contains(t, rec.Body.String(), "barn,Barn,")
	})

	t.Run("bad format", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/reports/temperature?devices=barn&format=xml", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad days", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/reports/temperature?devices=barn&days=-2", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTemperatureReportDefaultDevices(t *testing.T) {
	db := &storagemock.MockDatabase{}
	db.On("GetSettings", mock.Anything).Return(defaultSettings(), types.CurrentSettingsVersion, nil)
	db.On("GetReadings", mock.Anything, "barn", mock.Anything, mock.Anything).Return([]types.Reading(nil), nil)

	p := &pollerMock{}
	p.On("GroupStates").Return([]poller.GroupState{{
		GroupID: poller.YoLinkGroupID,
		Vendor:  types.VendorYoLink,
		Devices: []types.DeviceState{
			{DeviceID: "barn", Type: types.DeviceTypeTHSensor},
			{DeviceID: "hub", Type: types.DeviceTypeHub},
		},
	}})

	srv := newTestServer(p, db)
	handler := srv.setupHandler()

	req := httptest.NewRequest("GET", "/api/reports/temperature", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	// only the sensor is queried, the hub has no temperature history
	db.AssertCalled(t, "GetReadings", mock.Anything, "barn", mock.Anything, mock.Anything)
	db.AssertNotCalled(t, "GetReadings", mock.Anything, "hub", mock.Anything, mock.Anything)
}
