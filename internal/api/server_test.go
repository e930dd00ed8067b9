package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/pdctl/internal/autopause"
	"codeberg.org/mutker/pdctl/internal/capture"
	"codeberg.org/mutker/pdctl/internal/errors"
	"codeberg.org/mutker/pdctl/internal/store"
	"codeberg.org/mutker/pdctl/internal/telemetry"
)

type MockCapture struct {
	mock.Mock
}

func (m *MockCapture) Status() capture.Status {
	args := m.Called()
	return args.Get(0).(capture.Status)
}

func (m *MockCapture) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockCapture) Pause(ctx context.Context, reason string) error {
	return m.Called(ctx, reason).Error(0)
}

func (m *MockCapture) Toggle(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockCapture) Clear(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockCapture) SetAutoPause(ctx context.Context, cfg autopause.Config) error {
	return m.Called(ctx, cfg).Error(0)
}

func (m *MockCapture) Records(ctx context.Context) ([]store.Record, []store.Record, error) {
	args := m.Called(ctx)
	var protocol, measurement []store.Record
	if v := args.Get(0); v != nil {
		protocol = v.([]store.Record)
	}
	if v := args.Get(1); v != nil {
		measurement = v.([]store.Record)
	}
	return protocol, measurement, args.Error(2)
}

func (m *MockCapture) Load(ctx context.Context, records []store.Record) error {
	return m.Called(ctx, records).Error(0)
}

func serve(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	return w
}

func TestStatus(t *testing.T) {
	mc := new(MockCapture)
	mc.On("Status").Return(capture.Status{SessionID: "abc", State: "running"})

	w := serve(NewServer(":0", mc, nil), http.MethodGet, "/status", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got capture.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "abc", got.SessionID)
	assert.Equal(t, "running", got.State)
	mc.AssertExpectations(t)
}

func TestCaptureActions(t *testing.T) {
	tests := []struct {
		path   string
		method string
		args   []any
	}{
		{"/capture/start", "Start", []any{mock.Anything}},
		{"/capture/pause", "Pause", []any{mock.Anything, "api"}},
		{"/capture/toggle", "Toggle", []any{mock.Anything}},
		{"/records/clear", "Clear", []any{mock.Anything}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			mc := new(MockCapture)
			mc.On(tt.method, tt.args...).Return(nil)
			mc.On("Status").Return(capture.Status{State: "paused"})

			w := serve(NewServer(":0", mc, nil), http.MethodPost, tt.path, "")

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), `"state":"paused"`)
			mc.AssertExpectations(t)
		})
	}
}

func TestActionWithoutDevice(t *testing.T) {
	mc := new(MockCapture)
	mc.On("Toggle", mock.Anything).Return(errors.New().New(errors.ErrNotConnected))

	w := serve(NewServer(":0", mc, nil), http.MethodPost, "/capture/toggle", "")

	assert.Equal(t, http.StatusConflict, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not_connected", resp.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	mc := new(MockCapture)

	w := serve(NewServer(":0", mc, nil), http.MethodGet, "/capture/toggle", "")

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	mc.AssertNotCalled(t, "Toggle", mock.Anything)
}

func TestSetAutoPause(t *testing.T) {
	mc := new(MockCapture)
	want := autopause.Config{
		Enabled:          true,
		Metric:           telemetry.MetricCurrent,
		VoltageThreshold: 5,
		CurrentThreshold: 0.5,
		Delay:            2 * time.Second,
	}
	mc.On("SetAutoPause", mock.Anything, want).Return(nil)
	mc.On("Status").Return(capture.Status{})

	body := `{"enabled":true,"metric":"current","voltage_threshold":5,"current_threshold":0.5,"delay_seconds":2}`
	w := serve(NewServer(":0", mc, nil), http.MethodPut, "/autopause", body)

	assert.Equal(t, http.StatusOK, w.Code)
	mc.AssertExpectations(t)
}

func TestSetAutoPauseRejected(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"active voltage", `{"enabled":true,"metric":"voltage","voltage_threshold":25}`, "voltage_threshold"},
		{"inactive current", `{"enabled":true,"metric":"voltage","voltage_threshold":5,"current_threshold":99}`, "current_threshold"},
		{"negative current", `{"metric":"current","current_threshold":-0.1}`, "current_threshold"},
		{"delay", `{"metric":"voltage","delay_seconds":12}`, "delay_seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc := new(MockCapture)

			w := serve(NewServer(":0", mc, nil), http.MethodPut, "/autopause", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "config_validation_failed", resp.Code)
			assert.Equal(t, tt.field, resp.Field)
			mc.AssertNotCalled(t, "SetAutoPause", mock.Anything, mock.Anything)
		})
	}
}

func TestSetAutoPauseRejectedBySession(t *testing.T) {
	mc := new(MockCapture)
	mc.On("SetAutoPause", mock.Anything, mock.Anything).
		Return(errors.New().New(errors.ErrSessionClosed))

	w := serve(NewServer(":0", mc, nil), http.MethodPut, "/autopause", `{"metric":"voltage","voltage_threshold":5}`)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	mc.AssertExpectations(t)
}

func TestSetAutoPauseUnknownMetric(t *testing.T) {
	mc := new(MockCapture)

	w := serve(NewServer(":0", mc, nil), http.MethodPut, "/autopause", `{"metric":"temperature"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"metric"`)
	mc.AssertNotCalled(t, "SetAutoPause", mock.Anything, mock.Anything)
}

func TestSetAutoPauseMalformed(t *testing.T) {
	w := serve(NewServer(":0", new(MockCapture), nil), http.MethodPut, "/autopause", `{`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_argument")
}

func TestExportCSV(t *testing.T) {
	mc := new(MockCapture)
	protocol := []store.Record{{
		Index:        1,
		Timestamp:    "12:00:00.000",
		RelativeTime: 0.5,
		Kind:         store.KindRDO,
		Summary:      "Request",
	}}
	mc.On("Records", mock.Anything).Return(protocol, nil, nil)

	w := serve(NewServer(":0", mc, nil), http.MethodGet, "/export.csv", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "\uFEFFIndex,Absolute Time"))
	assert.Contains(t, w.Body.String(), "1,12:00:00.000,0.500,RDO,Request")
}

func TestExportEmpty(t *testing.T) {
	mc := new(MockCapture)
	mc.On("Records", mock.Anything).Return(nil, nil, nil)

	w := serve(NewServer(":0", mc, nil), http.MethodGet, "/export.csv", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "nothing_to_export")
}

func TestImportCSV(t *testing.T) {
	mc := new(MockCapture)
	mc.On("Load", mock.Anything, mock.MatchedBy(func(recs []store.Record) bool {
		return len(recs) == 1 && recs[0].Index == 3 && recs[0].Kind == store.KindMeasurement
	})).Return(nil)

	body := "Index,Absolute Time,Relative Time (s),Type,Summary,Details\n" +
		"3,12:00:01.000,1.000,MEASUREMENT,,5.000,1.000,5.000\n" +
		"x,broken\n"
	w := serve(NewServer(":0", mc, nil), http.MethodPost, "/records/import", body)

	require.Equal(t, http.StatusOK, w.Code)

	var resp ImportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, ImportResponse{Imported: 1, Skipped: 1}, resp)
	mc.AssertExpectations(t)
}

func TestMetricsEndpoint(t *testing.T) {
	mc := new(MockCapture)
	mc.On("Status").Return(capture.Status{})

	s := NewServer(":0", mc, nil)
	serve(s, http.MethodGet, "/status", "")

	w := serve(s, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `pdctl_http_requests_total{method="GET",path="/status",status="200"}`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(errors.ErrSessionClosed))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(errors.ErrTimeout))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.ErrInternal))
}
