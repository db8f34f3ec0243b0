package main

import (
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/kwv/teleconsole/teleop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	a := newTestApp(t)
	rec := do(t, newHTTPServer(a), http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[healthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test-session", resp.Session)
	assert.False(t, resp.Connection.TransportConnected)
	assert.Nil(t, resp.Since, "no status change yet")
}

func TestState(t *testing.T) {
	a := newTestApp(t)
	a.Demux.HandleFrame([]byte(`{"type":"map_update","point":{"x":1.0,"y":1.0},"robot_pose":{"x":0.5,"y":0.5,"yaw":1.0}}`))
	a.Demux.HandleFrame([]byte(`{"bat":12.1,"mL":30,"mR":30,"log":"hello"}`))
	a.Demux.HandleFrame([]byte(`{"type":"wb","val":0.235}`))
	a.Demux.HandleFrame([]byte(`not json`))
	h := newHTTPServer(a)

	rec := do(t, h, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decode[stateResponse](t, rec)
	require.NotNil(t, resp.Telemetry.Battery)
	assert.Equal(t, 12.1, *resp.Telemetry.Battery)
	require.NotNil(t, resp.Motor)
	assert.Equal(t, teleop.MotorSpeeds{Left: 30, Right: 30}, *resp.Motor)
	require.NotNil(t, resp.Pose)
	assert.Equal(t, 1.0, resp.Pose.Heading)
	assert.Equal(t, "0.235", resp.WheelBase)
	assert.Equal(t, teleop.ModePad, resp.Mode)
	assert.Equal(t, 1, resp.Map.Points)
	assert.Equal(t, teleop.DefaultMapCapacity, resp.Map.Capacity)
	assert.Equal(t, 1, resp.Map.Samples)
	assert.Equal(t, frameStats{Handled: 3, Dropped: 1}, resp.Frames)
	assert.Equal(t, teleop.Layers{Trail: true, Robot: true}, resp.Layers)
	assert.False(t, resp.MQTT)

	joined := strings.Join(resp.Logs, "\n")
	assert.Contains(t, joined, "hello")
	assert.Contains(t, joined, "cal value: 0.235")

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodPost, "/api/state", "").Code)
}

func TestClearLogs(t *testing.T) {
	a := newTestApp(t)
	a.Store.AppendLog("one")
	h := newHTTPServer(a)

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/logs", "").Code)
	rec := do(t, h, http.MethodDelete, "/api/logs", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, a.Store.Logs())
}

func TestIPConfig(t *testing.T) {
	bridge := newBridgeServer(t)
	a := newTestApp(t)
	h := newHTTPServer(a)

	rec := do(t, h, http.MethodGet, "/api/ipconfig", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/ipconfig", `{"ip":"`+bridge.address()+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[map[string]any](t, rec)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "ws://"+bridge.address()+teleop.ClientPath, resp["address"])

	require.Eventually(t, bridge.connected, waitFor, tick)

	rec = do(t, h, http.MethodGet, "/api/ipconfig", "")
	assert.JSONEq(t, `{"ip":"`+bridge.address()+`"}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/ipconfig", `{"ip":`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodPut, "/api/ipconfig", "").Code)
}

func TestIPConfig_SavedAddressBeatsFlag(t *testing.T) {
	bridge := newBridgeServer(t)
	a := newTestApp(t)
	a.BridgeAddress = "127.0.0.1:1"
	h := newHTTPServer(a)

	rec := do(t, h, http.MethodPost, "/api/ipconfig", `{"ip":"`+bridge.address()+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[map[string]any](t, rec)
	assert.Equal(t, "ws://"+bridge.address()+teleop.ClientPath, resp["address"])
	require.Eventually(t, bridge.connected, waitFor, tick)
}

func TestIPConfig_CorruptFile(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, os.WriteFile(a.Config.ConnectionConfig, []byte("{broken"), 0644))

	rec := do(t, newHTTPServer(a), http.MethodGet, "/api/ipconfig", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestInputKey(t *testing.T) {
	a := newTestApp(t)
	h := newHTTPServer(a)

	rec := do(t, h, http.MethodPost, "/api/input/key", `{"key":"w","down":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"direction":"forward"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/input/key", `{"key":"ArrowLeft","down":true}`)
	assert.JSONEq(t, `{"direction":"forward_left"}`, rec.Body.String())
	assert.Equal(t, teleop.Vector{X: -teleop.DiagonalSpeed, Y: teleop.DiagonalSpeed}, a.Arbiter.Intent())

	do(t, h, http.MethodPost, "/api/input/key", `{"key":"w"}`)
	rec = do(t, h, http.MethodPost, "/api/input/key", `{"key":"arrowleft"}`)
	assert.JSONEq(t, `{"direction":"stop"}`, rec.Body.String())

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/input/key", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/input/key", `nope`).Code)
}

func TestInputPad(t *testing.T) {
	a := newTestApp(t)
	h := newHTTPServer(a)

	rec := do(t, h, http.MethodPost, "/api/input/pad", `{"direction":"FR","pressed":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"intent":{"x":60,"y":60}}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/input/pad", `{"pressed":false}`)
	assert.JSONEq(t, `{"intent":{"x":0,"y":0}}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/input/pad", `{"direction":"sideways","pressed":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInputJoystick(t *testing.T) {
	a := newTestApp(t)
	h := newHTTPServer(a)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/input/joystick", `{"phase":"start"}`).Code)

	// Beyond the radius the knob is clamped.
	rec := do(t, h, http.MethodPost, "/api/input/joystick", `{"phase":"move","dx":0,"dy":-80}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"intent":{"x":0,"y":100},"knob":{"x":0,"y":-40}}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/input/joystick", `{"phase":"end"}`)
	assert.JSONEq(t, `{"intent":{"x":0,"y":0},"knob":{"x":0,"y":0}}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest,
		do(t, h, http.MethodPost, "/api/input/joystick", `{"phase":"wiggle"}`).Code)
}

func TestMode(t *testing.T) {
	a := newTestApp(t)
	h := newHTTPServer(a)

	rec := do(t, h, http.MethodPost, "/api/mode", `{"mode":"joy"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"mode":"joy"}`, rec.Body.String())
	assert.Equal(t, teleop.ModeJoy, a.Arbiter.Mode())
	assert.Equal(t, teleop.ModeJoy, a.Store.Mode())

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/mode", `{"mode":"tank"}`).Code)
}

func TestCommands_NotConnected(t *testing.T) {
	a := newTestApp(t)
	a.Cloud.Append(teleop.MapPoint{X: 1, Y: 1})
	h := newHTTPServer(a)

	for _, path := range []string{"/api/calibrate", "/api/zero"} {
		rec := do(t, h, http.MethodPost, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.JSONEq(t, `{"sent":false}`, rec.Body.String(), path)
	}
	assert.Equal(t, 0, a.Cloud.Len(), "zero clears the map even while offline")

	rec := do(t, h, http.MethodPost, "/api/wheelbase", `{"base":0.24}`)
	assert.JSONEq(t, `{"sent":false}`, rec.Body.String())
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/wheelbase", `{"base":-1}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/wheelbase", `{}`).Code)
}

func TestCommands_Sent(t *testing.T) {
	bridge := newBridgeServer(t)
	a := newTestApp(t)
	a.BridgeAddress = bridge.address()
	a.Start(t.Context())
	require.Eventually(t, func() bool { return a.Conn.State().TransportConnected }, waitFor, tick)
	h := newHTTPServer(a)

	assert.JSONEq(t, `{"sent":true}`, do(t, h, http.MethodPost, "/api/calibrate", "").Body.String())
	assert.JSONEq(t, `{"sent":true}`, do(t, h, http.MethodPost, "/api/wheelbase", `{"base":0.24}`).Body.String())
	assert.JSONEq(t, `{"sent":true}`, do(t, h, http.MethodPost, "/api/zero", "").Body.String())

	require.Eventually(t, func() bool { return len(bridge.received()) == 3 }, waitFor, tick)
	assert.Equal(t, []string{`{"cmd":"cal"}`, `{"base":0.24}`, `{"cmd":"RST_ODOM"}`}, bridge.received())
}

func TestViewEndpoints(t *testing.T) {
	a := newTestApp(t)
	h := newHTTPServer(a)

	do(t, h, http.MethodPost, "/api/view/pan", `{"phase":"start","x":10,"y":10}`)
	rec := do(t, h, http.MethodPost, "/api/view/pan", `{"phase":"move","x":30,"y":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[teleop.ViewportTransform](t, rec)
	assert.Equal(t, 20.0, view.OffsetX)
	assert.Equal(t, -5.0, view.OffsetY)

	do(t, h, http.MethodPost, "/api/view/pan", `{"phase":"end"}`)
	view = decode[teleop.ViewportTransform](t, do(t, h, http.MethodPost, "/api/view/pan", `{"phase":"move","x":99,"y":99}`))
	assert.Equal(t, 20.0, view.OffsetX, "moves after end are ignored")

	view = decode[teleop.ViewportTransform](t, do(t, h, http.MethodPost, "/api/view/pan", `{"phase":"by","x":-20,"y":5}`))
	assert.Equal(t, teleop.ViewportTransform{Scale: teleop.DefaultViewScale}, view)

	view = decode[teleop.ViewportTransform](t, do(t, h, http.MethodPost, "/api/view/zoom", `{"step":"in"}`))
	assert.InDelta(t, teleop.DefaultViewScale*teleop.ZoomStep, view.Scale, 1e-9)

	view = decode[teleop.ViewportTransform](t, do(t, h, http.MethodPost, "/api/view/zoom", `{"deltaY":100}`))
	assert.InDelta(t, teleop.DefaultViewScale*teleop.ZoomStep*0.9, view.Scale, 1e-9)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/view/zoom", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/view/pan", `{"phase":"fling"}`).Code)

	do(t, h, http.MethodPost, "/api/view/pan", `{"phase":"by","x":7,"y":7}`)
	view = decode[teleop.ViewportTransform](t, do(t, h, http.MethodPost, "/api/view/reset", ""))
	assert.Equal(t, teleop.ViewportTransform{Scale: teleop.DefaultViewScale}, view)
}

func TestViewLayers(t *testing.T) {
	a := newTestApp(t)
	h := newHTTPServer(a)

	rec := do(t, h, http.MethodPost, "/api/view/layers", `{"trail":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"trail":false,"robot":true}`, rec.Body.String())
	assert.Equal(t, teleop.Layers{Trail: false, Robot: true}, a.Layers())

	rec = do(t, h, http.MethodPost, "/api/view/layers", `{"robot":false,"trail":true}`)
	assert.JSONEq(t, `{"trail":true,"robot":false}`, rec.Body.String())
}

func TestMapClear(t *testing.T) {
	a := newTestApp(t)
	a.Demux.HandleFrame([]byte(`{"type":"map_update","point":{"x":1.0,"y":1.0},"robot_pose":{"x":0.5,"y":0.5,"yaw":0}}`))
	h := newHTTPServer(a)

	rec := do(t, h, http.MethodPost, "/api/map/clear", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, a.Cloud.Len())
	assert.Equal(t, 0, a.Accumulator.PathLen())
	_, hasPose := a.Store.Pose()
	assert.True(t, hasPose, "clearing the map keeps the last pose")
}

func TestMapImages(t *testing.T) {
	a := newTestApp(t)
	a.Demux.HandleFrame([]byte(`{"type":"map_update","point":{"x":1.0,"y":1.0},"robot_pose":{"x":0.5,"y":0.5,"yaw":0}}`))
	h := newHTTPServer(a)

	for _, path := range []string{"/map.png", "/map.png?renderer=vector"} {
		rec := do(t, h, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
		img, err := png.Decode(rec.Body)
		require.NoError(t, err, path)
		assert.Equal(t, teleop.DefaultMapWidth, img.Bounds().Dx())
		assert.Equal(t, teleop.DefaultMapHeight, img.Bounds().Dy())
	}

	rec := do(t, h, http.MethodGet, "/map.svg", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<svg")

	rec = do(t, h, http.MethodGet, "/map.geojson", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	assert.NotEmpty(t, fc.Features)
}

func TestConsolePage(t *testing.T) {
	a := newTestApp(t)
	h := newHTTPServer(a)

	rec := do(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<html")

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/nope", "").Code)
}

func TestAllowMethods_SetsAllowHeader(t *testing.T) {
	a := newTestApp(t)
	rec := do(t, newHTTPServer(a), http.MethodDelete, "/api/ipconfig", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, POST", rec.Header().Get("Allow"))
	assert.JSONEq(t, `{"error":"method not allowed"}`, rec.Body.String())
}
