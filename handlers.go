package main

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/kwv/teleconsole/teleop"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 16

type healthResponse struct {
	Status     string                 `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Session    string                 `json:"session"`
	Connection teleop.ConnectionState `json:"connection"`
	Since      *time.Time             `json:"since,omitempty"`
}

type stateResponse struct {
	Connection teleop.ConnectionState   `json:"connection"`
	Telemetry  teleop.TelemetrySnapshot `json:"telemetry"`
	Motor      *teleop.MotorSpeeds      `json:"motor,omitempty"`
	Mode       teleop.ControlMode       `json:"mode"`
	Pose       *teleop.Pose             `json:"pose,omitempty"`
	WheelBase  string                   `json:"wheelBase,omitempty"`
	Intent     teleop.Vector            `json:"intent"`
	Logs       []string                 `json:"logs"`
	Map        mapStats                 `json:"map"`
	View       teleop.ViewportTransform `json:"view"`
	Layers     teleop.Layers            `json:"layers"`
	Frames     frameStats               `json:"frames"`
	MQTT       bool                     `json:"mqtt"`
}

type mapStats struct {
	Points   int     `json:"points"`
	Capacity int     `json:"capacity"`
	Samples  int     `json:"samples"`
	Visited  int     `json:"visited"`
	Distance float64 `json:"distance"`
}

type frameStats struct {
	Handled uint64 `json:"handled"`
	Dropped uint64 `json:"dropped"`
}

type keyRequest struct {
	Key    string `json:"key"`
	Down   bool   `json:"down"`
	Repeat bool   `json:"repeat"`
}

type padRequest struct {
	Direction string `json:"direction"`
	Pressed   bool   `json:"pressed"`
}

type joystickRequest struct {
	Phase string  `json:"phase"`
	DX    float64 `json:"dx"`
	DY    float64 `json:"dy"`
}

type panRequest struct {
	Phase string  `json:"phase"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

type zoomRequest struct {
	DeltaY *float64 `json:"deltaY"`
	Step   string   `json:"step"`
}

type layersRequest struct {
	Trail *bool `json:"trail"`
	Robot *bool `json:"robot"`
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(a *App) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := healthResponse{
			Status:     "ok",
			Timestamp:  time.Now(),
			Session:    a.SessionID,
			Connection: a.Conn.State(),
		}
		if since := a.StatusSince(); !since.IsZero() {
			status.Since = &since
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, a.stateResponse())
	})

	mux.HandleFunc("/api/logs", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodDelete) {
			return
		}
		a.Store.ClearLogs()
		w.WriteHeader(http.StatusNoContent)
	})

	// Persisted bridge address. Read failures answer {} so the page falls
	// back to its default address.
	mux.HandleFunc("/api/ipconfig", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			cfg, err := a.IPConfig.Load()
			if err != nil {
				log.Printf("[HTTP] read connection config: %v", err)
				writeJSON(w, http.StatusInternalServerError, teleop.ConnectionConfig{})
				return
			}
			writeJSON(w, http.StatusOK, cfg)
		case http.MethodPost:
			var cfg teleop.ConnectionConfig
			if !decodeJSON(w, r, &cfg) {
				return
			}
			if err := a.IPConfig.Save(cfg); err != nil {
				log.Printf("[HTTP] save connection config: %v", err)
				writeError(w, http.StatusInternalServerError, "Failed to save config")
				return
			}
			addr := cfg.IP
			if addr == "" {
				addr = a.ResolveBridgeAddress()
			}
			a.Conn.Connect(addr)
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "address": a.Conn.State().Address})
		default:
			allowMethods(w, r, http.MethodGet, http.MethodPost)
		}
	})

	mux.HandleFunc("/api/input/key", func(w http.ResponseWriter, r *http.Request) {
		var req keyRequest
		if !allowMethods(w, r, http.MethodPost) || !decodeJSON(w, r, &req) {
			return
		}
		if req.Down {
			a.Arbiter.KeyDown(req.Key, req.Repeat)
		} else {
			a.Arbiter.KeyUp(req.Key)
		}
		writeJSON(w, http.StatusOK, map[string]any{"direction": a.Arbiter.KeyDirection().String()})
	})

	mux.HandleFunc("/api/input/pad", func(w http.ResponseWriter, r *http.Request) {
		var req padRequest
		if !allowMethods(w, r, http.MethodPost) || !decodeJSON(w, r, &req) {
			return
		}
		if !req.Pressed {
			a.Arbiter.PadRelease()
			writeJSON(w, http.StatusOK, map[string]any{"intent": a.Arbiter.Intent()})
			return
		}
		d, err := teleop.ParseDirection(req.Direction)
		if err != nil || d == teleop.None {
			writeError(w, http.StatusBadRequest, "unknown direction")
			return
		}
		a.Arbiter.PadPress(d)
		writeJSON(w, http.StatusOK, map[string]any{"intent": a.Arbiter.Intent()})
	})

	mux.HandleFunc("/api/input/joystick", func(w http.ResponseWriter, r *http.Request) {
		var req joystickRequest
		if !allowMethods(w, r, http.MethodPost) || !decodeJSON(w, r, &req) {
			return
		}
		switch req.Phase {
		case "start":
			a.Arbiter.JoystickStart()
		case "move":
			a.Arbiter.JoystickMove(req.DX, req.DY)
		case "end":
			a.Arbiter.JoystickEnd()
		default:
			writeError(w, http.StatusBadRequest, "phase must be start, move or end")
			return
		}
		x, y := a.Arbiter.Knob()
		writeJSON(w, http.StatusOK, map[string]any{
			"intent": a.Arbiter.Intent(),
			"knob":   map[string]float64{"x": x, "y": y},
		})
	})

	mux.HandleFunc("/api/mode", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Mode string `json:"mode"`
		}
		if !allowMethods(w, r, http.MethodPost) || !decodeJSON(w, r, &req) {
			return
		}
		m, err := teleop.ParseControlMode(req.Mode)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		a.SetMode(m)
		writeJSON(w, http.StatusOK, map[string]any{"mode": m})
	})

	mux.HandleFunc("/api/calibrate", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodPost) {
			return
		}
		writeSent(w, a.Arbiter.Calibrate())
	})

	mux.HandleFunc("/api/zero", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodPost) {
			return
		}
		writeSent(w, a.Arbiter.ZeroOdometry())
	})

	mux.HandleFunc("/api/wheelbase", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Base *float64 `json:"base"`
		}
		if !allowMethods(w, r, http.MethodPost) || !decodeJSON(w, r, &req) {
			return
		}
		if req.Base == nil || *req.Base <= 0 {
			writeError(w, http.StatusBadRequest, "base must be a positive number of meters")
			return
		}
		writeSent(w, a.Arbiter.SetWheelBase(*req.Base))
	})

	mux.HandleFunc("/api/view/pan", func(w http.ResponseWriter, r *http.Request) {
		var req panRequest
		if !allowMethods(w, r, http.MethodPost) || !decodeJSON(w, r, &req) {
			return
		}
		switch req.Phase {
		case "start":
			a.Viewport.PanStart(req.X, req.Y)
		case "move":
			a.Viewport.PanMove(req.X, req.Y)
		case "end":
			a.Viewport.PanEnd()
		case "by":
			a.Viewport.PanBy(req.X, req.Y)
		default:
			writeError(w, http.StatusBadRequest, "phase must be start, move, end or by")
			return
		}
		writeJSON(w, http.StatusOK, a.Viewport.Transform())
	})

	mux.HandleFunc("/api/view/zoom", func(w http.ResponseWriter, r *http.Request) {
		var req zoomRequest
		if !allowMethods(w, r, http.MethodPost) || !decodeJSON(w, r, &req) {
			return
		}
		var t teleop.ViewportTransform
		switch {
		case req.DeltaY != nil:
			t = a.Viewport.Wheel(*req.DeltaY)
		case req.Step == "in":
			t = a.Viewport.ZoomIn()
		case req.Step == "out":
			t = a.Viewport.ZoomOut()
		default:
			writeError(w, http.StatusBadRequest, "need deltaY or step in|out")
			return
		}
		writeJSON(w, http.StatusOK, t)
	})

	mux.HandleFunc("/api/view/reset", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodPost) {
			return
		}
		writeJSON(w, http.StatusOK, a.Viewport.Reset())
	})

	mux.HandleFunc("/api/view/layers", func(w http.ResponseWriter, r *http.Request) {
		var req layersRequest
		if !allowMethods(w, r, http.MethodPost) || !decodeJSON(w, r, &req) {
			return
		}
		l := a.Layers()
		if req.Trail != nil {
			l.Trail = *req.Trail
		}
		if req.Robot != nil {
			l.Robot = *req.Robot
		}
		a.SetLayers(l)
		writeJSON(w, http.StatusOK, l)
	})

	mux.HandleFunc("/api/map/clear", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodPost) {
			return
		}
		a.Bus.Publish(teleop.ClearMapTopic)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/map.png", func(w http.ResponseWriter, r *http.Request) {
		format := "png"
		if r.URL.Query().Get("renderer") == "vector" {
			format = "vector"
		}
		serveMap(w, a, format, "image/png")
	})

	mux.HandleFunc("/map.svg", func(w http.ResponseWriter, r *http.Request) {
		serveMap(w, a, "svg", "image/svg+xml")
	})

	mux.HandleFunc("/map.geojson", func(w http.ResponseWriter, r *http.Request) {
		serveMap(w, a, "geojson", "application/geo+json")
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(consolePage)
	})

	return logRequests(mux)
}

func (a *App) stateResponse() stateResponse {
	resp := stateResponse{
		Connection: a.Conn.State(),
		Telemetry:  a.Store.Snapshot(),
		Mode:       a.Store.Mode(),
		WheelBase:  a.Store.WheelBase(),
		Intent:     a.Arbiter.Intent(),
		View:       a.Viewport.Transform(),
		Layers:     a.Layers(),
		MQTT:       a.MQTTClient != nil && a.MQTTClient.IsConnected(),
		Map: mapStats{
			Points:   a.Cloud.Len(),
			Capacity: a.Cloud.Cap(),
			Samples:  a.Accumulator.PathLen(),
			Visited:  a.Accumulator.VisitedCount(),
			Distance: a.Accumulator.Distance(),
		},
	}
	if m, ok := a.Store.Motor(); ok {
		resp.Motor = &m
	}
	if p, ok := a.Store.Pose(); ok {
		resp.Pose = &p
	}
	logs := a.Store.Logs()
	resp.Logs = make([]string, len(logs))
	for i, e := range logs {
		resp.Logs[i] = e.String()
	}
	resp.Frames.Handled, resp.Frames.Dropped = a.Demux.Stats()
	return resp
}

// serveMap renders into a buffer first so a render failure can still
// produce a clean error response.
func serveMap(w http.ResponseWriter, a *App, format, contentType string) {
	var buf bytes.Buffer
	if err := a.WriteMap(&buf, format); err != nil {
		log.Printf("[HTTP] render map (%s): %v", format, err)
		http.Error(w, "map render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(buf.Bytes())
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeSent reports whether a command frame went out. A dropped frame is
// not an error: the link being down is shown by the status badges.
func writeSent(w http.ResponseWriter, sent bool) {
	writeJSON(w, http.StatusOK, map[string]bool{"sent": sent})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// logRequests logs every request except the high-rate input and map polls.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if rec.status < 400 && quietPath(r.URL.Path) {
			return
		}
		log.Printf("[HTTP] %s %s from %s -> %d", r.Method, r.URL.Path, r.RemoteAddr, rec.status)
	})
}

func quietPath(path string) bool {
	switch path {
	case "/api/input/key", "/api/input/pad", "/api/input/joystick", "/api/state",
		"/api/view/pan", "/map.png", "/map.svg":
		return true
	}
	return false
}
