package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kwv/teleconsole/teleop"
)

// App encapsulates the console state and its dependencies
type App struct {
	Config      *teleop.Config
	Bus         *teleop.Bus
	Store       *teleop.TelemetryStore
	Cloud       *teleop.PointCloud
	Accumulator *teleop.SpatialAccumulator
	Viewport    *teleop.Viewport
	Conn        *teleop.ConnectionManager
	Demux       *teleop.Demultiplexer
	Arbiter     *teleop.InputArbiter
	IPConfig    teleop.ConnectionConfigStore
	Raster      *teleop.MapRenderer
	Vector      *teleop.VectorRenderer
	MQTTClient  *teleop.MQTTClient
	Publisher   *teleop.Publisher
	SessionID   string

	// Dialer overrides the websocket dialer (tests)
	Dialer teleop.Dialer

	layersMu     sync.RWMutex
	layers       teleop.Layers
	statusMu     sync.RWMutex
	statusSince  time.Time
	cancelWorker context.CancelFunc

	// CLI Flags (effectively dependencies)
	ConfigFile       string
	BridgeAddress    string
	ConnectionConfig string
	HttpPort         int
	Mode             string
	Legacy           bool
	CaptureFor       time.Duration
	OutputFile       string
	RenderFormat     string
	TelemetryOut     string
	NoMQTT           bool
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Bus:       teleop.DefaultBus(),
		SessionID: uuid.NewString(),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.BridgeAddress = opts.BridgeAddress
	a.ConnectionConfig = opts.ConnectionConfig
	a.HttpPort = opts.HttpPort
	a.Mode = opts.Mode
	a.Legacy = opts.Legacy
	a.CaptureFor = opts.CaptureFor
	a.OutputFile = opts.OutputFile
	a.RenderFormat = opts.RenderFormat
	a.TelemetryOut = opts.TelemetryOut
	a.NoMQTT = opts.NoMQTT
}

// LoadConfig reads the config file and applies CLI overrides. A missing
// file is only an error when it was named explicitly.
func (a *App) LoadConfig() (*teleop.Config, error) {
	var cfg *teleop.Config
	path := a.ConfigFile
	if path == "" {
		path = defaultConfigFile
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == defaultConfigFile {
		log.Printf("No %s found, using defaults", path)
		cfg = teleop.DefaultConfig()
		cfg.ApplyEnv()
	} else {
		loaded, err := teleop.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		log.Printf("Loaded config from %s", path)
		cfg = loaded
	}

	if a.Mode != "" {
		cfg.Control.Mode = a.Mode
	}
	if a.Legacy {
		cfg.Control.Legacy = true
	}
	if a.ConnectionConfig != "" {
		cfg.ConnectionConfig = a.ConnectionConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Build constructs and wires every console component from cfg. Nothing is
// started; see Start.
func (a *App) Build(cfg *teleop.Config) {
	a.Config = cfg
	if a.Bus == nil {
		a.Bus = teleop.NewBus()
	}
	if a.SessionID == "" {
		a.SessionID = uuid.NewString()
	}

	a.Store = teleop.NewTelemetryStore()
	mode, _ := teleop.ParseControlMode(cfg.Control.Mode)
	if mode == "" {
		mode = teleop.ModePad
	}
	a.Store.SetMode(mode)

	a.Cloud = teleop.NewPointCloud(cfg.Map.Capacity, a.Bus)
	a.Accumulator = teleop.NewSpatialAccumulator(a.Bus)
	a.Viewport = teleop.NewViewport(cfg.Map)
	a.IPConfig = teleop.OpenConnectionConfig(cfg.ConnectionConfig)
	a.Raster = teleop.NewMapRenderer(cfg.Map)
	a.Vector = teleop.NewVectorRenderer(cfg.Map)
	a.layers = teleop.Layers{
		Trail: cfg.Map.ShowTrail == nil || *cfg.Map.ShowTrail,
		Robot: cfg.Map.ShowRobot == nil || *cfg.Map.ShowRobot,
	}

	a.Conn = teleop.NewConnectionManager(teleop.ConnectionOptions{
		Dialer:          a.Dialer,
		WatchdogTimeout: cfg.Bridge.WatchdogTimeout(),
		ReconnectDelay:  cfg.Bridge.ReconnectDelay(),
		OnStatus:        a.onStatus,
	})
	a.Arbiter = teleop.NewInputArbiter(a.Conn, teleop.ArbiterOptions{
		Mode:         mode,
		PollInterval: cfg.Control.PollInterval(),
		Legacy:       cfg.Control.Legacy,
		Bus:          a.Bus,
	})
	a.Demux = teleop.NewDemultiplexer(teleop.DemuxOptions{
		Store:        a.Store,
		Cloud:        a.Cloud,
		Accumulator:  a.Accumulator,
		Identity:     a.Conn,
		OnModeChange: a.Arbiter.SetMode,
	})
	a.Conn.SetFrameHandler(a.Demux.HandleFrame)
}

func (a *App) onStatus(teleop.ConnectionState) {
	a.statusMu.Lock()
	a.statusSince = time.Now()
	a.statusMu.Unlock()
}

// StatusSince returns when the connection state last changed.
func (a *App) StatusSince() time.Time {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	return a.statusSince
}

// ResolveBridgeAddress picks the address to dial: the CLI flag, then the
// persisted connection config, then the config file.
func (a *App) ResolveBridgeAddress() string {
	if a.BridgeAddress != "" {
		return a.BridgeAddress
	}
	def := teleop.DefaultBridgeAddress
	if a.Config != nil && a.Config.Bridge.Address != "" {
		def = a.Config.Bridge.Address
	}
	return teleop.StoredBridgeAddress(a.IPConfig, def)
}

// Start dials the bridge and launches the periodic workers. MQTT is started
// when a broker is configured.
func (a *App) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancelWorker = cancel

	a.Conn.Connect(a.ResolveBridgeAddress())
	go a.Arbiter.Run(ctx)

	if a.NoMQTT {
		return
	}
	client, err := teleop.InitMQTT(a.Config.MQTT, a.Bus)
	if err != nil {
		log.Printf("[MQTT] init failed: %v", err)
		return
	}
	if client == nil {
		return
	}
	a.MQTTClient = client
	a.Publisher = teleop.NewPublisher(client.GetClient(), client.Prefix())
	go a.Publisher.Run(ctx, a.Store, teleop.DefaultMirrorInterval)
	fmt.Println("MQTT telemetry mirror initialized")
}

// Shutdown stops workers and releases every component.
func (a *App) Shutdown() {
	if a.cancelWorker != nil {
		a.cancelWorker()
	}
	if a.Conn != nil {
		a.Conn.Close()
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	if a.Cloud != nil {
		a.Cloud.Close()
	}
	if a.Accumulator != nil {
		a.Accumulator.Close()
	}
}

// Layers returns the active map layer toggles.
func (a *App) Layers() teleop.Layers {
	a.layersMu.RLock()
	defer a.layersMu.RUnlock()
	return a.layers
}

// SetLayers replaces the map layer toggles.
func (a *App) SetLayers(l teleop.Layers) {
	a.layersMu.Lock()
	defer a.layersMu.Unlock()
	a.layers = l
}

// Scene captures the current map for rendering.
func (a *App) Scene() teleop.MapScene {
	return teleop.CaptureScene(a.Cloud, a.Accumulator, a.Store, a.Viewport, a.Layers())
}

// SetMode switches the local drive widget.
func (a *App) SetMode(m teleop.ControlMode) {
	a.Arbiter.SetMode(m)
	a.Store.SetMode(m)
}

// WriteMap renders the current scene to w. format is "png" (raster), "vector"
// (canvas-rasterized PNG), "svg" or "geojson".
func (a *App) WriteMap(w io.Writer, format string) error {
	scene := a.Scene()
	switch format {
	case "", "png", "raster":
		return a.Raster.EncodePNG(w, scene)
	case "vector":
		return a.Vector.RenderPNG(w, scene)
	case "svg":
		return a.Vector.RenderSVG(w, scene)
	case "geojson":
		data, err := teleop.SceneToFeatureCollection(scene).MarshalJSON()
		if err != nil {
			return fmt.Errorf("encode map geojson: %w", err)
		}
		_, err = w.Write(data)
		return err
	}
	return fmt.Errorf("unknown map format %q", format)
}

// formatFromPath guesses the map format from a file extension.
func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		return "svg"
	case ".geojson", ".json":
		return "geojson"
	}
	return "png"
}

// Capture runs the console for d (or until ctx is done) and then writes the
// map to OutputFile and the telemetry store to TelemetryOut when set.
func (a *App) Capture(ctx context.Context, d time.Duration) error {
	a.Start(ctx)
	defer a.Shutdown()

	select {
	case <-ctx.Done():
	case <-time.After(d):
	}

	handled, dropped := a.Demux.Stats()
	log.Printf("Captured %d frames (%d dropped), %d map points, %d path samples",
		handled, dropped, a.Cloud.Len(), a.Accumulator.PathLen())

	if a.OutputFile != "" {
		format := a.RenderFormat
		if format == "" {
			format = formatFromPath(a.OutputFile)
		}
		f, err := os.Create(a.OutputFile)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		if err := a.WriteMap(f, format); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("closing output file: %w", err)
		}
		fmt.Printf("Map written to %s\n", a.OutputFile)
	}
	if a.TelemetryOut != "" {
		if err := teleop.SaveTelemetry(a.Store, a.TelemetryOut); err != nil {
			return err
		}
		fmt.Printf("Telemetry written to %s\n", a.TelemetryOut)
	}
	return nil
}

// RunCapture connects for CaptureFor and writes the captured map
func (a *App) RunCapture() {
	cfg, err := a.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	a.Build(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := a.Capture(ctx, a.CaptureFor); err != nil {
		log.Fatalf("Capture failed: %v", err)
	}
}

// RunCheckConfig validates the configuration and prints the effective settings
func (a *App) RunCheckConfig() {
	cfg, err := a.LoadConfig()
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	a.Config = cfg
	a.IPConfig = teleop.OpenConnectionConfig(cfg.ConnectionConfig)
	printConfig(os.Stdout, cfg, a.ResolveBridgeAddress())
}

func printConfig(w io.Writer, cfg *teleop.Config, bridge string) {
	mqtt := teleop.MQTTSettings(cfg.MQTT)
	fmt.Fprintf(w, "Bridge:      %s\n", teleop.NormalizeAddress(bridge))
	fmt.Fprintf(w, "  watchdog:  %v, reconnect: %v\n", cfg.Bridge.WatchdogTimeout(), cfg.Bridge.ReconnectDelay())
	fmt.Fprintf(w, "Control:     mode=%s poll=%v legacy=%v\n", cfg.Control.Mode, cfg.Control.PollInterval(), cfg.Control.Legacy)
	fmt.Fprintf(w, "Map:         %dx%d capacity=%d scale=%.2f [%.2f, %.2f]\n",
		cfg.Map.Width, cfg.Map.Height, cfg.Map.Capacity, cfg.Map.DefaultScale, cfg.Map.MinScale, cfg.Map.MaxScale)
	fmt.Fprintf(w, "IP config:   %s\n", cfg.ConnectionConfig)
	if mqtt.Broker == "" {
		fmt.Fprintln(w, "MQTT:        disabled")
	} else {
		fmt.Fprintf(w, "MQTT:        %s (prefix %s)\n", mqtt.Broker, mqtt.PublishPrefix)
	}
}

// RunService runs the console until interrupted
func (a *App) RunService() {
	cfg, err := a.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	a.Build(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)

	addr := fmt.Sprintf("0.0.0.0:%d", a.HttpPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           newHTTPServer(a),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[HTTP] Starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[HTTP] Server error: %v", err)
		}
	}()

	fmt.Println("\nService Running")
	fmt.Println("===============")
	fmt.Printf("Session: %s\n", a.SessionID)
	fmt.Printf("Bridge:  %s\n", teleop.NormalizeAddress(a.ResolveBridgeAddress()))
	if a.MQTTClient != nil {
		fmt.Printf("\nMQTT:\n  Publishing to: %s/pose, %s/telemetry\n  Clear topic:   %s\n",
			a.MQTTClient.Prefix(), a.MQTTClient.Prefix(), a.MQTTClient.ClearTopic())
	}
	fmt.Printf("\nHTTP endpoints (port %d):\n", a.HttpPort)
	fmt.Println("  GET /              - Console page")
	fmt.Println("  GET /health        - Health check")
	fmt.Println("  GET /api/state     - Connection, telemetry and log")
	fmt.Println("  GET /map.png       - Live map (raster)")
	fmt.Println("  GET /map.svg       - Live map (vector)")
	fmt.Println("  GET /map.geojson   - Live map (GeoJSON, meters)")
	fmt.Println("\nPress Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down service...")
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[HTTP] shutdown: %v", err)
	}
	a.Shutdown()
	fmt.Println("Service stopped")
}
