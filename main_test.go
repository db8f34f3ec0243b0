package main

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type mockApp struct {
	opts   AppOptions
	called map[string]bool
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }
func (m *mockApp) RunService()                  { m.called["RunService"] = true }
func (m *mockApp) RunCapture()                  { m.called["RunCapture"] = true }
func (m *mockApp) RunCheckConfig()              { m.called["RunCheckConfig"] = true }

func TestRun_Flags(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		verifyOpts     func(*testing.T, AppOptions)
	}{
		{
			name:           "Service",
			args:           []string{"--bridge", "10.0.0.7:8000", "--http-port", "9090", "--mode", "joy"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.BridgeAddress != "10.0.0.7:8000" {
					t.Errorf("expected BridgeAddress 10.0.0.7:8000, got %s", opts.BridgeAddress)
				}
				if opts.HttpPort != 9090 {
					t.Errorf("expected HttpPort 9090, got %d", opts.HttpPort)
				}
				if opts.Mode != "joy" {
					t.Errorf("expected Mode joy, got %s", opts.Mode)
				}
			},
		},
		{
			name:           "Capture",
			args:           []string{"--capture", "30s", "--output", "run.svg", "--telemetry-out", "run.json"},
			expectedCalled: "RunCapture",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.CaptureFor != 30*time.Second {
					t.Errorf("expected CaptureFor 30s, got %v", opts.CaptureFor)
				}
				if opts.OutputFile != "run.svg" {
					t.Errorf("expected OutputFile run.svg, got %s", opts.OutputFile)
				}
				if opts.TelemetryOut != "run.json" {
					t.Errorf("expected TelemetryOut run.json, got %s", opts.TelemetryOut)
				}
			},
		},
		{
			name:           "CaptureFormat",
			args:           []string{"--capture", "1m", "--format", "geojson", "--no-mqtt"},
			expectedCalled: "RunCapture",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.RenderFormat != "geojson" {
					t.Errorf("expected RenderFormat geojson, got %s", opts.RenderFormat)
				}
				if !opts.NoMQTT {
					t.Error("expected NoMQTT true")
				}
			},
		},
		{
			name:           "CheckConfig",
			args:           []string{"--check-config", "--config", "lab.yaml", "--ip-config", "/tmp/ip.json", "--legacy"},
			expectedCalled: "RunCheckConfig",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.ConfigFile != "lab.yaml" {
					t.Errorf("expected ConfigFile lab.yaml, got %s", opts.ConfigFile)
				}
				if opts.ConnectionConfig != "/tmp/ip.json" {
					t.Errorf("expected ConnectionConfig /tmp/ip.json, got %s", opts.ConnectionConfig)
				}
				if !opts.Legacy {
					t.Error("expected Legacy true")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			err := run(tt.args, &out, app)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}

			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called", tt.expectedCalled)
			}
			if len(app.called) != 1 {
				t.Errorf("expected exactly one entry point, got %v", app.called)
			}

			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app.opts)
			}
		})
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{"--help"}, &out, app)
	if err == nil {
		t.Error("expected error from --help, got nil")
	}
	if !strings.Contains(out.String(), "Usage of teleconsole") {
		t.Errorf("expected usage info in output, got: %s", out.String())
	}
	if len(app.called) != 0 {
		t.Errorf("help should not run anything, got %v", app.called)
	}
}

func TestRun_BadFlags(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"--capture", "-5s"}, &out, newMockApp()); err == nil {
		t.Error("expected error for negative capture duration")
	}
	if err := run([]string{"--no-such-flag"}, &out, newMockApp()); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestRun_Default(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{}, &out, app)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	expectedPrefix := "teleconsole version: " + Version
	if !strings.Contains(out.String(), expectedPrefix) {
		t.Errorf("expected output to contain version, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "teleconsole service starting...") {
		t.Errorf("expected output to contain service starting message, got: %s", out.String())
	}
	if app.opts.ConfigFile != defaultConfigFile || app.opts.HttpPort != 8080 || app.opts.OutputFile != "map.png" {
		t.Errorf("unexpected defaults: %+v", app.opts)
	}
}

func TestMain_Execute(t *testing.T) {
	if Version == "" {
		t.Error("expected Version to be set")
	}
}
