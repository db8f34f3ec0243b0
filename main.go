package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

// Version is set at build time via -ldflags
var Version = "dev"

const defaultConfigFile = "config.yaml"

// AppOptions holds the parsed command line.
type AppOptions struct {
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
	CheckConfig      bool
}

// Runner is the set of entry points run dispatches to.
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunService()
	RunCapture()
	RunCheckConfig()
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("teleconsole", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", defaultConfigFile, "Path to configuration file")
	fs.StringVar(&opts.BridgeAddress, "bridge", "", "Bridge address (host:port or ws:// URL); overrides config and ip-config")
	fs.StringVar(&opts.ConnectionConfig, "ip-config", "", "Path of the persisted bridge address file (default from config)")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.StringVar(&opts.Mode, "mode", "", "Initial control mode: pad or joy")
	fs.BoolVar(&opts.Legacy, "legacy", false, "Send F/B/L/R/S letters for keyboard moves")
	fs.DurationVar(&opts.CaptureFor, "capture", 0, "Connect for this long, write the map and exit (e.g. 30s)")
	fs.StringVar(&opts.OutputFile, "output", "map.png", "Output file for --capture mode")
	fs.StringVar(&opts.RenderFormat, "format", "", "Map format for --capture: png, vector, svg or geojson (default from --output extension)")
	fs.StringVar(&opts.TelemetryOut, "telemetry-out", "", "Also write the telemetry store as JSON in --capture mode")
	fs.BoolVar(&opts.NoMQTT, "no-mqtt", false, "Disable the MQTT mirror even when a broker is configured")
	fs.BoolVar(&opts.CheckConfig, "check-config", false, "Validate the configuration, print it and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if opts.CaptureFor < 0 {
		return fmt.Errorf("--capture must not be negative")
	}

	fmt.Fprintf(out, "teleconsole version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.CheckConfig:
		app.RunCheckConfig()
	case opts.CaptureFor > 0:
		app.RunCapture()
	default:
		fmt.Fprintln(out, "teleconsole service starting...")
		app.RunService()
	}
	return nil
}
