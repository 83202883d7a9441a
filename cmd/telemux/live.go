package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"telemux/internal/config"
	"telemux/internal/display"
	"telemux/internal/logsink"
	"telemux/internal/monitoring"
	"telemux/internal/mux"
	"telemux/internal/ntrip"
	"telemux/internal/queue"
	"telemux/internal/serialport"
	"telemux/internal/udp"
	"telemux/internal/web"
)

// openPort is replaced in tests.
var openPort serialport.Opener = serialport.Open

type liveFlags struct {
	configPath    string
	gpsDevice     string
	sensorDevice  string
	ntripMount    string
	ntripCaster   string
	ntripUser     string
	ntripPassword string
	logFile       string
	udpDest       string
	noDisplay     bool
	webListen     string
}

func (f *liveFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "path to YAML config")
	fs.StringVar(&f.gpsDevice, "gps-device", "", "GNSS receiver serial device (e.g. /dev/ttyUSB0)")
	fs.StringVar(&f.sensorDevice, "sensor-device", "", "sensor board serial device (e.g. /dev/ttyACM0)")
	fs.StringVar(&f.ntripMount, "ntrip-mount", "", "NTRIP mountpoint; empty disables the correction relay")
	fs.StringVar(&f.ntripCaster, "ntrip-caster", "", "NTRIP caster host:port (default "+config.DefaultCaster+")")
	fs.StringVar(&f.ntripUser, "ntrip-user", "", "NTRIP user")
	fs.StringVar(&f.ntripPassword, "ntrip-password", "", "NTRIP password")
	fs.StringVar(&f.logFile, "log-file", "", "CSV log path (default telemux-<UTC timestamp>.csv)")
	fs.StringVar(&f.udpDest, "udp-dest", "", "forward GPS sentences to this host:port")
	fs.BoolVar(&f.noDisplay, "no-display", false, "never render the live display")
	fs.StringVar(&f.webListen, "web-listen", "", "serve JSON status on this host:port")
}

// apply overlays flags that were set explicitly onto cfg.
func (f *liveFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, dst *string, v string) {
		if fs.Changed(name) {
			*dst = v
		}
	}
	set("gps-device", &cfg.GPS.Device, f.gpsDevice)
	set("sensor-device", &cfg.Sensor.Device, f.sensorDevice)
	set("ntrip-mount", &cfg.NTRIP.Mount, f.ntripMount)
	set("ntrip-caster", &cfg.NTRIP.Caster, f.ntripCaster)
	set("ntrip-user", &cfg.NTRIP.User, f.ntripUser)
	set("ntrip-password", &cfg.NTRIP.Password, f.ntripPassword)
	set("log-file", &cfg.Log.Path, f.logFile)
	set("udp-dest", &cfg.UDP.Dest, f.udpDest)
	set("web-listen", &cfg.Web.Listen, f.webListen)
	if f.noDisplay {
		cfg.Display.Mode = "off"
	}
}

func loadLiveConfig(args []string, stderr io.Writer) (config.Config, error) {
	var f liveFlags
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	f.register(fs)
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	if fs.NArg() > 0 {
		return config.Config{}, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	var cfg config.Config
	if f.configPath != "" {
		c, err := config.Load(f.configPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("config load failed: %w", err)
		}
		cfg = c
	}
	f.apply(fs, &cfg)
	if err := config.DefaultAndValidate(&cfg); err != nil {
		return config.Config{}, err
	}
	if cfg.Log.Path == "" {
		cfg.Log.Path = config.DefaultLogPath(time.Now())
	}
	return cfg, nil
}

func runLive(args []string, stdout, stderr io.Writer) error {
	cfg, err := loadLiveConfig(args, stderr)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return runWithConfig(ctx, cfg, stdout)
}

func displayEnabled(mode string, stdout io.Writer) bool {
	switch mode {
	case "on":
		return true
	case "off":
		return false
	}
	f, ok := stdout.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func openDevice(name string, c config.SerialConfig) serialport.Port {
	p, err := openPort(serialport.Config{
		Path:        c.Device,
		Baud:        c.Baud,
		ReadTimeout: c.ReadTimeout,
		Driver:      c.Driver,
	})
	if err != nil {
		monitoring.Logf("%s open failed device=%s err=%v", name, c.Device, err)
		return nil
	}
	monitoring.Logf("%s opened device=%s baud=%d", name, c.Device, c.Baud)
	return p
}

// runWithConfig runs the live pipeline until ctx is done. Failing to open
// the log or both devices is fatal; everything else degrades.
func runWithConfig(ctx context.Context, cfg config.Config, stdout io.Writer) error {
	sink, err := logsink.Open(cfg.Log.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			monitoring.Logf("log close failed: %v", err)
		}
	}()

	showDisplay := displayEnabled(cfg.Display.Mode, stdout)
	var recent *web.LogBuffer
	if showDisplay || cfg.Web.Listen != "" {
		var diagOut io.Writer = os.Stderr
		if showDisplay {
			// Keep diagnostics off the redrawn screen.
			diagPath := cfg.Log.Path + ".diag"
			diag, err := os.OpenFile(diagPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("open diagnostics %s: %w", diagPath, err)
			}
			defer diag.Close()
			diagOut = diag
		}
		if cfg.Web.Listen != "" {
			recent = web.NewLogBuffer(2000)
			diagOut = io.MultiWriter(diagOut, recent)
		}
		orig := monitoring.Logf
		monitoring.SetLogger(log.New(diagOut, "", log.LstdFlags|log.Lmicroseconds).Printf)
		defer monitoring.SetLogger(orig)
	}

	monitoring.Logf("telemux starting log=%s", cfg.Log.Path)

	gpsPort := openDevice("gps", cfg.GPS)
	sensorPort := openDevice("sensor", cfg.Sensor)
	if gpsPort == nil && sensorPort == nil {
		return fmt.Errorf("no serial device could be opened (gps=%s sensor=%s)", cfg.GPS.Device, cfg.Sensor.Device)
	}
	defer func() {
		for _, p := range []serialport.Port{gpsPort, sensorPort} {
			if p != nil {
				_ = p.Close()
			}
		}
	}()

	var (
		corrections *queue.Queue[[]byte]
		relay       *ntrip.Relay
	)
	if cfg.RelayEnabled() {
		relay, err = ntrip.New(ntrip.Config{
			Addr:           cfg.NTRIP.Caster,
			Mount:          cfg.NTRIP.Mount,
			User:           cfg.NTRIP.User,
			Password:       cfg.NTRIP.Password,
			UserAgent:      cfg.NTRIP.UserAgent,
			ReconnectDelay: cfg.NTRIP.ReconnectDelay,
		})
		if err != nil {
			return err
		}
		corrections = queue.New[[]byte]()
		if err := relay.Start(ctx, corrections); err != nil {
			return err
		}
		defer func() {
			relay.Close()
			corrections.Close()
		}()
	} else {
		monitoring.Logf("ntrip relay disabled: no mountpoint configured")
	}

	var (
		forward []mux.SentenceSink
		fwd     *udp.Forwarder
	)
	if cfg.UDP.Dest != "" {
		fwd, err = udp.NewForwarder(cfg.UDP.Dest)
		if err != nil {
			monitoring.Logf("udp forwarder disabled dest=%s err=%v", cfg.UDP.Dest, err)
			fwd = nil
		} else {
			defer fwd.Close()
			forward = append(forward, fwd)
		}
	}

	opts := display.Options{Refresh: cfg.Display.Refresh, Log: sink.Stats}
	if relay != nil {
		opts.Relay = relay.Snapshot
	}
	var screen io.Writer
	if showDisplay {
		screen = stdout
	}
	disp := display.New(screen, opts)

	orch, err := mux.New(mux.Config{
		GPS:         gpsPort,
		Sensor:      sensorPort,
		Corrections: corrections,
		Presenter:   disp,
		Logger:      sink.Logger(),
		Forward:     forward,
		RateHz:      cfg.Loop.RateHz,
	})
	if err != nil {
		return err
	}

	if cfg.Web.Listen != "" {
		src := web.Sources{GPS: disp.GPS, Log: sink.Stats}
		if relay != nil {
			src.Relay = relay.Snapshot
		}
		if fwd != nil {
			src.Forward = fwd.Stats
		}
		status := web.NewStatus(cfg.Log.Path, src)
		webCtx, stopWeb := context.WithCancel(ctx)
		webDone := make(chan struct{})
		go func() {
			defer close(webDone)
			if err := web.Serve(webCtx, cfg.Web.Listen, status, recent); err != nil {
				monitoring.Logf("web status server failed addr=%s err=%v", cfg.Web.Listen, err)
			}
		}()
		defer func() {
			stopWeb()
			<-webDone
		}()
	}

	err = orch.Run(ctx)
	st := orch.Stats()
	monitoring.Logf("telemux stopping iterations=%d sentences=%d samples=%d corrections=%d parse_errors=%d",
		st.Iterations, st.Sentences, st.Samples, st.Corrections, st.ParseErrors)
	if !showDisplay {
		fmt.Fprintln(stdout, disp.Render())
	}
	return err
}
