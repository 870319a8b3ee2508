package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gnssmon/internal/config"
	"gnssmon/internal/device"
	"gnssmon/internal/publish"
	"gnssmon/internal/replay"
	"gnssmon/internal/runner"
	"gnssmon/internal/sink"
	"gnssmon/internal/udp"
	"gnssmon/internal/web"
)

const (
	exitOK      = 0
	exitConfig  = 1
	exitFaulted = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

type options struct {
	configPath  string
	device      string
	baud        int
	out         string
	verbose     bool
	replay      string
	summary     string
	noConfigure bool
}

func parseFlags(args []string) (options, map[string]bool, error) {
	var o options
	fs := flag.NewFlagSet("gnssmon", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "Path to YAML config (optional)")
	fs.StringVar(&o.device, "device", "", "Serial device of the receiver, e.g. /dev/ttyACM0")
	fs.IntVar(&o.baud, "baud", 115200, "Serial baud rate")
	fs.StringVar(&o.out, "out", "", "Output directory for CSV logs (empty disables logging)")
	fs.BoolVar(&o.verbose, "verbose", false, "Print every report, not only state changes")
	fs.StringVar(&o.replay, "replay", "", "Replay a capture file instead of reading the device")
	fs.StringVar(&o.summary, "summary", "", "Print a summary of a capture file and exit")
	fs.BoolVar(&o.noConfigure, "no-configure", false, "Do not change the receiver configuration")
	if err := fs.Parse(args); err != nil {
		return o, nil, err
	}
	if fs.NArg() > 0 {
		return o, nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return o, set, nil
}

// buildConfig loads the optional config file and applies flags given on the
// command line on top of it.
func buildConfig(o options, set map[string]bool) (config.Config, error) {
	var cfg config.Config
	if o.configPath != "" {
		var err error
		cfg, err = config.Load(o.configPath)
		if err != nil {
			return config.Config{}, err
		}
	}
	if set["device"] {
		cfg.Device.Path = o.device
	}
	if set["baud"] {
		cfg.Device.Baud = o.baud
	}
	if set["out"] {
		cfg.Sink.Dir = o.out
	}
	if set["verbose"] {
		cfg.Monitor.Verbose = o.verbose
	}
	if set["replay"] {
		cfg.Replay.Path = o.replay
	}
	if o.noConfigure || cfg.Replay.Path != "" {
		off := false
		cfg.Receiver.Configure = &off
	}
	if err := config.DefaultAndValidate(&cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func run(args []string, stdout io.Writer) int {
	o, set, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		log.Printf("gnssmon: %v", err)
		return exitConfig
	}

	if o.summary != "" {
		if err := printCaptureSummary(stdout, o.summary); err != nil {
			log.Printf("gnssmon: summary failed: %v", err)
			return exitConfig
		}
		return exitOK
	}

	cfg, err := buildConfig(o, set)
	if err != nil {
		log.Printf("gnssmon: config: %v", err)
		return exitConfig
	}

	logs := web.NewLogBuffer(cfg.Web.LogLines)
	prevOut := log.Writer()
	log.SetOutput(io.MultiWriter(prevOut, logs))
	defer log.SetOutput(prevOut)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return serve(ctx, cancel, cfg, logs)
}

func serve(ctx context.Context, cancel context.CancelFunc, cfg config.Config, logs *web.LogBuffer) int {
	session := runner.NewSessionID()
	start := time.Now()

	var (
		open    device.Opener
		devName string
		devCfg  *device.Config
	)
	if cfg.Replay.Path != "" {
		records, err := replay.ReadFile(cfg.Replay.Path)
		if err != nil {
			log.Printf("gnssmon: replay: %v", err)
			return exitConfig
		}
		devName = cfg.Replay.Path
		open = func() (device.Source, error) {
			return replay.NewSource(ctx, cfg.Replay.Path, records, cfg.Replay.Speed, nil), nil
		}
	} else {
		if err := device.Validate(cfg.Device.Path); err != nil {
			log.Printf("gnssmon: %v", err)
			return exitConfig
		}
		devName = cfg.Device.Path
		devCfg = &device.Config{
			Path:        cfg.Device.Path,
			Baud:        cfg.Device.Baud,
			ReadTimeout: cfg.Device.ReadTimeout,
		}
	}

	rcfg := runner.Config{
		Open:            open,
		Session:         session,
		Configure:       cfg.Receiver.ShouldConfigure(),
		ReceiverTimeout: cfg.Receiver.Timeout,
		RFWindow:        cfg.Monitor.RFWindow,
		SinkGrace:       cfg.Sink.ShutdownGrace,
		BackoffInitial:  cfg.Runner.BackoffInitial,
		BackoffMax:      cfg.Runner.BackoffMax,
		MaxRetries:      cfg.Runner.MaxRetries,
	}
	rcfg.Monitor.Verbose = cfg.Monitor.Verbose
	rcfg.Monitor.RecentEvents = cfg.Monitor.RecentEvents

	if cfg.Sink.Dir != "" {
		sk, err := sink.Open(sink.Config{
			Dir:     cfg.Sink.Dir,
			Start:   start,
			Streams: cfg.Sink.Streams,
			Stream: sink.StreamConfig{
				QueueSize:     cfg.Sink.QueueSize,
				FlushEvery:    cfg.Sink.FlushEvery,
				FlushInterval: cfg.Sink.FlushInterval,
			},
		})
		if err != nil {
			log.Printf("gnssmon: output dir unusable: %v", err)
			return exitConfig
		}
		rcfg.Sink = sk
		log.Printf("gnssmon: logging to dir=%s", cfg.Sink.Dir)
	}

	if cfg.Capture.Enable {
		w, err := replay.CreateWriter(cfg.Capture.Path)
		if err != nil {
			log.Printf("gnssmon: capture: %v", err)
			abort(rcfg, cfg.Sink.ShutdownGrace)
			return exitConfig
		}
		rcfg.Capture = w
		log.Printf("gnssmon: capturing frames to %s", cfg.Capture.Path)
	}

	var pub *publish.Publisher
	if cfg.MQTT.Enable {
		var err error
		pub, err = publish.New(publish.Config{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			Topic:          cfg.MQTT.Topic,
			QoS:            byte(cfg.MQTT.QoS),
			Encoding:       cfg.MQTT.Encoding,
			StatusInterval: cfg.MQTT.StatusInterval,
			QueueSize:      cfg.MQTT.QueueSize,
		}, session)
		if err != nil {
			log.Printf("gnssmon: mqtt: %v", err)
			abort(rcfg, cfg.Sink.ShutdownGrace)
			return exitConfig
		}
		rcfg.Publisher = pub
	}

	var beacon *udp.Broadcaster
	if cfg.UDP.Dest != "" {
		var err error
		beacon, err = udp.NewBroadcaster(cfg.UDP.Dest)
		if err != nil {
			log.Printf("gnssmon: udp: %v", err)
			abort(rcfg, cfg.Sink.ShutdownGrace)
			return exitConfig
		}
		defer beacon.Close()
	}

	if devCfg != nil {
		// A device that cannot be opened at startup is a configuration
		// fault. Only later failures go through the reconnect loop.
		first, err := device.OpenSerial(*devCfg)
		if err != nil {
			log.Printf("gnssmon: cannot open device: %v", err)
			abort(rcfg, cfg.Sink.ShutdownGrace)
			return exitConfig
		}
		rcfg.Open = firstThen(first, device.SerialOpener(*devCfg))
	}

	r, err := runner.New(rcfg)
	if err != nil {
		log.Printf("gnssmon: %v", err)
		return exitConfig
	}
	statusOf := func() any { return r.Status() }

	log.Printf("gnssmon starting session=%s device=%s", session, devName)

	if pub != nil {
		pub.Start(ctx, statusOf)
		log.Printf("mqtt: broker=%s events=%s status=%s", cfg.MQTT.Broker, pub.EventTopic(), pub.StatusTopic())
	}
	if beacon != nil {
		go udp.Beacon(ctx, beacon, cfg.UDP.Interval, statusOf)
		log.Printf("udp: status beacon dest=%s interval=%s", beacon.Dest(), cfg.UDP.Interval)
	}
	if cfg.Web.Listen != "" {
		status := web.NewStatus()
		status.SetStatic(session, devName)
		status.SetProvider(statusOf)
		go func() {
			if err := web.Serve(ctx, cfg.Web.Listen, web.Handler(status, r.Monitor(), logs)); err != nil && ctx.Err() == nil {
				log.Printf("web: server stopped: %v", err)
			}
		}()
		log.Printf("web: listening on %s", cfg.Web.Listen)
	}

	runErr := r.Run(ctx)
	// A finished replay ends the session; stop the side services too.
	cancel()
	if pub != nil {
		pub.Stop()
	}

	if runErr != nil {
		log.Printf("gnssmon: %v", runErr)
		return exitFaulted
	}
	log.Printf("gnssmon stopped")
	return exitOK
}

// firstThen hands out an already open source once and then falls back to
// reopen.
func firstThen(first device.Source, reopen device.Opener) device.Opener {
	return func() (device.Source, error) {
		if first != nil {
			s := first
			first = nil
			return s, nil
		}
		return reopen()
	}
}

// abort closes outputs opened before a later setup step failed.
func abort(rcfg runner.Config, grace time.Duration) {
	if rcfg.Capture != nil {
		_ = rcfg.Capture.Close()
	}
	if rcfg.Sink != nil {
		if err := rcfg.Sink.Close(grace); err != nil {
			log.Printf("sink: close: %v", err)
		}
	}
}
