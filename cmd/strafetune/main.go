package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sstallion/go-hid"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

const demoInterval = 3 * time.Second

func printVersion() {
	fmt.Printf("strafetune v%s\n", version)
	fmt.Println("Adaptive actuation daemon for analog keyboards")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  strafetune [run] [OPTIONS]")
	fmt.Println("  strafetune <enum|demo|gsi-config|read-profile|save> [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Watches W/A/S/D, classifies strafes and counter-strafes, estimates")
	fmt.Println("  movement speed and rewrites per-key actuation point and rapid-trigger")
	fmt.Println("  sensitivity in keyboard RAM. CS2 game-state integration selects")
	fmt.Println("  per-weapon profiles when connected.")
	fmt.Println()
	fmt.Println("OPTIONS (run):")
	fmt.Println("  -config string")
	fmt.Printf("        YAML config file; created with defaults if missing (default %q)\n", defaultConfigPath())
	fmt.Println()
	fmt.Println("  -adaptive")
	fmt.Println("        Write targets to the keyboard (otherwise read-only)")
	fmt.Println()
	fmt.Println("  -profile int")
	fmt.Println("        On-board profile that receives writes, 0..3 (default 0)")
	fmt.Println()
	fmt.Println("  -poll-rate int")
	fmt.Printf("        Control loop rate in Hz; 0 = unlimited (default %d)\n", defaultPollRateHz)
	fmt.Println()
	fmt.Println("  -telemetry-port int")
	fmt.Printf("        Game-state listener port on 127.0.0.1 (default %d)\n", defaultTelemetryPort)
	fmt.Println()
	fmt.Println("  -status-listen string")
	fmt.Printf("        Websocket status feed address; empty disables (default %q)\n", defaultStatusListen)
	fmt.Println()
	fmt.Println("  -mqtt-broker string")
	fmt.Println("        Publish counter-strafe stats to this broker (e.g. tcp://localhost:1883)")
	fmt.Println()
	fmt.Println("  -input-device string")
	fmt.Println("        evdev keyboard node (default: auto-detect)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("SUBCOMMANDS:")
	fmt.Println("  run            Run the daemon (default)")
	fmt.Println("  enum           List HID interfaces of the keyboard vendor")
	fmt.Println("  demo           Toggle the D key between 0.1 and 3.8 mm every 3s")
	fmt.Println("  gsi-config     Install the CS2 game-state integration file")
	fmt.Println("  read-profile   Dump the actuation and rapid-trigger profile bodies")
	fmt.Println("  save           Save the active profile to flash")
	fmt.Println()
	fmt.Println("ENVIRONMENT:")
	fmt.Println("  STRAFETUNE_* variables override the config file; flags override both.")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Reading keys requires access to /dev/input (root or the 'input' group)")
	fmt.Println("  - Writes go to RAM; the normal pair is restored on exit")
	fmt.Println()
}

func main() {
	args := os.Args[1:]

	cmd := "run"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	// Check for version/help early
	for _, arg := range args {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var err error
	switch cmd {
	case "run":
		err = runCommand(args)
	case "enum":
		err = enumCommand(args)
	case "demo":
		err = demoCommand(args)
	case "gsi-config":
		err = gsiConfigCommand(args)
	case "read-profile":
		err = readProfileCommand(args)
	case "save":
		err = saveCommand(args)
	default:
		fmt.Fprintf(os.Stderr, "error: unknown subcommand %q\n\n", cmd)
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	configPath string
	logLevel   string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", defaultConfigPath(), "YAML config file")
	fs.StringVar(&c.logLevel, "log-level", "info", "Log level: error, warn, info, debug")
}

// loadConfig applies defaults < file < env < flags and validates the result.
func loadConfig(path string, flags FlagOverrides, logger *slog.Logger) (Config, error) {
	cfg, err := LoadConfigFile(path, logger)
	if err != nil {
		return Config{}, err
	}

	envOverrides, err := ParseEnvOverrides()
	if err != nil {
		return Config{}, err
	}
	envOverrides.Apply(&cfg)
	flags.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// visited returns the names of flags set on the command line.
func visited(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.Usage = printUsage

	var common commonFlags
	common.register(fs)
	var (
		adaptive      = fs.Bool("adaptive", false, "Write targets to the keyboard")
		profile       = fs.Int("profile", 0, "On-board profile that receives writes (0..3)")
		pollRate      = fs.Int("poll-rate", defaultPollRateHz, "Control loop rate in Hz (0 = unlimited)")
		telemetryPort = fs.Int("telemetry-port", defaultTelemetryPort, "Game-state listener port")
		statusListen  = fs.String("status-listen", defaultStatusListen, "Websocket status feed address")
		mqttBroker    = fs.String("mqtt-broker", "", "MQTT broker for counter-strafe stats")
		inputDevice   = fs.String("input-device", "", "evdev keyboard node")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	set := visited(fs)
	var overrides FlagOverrides
	if set["adaptive"] {
		overrides.Adaptive = adaptive
	}
	if set["profile"] {
		overrides.Profile = profile
	}
	if set["poll-rate"] {
		overrides.PollRateHz = pollRate
	}
	if set["telemetry-port"] {
		overrides.TelemetryPort = telemetryPort
	}
	if set["status-listen"] {
		overrides.StatusListen = statusListen
	}
	if set["mqtt-broker"] {
		overrides.MQTTBroker = mqttBroker
	}
	if set["input-device"] {
		overrides.InputDevice = inputDevice
	}
	if set["log-level"] {
		overrides.LogLevel = &common.logLevel
	}

	bootLevel, err := parseLogLevel(common.logLevel)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(common.configPath, overrides, setupLogger(bootLevel))
	if err != nil {
		return err
	}
	level, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runEngine(ctx, &cfg, logger)
}

// runEngine wires every component and blocks until ctx is canceled.
func runEngine(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	logger.Info("starting strafetune", "version", version)
	logger.Debug("configuration",
		"ap_normal", cfg.Tuning.APNormal,
		"ap_aggro", cfg.Tuning.APAggro,
		"rt_normal", cfg.Tuning.RTNormal,
		"rt_aggro", cfg.Tuning.RTAggro,
		"write_interval_ms", cfg.Tuning.WriteIntervalMS,
		"ws_adaptive", cfg.Tuning.WSAdaptive,
		"poll_rate_hz", cfg.Loop.PollRateHz,
		"profile", cfg.Device.Profile,
		"telemetry_port", cfg.Telemetry.Port)

	// Device: any failure leaves the engine running read-only.
	var writer targetWriter
	if cfg.Device.Adaptive {
		dev, err := openAdaptiveDevice(cfg.Device.Profile, logger)
		if err != nil {
			logger.Warn("device unavailable; running read-only", "error", err)
		} else {
			writer = dev
			defer func() {
				_ = restoreNormal(dev, cfg, logger)
				if err := dev.Close(); err != nil {
					logger.Warn("device close failed", "error", err)
				}
			}()
		}
	} else {
		logger.Info("adaptive writes disabled; running read-only")
	}

	store := NewTelemetryStore()
	keys := NewKeyState()
	events := make(chan Event, 64)
	var sinks []chan<- StateBroadcast

	g, gctx := errgroup.WithContext(ctx)

	// Key input
	files, err := openInputDevices(cfg.Input.Devices)
	if err != nil {
		logger.Warn("no key input; engine stays idle", "error", err)
	} else {
		for _, f := range files {
			logger.Info("reading keys", "device", f.Name())
		}
		g.Go(func() error {
			defer func() {
				for _, f := range files {
					_ = f.Close()
				}
			}()
			if err := readKeysEpoll(gctx, files, keys); err != nil {
				logger.Warn("key input stopped; keys released", "error", err)
				keys.ReleaseAll()
			}
			return nil
		})
	}

	// Telemetry
	if cfg.Telemetry.Enabled {
		ln, err := listenTelemetry(cfg.Telemetry.Port)
		if err != nil {
			logger.Warn("telemetry disabled", "error", err)
		} else {
			srv := NewTelemetryServer(store, logger)
			g.Go(func() error {
				if err := srv.Run(gctx, ln); err != nil {
					logger.Warn("telemetry listener stopped", "error", err)
				}
				return nil
			})
		}
	}

	// Status feed
	if cfg.Status.Listen != "" {
		ws := NewServer(logger, events, ServerConfig{})
		statusCh := make(chan StateBroadcast, 256)
		sinks = append(sinks, statusCh)

		g.Go(func() error { ws.Hub().Run(gctx); return nil })
		g.Go(func() error { RunBroadcaster(gctx, ws.Hub(), statusCh, logger); return nil })
		g.Go(func() error {
			if err := runStatusServer(gctx, cfg.Status.Listen, ws, logger); err != nil {
				logger.Warn("status feed stopped", "error", err)
			}
			return nil
		})
	}

	// Stats
	var recorder *StatsRecorder
	if cfg.Stats.Enabled {
		session := newSessionID()
		var pub Publisher
		if cfg.Stats.MQTTBroker != "" {
			p, err := newMQTTPublisher(cfg.Stats.MQTTBroker, session, logger)
			if err != nil {
				logger.Warn("stats publishing disabled", "error", err)
			} else {
				pub = p
				defer p.Close()
			}
		}
		recorder = NewStatsRecorder(session, pub, cfg.Stats.MQTTTopic, logger)
		statsCh := make(chan StateBroadcast, 256)
		sinks = append(sinks, statsCh)
		g.Go(func() error { recorder.Run(gctx, statsCh); return nil })
	}

	state := NewDaemonState(cfg, time.Now(), writer != nil)
	logger.Info("engine running",
		"mode", state.Snapshot(time.Now()).Mode,
		"poll_rate_hz", cfg.Loop.PollRateHz,
		"telemetry", cfg.Telemetry.Enabled,
		"status_feed", cfg.Status.Listen)

	final := runDaemon(gctx, events, keys, store, writer, cfg, state, sinks, logger)

	err = g.Wait()
	if final != nil {
		logger.Info("engine stopped",
			"frames", final.Frames,
			"writes", final.WriteCount,
			"write_errors", final.WriteErrors,
			"counter_strafes_h", final.H.CounterCount,
			"counter_strafes_v", final.V.CounterCount)
	}
	if recorder != nil {
		recorder.LogSummary()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openAdaptiveDevice opens the keyboard, unlocks writes and selects profile.
func openAdaptiveDevice(profile int, logger *slog.Logger) (*Device, error) {
	dev, err := OpenDevice(logger)
	if err != nil {
		return nil, err
	}
	if err := dev.Handshake(); err != nil {
		_ = dev.Close()
		return nil, err
	}
	if err := dev.ActivateProfile(profile); err != nil {
		_ = dev.Close()
		return nil, err
	}
	return dev, nil
}

// subcommandSetup parses common flags for the one-shot subcommands.
func subcommandSetup(name string, args []string, extra func(fs *flag.FlagSet)) (Config, *slog.Logger, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = printUsage
	var common commonFlags
	common.register(fs)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, nil, err
	}

	level, err := parseLogLevel(common.logLevel)
	if err != nil {
		return Config{}, nil, err
	}
	logger := setupLogger(level)

	var overrides FlagOverrides
	if visited(fs)["log-level"] {
		overrides.LogLevel = &common.logLevel
	}
	cfg, err := loadConfig(common.configPath, overrides, logger)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, logger, nil
}

func enumCommand(args []string) error {
	_, _, err := subcommandSetup("enum", args, nil)
	if err != nil {
		return err
	}

	if err := hid.Init(); err != nil {
		return fmt.Errorf("hid init: %w", err)
	}
	defer hid.Exit()

	infos, err := EnumerateDevices()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Printf("no HID interfaces with vendor ID 0x%04X\n", vendorID)
		return nil
	}
	for _, info := range infos {
		mark := " "
		if info.Writable() {
			mark = "*"
		}
		fmt.Printf("%s %04X:%04X if=%d usage_page=0x%04X usage=0x%04X %s %s\n  %s\n",
			mark, info.VendorID, info.ProductID, info.Interface, info.UsagePage, info.Usage,
			info.Manufacturer, info.Product, info.Path)
	}
	fmt.Println("(* = configuration interface)")
	return nil
}

func demoCommand(args []string) error {
	var profile int
	cfg, logger, err := subcommandSetup("demo", args, func(fs *flag.FlagSet) {
		fs.IntVar(&profile, "profile", 0, "On-board profile that receives writes (0..3)")
	})
	if err != nil {
		return err
	}
	cfg.Device.Profile = profile

	dev, err := openAdaptiveDevice(profile, logger)
	if err != nil {
		return err
	}
	defer dev.Close()
	defer func() { _ = restoreNormal(dev, &cfg, logger) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(demoInterval)
	defer ticker.Stop()

	aggro := true
	for {
		ap, rt := 3.8, 1.0
		label := "normal"
		if aggro {
			ap, rt, label = 0.1, 0.1, "aggressive"
		}
		d := []KeySetting{{Pos: keyPositions[keyD], MM: ap}}
		if err := dev.WriteActuation(profile, d, false); err != nil {
			return err
		}
		d[0].MM = rt
		if err := dev.WriteRapidTrigger(profile, d, false); err != nil {
			return err
		}
		logger.Info("demo", "key", "D", "mode", label, "ap_mm", ap, "rt_mm", rt)
		aggro = !aggro

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func gsiConfigCommand(args []string) error {
	cfg, logger, err := subcommandSetup("gsi-config", args, nil)
	if err != nil {
		return err
	}

	home, _ := os.UserHomeDir()
	path, created, err := writeGSIConfig(gsiSteamRoots(os.Getenv("STEAM_PATH"), home), cfg.Telemetry.Port)
	if errors.Is(err, ErrGSIDirNotFound) {
		logger.Warn("CS2 cfg directory not found; create the file manually",
			"file", gsiConfigName,
			"dir", "<Steam>/"+gsiCfgSuffix)
		fmt.Print(gsiConfigContent(cfg.Telemetry.Port))
		return nil
	}
	if err != nil {
		return err
	}
	if created {
		logger.Info("GSI config created", "path", path)
	} else {
		logger.Info("GSI config exists", "path", path)
	}
	return nil
}

func readProfileCommand(args []string) error {
	var profile int
	_, logger, err := subcommandSetup("read-profile", args, func(fs *flag.FlagSet) {
		fs.IntVar(&profile, "profile", 0, "Profile to read (0..3)")
	})
	if err != nil {
		return err
	}

	dev, err := OpenDevice(logger)
	if err != nil {
		return err
	}
	defer dev.Close()
	if err := dev.Handshake(); err != nil {
		return err
	}

	ap, err := dev.ReadActuationProfile(profile)
	if err != nil {
		return fmt.Errorf("read actuation profile: %w", err)
	}
	fmt.Printf("actuation profile %d (%d bytes):\n%s", profile, len(ap), hex.Dump(ap))

	rt, err := dev.ReadRTProfile(profile)
	if err != nil {
		return fmt.Errorf("read rapid-trigger profile: %w", err)
	}
	fmt.Printf("rapid-trigger profile %d (%d bytes):\n%s", profile, len(rt), hex.Dump(rt))
	return nil
}

func saveCommand(args []string) error {
	_, logger, err := subcommandSetup("save", args, nil)
	if err != nil {
		return err
	}

	dev, err := OpenDevice(logger)
	if err != nil {
		return err
	}
	defer dev.Close()
	if err := dev.Handshake(); err != nil {
		return err
	}
	return dev.SaveToFlash()
}
