package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/carputer/internal/camera"
	"github.com/banshee-data/carputer/internal/config"
	"github.com/banshee-data/carputer/internal/control"
	"github.com/banshee-data/carputer/internal/db"
	"github.com/banshee-data/carputer/internal/drive"
	"github.com/banshee-data/carputer/internal/fsutil"
	"github.com/banshee-data/carputer/internal/inference"
	"github.com/banshee-data/carputer/internal/monitoring"
	"github.com/banshee-data/carputer/internal/session"
	"github.com/banshee-data/carputer/internal/timeutil"
	"github.com/banshee-data/carputer/internal/transport"
	"github.com/banshee-data/carputer/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the car config JSON file")
	devMode     = flag.Bool("dev", false, "Run without hardware: stub serial ports, test pattern camera, constant model")
	debugListen = flag.String("debug-listen", "", "Serve the /debug/ status pages on this address, e.g. localhost:8090")
	noRecord    = flag.Bool("no-record", false, "Drive without recording frames")
	showVersion = flag.Bool("version", false, "Print version information and exit")
	verbose     = flag.Bool("verbose", false, "Log every telemetry event and command")
)

// pingTimeout bounds the startup health check of the inference backend.
const pingTimeout = 5 * time.Second

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetVerbose(*verbose)

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}
	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "record", "tf":
		cfg, err := loadConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		mode, err := modeFor(command, *noRecord)
		if err != nil {
			log.Fatal(err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := run(ctx, cfg, mode, *devMode, *debugListen); err != nil {
			log.Fatalf("carputer: %v", err)
		}
	case "migrate":
		cfg, err := loadConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		if err := db.RunMigrateCommand(args, cfg.GetDatabasePath(), os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	case "version":
		fmt.Println(version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	writeUsage(os.Stderr)
}

func writeUsage(w io.Writer) {
	fmt.Fprintln(w, `carputer - RC car drive loop

Usage: carputer [flags] <command>

Commands:
  record     Drive by radio and record labelled frames
  tf         Drive with the model, recording what it sees
  migrate    Manage the session index schema (run "carputer migrate help")
  version    Show version information
  help       Show this help message

The drive starts and stops with the car's start switch.

Flags:`)
	flag.CommandLine.SetOutput(w)
	flag.PrintDefaults()
}

// modeFor maps a drive command to the fixed loop mode.
func modeFor(command string, noRecord bool) (control.Mode, error) {
	switch command {
	case "record":
		return control.Mode{Recording: !noRecord}, nil
	case "tf":
		return control.Mode{Autonomous: true, Recording: !noRecord}, nil
	}
	return control.Mode{}, fmt.Errorf("unknown drive command %q", command)
}

// loadConfig reads path. A missing file at the default location falls back
// to built-in defaults so the binary runs from any directory.
func loadConfig(path string) (*config.CarConfig, error) {
	if path == config.DefaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			log.Printf("%s not found, using built-in defaults", path)
			return config.DefaultCarConfig(), nil
		}
	}
	return config.LoadCarConfig(path)
}

func loopOptions(cfg *config.CarConfig, mode control.Mode) drive.Options {
	return drive.Options{
		Mode:          mode,
		FrameBudget:   cfg.GetFrameBudget(),
		PaceStep:      cfg.GetPaceStep(),
		StopStepDelay: cfg.GetStopStepDelay(),
		OdoDelta:      cfg.GetOdoDelta(),
		Thresholds: control.Thresholds{
			OverrideSteeringLow:  cfg.GetOverrideSteeringLow(),
			OverrideSteeringHigh: cfg.GetOverrideSteeringHigh(),
			OverrideThrottle:     cfg.GetOverrideThrottle(),
			GestureDelta:         cfg.GetGestureDelta(),
		},
		ManualRoot:     cfg.GetManualRoot(),
		AutonomousRoot: cfg.GetAutonomousRoot(),
		ScratchPath:    cfg.GetScratchFramePath(),
		DebugFrames:    cfg.GetDebugFrames(),
		DecodeIMU:      cfg.GetIMUDecode(),
		TicksPerMeter:  cfg.GetTicksPerMeter(),
		SpeedUnits:     cfg.GetSpeedUnits(),
	}
}

// cameraOpener maps a camera index to a source: the MJPEG stream at that
// index of camera_urls, or a test pattern in dev mode.
func cameraOpener(ctx context.Context, cfg *config.CarConfig, dev bool) camera.Opener {
	if dev {
		return func(int) (camera.Source, error) {
			return camera.NewPatternSource(cfg.GetFrameWidth(), cfg.GetFrameHeight()), nil
		}
	}
	client := &http.Client{}
	return func(index int) (camera.Source, error) {
		url := cfg.GetCameraURL(index)
		if url == "" {
			return nil, fmt.Errorf("no camera_urls entry for camera %d", index)
		}
		src, err := camera.OpenMJPEG(ctx, client, url)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

// run wires the car and drives until ctx is cancelled. Any startup failure
// is returned before the loop starts.
func run(ctx context.Context, cfg *config.CarConfig, mode control.Mode, dev bool, debugAddr string) error {
	open := transport.OpenSerial
	if dev {
		open = transport.OpenDisabled
	}

	in, err := open("input", cfg.GetInputPort())
	if err != nil {
		return fmt.Errorf("open input controller: %w", err)
	}
	defer in.Close()

	out, err := open("output", cfg.GetOutputPort())
	if err != nil {
		return fmt.Errorf("open output controller: %w", err)
	}
	defer out.Close()

	var imu transport.Transport
	if opts, ok := cfg.GetIMUPort(); ok {
		if imu, err = open("imu", opts); err != nil {
			return fmt.Errorf("open imu: %w", err)
		}
		defer imu.Close()
	}

	var cam camera.Source
	if mode.Recording || mode.Autonomous {
		cam, err = camera.OpenWithFallback(cameraOpener(ctx, cfg, dev), cfg.GetCameraIndex(), cfg.GetCameraAlternateIndex())
		if err != nil {
			return err
		}
		defer cam.Close()
		log.Printf("camera: %s", cam.Name())
	}

	var model inference.Model
	if mode.Autonomous {
		if dev {
			model = &inference.ConstantModel{Steering: inference.Neutral, Throttle: inference.Neutral}
		} else {
			model = inference.NewHTTPModel(cfg.GetInferenceURL(), cfg.GetInferenceTimeout())
		}
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := model.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("inference backend: %w", err)
		}
	}

	database, err := db.NewDB(cfg.GetDatabasePath())
	if err != nil {
		return fmt.Errorf("open session index: %w", err)
	}
	defer database.Close()

	clock := timeutil.RealClock{}
	fsys := fsutil.OSFileSystem{}
	loop, err := drive.New(loopOptions(cfg, mode), drive.Deps{
		Input:    in,
		Output:   out,
		IMU:      imu,
		Camera:   cam,
		Model:    model,
		Recorder: session.NewRecorder(fsys, database, clock),
		FS:       fsys,
		Clock:    clock,
	})
	if err != nil {
		return err
	}

	if debugAddr != "" {
		mux := http.NewServeMux()
		loop.AttachAdminRoutes(mux)
		if err := database.AttachAdminRoutes(mux); err != nil {
			return err
		}
		server := &http.Server{Addr: debugAddr, Handler: mux}
		go func() {
			log.Printf("debug pages on http://%s/debug/", debugAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("debug server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("debug server shutdown: %v", err)
			}
		}()
	}

	return loop.Run(ctx)
}
