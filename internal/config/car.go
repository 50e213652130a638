package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/carputer/internal/transport"
	"github.com/banshee-data/carputer/internal/units"
)

// DefaultConfigPath is the path to the canonical car defaults file.
const DefaultConfigPath = "config/carputer.defaults.json"

// CarConfig holds the tunables for the drive loop. Every field is optional;
// the Get* methods supply defaults for anything the file leaves out.
type CarConfig struct {
	// Serial transports
	InputPort  *transport.PortOptions `json:"input_port,omitempty"`
	OutputPort *transport.PortOptions `json:"output_port,omitempty"`
	IMUPort    *transport.PortOptions `json:"imu_port,omitempty"` // optional third device
	IMUDecode  *bool                  `json:"imu_decode,omitempty"`

	// Loop timing, as duration strings like "33ms"
	FrameBudget   *string `json:"frame_budget,omitempty"`
	PaceStep      *string `json:"pace_step,omitempty"`
	StopStepDelay *string `json:"stop_step_delay,omitempty"`

	// Velocity
	OdoDelta      *int     `json:"odo_delta,omitempty"`
	TicksPerMeter *float64 `json:"ticks_per_meter,omitempty"`
	SpeedUnits    *string  `json:"speed_units,omitempty"`

	// Arbitration thresholds
	OverrideSteeringLow  *int `json:"override_steering_low,omitempty"`
	OverrideSteeringHigh *int `json:"override_steering_high,omitempty"`
	OverrideThrottle     *int `json:"override_throttle,omitempty"`
	GestureDelta         *int `json:"gesture_delta,omitempty"`

	// Camera
	CameraURLs           []string `json:"camera_urls,omitempty"` // indexed by camera_index
	CameraIndex          *int     `json:"camera_index,omitempty"`
	CameraAlternateIndex *int     `json:"camera_alternate_index,omitempty"`
	FrameWidth           *int     `json:"frame_width,omitempty"`
	FrameHeight          *int     `json:"frame_height,omitempty"`

	// Inference
	InferenceURL     *string `json:"inference_url,omitempty"`
	InferenceTimeout *string `json:"inference_timeout,omitempty"`

	// Recording
	ManualRoot       *string `json:"manual_root,omitempty"`
	AutonomousRoot   *string `json:"autonomous_root,omitempty"`
	ScratchFramePath *string `json:"scratch_frame_path,omitempty"`
	DebugFrames      *bool   `json:"debug_frames,omitempty"`
	DatabasePath     *string `json:"database_path,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultCarConfig returns a CarConfig with every scalar field set to its
// default. Ports and camera URLs stay unset.
func DefaultCarConfig() *CarConfig {
	c := EmptyCarConfig()
	return &CarConfig{
		IMUDecode:            ptrBool(c.GetIMUDecode()),
		FrameBudget:          ptrString(c.GetFrameBudget().String()),
		PaceStep:             ptrString(c.GetPaceStep().String()),
		StopStepDelay:        ptrString(c.GetStopStepDelay().String()),
		OdoDelta:             ptrInt(c.GetOdoDelta()),
		TicksPerMeter:        ptrFloat64(c.GetTicksPerMeter()),
		SpeedUnits:           ptrString(c.GetSpeedUnits()),
		OverrideSteeringLow:  ptrInt(c.GetOverrideSteeringLow()),
		OverrideSteeringHigh: ptrInt(c.GetOverrideSteeringHigh()),
		OverrideThrottle:     ptrInt(c.GetOverrideThrottle()),
		GestureDelta:         ptrInt(c.GetGestureDelta()),
		CameraIndex:          ptrInt(c.GetCameraIndex()),
		CameraAlternateIndex: ptrInt(c.GetCameraAlternateIndex()),
		FrameWidth:           ptrInt(c.GetFrameWidth()),
		FrameHeight:          ptrInt(c.GetFrameHeight()),
		InferenceURL:         ptrString(c.GetInferenceURL()),
		InferenceTimeout:     ptrString(c.GetInferenceTimeout().String()),
		ManualRoot:           ptrString(c.GetManualRoot()),
		AutonomousRoot:       ptrString(c.GetAutonomousRoot()),
		ScratchFramePath:     ptrString(c.GetScratchFramePath()),
		DebugFrames:          ptrBool(c.GetDebugFrames()),
		DatabasePath:         ptrString(c.GetDatabasePath()),
	}
}

// EmptyCarConfig returns a CarConfig with all fields unset.
func EmptyCarConfig() *CarConfig {
	return &CarConfig{}
}

// LoadCarConfig loads a CarConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file fall back to defaults, so partial configs are safe.
func LoadCarConfig(path string) (*CarConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCarConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upwards from the
// current directory. Panics if the file cannot be loaded, intended for test
// setup.
func MustLoadDefaultConfig() *CarConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadCarConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *CarConfig) Validate() error {
	for name, p := range map[string]*transport.PortOptions{
		"input_port": c.InputPort, "output_port": c.OutputPort, "imu_port": c.IMUPort,
	} {
		if p == nil {
			continue
		}
		if _, err := p.Normalise(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	for name, d := range map[string]*string{
		"frame_budget":      c.FrameBudget,
		"pace_step":         c.PaceStep,
		"stop_step_delay":   c.StopStepDelay,
		"inference_timeout": c.InferenceTimeout,
	} {
		if d == nil || *d == "" {
			continue
		}
		v, err := time.ParseDuration(*d)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *d, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *d)
		}
	}
	if c.FrameBudget != nil && c.PaceStep != nil && c.GetPaceStep() > c.GetFrameBudget() {
		return fmt.Errorf("pace_step %s exceeds frame_budget %s", c.GetPaceStep(), c.GetFrameBudget())
	}

	if c.OdoDelta != nil && *c.OdoDelta < 1 {
		return fmt.Errorf("odo_delta must be at least 1, got %d", *c.OdoDelta)
	}
	if c.TicksPerMeter != nil && *c.TicksPerMeter <= 0 {
		return fmt.Errorf("ticks_per_meter must be positive, got %f", *c.TicksPerMeter)
	}
	if c.SpeedUnits != nil && !units.IsValid(*c.SpeedUnits) {
		return fmt.Errorf("speed_units must be one of %s, got %q", units.GetValidUnitsString(), *c.SpeedUnits)
	}
	if c.GestureDelta != nil && *c.GestureDelta <= 0 {
		return fmt.Errorf("gesture_delta must be positive, got %d", *c.GestureDelta)
	}
	if c.GetOverrideSteeringLow() >= c.GetOverrideSteeringHigh() {
		return fmt.Errorf("override_steering_low (%d) must be below override_steering_high (%d)",
			c.GetOverrideSteeringLow(), c.GetOverrideSteeringHigh())
	}
	if c.CameraIndex != nil && *c.CameraIndex < 0 {
		return fmt.Errorf("camera_index must be non-negative, got %d", *c.CameraIndex)
	}
	if c.FrameWidth != nil && *c.FrameWidth <= 0 || c.FrameHeight != nil && *c.FrameHeight <= 0 {
		return fmt.Errorf("frame_width and frame_height must be positive")
	}
	return nil
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func portOr(p *transport.PortOptions, baud int) transport.PortOptions {
	var opts transport.PortOptions
	if p != nil {
		opts = *p
	}
	if opts.BaudRate == 0 {
		opts.BaudRate = baud
	}
	return opts
}

// GetInputPort returns the radio receiver port options (default 38400 baud).
func (c *CarConfig) GetInputPort() transport.PortOptions {
	return portOr(c.InputPort, 38400)
}

// GetOutputPort returns the servo controller port options (default 115200 baud).
func (c *CarConfig) GetOutputPort() transport.PortOptions {
	return portOr(c.OutputPort, 115200)
}

// GetIMUPort returns the IMU port options and whether an IMU port is
// configured at all.
func (c *CarConfig) GetIMUPort() (transport.PortOptions, bool) {
	if c.IMUPort == nil || c.IMUPort.Path == "" {
		return transport.PortOptions{}, false
	}
	return portOr(c.IMUPort, 115200), true
}

// GetIMUDecode returns whether IMU lines are decoded.
func (c *CarConfig) GetIMUDecode() bool {
	if c.IMUDecode == nil {
		return false
	}
	return *c.IMUDecode
}

// GetFrameBudget returns the target cycle time (default 1/30 s).
func (c *CarConfig) GetFrameBudget() time.Duration {
	return durationOr(c.FrameBudget, time.Second/30)
}

// GetPaceStep returns the sleep granularity of the pacing loop (default 1ms).
func (c *CarConfig) GetPaceStep() time.Duration {
	return durationOr(c.PaceStep, time.Millisecond)
}

// GetStopStepDelay returns the delay after each step of the stop sequence.
func (c *CarConfig) GetStopStepDelay() time.Duration {
	return durationOr(c.StopStepDelay, 16*time.Millisecond)
}

// GetOdoDelta returns the velocity window depth.
func (c *CarConfig) GetOdoDelta() int {
	if c.OdoDelta == nil {
		return 10
	}
	return *c.OdoDelta
}

// GetTicksPerMeter returns the odometer calibration.
func (c *CarConfig) GetTicksPerMeter() float64 {
	if c.TicksPerMeter == nil {
		return 87.0
	}
	return *c.TicksPerMeter
}

// GetSpeedUnits returns the display unit for speed.
func (c *CarConfig) GetSpeedUnits() string {
	if c.SpeedUnits == nil {
		return units.MPS
	}
	return *c.SpeedUnits
}

func (c *CarConfig) GetOverrideSteeringLow() int {
	if c.OverrideSteeringLow == nil {
		return 50
	}
	return *c.OverrideSteeringLow
}

func (c *CarConfig) GetOverrideSteeringHigh() int {
	if c.OverrideSteeringHigh == nil {
		return 130
	}
	return *c.OverrideSteeringHigh
}

func (c *CarConfig) GetOverrideThrottle() int {
	if c.OverrideThrottle == nil {
		return 130
	}
	return *c.OverrideThrottle
}

func (c *CarConfig) GetGestureDelta() int {
	if c.GestureDelta == nil {
		return 400
	}
	return *c.GestureDelta
}

// GetCameraURL returns the stream URL for a camera index, or "" if none is
// configured for it.
func (c *CarConfig) GetCameraURL(index int) string {
	if index < 0 || index >= len(c.CameraURLs) {
		return ""
	}
	return c.CameraURLs[index]
}

// GetCameraIndex returns the primary camera index (default 1, the USB camera
// on the car; index 0 is usually the laptop's own).
func (c *CarConfig) GetCameraIndex() int {
	if c.CameraIndex == nil {
		return 1
	}
	return *c.CameraIndex
}

// GetCameraAlternateIndex returns the index tried when the primary fails.
func (c *CarConfig) GetCameraAlternateIndex() int {
	if c.CameraAlternateIndex == nil {
		return 0
	}
	return *c.CameraAlternateIndex
}

func (c *CarConfig) GetFrameWidth() int {
	if c.FrameWidth == nil {
		return 320
	}
	return *c.FrameWidth
}

func (c *CarConfig) GetFrameHeight() int {
	if c.FrameHeight == nil {
		return 240
	}
	return *c.FrameHeight
}

func (c *CarConfig) GetInferenceURL() string {
	if c.InferenceURL == nil {
		return "http://127.0.0.1:8501"
	}
	return *c.InferenceURL
}

func (c *CarConfig) GetInferenceTimeout() time.Duration {
	return durationOr(c.InferenceTimeout, 25*time.Millisecond)
}

func (c *CarConfig) GetManualRoot() string {
	if c.ManualRoot == nil {
		return "./training-images"
	}
	return *c.ManualRoot
}

func (c *CarConfig) GetAutonomousRoot() string {
	if c.AutonomousRoot == nil {
		return "~/tf-driving-images"
	}
	return *c.AutonomousRoot
}

func (c *CarConfig) GetScratchFramePath() string {
	if c.ScratchFramePath == nil {
		return filepath.Join(os.TempDir(), "carputer-last.png")
	}
	return *c.ScratchFramePath
}

// GetDebugFrames returns whether the last frame is written to the scratch
// path on cycles that are not recorded.
func (c *CarConfig) GetDebugFrames() bool {
	if c.DebugFrames == nil {
		return true
	}
	return *c.DebugFrames
}

func (c *CarConfig) GetDatabasePath() string {
	if c.DatabasePath == nil {
		return "carputer.db"
	}
	return *c.DatabasePath
}
