// Package session manages recording sessions: one episode directory per drive,
// with one labelled PNG per recorded cycle.
package session

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/carputer/internal/db"
	"github.com/banshee-data/carputer/internal/fsutil"
	"github.com/banshee-data/carputer/internal/monitoring"
	"github.com/banshee-data/carputer/internal/telemetry"
	"github.com/banshee-data/carputer/internal/timeutil"
)

const (
	ModeManual     = "manual"
	ModeAutonomous = "autonomous"

	// SettingLastRecordDir holds the directory of the most recent manual
	// recording.
	SettingLastRecordDir = "last_record_dir"
)

// ErrNoSession is returned by Record when no session is active.
var ErrNoSession = errors.New("no active session")

// Session is one recording run between a start and a stop of the drive
// switch.
type Session struct {
	ID           string
	EpisodeIndex int
	StartTime    time.Time
	// FrameIndex is the index of the last recorded frame; 0 before the first.
	FrameIndex int
	Dir        string
	Mode       string
}

// Store is the part of the session index the recorder writes to.
type Store interface {
	CreateSession(db.SessionRecord) error
	EndSession(id string, end time.Time, frames int) error
	RecordFrame(db.FrameRecord) error
	RecordIMU(db.IMURecord) error
	SetSetting(key, value string) error
}

// Labels is the telemetry a frame is recorded with.
type Labels struct {
	Steering int
	Throttle int
	Millis   int64
	// Odometer is relative to the last odometer reset.
	Odometer int64
	Velocity float64
	IMU      *telemetry.ImuSample
}

// EpisodeDirName returns the directory name for episode n.
func EpisodeDirName(n int) string {
	return fmt.Sprintf("episode_%05d", n)
}

// FrameName returns the file name for frame index with labels l.
func FrameName(index int, l Labels) string {
	return fmt.Sprintf("frame_%05d_thr_%d_ste_%d_mil_%d_odo_%05d.png",
		index, l.Throttle, l.Steering, l.Millis, l.Odometer)
}

// Recorder creates sessions and writes their frames. Store may be nil, in
// which case only the image files are written.
type Recorder struct {
	fs      fsutil.FileSystem
	store   Store
	clock   timeutil.Clock
	newID   func() string
	current *Session
}

// NewRecorder returns a Recorder writing through fsys.
func NewRecorder(fsys fsutil.FileSystem, store Store, clock timeutil.Clock) *Recorder {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Recorder{fs: fsys, store: store, clock: clock, newID: uuid.NewString}
}

// Current returns the active session, or nil.
func (r *Recorder) Current() *Session {
	return r.current
}

// Start ends any active session and creates a new episode directory under
// root. Existing episodes are never touched; the new one takes the first
// unused ordinal.
func (r *Recorder) Start(root, mode string) (*Session, error) {
	if r.current != nil {
		if err := r.End(); err != nil {
			monitoring.Logf("end previous session: %v", err)
		}
	}

	root, err := fsutil.ExpandHome(root)
	if err != nil {
		return nil, err
	}
	if err := r.fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create session root %s: %w", root, err)
	}

	n := 1
	for r.fs.Exists(filepath.Join(root, EpisodeDirName(n))) {
		n++
	}
	dir := filepath.Join(root, EpisodeDirName(n))
	if err := r.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir %s: %w", dir, err)
	}

	s := &Session{
		ID:           r.newID(),
		EpisodeIndex: n,
		StartTime:    r.clock.Now(),
		Dir:          dir,
		Mode:         mode,
	}
	r.current = s

	if r.store != nil {
		if err := r.store.CreateSession(db.SessionRecord{
			ID:           s.ID,
			EpisodeIndex: s.EpisodeIndex,
			Mode:         s.Mode,
			Dir:          s.Dir,
			Start:        s.StartTime,
		}); err != nil {
			monitoring.Logf("index session %s: %v", s.ID, err)
		}
		if mode == ModeManual {
			if err := r.store.SetSetting(SettingLastRecordDir, dir); err != nil {
				monitoring.Logf("store %s: %v", SettingLastRecordDir, err)
			}
		}
	}
	return s, nil
}

// Record writes img as the next frame of the active session and returns its
// path. The frame index advances only when the image is written, so an
// episode's frame numbers have no gaps.
func (r *Recorder) Record(img image.Image, l Labels) (string, error) {
	s := r.current
	if s == nil {
		return "", ErrNoSession
	}
	name := FrameName(s.FrameIndex+1, l)
	path := filepath.Join(s.Dir, name)

	if err := writePNG(r.fs, path, img); err != nil {
		return "", err
	}
	s.FrameIndex++

	if r.store != nil {
		now := r.clock.Now()
		if err := r.store.RecordFrame(db.FrameRecord{
			SessionID:  s.ID,
			FrameIndex: s.FrameIndex,
			FileName:   name,
			Steering:   l.Steering,
			Throttle:   l.Throttle,
			Millis:     l.Millis,
			Odometer:   l.Odometer,
			Velocity:   l.Velocity,
			Time:       now,
		}); err != nil {
			monitoring.Logf("index frame %d: %v", s.FrameIndex, err)
		} else if l.IMU != nil {
			if err := r.store.RecordIMU(db.IMURecord{
				SessionID:  s.ID,
				FrameIndex: s.FrameIndex,
				Quat:       l.IMU.Quat,
				Gyro:       l.IMU.Gyro,
				Accel:      l.IMU.Accel,
			}); err != nil {
				monitoring.Logf("index imu %d: %v", s.FrameIndex, err)
			}
		}
	}
	return path, nil
}

// End closes the active session. Its directory and frames stay on disk.
func (r *Recorder) End() error {
	s := r.current
	if s == nil {
		return nil
	}
	r.current = nil
	monitoring.Logf("session %s ended: %d frames in %s", s.ID, s.FrameIndex, s.Dir)
	if r.store != nil {
		if err := r.store.EndSession(s.ID, r.clock.Now(), s.FrameIndex); err != nil {
			return err
		}
	}
	return nil
}

// WriteScratch replaces the file at path with img. The image is written to a
// temporary file first so readers never see a partial PNG.
func WriteScratch(fsys fsutil.FileSystem, path string, img image.Image) error {
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := writePNG(fsys, tmp, img); err != nil {
		return err
	}
	if err := fsys.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace scratch frame: %w", err)
	}
	return nil
}

func writePNG(fsys fsutil.FileSystem, path string, img image.Image) error {
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create frame %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode frame %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close frame %s: %w", path, err)
	}
	return nil
}
