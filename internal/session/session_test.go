package session

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/carputer/internal/db"
	"github.com/banshee-data/carputer/internal/fsutil"
	"github.com/banshee-data/carputer/internal/monitoring"
	"github.com/banshee-data/carputer/internal/telemetry"
	"github.com/banshee-data/carputer/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

type fakeStore struct {
	sessions []db.SessionRecord
	ended    map[string]int
	frames   []db.FrameRecord
	imu      []db.IMURecord
	settings map[string]string
	frameErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{ended: map[string]int{}, settings: map[string]string{}}
}

func (f *fakeStore) CreateSession(s db.SessionRecord) error {
	f.sessions = append(f.sessions, s)
	return nil
}

func (f *fakeStore) EndSession(id string, end time.Time, frames int) error {
	f.ended[id] = frames
	return nil
}

func (f *fakeStore) RecordFrame(r db.FrameRecord) error {
	if f.frameErr != nil {
		return f.frameErr
	}
	f.frames = append(f.frames, r)
	return nil
}

func (f *fakeStore) RecordIMU(r db.IMURecord) error {
	f.imu = append(f.imu, r)
	return nil
}

func (f *fakeStore) SetSetting(key, value string) error {
	f.settings[key] = value
	return nil
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.SetRGBA(1, 1, color.RGBA{R: 255, A: 255})
	return img
}

func newTestRecorder(store Store) (*Recorder, *fsutil.MemoryFileSystem) {
	fsys := fsutil.NewMemoryFileSystem()
	r := NewRecorder(fsys, store, timeutil.NewMockClock(time.Unix(1700000000, 0)))
	n := 0
	r.newID = func() string {
		n++
		return []string{"", "id-1", "id-2", "id-3"}[n]
	}
	return r, fsys
}

func TestFrameName(t *testing.T) {
	got := FrameName(7, Labels{Steering: 85, Throttle: 100, Millis: 123456, Odometer: 42})
	assert.Equal(t, "frame_00007_thr_100_ste_85_mil_123456_odo_00042.png", got)
	assert.Equal(t, "episode_00012", EpisodeDirName(12))
}

func TestRecorder_StartPicksNextEpisode(t *testing.T) {
	store := newFakeStore()
	r, fsys := newTestRecorder(store)
	require.NoError(t, fsys.MkdirAll("/data/episode_00001", 0o755))
	require.NoError(t, fsys.MkdirAll("/data/episode_00002", 0o755))

	s, err := r.Start("/data", ModeManual)
	require.NoError(t, err)
	assert.Equal(t, 3, s.EpisodeIndex)
	assert.Equal(t, "/data/episode_00003", s.Dir)
	assert.Equal(t, 0, s.FrameIndex)
	assert.Equal(t, "id-1", s.ID)
	assert.True(t, fsys.Exists(s.Dir))

	require.Len(t, store.sessions, 1)
	assert.Equal(t, ModeManual, store.sessions[0].Mode)
	assert.Equal(t, "/data/episode_00003", store.settings[SettingLastRecordDir])
}

func TestRecorder_AutonomousDoesNotTouchLastRecordDir(t *testing.T) {
	store := newFakeStore()
	r, _ := newTestRecorder(store)
	_, err := r.Start("/tf", ModeAutonomous)
	require.NoError(t, err)
	assert.Empty(t, store.settings)
}

func TestRecorder_RecordFrames(t *testing.T) {
	store := newFakeStore()
	r, fsys := newTestRecorder(store)
	s, err := r.Start("/data", ModeManual)
	require.NoError(t, err)

	imu := &telemetry.ImuSample{Quat: [4]float64{0, 0, 0, 1}}
	for i := 0; i < 3; i++ {
		l := Labels{Steering: 90 + i, Throttle: 95, Millis: int64(1000 + i*33), Odometer: int64(i)}
		if i == 1 {
			l.IMU = imu
		}
		_, err := r.Record(testImage(), l)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, s.FrameIndex)

	files := fsys.Files(s.Dir)
	sort.Strings(files)
	assert.Equal(t, []string{
		"/data/episode_00001/frame_00001_thr_95_ste_90_mil_1000_odo_00000.png",
		"/data/episode_00001/frame_00002_thr_95_ste_91_mil_1033_odo_00001.png",
		"/data/episode_00001/frame_00003_thr_95_ste_92_mil_1066_odo_00002.png",
	}, files)

	data, err := fsys.ReadFile(files[0])
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())

	require.Len(t, store.frames, 3)
	assert.Equal(t, 2, store.frames[1].FrameIndex)
	require.Len(t, store.imu, 1)
	assert.Equal(t, 2, store.imu[0].FrameIndex)

	require.NoError(t, r.End())
	assert.Nil(t, r.Current())
	assert.Equal(t, 3, store.ended["id-1"])

	_, err = r.Record(testImage(), Labels{})
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Len(t, fsys.Files(s.Dir), 3, "no frames after the session ended")
}

func TestRecorder_StartEndsPreviousSession(t *testing.T) {
	store := newFakeStore()
	r, _ := newTestRecorder(store)
	first, err := r.Start("/data", ModeManual)
	require.NoError(t, err)
	_, err = r.Record(testImage(), Labels{})
	require.NoError(t, err)

	second, err := r.Start("/data", ModeManual)
	require.NoError(t, err)
	assert.Equal(t, 1, store.ended[first.ID])
	assert.Equal(t, 2, second.EpisodeIndex)
	assert.Equal(t, 0, second.FrameIndex)
}

func TestRecorder_IndexFailureDoesNotFailRecord(t *testing.T) {
	store := newFakeStore()
	store.frameErr = errors.New("disk full")
	r, _ := newTestRecorder(store)
	_, err := r.Start("/data", ModeManual)
	require.NoError(t, err)

	path, err := r.Record(testImage(), Labels{})
	require.NoError(t, err)
	assert.NotEmpty(t, path)
}

func TestRecorder_FailedWriteDoesNotAdvanceIndex(t *testing.T) {
	store := newFakeStore()
	r, fsys := newTestRecorder(store)
	s, err := r.Start("/data", ModeManual)
	require.NoError(t, err)

	diskFull := errors.New("disk full")
	fsys.FailNextCreate(diskFull)
	_, err = r.Record(testImage(), Labels{Throttle: 95, Steering: 90})
	require.ErrorIs(t, err, diskFull)
	assert.Equal(t, 0, s.FrameIndex)
	assert.Empty(t, fsys.Files(s.Dir))
	assert.Empty(t, store.frames)

	path, err := r.Record(testImage(), Labels{Throttle: 95, Steering: 90})
	require.NoError(t, err)
	assert.Equal(t, "/data/episode_00001/frame_00001_thr_95_ste_90_mil_0_odo_00000.png", path)
	assert.Equal(t, 1, s.FrameIndex)
}

func TestRecorder_NilStore(t *testing.T) {
	r, fsys := newTestRecorder(nil)
	s, err := r.Start("/data", ModeManual)
	require.NoError(t, err)
	_, err = r.Record(testImage(), Labels{})
	require.NoError(t, err)
	require.NoError(t, r.End())
	assert.Len(t, fsys.Files(s.Dir), 1)
}

func TestRecorder_WithDatabase(t *testing.T) {
	database, err := db.NewDB(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer database.Close()

	r := NewRecorder(fsutil.NewMemoryFileSystem(), database, timeutil.NewMockClock(time.Unix(1700000000, 0)))
	s, err := r.Start("/data", ModeManual)
	require.NoError(t, err)
	_, err = r.Record(testImage(), Labels{Steering: 80, Throttle: 100, IMU: &telemetry.ImuSample{}})
	require.NoError(t, err)
	require.NoError(t, r.End())

	frames, err := database.Frames(s.ID)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, 80, frames[0].Steering)

	dir, err := database.GetSetting(SettingLastRecordDir)
	require.NoError(t, err)
	assert.Equal(t, s.Dir, dir)
}

func TestWriteScratch(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, WriteScratch(fsys, "/tmp/carputer/last.png", testImage()))
	require.NoError(t, WriteScratch(fsys, "/tmp/carputer/last.png", testImage()))

	assert.True(t, fsys.Exists("/tmp/carputer/last.png"))
	assert.False(t, fsys.Exists("/tmp/carputer/last.png.tmp"))
	assert.Equal(t, []string{"/tmp/carputer/last.png"}, fsys.Files("/tmp/carputer"))
}
