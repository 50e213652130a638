package db

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/carputer/internal/testutil"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "carputer.db"))
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", busyTimeout)
	}

	var foreignKeys int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("query foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Errorf("foreign_keys = %d, want 1", foreignKeys)
	}
}

func TestMigrations(t *testing.T) {
	db := newTestDB(t)

	st, err := db.SchemaStatus()
	require.NoError(t, err)
	assert.Equal(t, SchemaStatus{Current: 2, Latest: 2}, st)
	assert.True(t, st.UpToDate())

	// re-running is a no-op
	require.NoError(t, db.MigrateUp())

	require.NoError(t, db.MigrateDown())
	st, err = db.SchemaStatus()
	require.NoError(t, err)
	assert.Equal(t, uint(1), st.Current)
	assert.False(t, st.UpToDate())

	var n int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='imu_samples'`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, db.MigrateForce(2))
	st, err = db.SchemaStatus()
	require.NoError(t, err)
	assert.Equal(t, uint(2), st.Current)
	assert.False(t, st.Dirty)
}

func TestSchemaStatus_FreshDatabase(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st, err := db.SchemaStatus()
	require.NoError(t, err)
	assert.Equal(t, SchemaStatus{Current: 0, Latest: 2}, st)
}

func TestLatestMigrationVersion(t *testing.T) {
	_, err := latestMigrationVersion(fstest.MapFS{"README": {}})
	assert.Error(t, err)

	v, err := latestMigrationVersion(fstest.MapFS{
		"000001_a.up.sql":   {},
		"000001_a.down.sql": {},
		"000007_b.up.sql":   {},
	})
	require.NoError(t, err)
	assert.Equal(t, uint(7), v)
}

func TestSessionsAndFrames(t *testing.T) {
	db := newTestDB(t)
	start := time.Unix(1700000000, 0)

	require.NoError(t, db.CreateSession(SessionRecord{
		ID: "s1", EpisodeIndex: 3, Mode: "manual", Dir: "/data/episode_00003", Start: start,
	}))

	frames := []FrameRecord{
		{SessionID: "s1", FrameIndex: 1, FileName: "a.png", Steering: 90, Throttle: 95, Millis: 100, Odometer: 0, Velocity: 0, Time: start},
		{SessionID: "s1", FrameIndex: 2, FileName: "b.png", Steering: 85, Throttle: 100, Millis: 133, Odometer: 4, Velocity: 0.12, Time: start.Add(33 * time.Millisecond)},
	}
	for _, f := range frames {
		require.NoError(t, db.RecordFrame(f))
	}
	// duplicate frame index is rejected
	assert.Error(t, db.RecordFrame(frames[0]))

	got, err := db.Frames("s1")
	require.NoError(t, err)
	if diff := cmp.Diff(frames, got); diff != "" {
		t.Errorf("Frames() mismatch (-want +got):\n%s", diff)
	}

	end := start.Add(time.Minute)
	require.NoError(t, db.EndSession("s1", end, 2))
	assert.Error(t, db.EndSession("missing", end, 0))

	sessions, err := db.Sessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 2, sessions[0].FrameCount)
	assert.Equal(t, 3, sessions[0].EpisodeIndex)
	require.NotNil(t, sessions[0].End)
	assert.True(t, sessions[0].End.Equal(end))
}

func TestFrameRequiresSession(t *testing.T) {
	db := newTestDB(t)
	err := db.RecordFrame(FrameRecord{SessionID: "nope", FrameIndex: 1, Time: time.Now()})
	assert.Error(t, err, "foreign key should reject frames without a session")
}

func TestIMUSamples(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.CreateSession(SessionRecord{ID: "s1", Mode: "manual", Dir: "d", Start: time.Now()}))

	rec := IMURecord{
		SessionID:  "s1",
		FrameIndex: 7,
		Quat:       [4]float64{1, 0, 0, 0},
		Gyro:       [3]float64{0.1, 0.2, 0.3},
		Accel:      [3]float64{0, 0, 9.8},
	}
	require.NoError(t, db.RecordIMU(rec))

	got, err := db.IMUSamples("s1")
	require.NoError(t, err)
	if diff := cmp.Diff([]IMURecord{rec}, got); diff != "" {
		t.Errorf("IMUSamples() mismatch (-want +got):\n%s", diff)
	}
}

func TestSettings(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetSetting("last_record_dir")
	assert.True(t, errors.Is(err, ErrSettingNotFound))

	require.NoError(t, db.SetSetting("last_record_dir", "/a"))
	require.NoError(t, db.SetSetting("last_record_dir", "/b"))

	v, err := db.GetSetting("last_record_dir")
	require.NoError(t, err)
	assert.Equal(t, "/b", v)
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.SetSetting("k", "v"))

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	rec := testutil.ServeDebug(t, mux, http.MethodGet, "/debug/backup")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	zr, err := gzip.NewReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("SQLite format 3")), "backup should be a sqlite file")

	index := testutil.ServeDebug(t, mux, http.MethodGet, "/debug/")
	testutil.AssertStatusCode(t, index, http.StatusOK)
	assert.Contains(t, index.Body.String(), "v2 of 2 (dirty=false)")
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")
	var out bytes.Buffer

	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 2")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"down"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 1")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "Latest available: 2")

	assert.Error(t, RunMigrateCommand(nil, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"sideways"}, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"force", "x"}, path, &out))
}
