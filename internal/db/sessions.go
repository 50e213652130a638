package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SessionRecord is one driving session.
type SessionRecord struct {
	ID           string
	EpisodeIndex int
	Mode         string
	Dir          string
	Start        time.Time
	End          *time.Time
	FrameCount   int
}

// FrameRecord is one recorded frame and the telemetry it was labelled with.
type FrameRecord struct {
	SessionID  string
	FrameIndex int
	FileName   string
	Steering   int
	Throttle   int
	Millis     int64
	Odometer   int64
	Velocity   float64
	Time       time.Time
}

// IMURecord is the IMU state at a recorded frame.
type IMURecord struct {
	SessionID  string
	FrameIndex int
	Quat       [4]float64
	Gyro       [3]float64
	Accel      [3]float64
}

// CreateSession inserts a new session.
func (db *DB) CreateSession(s SessionRecord) error {
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, episode_index, mode, dir, start_unix_ns)
		 VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.EpisodeIndex, s.Mode, s.Dir, s.Start.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", s.ID, err)
	}
	return nil
}

// EndSession stamps the session's end time and final frame count.
func (db *DB) EndSession(id string, end time.Time, frames int) error {
	res, err := db.Exec(
		`UPDATE sessions SET end_unix_ns = ?, frame_count = ? WHERE session_id = ?`,
		end.UnixNano(), frames, id,
	)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("end session %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// RecordFrame inserts a frame row.
func (db *DB) RecordFrame(f FrameRecord) error {
	_, err := db.Exec(
		`INSERT INTO frames (session_id, frame_index, file_name, steering, throttle,
			millis, odometer, velocity, unix_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.SessionID, f.FrameIndex, f.FileName, f.Steering, f.Throttle,
		f.Millis, f.Odometer, f.Velocity, f.Time.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record frame %d: %w", f.FrameIndex, err)
	}
	return nil
}

// RecordIMU inserts the IMU sample for a frame.
func (db *DB) RecordIMU(r IMURecord) error {
	_, err := db.Exec(
		`INSERT INTO imu_samples (session_id, frame_index,
			quat_x, quat_y, quat_z, quat_w, gyro_x, gyro_y, gyro_z, accel_x, accel_y, accel_z)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.FrameIndex,
		r.Quat[0], r.Quat[1], r.Quat[2], r.Quat[3],
		r.Gyro[0], r.Gyro[1], r.Gyro[2],
		r.Accel[0], r.Accel[1], r.Accel[2],
	)
	if err != nil {
		return fmt.Errorf("record imu for frame %d: %w", r.FrameIndex, err)
	}
	return nil
}

// Sessions returns the most recent sessions, newest first.
func (db *DB) Sessions(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT session_id, episode_index, mode, dir, start_unix_ns, end_unix_ns, frame_count
		 FROM sessions ORDER BY start_unix_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		var (
			s       SessionRecord
			startNs int64
			endNs   sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.EpisodeIndex, &s.Mode, &s.Dir, &startNs, &endNs, &s.FrameCount); err != nil {
			return nil, err
		}
		s.Start = time.Unix(0, startNs)
		if endNs.Valid {
			end := time.Unix(0, endNs.Int64)
			s.End = &end
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Frames returns a session's frames in recording order.
func (db *DB) Frames(sessionID string) ([]FrameRecord, error) {
	rows, err := db.Query(
		`SELECT frame_index, file_name, steering, throttle, millis, odometer, velocity, unix_ns
		 FROM frames WHERE session_id = ? ORDER BY frame_index`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []FrameRecord
	for rows.Next() {
		f := FrameRecord{SessionID: sessionID}
		var ns int64
		if err := rows.Scan(&f.FrameIndex, &f.FileName, &f.Steering, &f.Throttle,
			&f.Millis, &f.Odometer, &f.Velocity, &ns); err != nil {
			return nil, err
		}
		f.Time = time.Unix(0, ns)
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

// IMUSamples returns a session's IMU samples in frame order.
func (db *DB) IMUSamples(sessionID string) ([]IMURecord, error) {
	rows, err := db.Query(
		`SELECT frame_index, quat_x, quat_y, quat_z, quat_w, gyro_x, gyro_y, gyro_z,
			accel_x, accel_y, accel_z
		 FROM imu_samples WHERE session_id = ? ORDER BY frame_index`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IMURecord
	for rows.Next() {
		r := IMURecord{SessionID: sessionID}
		if err := rows.Scan(&r.FrameIndex,
			&r.Quat[0], &r.Quat[1], &r.Quat[2], &r.Quat[3],
			&r.Gyro[0], &r.Gyro[1], &r.Gyro[2],
			&r.Accel[0], &r.Accel[1], &r.Accel[2]); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ErrSettingNotFound is returned by GetSetting for unknown keys.
var ErrSettingNotFound = errors.New("setting not found")

// SetSetting stores a key/value setting, replacing any previous value.
func (db *DB) SetSetting(key, value string) error {
	_, err := db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// GetSetting returns the value stored for key.
func (db *DB) GetSetting(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", key, ErrSettingNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}
