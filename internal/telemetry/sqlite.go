package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/iot-mcp-bridge/internal/device"
	"github.com/nerrad567/iot-mcp-bridge/internal/infrastructure/database"
)

// timeLayout is fixed width so that lexical order equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// statsTables are counted by Stats.
var statsTables = []string{
	"sensor_readings",
	"actuator_states",
	"device_events",
	"devices",
	"device_metrics",
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// storable reports whether t formats to the fixed-width layout.
func storable(t time.Time) bool {
	y := t.UTC().Year()
	return y >= 0 && y <= 9999
}

// nullTime maps the zero time to NULL.
func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

// SQLiteStore implements Store on the bridge's SQLite database.
type SQLiteStore struct {
	db     *database.DB
	clock  device.Clock
	logger Logger
}

// NewSQLiteStore creates a store over an open, migrated database.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db, clock: device.SystemClock, logger: noopLogger{}}
}

// SetLogger sets the logger used for skipped rows.
func (s *SQLiteStore) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// SetClock replaces the clock used for retention cutoffs and update stamps.
func (s *SQLiteStore) SetClock(clock device.Clock) {
	if clock == nil {
		clock = device.SystemClock
	}
	s.clock = clock
}

// AppendReading inserts one sensor reading.
func (s *SQLiteStore) AppendReading(ctx context.Context, r device.SensorReading) error {
	if r.DeviceID == "" || r.SensorType == "" || !storable(r.Timestamp) {
		return ErrInvalidRecord
	}

	var unit sql.NullString
	if r.Unit != nil {
		unit = sql.NullString{String: *r.Unit, Valid: true}
	}
	var quality sql.NullFloat64
	if r.Quality != nil {
		quality = sql.NullFloat64{Float64: *r.Quality, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sensor_readings (device_id, sensor_type, value, unit, quality, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.DeviceID, r.SensorType, r.Value, unit, quality, formatTime(r.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("inserting sensor reading: %w", err)
	}
	return nil
}

// AppendActuatorState inserts one actuator state row.
func (s *SQLiteStore) AppendActuatorState(ctx context.Context, st device.ActuatorState) error {
	if st.DeviceID == "" || st.ActuatorType == "" || !storable(st.Timestamp) {
		return ErrInvalidRecord
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actuator_states (device_id, actuator_type, state, timestamp)
		VALUES (?, ?, ?, ?)`,
		st.DeviceID, st.ActuatorType, st.State, formatTime(st.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("inserting actuator state: %w", err)
	}
	return nil
}

// AppendEvent inserts one device event.
func (s *SQLiteStore) AppendEvent(ctx context.Context, e Event) error {
	if e.DeviceID == "" || e.EventType == "" || !storable(e.Timestamp) {
		return ErrInvalidRecord
	}

	var data sql.NullString
	if e.Data != "" {
		data = sql.NullString{String: e.Data, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_events (device_id, event_type, data, severity, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		e.DeviceID, e.EventType, data, e.Severity, formatTime(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("inserting device event: %w", err)
	}
	return nil
}

// UpsertDevice inserts or replaces the device's registration row, keeping created_at.
func (s *SQLiteStore) UpsertDevice(ctx context.Context, d DeviceRecord) error {
	if d.DeviceID == "" {
		return ErrInvalidRecord
	}

	sensors, err := json.Marshal(nonNil(d.Capabilities.Sensors))
	if err != nil {
		return fmt.Errorf("marshalling sensors: %w", err)
	}
	actuators, err := json.Marshal(nonNil(d.Capabilities.Actuators))
	if err != nil {
		return fmt.Errorf("marshalling actuators: %w", err)
	}
	metadata := d.Capabilities.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}

	deviceType := d.Capabilities.DeviceType
	if deviceType == "" {
		deviceType = device.DefaultDeviceType
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, device_type, location, sensors, actuators, metadata,
			firmware_version, hardware_version, status, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			device_type = excluded.device_type,
			location = excluded.location,
			sensors = excluded.sensors,
			actuators = excluded.actuators,
			metadata = excluded.metadata,
			firmware_version = excluded.firmware_version,
			hardware_version = excluded.hardware_version,
			status = excluded.status,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at`,
		d.DeviceID, deviceType, d.Capabilities.Location,
		string(sensors), string(actuators), string(meta),
		d.Capabilities.FirmwareVersion, d.Capabilities.HardwareVersion,
		statusString(d.Online), nullTime(d.LastSeen), formatTime(s.clock()),
	)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}
	return nil
}

// UpdateDeviceStatus sets the status and last-seen of a device row.
func (s *SQLiteStore) UpdateDeviceStatus(ctx context.Context, deviceID string, online bool, at time.Time) error {
	if deviceID == "" {
		return ErrInvalidRecord
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, device_type, status, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			status = excluded.status,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at`,
		deviceID, device.DefaultDeviceType, statusString(online), nullTime(at), formatTime(s.clock()),
	)
	if err != nil {
		return fmt.Errorf("updating device status: %w", err)
	}
	return nil
}

// QueryReadings returns readings newer than since, newest first.
func (s *SQLiteStore) QueryReadings(ctx context.Context, deviceID, sensorType string, since time.Time) ([]device.SensorReading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, sensor_type, value, unit, quality, timestamp
		FROM sensor_readings
		WHERE device_id = ? AND sensor_type = ? AND timestamp > ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`,
		deviceID, sensorType, formatTime(since), MaxReadingRows,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sensor readings: %w", err)
	}
	defer rows.Close()

	readings := []device.SensorReading{}
	for rows.Next() {
		var (
			r       device.SensorReading
			unit    sql.NullString
			quality sql.NullFloat64
			ts      string
		)
		if err := rows.Scan(&r.DeviceID, &r.SensorType, &r.Value, &unit, &quality, &ts); err != nil {
			return nil, fmt.Errorf("scanning sensor reading: %w", err)
		}
		if unit.Valid {
			r.Unit = &unit.String
		}
		if quality.Valid {
			r.Quality = &quality.Float64
		}
		if r.Timestamp, err = parseTime(ts); err != nil {
			s.logger.Warn("skipping sensor reading with unreadable timestamp",
				"device_id", r.DeviceID, "sensor_type", r.SensorType, "timestamp", ts, "error", err)
			continue
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sensor readings: %w", err)
	}
	return readings, nil
}

// QueryEvents returns matching events, newest first.
func (s *SQLiteStore) QueryEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	query := `
		SELECT id, device_id, event_type, data, severity, timestamp
		FROM device_events
		WHERE timestamp > ? AND severity >= ?`
	args := []any{formatTime(f.Since), f.SeverityMin}

	if f.DeviceID != "" {
		query += " AND device_id = ?"
		args = append(args, f.DeviceID)
	}
	if f.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, f.EventType)
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, MaxEventRows)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying device events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e    Event
			data sql.NullString
			ts   string
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.EventType, &data, &e.Severity, &ts); err != nil {
			return nil, fmt.Errorf("scanning device event: %w", err)
		}
		e.Data = data.String
		if e.Timestamp, err = parseTime(ts); err != nil {
			s.logger.Warn("skipping device event with unreadable timestamp",
				"event_id", e.ID, "device_id", e.DeviceID, "timestamp", ts, "error", err)
			continue
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device events: %w", err)
	}
	return events, nil
}

// SaveMetrics replaces the stored counters for every device in one transaction.
func (s *SQLiteStore) SaveMetrics(ctx context.Context, metrics map[string]device.Metrics) error {
	if len(metrics) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO device_metrics (device_id, messages_sent, messages_received,
			connection_failures, sensor_read_errors, last_activity, uptime_start, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing metrics insert: %w", err)
	}
	defer stmt.Close()

	now := formatTime(s.clock())
	for id, m := range metrics {
		if _, err := stmt.ExecContext(ctx,
			id, m.MessagesSent, m.MessagesReceived, m.ConnectionFailures, m.SensorReadErrors,
			nullTime(m.LastActivity), nullTime(m.UptimeStart), now,
		); err != nil {
			return fmt.Errorf("saving metrics for %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing metrics: %w", err)
	}
	return nil
}

// Cleanup deletes rows older than retention in one transaction.
func (s *SQLiteStore) Cleanup(ctx context.Context, retention time.Duration) (CleanupResult, error) {
	var result CleanupResult
	cutoff := formatTime(s.clock().Add(-retention))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	steps := []struct {
		name  string
		query string
		dest  *int64
	}{
		{"sensor_readings", `DELETE FROM sensor_readings WHERE timestamp < ? OR length(timestamp) <> ?`, &result.Readings},
		{"device_events", `DELETE FROM device_events WHERE timestamp < ? OR length(timestamp) <> ?`, &result.Events},
		{"actuator_states", `
			DELETE FROM actuator_states
			WHERE (timestamp < ? OR length(timestamp) <> ?) AND id NOT IN (
				SELECT MAX(id) FROM actuator_states GROUP BY device_id, actuator_type
			)`, &result.ActuatorStates},
	}

	for _, step := range steps {
		// Rows not in the fixed-width layout cannot be compared or read back.
		res, err := tx.ExecContext(ctx, step.query, cutoff, len(timeLayout))
		if err != nil {
			return CleanupResult{}, fmt.Errorf("cleaning %s: %w", step.name, err)
		}
		if *step.dest, err = res.RowsAffected(); err != nil {
			return CleanupResult{}, fmt.Errorf("counting %s: %w", step.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return CleanupResult{}, fmt.Errorf("committing cleanup: %w", err)
	}
	return result, nil
}

// Stats returns "<table>_count" for each table plus "database_size_bytes".
func (s *SQLiteStore) Stats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64, len(statsTables)+1)

	for _, table := range statsTables {
		var n int64
		// Table names come from the fixed list above.
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", table, err)
		}
		stats[table+"_count"] = n
	}

	size, err := s.db.SizeBytes(ctx)
	if err != nil {
		return nil, err
	}
	stats["database_size_bytes"] = size
	return stats, nil
}

func statusString(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ Store = (*SQLiteStore)(nil)
