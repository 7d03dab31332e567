package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// timeLayout is used for every timestamp column.
const timeLayout = time.RFC3339Nano

// Store writes the sightings tables.
//
// Thread Safety: safe for concurrent use (database/sql handles pooling).
type Store struct {
	db *sql.DB
}

// NewStore creates a Store on an open database that has been migrated.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertDevice records a frame from deviceID. rssi is nil when the frame
// carried no signal strength.
func (s *Store) UpsertDevice(ctx context.Context, deviceID, mac string, rssi *int, at time.Time) error {
	if deviceID == "" {
		return errors.New("history: device id is required")
	}
	ts := at.UTC().Format(timeLayout)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_sightings (device_id, mac, first_seen, last_seen, last_rssi, frame_count)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(device_id) DO UPDATE SET
			mac = excluded.mac,
			last_seen = excluded.last_seen,
			last_rssi = COALESCE(excluded.last_rssi, last_rssi),
			frame_count = frame_count + 1
	`, deviceID, mac, ts, ts, rssi)
	if err != nil {
		return fmt.Errorf("upserting device %s: %w", deviceID, err)
	}
	return nil
}

// UpsertEntity records that entityID of deviceID was seen. An empty state
// keeps the previous one.
func (s *Store) UpsertEntity(ctx context.Context, deviceID, entityID, platform, state string, at time.Time) error {
	if deviceID == "" || entityID == "" {
		return errors.New("history: device and entity id are required")
	}
	ts := at.UTC().Format(timeLayout)

	var lastState any
	if state != "" {
		lastState = state
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_sightings (device_id, entity_id, platform, first_seen, last_seen, last_state)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id, entity_id) DO UPDATE SET
			platform = CASE WHEN excluded.platform = '' THEN platform ELSE excluded.platform END,
			last_seen = excluded.last_seen,
			last_state = COALESCE(excluded.last_state, last_state)
	`, deviceID, entityID, platform, ts, ts, lastState)
	if err != nil {
		return fmt.Errorf("upserting entity %s/%s: %w", deviceID, entityID, err)
	}
	return nil
}

// RecordTxStatus appends a delivery report.
func (s *Store) RecordTxStatus(ctx context.Context, mac string, status uint8, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO tx_status_log (mac, status, recorded_at) VALUES (?, ?, ?)",
		mac, int(status), at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("recording tx status for %s: %w", mac, err)
	}
	return nil
}

// PruneTxStatus deletes delivery reports older than before and returns the
// number of rows removed.
func (s *Store) PruneTxStatus(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM tx_status_log WHERE recorded_at < ?",
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning tx status log: %w", err)
	}
	return res.RowsAffected()
}
