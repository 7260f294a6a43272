// Package store manages the AirGuard database layer.
// It initializes GORM with SQLite and provides the insert-mostly measurement
// and channel-amplitude tables plus the node registry. All mutating calls are
// serialized behind one mutex; reads go through GORM directly.
package store

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/vesaa/airguard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store wraps the database handle shared by the scheduler and the relay API.
type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

// Open creates the data directory if needed, opens the SQLite database, and
// runs AutoMigrate. A failure here is fatal to startup; nothing downstream
// can run without durable storage.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL lets readers proceed while a write is in flight.
	db.Exec("PRAGMA journal_mode=WAL")

	if err := db.AutoMigrate(
		&models.Measurement{},
		&models.ChannelAmplitudeSample{},
		&models.Node{},
	); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	log.Printf("[store] opened sqlite/%s", path)
	return &Store{db: db}, nil
}

// InsertMeasurement appends one measurement row. Rows are never updated.
func (s *Store) InsertMeasurement(m *models.Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Create(m).Error
}

// InsertChannelSamples appends a batch of sweep samples and returns how many
// were stored.
func (s *Store) InsertChannelSamples(samples []models.ChannelAmplitudeSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Create(&samples).Error; err != nil {
		return 0, err
	}
	return len(samples), nil
}

// MeasurementsBetween returns rows in [start, end] ordered by timestamp
// ascending. Callers must not rely on any cross-node ordering beyond that.
func (s *Store) MeasurementsBetween(start, end time.Time) ([]models.Measurement, error) {
	var rows []models.Measurement
	err := s.db.
		Where("timestamp >= ? AND timestamp <= ?", start, end).
		Order("timestamp asc").
		Find(&rows).Error
	return rows, err
}

// ChannelSamplesBetween returns sweep samples in [start, end] ordered by
// timestamp ascending, optionally restricted to one node.
func (s *Store) ChannelSamplesBetween(start, end time.Time, nodeID *string) ([]models.ChannelAmplitudeSample, error) {
	q := s.db.
		Where("timestamp >= ? AND timestamp <= ?", start, end).
		Order("timestamp asc")
	if nodeID != nil {
		q = q.Where("node_id = ?", *nodeID)
	}
	var rows []models.ChannelAmplitudeSample
	err := q.Find(&rows).Error
	return rows, err
}

// DataRange returns the min and max measurement timestamps. ok is false when
// the table is empty. The bounds are read with ordered single-row queries
// rather than MIN/MAX aggregates: sqlite drops the declared column type on
// aggregate expressions and the driver then refuses to scan into time.Time.
func (s *Store) DataRange() (min, max time.Time, ok bool, err error) {
	var first models.Measurement
	err = s.db.Order("timestamp asc").First(&first).Error
	if err == gorm.ErrRecordNotFound {
		return time.Time{}, time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}

	var last models.Measurement
	if err = s.db.Order("timestamp desc").First(&last).Error; err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	return first.Timestamp, last.Timestamp, true, nil
}

// UpsertNode creates the node when its id is unknown, otherwise merges field
// by field: a non-empty incoming name overwrites, coordinates only fill
// previously-null values. LastSeen is always refreshed.
func (s *Store) UpsertNode(n *models.Node) (*models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	var existing models.Node
	err := s.db.Where("id = ?", n.ID).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		n.LastSeen = now
		if err := s.db.Create(n).Error; err != nil {
			return nil, err
		}
		log.Printf("[store] registered node %s (%s)", n.ID, n.Name)
		return n, nil
	}
	if err != nil {
		return nil, err
	}

	updates := map[string]any{"last_seen": now}
	if n.Name != "" {
		updates["name"] = n.Name
	}
	if existing.Latitude == nil && n.Latitude != nil {
		updates["latitude"] = *n.Latitude
	}
	if existing.Longitude == nil && n.Longitude != nil {
		updates["longitude"] = *n.Longitude
	}
	if existing.KeyFingerprint == "" && n.KeyFingerprint != "" {
		updates["key_fingerprint"] = n.KeyFingerprint
	}
	if err := s.db.Model(&existing).Updates(updates).Error; err != nil {
		return nil, err
	}

	err = s.db.Where("id = ?", n.ID).First(&existing).Error
	return &existing, err
}

// NodeByFingerprint resolves a credential fingerprint to its node.
// Returns (nil, nil) when no node matches.
func (s *Store) NodeByFingerprint(fp string) (*models.Node, error) {
	var n models.Node
	err := s.db.Where("key_fingerprint = ?", fp).First(&n).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// TouchNode refreshes a node's last_seen timestamp.
func (s *Store) TouchNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Model(&models.Node{}).
		Where("id = ?", id).
		Update("last_seen", time.Now().UTC()).Error
}

// Nodes returns the full registry ordered by name, for the operator map.
func (s *Store) Nodes() ([]models.Node, error) {
	var nodes []models.Node
	err := s.db.Order("name asc").Find(&nodes).Error
	return nodes, err
}
