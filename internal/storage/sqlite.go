// Package storage implements the persistence layer on SQLite.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/matchbook-labs/matchbook/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// profileCacheTTL bounds how long a cached merchant profile is served
// without hitting the database.
const profileCacheTTL = 5 * time.Minute

// SQLiteStorage implements the service.Storage interface using SQLite.
type SQLiteStorage struct {
	cacheExpiry  time.Time
	db           *sql.DB
	profileCache map[string]*model.MerchantProfile
	dbPath       string
	cacheMutex   sync.RWMutex
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:           db,
		dbPath:       dbPath,
		profileCache: make(map[string]*model.MerchantProfile),
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) getCachedProfile(name string) *model.MerchantProfile {
	s.cacheMutex.RLock()
	defer s.cacheMutex.RUnlock()

	if time.Now().After(s.cacheExpiry) {
		return nil
	}
	if profile, ok := s.profileCache[name]; ok {
		copied := *profile
		return &copied
	}
	return nil
}

func (s *SQLiteStorage) cacheProfile(profile *model.MerchantProfile) {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()

	copied := *profile
	s.profileCache[profile.Name] = &copied
	s.cacheExpiry = time.Now().Add(profileCacheTTL)
}

// marshalJSON serializes a value for a TEXT column, mapping empty collections
// to NULL-friendly empty strings.
func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal value: %w", err)
	}
	return string(data), nil
}

func unmarshalJSON(data string, v any) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return nil
}

// nullGeo converts an optional GeoPoint to nullable lat/lon columns.
func nullGeo(g *model.GeoPoint) (lat, lon sql.NullFloat64) {
	if g == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: g.Latitude, Valid: true},
		sql.NullFloat64{Float64: g.Longitude, Valid: true}
}

func geoFromNull(lat, lon sql.NullFloat64) *model.GeoPoint {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &model.GeoPoint{Latitude: lat.Float64, Longitude: lon.Float64}
}
