// Package store provides a BoltDB-backed record of bootstrap state: the
// launcher id, completed installations and discovered package sources.
package store

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

var (
	metaBucket        = []byte("meta")
	installsBucket    = []byte("installs")
	discoveriesBucket = []byte("discoveries")

	launcherIDKey = []byte("launcher_id")
)

// InstallRecord describes one completed runtime installation.
type InstallRecord struct {
	Source      string    `msgpack:"source"`
	Digest      string    `msgpack:"digest"`
	Image       string    `msgpack:"image"`
	Files       int       `msgpack:"files"`
	Addons      []string  `msgpack:"addons"`
	RuntimeDir  string    `msgpack:"runtime_dir"`
	InstalledAt time.Time `msgpack:"installed_at"`
}

// DiscoveryRecord tracks an advertised set of package URLs.
type DiscoveryRecord struct {
	URLs      []string  `msgpack:"urls"`
	FirstSeen time.Time `msgpack:"first_seen"`
	LastSeen  time.Time `msgpack:"last_seen"`
	SeenCount uint64    `msgpack:"seen_count"`
}

// Store wraps a bbolt database.
type Store struct {
	db  *bolt.DB
	mu  sync.RWMutex
	log zerolog.Logger
}

// New opens or creates a BoltDB file at the given path.
func New(path string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{metaBucket, installsBucket, discoveriesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, log: log}, nil
}

// Close closes the underlying BoltDB.
func (s *Store) Close() error {
	return s.db.Close()
}

// LauncherID returns the persistent launcher id, generating it on first use.
func (s *Store) LauncherID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(metaBucket)
		if existing := b.Get(launcherIDKey); existing != nil {
			id = string(existing)
			return nil
		}
		id = uuid.NewString()
		s.log.Info().Str("launcher_id", id).Msg("New launcher id generated")
		return b.Put(launcherIDKey, []byte(id))
	})
	if err != nil {
		return "", fmt.Errorf("reading launcher id: %w", err)
	}
	return id, nil
}

// RecordInstall appends an installation record.
func (s *Store) RecordInstall(record InstallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.InstalledAt.IsZero() {
		record.InstalledAt = time.Now()
	}
	data, err := msgpack.Marshal(&record)
	if err != nil {
		return fmt.Errorf("marshaling install record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(installsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, data)
	})
}

// Installs returns all installation records, oldest first.
func (s *Store) Installs() ([]InstallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []InstallRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(installsBucket).ForEach(func(k, v []byte) error {
			var record InstallRecord
			if err := msgpack.Unmarshal(v, &record); err != nil {
				s.log.Warn().Err(err).Msg("Skipping corrupt install record")
				return nil
			}
			records = append(records, record)
			return nil
		})
	})
	return records, err
}

// LastInstall returns the most recent installation record, if any.
func (s *Store) LastInstall() (*InstallRecord, error) {
	records, err := s.Installs()
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return &records[len(records)-1], nil
}

// RecordDiscovery inserts or updates the record for an advertised URL set.
func (s *Store) RecordDiscovery(urls []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(discoveriesBucket)
		key := []byte(strings.Join(urls, "\n"))

		now := time.Now()
		var record DiscoveryRecord
		if existing := b.Get(key); existing != nil {
			if err := msgpack.Unmarshal(existing, &record); err != nil {
				s.log.Warn().Err(err).Msg("Failed to unmarshal existing discovery record, overwriting")
			}
			record.LastSeen = now
			record.SeenCount++
		} else {
			record = DiscoveryRecord{FirstSeen: now, LastSeen: now, SeenCount: 1}
		}
		record.URLs = urls

		data, err := msgpack.Marshal(&record)
		if err != nil {
			return fmt.Errorf("marshaling discovery record: %w", err)
		}
		return b.Put(key, data)
	})
}

// Discoveries returns all discovery records.
func (s *Store) Discoveries() ([]DiscoveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []DiscoveryRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(discoveriesBucket).ForEach(func(k, v []byte) error {
			var record DiscoveryRecord
			if err := msgpack.Unmarshal(v, &record); err != nil {
				s.log.Warn().Err(err).Str("key", string(k)).Msg("Skipping corrupt discovery record")
				return nil
			}
			records = append(records, record)
			return nil
		})
	})
	return records, err
}
